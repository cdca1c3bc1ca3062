package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rzbill/cruise/pkg/configrepo"
	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/settings"
	"github.com/rzbill/cruise/pkg/types"
	"github.com/rzbill/cruise/pkg/version"
)

var validate = validator.New()

type messageView struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageView{Message: msg})
}

func errorsView(e *types.ConfigErrors) map[string][]string {
	if e.IsEmpty() {
		return nil
	}
	out := map[string][]string{}
	for _, f := range e.Fields() {
		out[f] = e.On(f)
	}
	return out
}

func (s *APIServer) health(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if s.options.ConfigRepos != nil && s.options.ConfigRepos.Current() == nil {
		status = "loading"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *APIServer) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Map())
}

type pipelineView struct {
	Name   string `json:"name"`
	Origin string `json:"origin"`
}

type groupView struct {
	Name      string         `json:"name"`
	Pipelines []pipelineView `json:"pipelines"`
}

type environmentView struct {
	Name      string   `json:"name"`
	Pipelines []string `json:"pipelines"`
	Agents    []string `json:"agents"`
	Local     bool     `json:"local"`
}

type failureView struct {
	Entity string              `json:"entity"`
	Origin string              `json:"origin"`
	Errors map[string][]string `json:"errors"`
}

type configView struct {
	LoadedAt     time.Time         `json:"loaded_at"`
	Fallback     bool              `json:"fallback"`
	Revisions    map[string]string `json:"revisions"`
	Groups       []groupView       `json:"groups"`
	Environments []environmentView `json:"environments"`
	Failures     []failureView     `json:"failures"`
}

func (s *APIServer) getConfig(w http.ResponseWriter, _ *http.Request) {
	st := s.options.ConfigRepos.Current()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "Configuration has not been loaded yet.")
		return
	}

	view := configView{
		LoadedAt:     st.LoadedAt,
		Fallback:     st.Fallback,
		Revisions:    st.Revisions,
		Groups:       []groupView{},
		Environments: []environmentView{},
		Failures:     []failureView{},
	}
	for _, g := range st.Config.Groups() {
		gv := groupView{Name: g.Name(), Pipelines: []pipelineView{}}
		for _, p := range g.Pipelines() {
			pv := pipelineView{Name: p.Name}
			if p.Origin != nil {
				pv.Origin = p.Origin.DisplayName()
			}
			gv.Pipelines = append(gv.Pipelines, pv)
		}
		view.Groups = append(view.Groups, gv)
	}
	for _, e := range st.Config.Environments() {
		view.Environments = append(view.Environments, environmentView{
			Name:      e.Name(),
			Pipelines: e.PipelineNames(),
			Agents:    e.Agents(),
			Local:     e.IsLocal(),
		})
	}
	for _, f := range s.options.ConfigRepos.Failures() {
		view.Failures = append(view.Failures, failureView{Entity: f.Entity, Origin: f.Origin, Errors: errorsView(f.Errors)})
	}
	writeJSON(w, http.StatusOK, view)
}

type configRepoView struct {
	ID                string `json:"id"`
	URL               string `json:"url"`
	Branch            string `json:"branch,omitempty"`
	PluginID          string `json:"plugin_id,omitempty"`
	LastKnownRevision string `json:"last_known_revision,omitempty"`
	LastValidRevision string `json:"last_valid_revision,omitempty"`
	Error             string `json:"error,omitempty"`
}

func repoView(st configrepo.RepoStatus) configRepoView {
	v := configRepoView{
		ID:                st.Repo.ID,
		URL:               st.Repo.URL,
		Branch:            st.Repo.Branch,
		PluginID:          st.Repo.PluginID,
		LastKnownRevision: st.LastKnownRevision,
		LastValidRevision: st.LastValidRevision,
	}
	if st.Error != nil {
		v.Error = st.Error.Error()
	}
	return v
}

func (s *APIServer) listConfigRepos(w http.ResponseWriter, _ *http.Request) {
	out := []configRepoView{}
	for _, r := range s.options.ConfigRepos.Repos() {
		if st, ok := s.options.ConfigRepos.Status(r.ID); ok {
			out = append(out, repoView(st))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *APIServer) getConfigRepo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.options.ConfigRepos.Status(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Config repo '%s' was not found!", id))
		return
	}
	writeJSON(w, http.StatusOK, repoView(st))
}

type historyView struct {
	ID        string   `json:"id"`
	LastKnown []string `json:"last_known"`
	LastValid []string `json:"last_valid"`
}

func (s *APIServer) configRepoHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.options.ConfigRepos.Status(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Config repo '%s' was not found!", id))
		return
	}
	known, valid, err := s.options.ConfigRepos.History(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to read config repo history", log.Repo(id), log.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to read the config repo history.")
		return
	}
	view := historyView{ID: id, LastKnown: known, LastValid: valid}
	if view.LastKnown == nil {
		view.LastKnown = []string{}
	}
	if view.LastValid == nil {
		view.LastValid = []string{}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *APIServer) refreshConfigRepo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.options.ConfigRepos.Refresh(id); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Config repo '%s' was not found!", id))
		return
	}
	s.logger.Info("Scheduled config repo refresh", log.Repo(id))
	writeError(w, http.StatusAccepted, fmt.Sprintf("The config repo '%s' is scheduled for a refresh.", id))
}

func (s *APIServer) listPlugins(w http.ResponseWriter, _ *http.Request) {
	out := s.options.Plugins.Plugins()
	if out == nil {
		out = []plugin.Descriptor{}
	}
	writeJSON(w, http.StatusOK, out)
}

type propertyView struct {
	Key            string              `json:"key"`
	Value          string              `json:"value,omitempty"`
	EncryptedValue string              `json:"encrypted_value,omitempty"`
	Errors         map[string][]string `json:"errors,omitempty"`
}

type settingsView struct {
	PluginID      string              `json:"plugin_id"`
	Configuration []propertyView      `json:"configuration"`
	Errors        map[string][]string `json:"errors,omitempty"`
}

func viewOf(ps *settings.PluginSettings) settingsView {
	v := settingsView{PluginID: ps.PluginID, Configuration: []propertyView{}, Errors: errorsView(ps.Errors())}
	for _, p := range ps.Configuration {
		pv := propertyView{Key: p.Key(), Errors: errorsView(p.Errors())}
		if p.IsSecure() {
			pv.EncryptedValue = p.EncryptedValue()
		} else {
			pv.Value = p.PlainValue()
		}
		v.Configuration = append(v.Configuration, pv)
	}
	return v
}

func (s *APIServer) pluginSettingsHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	revisions, err := s.options.PluginSettings.History(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to read plugin settings history", log.Plugin(id), log.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to read the plugin settings history.")
		return
	}
	views := make([]settingsView, 0, len(revisions))
	for _, ps := range revisions {
		views = append(views, viewOf(ps))
	}
	writeJSON(w, http.StatusOK, views)
}

type settingsRequest struct {
	Configuration []struct {
		Key   string `json:"key" validate:"required"`
		Value string `json:"value"`
	} `json:"configuration" validate:"dive"`
}

func (s *APIServer) getPluginSettings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ps, err := s.options.PluginSettings.Get(r.Context(), id)
	if errors.Is(err, settings.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Plugin settings for the specified plugin '%s' was not found!", id))
		return
	}
	if err != nil {
		s.logger.Error("Failed to read plugin settings", log.Plugin(id), log.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(ps))
}

func (s *APIServer) putPluginSettings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	md, ok := s.options.PluginSettings.Metadata(id)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, (&settings.UnsupportedError{PluginID: id}).Error())
		return
	}

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Could not parse the request body: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	values := make(map[string]string, len(req.Configuration))
	for _, kv := range req.Configuration {
		values[kv.Key] = kv.Value
	}
	ps, err := settings.NewPluginSettings(id, values, md.Configuration, s.options.Cipher)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	err = s.options.PluginSettings.Save(r.Context(), ps)
	var unsupported *settings.UnsupportedError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, viewOf(ps))
	case errors.Is(err, settings.ErrInvalid):
		writeJSON(w, http.StatusUnprocessableEntity, viewOf(ps))
	case errors.As(err, &unsupported), errors.Is(err, configuration.ErrNoCipher):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("Failed to save plugin settings", log.Plugin(id), log.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
