package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func localConfig(t *testing.T, remotePipeline string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	mainFile := filepath.Join(dir, "main.yaml")
	writeFile(t, mainFile, "groups:\n  - name: local\n    pipelines:\n      - name: build\n")
	checkout := filepath.Join(dir, "app")
	writeFile(t, filepath.Join(checkout, "pipelines", "remote.yaml"),
		"groups:\n  - name: remote\n    pipelines:\n      - name: "+remotePipeline+"\n")
	return mainFile, checkout
}

func TestRunValidate(t *testing.T) {
	mainFile, checkout := localConfig(t, "deploy")

	var out bytes.Buffer
	err := runValidate(&out, &validateOptions{mainFile: mainFile, format: "text"}, []string{checkout})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Configuration is valid (2 pipelines, 1 partials)")
}

func TestRunValidate_ReportsFailures(t *testing.T) {
	mainFile, checkout := localConfig(t, "build")

	var out bytes.Buffer
	err := runValidate(&out, &validateOptions{mainFile: mainFile, format: "text"}, []string{checkout})
	assert.ErrorIs(t, err, errValidationFailed)
	assert.Contains(t, out.String(), "pipeline 'build'")
	assert.Contains(t, out.String(), "multiple pipelines named 'build'")
	assert.Contains(t, out.String(), "2 entities failed validation")

	out.Reset()
	err = runValidate(&out, &validateOptions{mainFile: mainFile, format: "json"}, []string{checkout})
	assert.ErrorIs(t, err, errValidationFailed)
	var report []failureJSON
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Len(t, report, 2)
	for _, f := range report {
		assert.NotEmpty(t, f.Errors["name"])
	}
}

func TestRunValidate_Errors(t *testing.T) {
	var out bytes.Buffer
	err := runValidate(&out, &validateOptions{format: "xml"}, nil)
	assert.ErrorContains(t, err, `unsupported format "xml"`)

	dir := t.TempDir()
	bad := filepath.Join(dir, "main.yaml")
	writeFile(t, bad, "groups: [\n")
	err = runValidate(&out, &validateOptions{mainFile: bad, format: "text"}, nil)
	assert.ErrorContains(t, err, bad)

	err = runValidate(&out, &validateOptions{format: "text"}, []string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestLoadLocal_OriginPerDirectory(t *testing.T) {
	mainFile, checkout := localConfig(t, "deploy")

	cfg, err := loadLocal(mainFile, []string{checkout})
	require.NoError(t, err)
	require.Len(t, cfg.Partials(), 1)

	names := map[string]string{}
	for _, p := range cfg.AllPipelines() {
		names[p.Name] = p.Origin.DisplayName()
	}
	assert.Equal(t, mainFile, names["build"])
	assert.True(t, strings.HasPrefix(names["deploy"], checkout+" at "), names["deploy"])
}

func TestRenderPipelines(t *testing.T) {
	mainFile, checkout := localConfig(t, "deploy")
	cfg, err := loadLocal(mainFile, []string{checkout})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, renderPipelines(&out, cfg))
	for _, want := range []string{"PIPELINE", "build", "local", "deploy", "remote", mainFile} {
		assert.Contains(t, out.String(), want)
	}

	empty, err := loadLocal("", nil)
	require.NoError(t, err)
	out.Reset()
	require.NoError(t, renderPipelines(&out, empty))
	assert.Equal(t, "No pipelines found\n", out.String())
}

func newAdminServer(t *testing.T, key string) (*apiClient, *[]string) {
	t.Helper()
	var refreshed []string
	mux := http.NewServeMux()
	guard := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+key {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"message":"Unauthorized: Invalid API key"}`))
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("/api/admin/config_repos", guard(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"app","url":"https://example.com/app.git","last_known_revision":"0123456789abcdef","last_valid_revision":"0123456789abcdef"},
			{"id":"infra","url":"https://example.com/infra.git","last_known_revision":"r2","last_valid_revision":"r1","error":"boom"}
		]`))
	}))
	mux.HandleFunc("/api/admin/config_repos/app", guard(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"app","url":"https://example.com/app.git","last_known_revision":"r2","last_valid_revision":"r1"}`))
	}))
	mux.HandleFunc("/api/admin/config_repos/missing", guard(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Config repo 'missing' was not found!"}`))
	}))
	for _, id := range []string{"app", "infra"} {
		id := id
		mux.HandleFunc("/api/admin/config_repos/"+id+"/refresh", guard(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			refreshed = append(refreshed, id)
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"message":"The config repo '` + id + `' is scheduled for a refresh."}`))
		}))
	}
	mux.HandleFunc("/api/admin/config", guard(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"loaded_at":"2026-01-02T03:04:05Z","fallback":true,
			"failures":[{"entity":"pipeline 'deploy'","origin":"https://example.com/infra.git at r2"}]}`))
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return newClient(srv.URL, key), &refreshed
}

func TestRunStatus(t *testing.T) {
	c, _ := newAdminServer(t, "k1")

	var out bytes.Buffer
	require.NoError(t, runStatus(context.Background(), &out, c, nil))
	s := out.String()
	assert.Contains(t, s, "0123456789ab")
	assert.NotContains(t, s, "0123456789abcdef")
	assert.Contains(t, s, "boom")
	assert.Contains(t, s, "Using last valid partials")
	assert.Contains(t, s, "pipeline 'deploy'")

	out.Reset()
	require.NoError(t, runStatus(context.Background(), &out, c, []string{"app"}))
	assert.Contains(t, out.String(), "INVALID")
	assert.NotContains(t, out.String(), "Configuration loaded")

	err := runStatus(context.Background(), &out, c, []string{"missing"})
	assert.EqualError(t, err, "Config repo 'missing' was not found! (404)")
}

func TestRunStatus_Unauthorized(t *testing.T) {
	c, _ := newAdminServer(t, "k1")
	c = newClient(c.baseURL, "wrong")

	err := runStatus(context.Background(), &bytes.Buffer{}, c, nil)
	assert.EqualError(t, err, "Unauthorized: Invalid API key (401)")
}

func TestRunRefresh(t *testing.T) {
	c, refreshed := newAdminServer(t, "k1")

	var out bytes.Buffer
	require.NoError(t, runRefresh(context.Background(), &out, c, []string{"app"}, false))
	assert.Contains(t, out.String(), "The config repo 'app' is scheduled for a refresh.")
	assert.Equal(t, []string{"app"}, *refreshed)

	*refreshed = nil
	require.NoError(t, runRefresh(context.Background(), &out, c, nil, true))
	assert.Equal(t, []string{"app", "infra"}, *refreshed)
}

func TestRunEncrypt(t *testing.T) {
	cipher, err := crypto.NewAESCipher(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runEncrypt(&out, cipher, "s3cret"))
	encrypted := strings.TrimSpace(out.String())
	assert.True(t, crypto.IsEncrypted(encrypted))
	plain, err := cipher.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)

	assert.Error(t, runEncrypt(&out, cipher, ""))
}

func TestReadSecret_FromReader(t *testing.T) {
	v, err := readSecret(strings.NewReader("s3cret\nignored\n"), &bytes.Buffer{}, true)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	v, err = readSecret(strings.NewReader("no-newline"), &bytes.Buffer{}, true)
	require.NoError(t, err)
	assert.Equal(t, "no-newline", v)
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "entity", plural(1, "entity", "entities"))
	assert.Equal(t, "entities", plural(2, "entity", "entities"))
}
