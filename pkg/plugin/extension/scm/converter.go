// Package scm talks to SCM plugins.
package scm

import (
	"errors"
	"strings"
	"time"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension"
	"github.com/tidwall/gjson"
)

// ModifiedAction is what a revision did to a file.
type ModifiedAction string

// Modified actions.
const (
	Added    ModifiedAction = "added"
	Modified ModifiedAction = "modified"
	Deleted  ModifiedAction = "deleted"
)

// ModifiedFile is a file touched by a revision.
type ModifiedFile struct {
	FileName string
	Action   ModifiedAction
}

// Revision is one SCM revision reported by a plugin.
type Revision struct {
	Revision      string
	Timestamp     time.Time
	User          string
	Comment       string
	Data          map[string]string
	ModifiedFiles []ModifiedFile
}

// PollResult is the answer to a poll. MaterialData, when set, replaces the
// data the server keeps for the material.
type PollResult struct {
	MaterialData map[string]string
	Revisions    []Revision
}

// LatestRevision returns the first reported revision, or nil.
func (p *PollResult) LatestRevision() *Revision {
	if p == nil || len(p.Revisions) == 0 {
		return nil
	}
	return &p.Revisions[0]
}

// View is the plugin's rendering of its configuration form.
type View struct {
	DisplayValue string
	Template     string
}

// Converter speaks one version of the SCM messages.
type Converter interface {
	ConfigurationFromResponse(body string) (configuration.Schema, error)
	ViewFromResponse(body string) (*View, error)
	ConfigurationRequest(cfg extension.ConfigValues) (string, error)
	ValidationFromResponse(body string) (*plugin.ValidationResult, error)
	CheckConnectionFromResponse(body string) (*plugin.Result, error)
	LatestRevisionRequest(cfg extension.ConfigValues, data map[string]string, flyweight string) (string, error)
	LatestRevisionFromResponse(body string) (*PollResult, error)
	LatestRevisionsSinceRequest(cfg extension.ConfigValues, data map[string]string, flyweight string, previous *Revision) (string, error)
	LatestRevisionsSinceFromResponse(body string) (*PollResult, error)
	CheckoutRequest(cfg extension.ConfigValues, destination string, revision *Revision) (string, error)
	CheckoutFromResponse(body string) (*plugin.Result, error)
}

// ConverterV1 is protocol version 1.0.
type ConverterV1 struct{}

// ConfigurationFromResponse implements Converter.
func (ConverterV1) ConfigurationFromResponse(body string) (configuration.Schema, error) {
	return extension.DecodeMetadataMap(body, "SCM configuration", extension.MetadataDefaults{PartOfIdentity: true, Required: true})
}

// ViewFromResponse implements Converter.
func (ConverterV1) ViewFromResponse(body string) (*View, error) {
	if extension.IsEmptyBody(body) || !gjson.Valid(body) {
		return nil, plugin.NewDeserializationError("Error: SCM View's 'displayValue' is a required field.")
	}
	root := gjson.Parse(body)
	v := &View{}
	for _, f := range []struct {
		name string
		dst  *string
	}{{"displayValue", &v.DisplayValue}, {"template", &v.Template}} {
		r := root.Get(f.name)
		if !r.Exists() || r.Type == gjson.Null {
			return nil, plugin.NewDeserializationError("Error: SCM View's '%s' is a required field.", f.name)
		}
		if r.Type != gjson.String {
			return nil, plugin.NewDeserializationError("Error: SCM View's '%s' should be of type string.", f.name)
		}
		*f.dst = r.Str
	}
	return v, nil
}

func configurationObject(cfg extension.ConfigValues) extension.Object {
	return extension.Object{}.With("scm-configuration", cfg.Keyed())
}

// ConfigurationRequest implements Converter.
func (ConverterV1) ConfigurationRequest(cfg extension.ConfigValues) (string, error) {
	return extension.Encode(configurationObject(cfg))
}

// ValidationFromResponse implements Converter.
func (ConverterV1) ValidationFromResponse(body string) (*plugin.ValidationResult, error) {
	return extension.DecodeValidationResult(body)
}

// CheckConnectionFromResponse implements Converter.
func (ConverterV1) CheckConnectionFromResponse(body string) (*plugin.Result, error) {
	return extension.DecodeCheckResult(body)
}

func pollObject(cfg extension.ConfigValues, data map[string]string, flyweight string) extension.Object {
	return configurationObject(cfg).
		With("scm-data", extension.SortedStrings(data)).
		With("flyweight-folder", flyweight)
}

func revisionObject(r *Revision) extension.Object {
	return extension.Object{}.
		With("revision", r.Revision).
		With("timestamp", extension.FormatTimestamp(r.Timestamp)).
		With("data", extension.SortedStrings(r.Data))
}

// LatestRevisionRequest implements Converter.
func (ConverterV1) LatestRevisionRequest(cfg extension.ConfigValues, data map[string]string, flyweight string) (string, error) {
	return extension.Encode(pollObject(cfg, data, flyweight))
}

// LatestRevisionsSinceRequest implements Converter.
func (ConverterV1) LatestRevisionsSinceRequest(cfg extension.ConfigValues, data map[string]string, flyweight string, previous *Revision) (string, error) {
	return extension.Encode(pollObject(cfg, data, flyweight).With("previous-revision", revisionObject(previous)))
}

// CheckoutRequest implements Converter.
func (ConverterV1) CheckoutRequest(cfg extension.ConfigValues, destination string, revision *Revision) (string, error) {
	return extension.Encode(configurationObject(cfg).
		With("destination-folder", destination).
		With("revision", revisionObject(revision)))
}

// CheckoutFromResponse implements Converter.
func (ConverterV1) CheckoutFromResponse(body string) (*plugin.Result, error) {
	return extension.DecodeCheckResult(body)
}

// LatestRevisionFromResponse implements Converter.
func (ConverterV1) LatestRevisionFromResponse(body string) (*PollResult, error) {
	if extension.IsEmptyBody(body) {
		return nil, plugin.NewDeserializationError("Empty response body")
	}
	if !gjson.Valid(body) {
		return nil, plugin.NewDeserializationError("Response body is not valid JSON")
	}
	root := gjson.Parse(body)
	if !root.IsObject() {
		return nil, plugin.NewDeserializationError("SCM revision should be returned as a map")
	}
	rev, err := decodeLatest(root)
	if err != nil {
		return nil, asDeserialization(err)
	}
	data, err := extension.DecodeStringMap(root.Get("scm-data"), "SCM data")
	if err != nil {
		return nil, err
	}
	return &PollResult{MaterialData: data, Revisions: []Revision{*rev}}, nil
}

// LatestRevisionsSinceFromResponse implements Converter. An empty body means
// nothing changed.
func (ConverterV1) LatestRevisionsSinceFromResponse(body string) (*PollResult, error) {
	if extension.IsEmptyBody(body) {
		return &PollResult{}, nil
	}
	if !gjson.Valid(body) {
		return nil, plugin.NewDeserializationError("Response body is not valid JSON")
	}
	root := gjson.Parse(body)
	if !root.IsObject() {
		return nil, plugin.NewDeserializationError("SCM revisions should be returned as a map")
	}
	revs, err := decodeRevisions(root)
	if err != nil {
		return nil, asDeserialization(err)
	}
	data, err := extension.DecodeStringMap(root.Get("scm-data"), "SCM data")
	if err != nil {
		return nil, err
	}
	return &PollResult{MaterialData: data, Revisions: revs}, nil
}

func asDeserialization(err error) error {
	if plugin.IsDeserializationError(err) {
		return err
	}
	return &plugin.DeserializationError{Message: err.Error()}
}

func decodeLatest(root gjson.Result) (*Revision, error) {
	r := root.Get("revision")
	if !r.Exists() || r.Type == gjson.Null {
		return nil, plugin.NewDeserializationError("SCM revision cannot be empty")
	}
	if !r.IsObject() {
		return nil, plugin.NewDeserializationError("SCM revision should be of type map")
	}
	return decodeRevision(r)
}

func decodeRevisions(root gjson.Result) ([]Revision, error) {
	list := root.Get("revisions")
	if !list.Exists() || list.Type == gjson.Null {
		return nil, nil
	}
	if !list.IsArray() {
		return nil, plugin.NewDeserializationError("'revisions' should be of type list of map")
	}
	out := make([]Revision, 0, len(list.Array()))
	for _, r := range list.Array() {
		if !r.IsObject() {
			return nil, plugin.NewDeserializationError("SCM revision should be of type map")
		}
		rev, err := decodeRevision(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *rev)
	}
	return out, nil
}

const scmTimestampMessage = "SCM revision timestamp should be of type string with format yyyy-MM-dd'T'HH:mm:ss.SSS'Z' and cannot be empty"

// decodeRevision reads one revision map. Its errors carry no prefix; the
// response decoders add it.
func decodeRevision(r gjson.Result) (*Revision, error) {
	rev := &Revision{}

	id := r.Get("revision")
	if id.Exists() && id.Type != gjson.Null && id.Type != gjson.String {
		return nil, errors.New("SCM revision should be of type string")
	}
	if strings.TrimSpace(id.Str) == "" {
		return nil, errors.New("SCM revision's 'revision' is a required field")
	}
	rev.Revision = id.Str

	ts := r.Get("timestamp")
	if ts.Type != gjson.String || ts.Str == "" {
		return nil, errors.New(scmTimestampMessage)
	}
	t, err := extension.ParseTimestamp(ts.Str)
	if err != nil {
		return nil, errors.New(scmTimestampMessage)
	}
	rev.Timestamp = t

	if rev.Comment, err = optionalString(r, "revisionComment", "SCM revision comment should be of type string"); err != nil {
		return nil, err
	}
	if rev.User, err = optionalString(r, "user", "SCM revision user should be of type string"); err != nil {
		return nil, err
	}
	if rev.ModifiedFiles, err = decodeModifiedFiles(r.Get("modifiedFiles")); err != nil {
		return nil, err
	}
	if rev.Data, err = extension.DecodeStringMap(r.Get("data"), "SCM revision data"); err != nil {
		return nil, err
	}
	return rev, nil
}

func optionalString(r gjson.Result, field, message string) (string, error) {
	v := r.Get(field)
	if !v.Exists() || v.Type == gjson.Null {
		return "", nil
	}
	if v.Type != gjson.String {
		return "", errors.New(message)
	}
	return v.Str, nil
}

func decodeModifiedFiles(v gjson.Result) ([]ModifiedFile, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, errors.New("SCM revision 'modifiedFiles' should be of type list of map")
	}
	var out []ModifiedFile
	for _, f := range v.Array() {
		if !f.IsObject() {
			return nil, errors.New("SCM revision 'modified file' should be of type map")
		}
		name := f.Get("fileName")
		if name.Exists() && name.Type != gjson.Null && name.Type != gjson.String {
			return nil, errors.New("modified file 'fileName' should be of type string")
		}
		if name.Str == "" {
			return nil, errors.New("modified file 'fileName' is a required field")
		}
		action := f.Get("action")
		if action.Exists() && action.Type != gjson.Null && action.Type != gjson.String {
			return nil, errors.New("modified file 'action' should be of type string")
		}
		switch a := ModifiedAction(action.Str); a {
		case Added, Modified, Deleted:
			out = append(out, ModifiedFile{FileName: name.Str, Action: a})
		default:
			return nil, errors.New("modified file 'action' can only be added, modified, deleted")
		}
	}
	return out, nil
}
