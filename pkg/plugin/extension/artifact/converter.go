// Package artifact talks to artifact plugins, which publish build artifacts
// to external stores and fetch them back.
package artifact

import (
	"fmt"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension"
	"github.com/tidwall/gjson"
)

// Store is an artifact store configured against the plugin.
type Store struct {
	ID            string
	Configuration extension.ConfigValues
}

// Plan is one artifact to publish to a store.
type Plan struct {
	ID            string
	StoreID       string
	Configuration extension.ConfigValues
}

// EnvironmentVariable is a variable a fetch asks the job to set.
type EnvironmentVariable struct {
	Name   string
	Value  string
	Secure bool
}

// Capabilities of an artifact plugin. No flags are defined yet.
type Capabilities struct{}

// PublishMetadata is what the plugin recorded for each published plan,
// keyed by plan id.
type PublishMetadata map[string]map[string]any

// Converter speaks one version of the artifact messages.
type Converter interface {
	CapabilitiesFromResponse(body string) (*Capabilities, error)
	MetadataFromResponse(body string) (configuration.Schema, error)
	StoreViewFromResponse(body string) (string, error)
	PublishViewFromResponse(body string) (string, error)
	FetchViewFromResponse(body string) (string, error)
	ValidateRequest(values extension.ConfigValues) (string, error)
	ValidationFromResponse(body string) (*plugin.ValidationResult, error)

	// PublishBatches splits plans into the groups sent per publish call.
	PublishBatches(plans []Plan) [][]Plan
	PublishRequest(store Store, batch []Plan, workDir string, env map[string]string) (string, error)
	PublishFromResponse(body string, batch []Plan) (PublishMetadata, error)

	FetchRequest(store Store, fetch extension.ConfigValues, metadata map[string]any, workDir string) (string, error)
	FetchFromResponse(body string) ([]EnvironmentVariable, error)
	ImageFromResponse(body string) (*plugin.Image, error)
}

// ConverterV1 is protocol version 1.0. It publishes every plan of a store
// in one call.
type ConverterV1 struct{}

// ConverterV2 is protocol version 2.0. It publishes one plan per call and
// lets a fetch export environment variables.
type ConverterV2 struct {
	ConverterV1
}

// CapabilitiesFromResponse implements Converter.
func (ConverterV1) CapabilitiesFromResponse(body string) (*Capabilities, error) {
	if extension.IsEmptyBody(body) {
		return &Capabilities{}, nil
	}
	if !gjson.Valid(body) || !gjson.Parse(body).IsObject() {
		return nil, plugin.NewDeserializationError("Capabilities should be returned as a map")
	}
	return &Capabilities{}, nil
}

// MetadataFromResponse implements Converter.
func (ConverterV1) MetadataFromResponse(body string) (configuration.Schema, error) {
	return extension.DecodeMetadataList(body)
}

// StoreViewFromResponse implements Converter.
func (ConverterV1) StoreViewFromResponse(body string) (string, error) {
	return extension.DecodeTemplate(body, "Artifact store view")
}

// PublishViewFromResponse implements Converter.
func (ConverterV1) PublishViewFromResponse(body string) (string, error) {
	return extension.DecodeTemplate(body, "Publish artifact config view")
}

// FetchViewFromResponse implements Converter.
func (ConverterV1) FetchViewFromResponse(body string) (string, error) {
	return extension.DecodeTemplate(body, "Fetch artifact config view")
}

// ValidateRequest implements Converter.
func (ConverterV1) ValidateRequest(values extension.ConfigValues) (string, error) {
	return extension.Encode(values.Flat())
}

// ValidationFromResponse implements Converter.
func (ConverterV1) ValidationFromResponse(body string) (*plugin.ValidationResult, error) {
	return extension.DecodeValidationResult(body)
}

func storeObject(s Store) extension.Object {
	return extension.Object{}.With("id", s.ID).With("configuration", s.Configuration.Flat())
}

func planObject(p Plan) extension.Object {
	return extension.Object{}.
		With("id", p.ID).
		With("storeId", p.StoreID).
		With("configuration", p.Configuration.Flat())
}

// PublishBatches implements Converter.
func (ConverterV1) PublishBatches(plans []Plan) [][]Plan {
	if len(plans) == 0 {
		return nil
	}
	return [][]Plan{plans}
}

// PublishBatches implements Converter.
func (ConverterV2) PublishBatches(plans []Plan) [][]Plan {
	out := make([][]Plan, 0, len(plans))
	for _, p := range plans {
		out = append(out, []Plan{p})
	}
	return out
}

// PublishRequest implements Converter.
func (ConverterV1) PublishRequest(store Store, batch []Plan, workDir string, env map[string]string) (string, error) {
	plans := make([]extension.Object, 0, len(batch))
	for _, p := range batch {
		plans = append(plans, planObject(p))
	}
	return extension.Encode(extension.Object{}.
		With("artifact_store", storeObject(store)).
		With("artifact_plans", plans).
		With("agent_working_directory", workDir).
		With("environment_variables", extension.SortedStrings(env)))
}

// PublishRequest implements Converter.
func (ConverterV2) PublishRequest(store Store, batch []Plan, workDir string, env map[string]string) (string, error) {
	if len(batch) != 1 {
		return "", fmt.Errorf("publish artifact sends exactly one artifact plan per request, got %d", len(batch))
	}
	return extension.Encode(extension.Object{}.
		With("artifact_store", storeObject(store)).
		With("artifact_plan", planObject(batch[0])).
		With("agent_working_directory", workDir).
		With("environment_variables", extension.SortedStrings(env)))
}

func publishedMetadata(body string) (gjson.Result, error) {
	if extension.IsEmptyBody(body) {
		return gjson.Result{}, nil
	}
	if !gjson.Valid(body) {
		return gjson.Result{}, plugin.NewDeserializationError("Response body is not valid JSON")
	}
	md := gjson.Get(body, "metadata")
	if md.Exists() && md.Type != gjson.Null && !md.IsObject() {
		return gjson.Result{}, plugin.NewDeserializationError("Publish artifact 'metadata' should be of type map")
	}
	return md, nil
}

func objectValue(v gjson.Result) map[string]any {
	m, _ := v.Value().(map[string]any)
	return m
}

// PublishFromResponse implements Converter. The V1 metadata map is keyed by
// plan id.
func (ConverterV1) PublishFromResponse(body string, batch []Plan) (PublishMetadata, error) {
	md, err := publishedMetadata(body)
	if err != nil {
		return nil, err
	}
	if !md.IsObject() {
		return PublishMetadata{}, nil
	}
	out := make(PublishMetadata, len(batch))
	for _, p := range batch {
		v := md.Get(gjson.Escape(p.ID))
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if !v.IsObject() {
			return nil, plugin.NewDeserializationError("Publish artifact metadata for plan '%s' should be of type map", p.ID)
		}
		out[p.ID] = objectValue(v)
	}
	return out, nil
}

// PublishFromResponse implements Converter. The V2 metadata map belongs to
// the single plan of the batch.
func (ConverterV2) PublishFromResponse(body string, batch []Plan) (PublishMetadata, error) {
	md, err := publishedMetadata(body)
	if err != nil {
		return nil, err
	}
	if !md.IsObject() || len(batch) == 0 {
		return PublishMetadata{}, nil
	}
	return PublishMetadata{batch[0].ID: objectValue(md)}, nil
}

// FetchRequest implements Converter.
func (ConverterV1) FetchRequest(store Store, fetch extension.ConfigValues, metadata map[string]any, workDir string) (string, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return extension.Encode(extension.Object{}.
		With("store_configuration", store.Configuration.Flat()).
		With("fetch_artifact_configuration", fetch.Flat()).
		With("artifact_metadata", metadata).
		With("agent_working_directory", workDir))
}

// FetchFromResponse implements Converter. V1 plugins report nothing back.
func (ConverterV1) FetchFromResponse(string) ([]EnvironmentVariable, error) {
	return nil, nil
}

// FetchFromResponse implements Converter.
func (ConverterV2) FetchFromResponse(body string) ([]EnvironmentVariable, error) {
	if extension.IsEmptyBody(body) {
		return nil, nil
	}
	if !gjson.Valid(body) {
		return nil, plugin.NewDeserializationError("Response body is not valid JSON")
	}
	root := gjson.Parse(body)
	if !root.IsArray() {
		return nil, plugin.NewDeserializationError("Fetch artifact response should be a list of environment variables")
	}
	out := make([]EnvironmentVariable, 0, len(root.Array()))
	for _, v := range root.Array() {
		name := v.Get("name")
		if !v.IsObject() || name.Type != gjson.String || name.Str == "" {
			return nil, plugin.NewDeserializationError("Environment variable should be a map with a non-empty 'name'")
		}
		out = append(out, EnvironmentVariable{Name: name.Str, Value: v.Get("value").String(), Secure: v.Get("secure").Bool()})
	}
	return out, nil
}

// ImageFromResponse implements Converter.
func (ConverterV1) ImageFromResponse(body string) (*plugin.Image, error) {
	return extension.DecodeImage(body)
}
