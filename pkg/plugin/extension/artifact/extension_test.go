package artifact

import (
	"context"
	"errors"
	"testing"

	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension"
	"github.com/rzbill/cruise/pkg/plugin/plugintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pluginID = "cd.go.s3"

var (
	s3Store = Store{ID: "s3", Configuration: extension.ConfigValues{{Key: "Bucket", Value: "ci"}}}
	plans   = []Plan{
		{ID: "installer", StoreID: "s3", Configuration: extension.ConfigValues{{Key: "Source", Value: "build/*.msi"}}},
		{ID: "docs", StoreID: "s3", Configuration: extension.ConfigValues{{Key: "Source", Value: "docs/"}}},
	}
)

func newExtension(versions ...string) (*Extension, *plugintest.Transport) {
	transport := plugintest.NewTransport()
	m := plugintest.NewManager(transport, plugintest.Descriptor(pluginID, plugin.ArtifactExtension, versions...))
	return New(m), transport
}

func TestExtension_ConfigMetadataAndViews(t *testing.T) {
	e, transport := newExtension("1.0")
	transport.
		RespondOK(pluginID, RequestStoreConfigMetadata, `[{"key":"Bucket","metadata":{"required":true,"secure":false}},{"key":"SecretKey","metadata":{"required":true,"secure":true}}]`).
		RespondOK(pluginID, RequestPublishConfigView, `{"template":"<div>publish</div>"}`).
		RespondOK(pluginID, RequestFetchConfigView, `{}`).
		RespondOK(pluginID, RequestValidateStoreConfig, `[{"key":"Bucket","message":"Bucket must not be blank."}]`)
	ctx := context.Background()

	schema, err := e.StoreConfigMetadata(ctx, pluginID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bucket", "SecretKey"}, schema.Keys())
	assert.True(t, schema.IsSecure("SecretKey"))

	view, err := e.PublishConfigView(ctx, pluginID)
	require.NoError(t, err)
	assert.Equal(t, "<div>publish</div>", view)

	_, err = e.FetchConfigView(ctx, pluginID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Fetch artifact config view `template` was blank!")

	result, err := e.ValidateStoreConfig(ctx, pluginID, extension.ConfigValues{{Key: "Bucket", Value: ""}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bucket must not be blank."}, result.ErrorsFor("Bucket"))
	assert.Equal(t, `{"Bucket":""}`, transport.Last().Body)
}

func TestExtension_PublishArtifactsV1BatchesPlans(t *testing.T) {
	e, transport := newExtension("1.0")
	transport.RespondOK(pluginID, RequestPublishArtifact, `{"metadata":{"installer":{"key":"build/app.msi"},"docs":{"key":"docs/index.html"}}}`)

	md, err := e.PublishArtifacts(context.Background(), pluginID, s3Store, plans, "/var/lib/agent/pipelines/up42", map[string]string{"GO_PIPELINE_NAME": "up42"})
	require.NoError(t, err)
	assert.Equal(t, 1, transport.Count(RequestPublishArtifact))
	assert.Equal(t, "build/app.msi", md["installer"]["key"])
	assert.Equal(t, "docs/index.html", md["docs"]["key"])
	assert.Equal(t, `{"artifact_store":{"id":"s3","configuration":{"Bucket":"ci"}},`+
		`"artifact_plans":[{"id":"installer","storeId":"s3","configuration":{"Source":"build/*.msi"}},{"id":"docs","storeId":"s3","configuration":{"Source":"docs/"}}],`+
		`"agent_working_directory":"/var/lib/agent/pipelines/up42","environment_variables":{"GO_PIPELINE_NAME":"up42"}}`, transport.Last().Body)
}

func TestExtension_PublishArtifactsV2SendsOnePlanPerCall(t *testing.T) {
	e, transport := newExtension("1.0", "2.0")
	transport.RespondOK(pluginID, RequestPublishArtifact, `{"metadata":{"location":"s3://ci"}}`)

	md, err := e.PublishArtifacts(context.Background(), pluginID, s3Store, plans, "/tmp/work", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, transport.Count(RequestPublishArtifact))
	assert.Equal(t, PublishMetadata{
		"installer": {"location": "s3://ci"},
		"docs":      {"location": "s3://ci"},
	}, md)
	assert.Equal(t, "2.0", transport.Last().ExtensionVersion)
	assert.Equal(t, `{"artifact_store":{"id":"s3","configuration":{"Bucket":"ci"}},`+
		`"artifact_plan":{"id":"docs","storeId":"s3","configuration":{"Source":"docs/"}},`+
		`"agent_working_directory":"/tmp/work","environment_variables":{}}`, transport.Last().Body)
}

func TestExtension_PublishArtifactsToMissingPlugin(t *testing.T) {
	e, _ := newExtension("1.0")

	_, err := e.PublishArtifacts(context.Background(), "unknown", s3Store, plans, "/tmp", nil)
	var missing *plugin.MissingExtensionError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "unknown", missing.PluginID)
}

func TestExtension_FetchArtifact(t *testing.T) {
	e, transport := newExtension("2.0")
	transport.RespondOK(pluginID, RequestFetchArtifact, `[{"name":"IMAGE","value":"alpine:3","secure":false},{"name":"TOKEN","value":"s3cr3t","secure":true}]`)

	vars, err := e.FetchArtifact(context.Background(), pluginID, s3Store,
		extension.ConfigValues{{Key: "Destination", Value: "out"}}, map[string]any{"location": "s3://ci"}, "/tmp/work")
	require.NoError(t, err)
	assert.Equal(t, []EnvironmentVariable{
		{Name: "IMAGE", Value: "alpine:3"},
		{Name: "TOKEN", Value: "s3cr3t", Secure: true},
	}, vars)
	assert.Equal(t, `{"store_configuration":{"Bucket":"ci"},"fetch_artifact_configuration":{"Destination":"out"},`+
		`"artifact_metadata":{"location":"s3://ci"},"agent_working_directory":"/tmp/work"}`, transport.Last().Body)

	vars, err = ConverterV1{}.FetchFromResponse(`[{"name":"IGNORED"}]`)
	require.NoError(t, err)
	assert.Nil(t, vars)
}

func TestConverter_PublishMetadataDiagnostics(t *testing.T) {
	_, err := ConverterV1{}.PublishFromResponse(`{"metadata":[]}`, plans)
	assert.EqualError(t, err, "Unable to de-serialize json response. Publish artifact 'metadata' should be of type map")

	_, err = ConverterV1{}.PublishFromResponse(`{"metadata":{"docs":"x"}}`, plans)
	assert.EqualError(t, err, "Unable to de-serialize json response. Publish artifact metadata for plan 'docs' should be of type map")

	md, err := ConverterV2{}.PublishFromResponse(``, plans[:1])
	require.NoError(t, err)
	assert.Empty(t, md)
}
