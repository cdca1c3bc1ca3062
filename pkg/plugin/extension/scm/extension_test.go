package scm

import (
	"context"
	"testing"
	"time"

	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension"
	"github.com/rzbill/cruise/pkg/plugin/plugintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const pluginID = "plugin-id"

var scmValues = extension.ConfigValues{{Key: "key-one", Value: "value-one"}, {Key: "key-two", Value: "value-two"}}

const scmConfigJSON = `"scm-configuration":{"key-one":{"value":"value-one"},"key-two":{"value":"value-two"}}`

func previousRevision(t *testing.T) *Revision {
	ts, err := extension.ParseTimestamp("2011-07-13T19:43:37.100Z")
	require.NoError(t, err)
	return &Revision{Revision: "abc.rpm", Timestamp: ts,
		Data: map[string]string{"dataKeyTwo": "data-value-two", "dataKeyOne": "data-value-one"}}
}

func TestConverterV1_Requests(t *testing.T) {
	c := ConverterV1{}
	data := map[string]string{"key-one": "value-one"}

	body, err := c.ConfigurationRequest(scmValues)
	require.NoError(t, err)
	assert.Equal(t, `{`+scmConfigJSON+`}`, body)

	body, err = c.LatestRevisionRequest(scmValues, data, "flyweight")
	require.NoError(t, err)
	assert.Equal(t, `{`+scmConfigJSON+`,"scm-data":{"key-one":"value-one"},"flyweight-folder":"flyweight"}`, body)

	body, err = c.LatestRevisionsSinceRequest(scmValues, data, "flyweight", previousRevision(t))
	require.NoError(t, err)
	assert.Equal(t, `{`+scmConfigJSON+`,"scm-data":{"key-one":"value-one"},"flyweight-folder":"flyweight",`+
		`"previous-revision":{"revision":"abc.rpm","timestamp":"2011-07-13T19:43:37.100Z","data":{"dataKeyOne":"data-value-one","dataKeyTwo":"data-value-two"}}}`, body)

	body, err = c.CheckoutRequest(scmValues, "destination", previousRevision(t))
	require.NoError(t, err)
	assert.Equal(t, `{`+scmConfigJSON+`,"destination-folder":"destination",`+
		`"revision":{"revision":"abc.rpm","timestamp":"2011-07-13T19:43:37.100Z","data":{"dataKeyOne":"data-value-one","dataKeyTwo":"data-value-two"}}}`, body)
}

func TestConverterV1_View(t *testing.T) {
	view, err := ConverterV1{}.ViewFromResponse(`{"displayValue":"MySCMPlugin","template":"<html>junk</html>"}`)
	require.NoError(t, err)
	assert.Equal(t, &View{DisplayValue: "MySCMPlugin", Template: "<html>junk</html>"}, view)

	cases := map[string]string{
		`{"template":"<html>junk</html>"}`:      "SCM View's 'displayValue' is a required field.",
		`{"displayValue":"MySCMPlugin"}`:        "SCM View's 'template' is a required field.",
		`{"displayValue":null, "template":"x"}`: "SCM View's 'displayValue' is a required field.",
		`{"displayValue":true, "template":null}`: "SCM View's 'displayValue' should be of type string.",
		`{"displayValue":"MySCMPlugin", "template":true}`: "SCM View's 'template' should be of type string.",
	}
	for body, want := range cases {
		_, err := ConverterV1{}.ViewFromResponse(body)
		assert.EqualError(t, err, "Unable to de-serialize json response. Error: "+want, body)
	}
}

func TestConverterV1_Configuration(t *testing.T) {
	schema, err := ConverterV1{}.ConfigurationFromResponse(`{"key-one":{},"key-two":{"part-of-identity":false,"required":false,"display-order":"1"}}`)
	require.NoError(t, err)
	one, _ := schema.Get("key-one")
	assert.True(t, one.PartOfIdentity)
	assert.True(t, one.Required)
	two, _ := schema.Get("key-two")
	assert.False(t, two.PartOfIdentity)
	assert.Equal(t, 1, two.DisplayOrder)

	_, err = ConverterV1{}.ConfigurationFromResponse(`[]`)
	assert.EqualError(t, err, "Unable to de-serialize json response. SCM configuration should be returned as a map")
}

func TestConverterV1_LatestRevision(t *testing.T) {
	body := `{"revision":{"revision":"r1","timestamp":"2011-07-14T19:43:37.100Z","user":"some-user","revisionComment":"comment",` +
		`"data":{"dataKeyTwo":"data-value-two"},"modifiedFiles":[{"fileName":"f1","action":"added"},{"fileName":"f2","action":"deleted"}]},` +
		`"scm-data":{"key-one":"value-one"}}`

	result, err := ConverterV1{}.LatestRevisionFromResponse(body)
	require.NoError(t, err)
	rev := result.LatestRevision()
	require.NotNil(t, rev)
	assert.Equal(t, "r1", rev.Revision)
	assert.Equal(t, "some-user", rev.User)
	assert.Equal(t, "comment", rev.Comment)
	assert.Equal(t, time.Date(2011, 7, 14, 19, 43, 37, 100_000_000, time.UTC), rev.Timestamp)
	assert.Equal(t, []ModifiedFile{{FileName: "f1", Action: Added}, {FileName: "f2", Action: Deleted}}, rev.ModifiedFiles)
	assert.Equal(t, map[string]string{"dataKeyTwo": "data-value-two"}, rev.Data)
	assert.Equal(t, map[string]string{"key-one": "value-one"}, result.MaterialData)

	for body, want := range map[string]string{
		``:                         "Empty response body",
		`[{"revision":"abc.rpm"}]`: "SCM revision should be returned as a map",
		`"r1"`:                     "SCM revision should be returned as a map",
		`{"crap":{}}`:              "SCM revision cannot be empty",
		`{"revision":[]}`:          "SCM revision should be of type map",
		`{"revision":{"revision":"r1","timestamp":"2011-07-14T19:43:37.100Z"},"scm-data":[]}`: "SCM data should be of type map",
	} {
		_, err := ConverterV1{}.LatestRevisionFromResponse(body)
		assert.EqualError(t, err, plugin.DeserializationPrefix+want, body)
	}
}

func TestConverterV1_LatestRevisionsSince(t *testing.T) {
	body := `{"revisions":[{"revision":"r1","timestamp":"2011-07-14T19:43:37.100Z"},{"revision":"r2","timestamp":"2011-07-15T19:43:37.100Z"}],` +
		`"scm-data":{"key-one":"value-one"}}`
	result, err := ConverterV1{}.LatestRevisionsSinceFromResponse(body)
	require.NoError(t, err)
	require.Len(t, result.Revisions, 2)
	assert.Equal(t, "r2", result.Revisions[1].Revision)
	assert.Equal(t, "value-one", result.MaterialData["key-one"])

	for _, empty := range []string{"", "null", "{}"} {
		result, err := ConverterV1{}.LatestRevisionsSinceFromResponse(empty)
		require.NoError(t, err)
		assert.Nil(t, result.Revisions)
		assert.Nil(t, result.MaterialData)
		assert.Nil(t, result.LatestRevision())
	}

	for body, want := range map[string]string{
		`[]`:                 "SCM revisions should be returned as a map",
		`[{"revisions":[]}]`: "SCM revisions should be returned as a map",
		`{"revisions":{}}`:   "'revisions' should be of type list of map",
		`{"revisions":["x"]}`: "SCM revision should be of type map",
		`{"scm-data":[]}`:    "SCM data should be of type map",
		`{"revisions":[{"revision":"r1"}]}`: "SCM revision timestamp should be of type string with format yyyy-MM-dd'T'HH:mm:ss.SSS'Z' and cannot be empty",
	} {
		_, err := ConverterV1{}.LatestRevisionsSinceFromResponse(body)
		assert.EqualError(t, err, plugin.DeserializationPrefix+want, body)
	}
}

func TestDecodeRevision(t *testing.T) {
	const ts = `"timestamp":"2011-07-14T19:43:37.100Z"`
	cases := map[string]string{
		`{"revision":{}}`:                                       "SCM revision should be of type string",
		`{"revision":""}`:                                       "SCM revision's 'revision' is a required field",
		`{"revision":"r1"}`:                                     scmTimestampMessage,
		`{"revision":"r1","timestamp":{}}`:                      scmTimestampMessage,
		`{"revision":"r1","timestamp":"12-01-2014"}`:            scmTimestampMessage,
		`{"revision":"r1",` + ts + `,"revisionComment":{}}`:     "SCM revision comment should be of type string",
		`{"revision":"r1",` + ts + `,"user":{}}`:                "SCM revision user should be of type string",
		`{"revision":"r1",` + ts + `,"modifiedFiles":{}}`:       "SCM revision 'modifiedFiles' should be of type list of map",
		`{"revision":"r1",` + ts + `,"modifiedFiles":["x"]}`:    "SCM revision 'modified file' should be of type map",
		`{"revision":"r1",` + ts + `,"modifiedFiles":[{"fileName":{}}]}`: "modified file 'fileName' should be of type string",
		`{"revision":"r1",` + ts + `,"modifiedFiles":[{"action":"added"}]}`: "modified file 'fileName' is a required field",
		`{"revision":"r1",` + ts + `,"modifiedFiles":[{"fileName":"f","action":{}}]}`: "modified file 'action' should be of type string",
		`{"revision":"r1",` + ts + `,"modifiedFiles":[{"fileName":"f","action":"crap"}]}`: "modified file 'action' can only be added, modified, deleted",
	}
	for body, want := range cases {
		_, err := decodeRevision(gjson.Parse(body))
		assert.EqualError(t, err, want, body)
	}
}

func TestExtension_TalksToPlugin(t *testing.T) {
	ctx := context.Background()
	transport := plugintest.NewTransport().
		RespondOK(pluginID, RequestSCMView, `{"displayValue":"Git","template":"<div/>"}`).
		RespondOK(pluginID, RequestCheckSCMConnection, `{"status":"success","messages":["ok"]}`).
		RespondOK(pluginID, RequestLatestRevisionsSince, `{"revisions":[]}`).
		RespondOK(pluginID, RequestCheckout, `{"status":"success","messages":["done"]}`)
	m := plugintest.NewManager(transport, plugintest.Descriptor(pluginID, plugin.SCMExtension, "1.0"))
	e := New(m)

	view, err := e.View(ctx, pluginID)
	require.NoError(t, err)
	assert.Equal(t, "Git", view.DisplayValue)

	check, err := e.CheckConnection(ctx, pluginID, scmValues)
	require.NoError(t, err)
	assert.Equal(t, plugin.Success("ok"), check)
	assert.Equal(t, `{`+scmConfigJSON+`}`, transport.Last().Body)

	result, err := e.LatestRevisionsSince(ctx, pluginID, scmValues, nil, "flyweight", previousRevision(t))
	require.NoError(t, err)
	assert.Empty(t, result.Revisions)

	done, err := e.Checkout(ctx, pluginID, scmValues, "dest", previousRevision(t))
	require.NoError(t, err)
	assert.True(t, done.Successful)
	assert.Equal(t, plugin.SCMExtension, transport.Last().Extension)

	assert.True(t, e.CanHandlePlugin(pluginID))
	assert.False(t, e.CanHandlePlugin("other"))
}
