package extension

import (
	"testing"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestObject_KeepsMemberOrder(t *testing.T) {
	values := ConfigValues{{Key: "key-two", Value: "<b>"}, {Key: "key-one", Value: "1"}}
	body, err := Encode(Object{}.With("repository-configuration", values.Keyed()).With("flat", values.Flat()))
	require.NoError(t, err)
	assert.Equal(t, `{"repository-configuration":{"key-two":{"value":"<b>"},"key-one":{"value":"1"}},"flat":{"key-two":"<b>","key-one":"1"}}`, body)

	body, err = Encode(SortedStrings(map[string]string{"b": "2", "a": "1"}))
	require.NoError(t, err)
	assert.Equal(t, `{"a":"1","b":"2"}`, body)
}

func TestDecodeMetadataMap(t *testing.T) {
	body := `{"key-one":{},` +
		`"key-two":{"default-value":"two","part-of-identity":true,"secure":true,"required":true,"display-name":"display-two","display-order":"1"},` +
		`"key-three":{"default-value":"three","part-of-identity":false,"secure":false,"required":false,"display-name":"display-three","display-order":2}}`

	schema, err := DecodeMetadataMap(body, "Repository configuration", MetadataDefaults{PartOfIdentity: true, Required: true})
	require.NoError(t, err)
	assert.Equal(t, configuration.Schema{
		{Key: "key-one", PartOfIdentity: true, Required: true},
		{Key: "key-two", DefaultValue: "two", PartOfIdentity: true, Secure: true, Required: true, DisplayName: "display-two", DisplayOrder: 1},
		{Key: "key-three", DefaultValue: "three", DisplayName: "display-three", DisplayOrder: 2},
	}, schema)

	schema, err = DecodeMetadataMap(`{"username":{}}`, "Plugin settings configuration", MetadataDefaults{DisplayNameFromKey: true})
	require.NoError(t, err)
	assert.Equal(t, configuration.Schema{{Key: "username", DisplayName: "username"}}, schema)
}

func TestDecodeMetadataMap_Diagnostics(t *testing.T) {
	cases := map[string]string{
		``:                                      "Empty response body",
		`null`:                                  "Empty response body",
		`[{"key-one":"value"},{"key-two":"value"}]`: "Repository configuration should be returned as a map",
		`{"":{}}`:                               "Repository configuration key cannot be empty",
		`{"key":[{}]}`:                          "Repository configuration properties for key 'key' should be represented as a Map",
		`{"key":{"part-of-identity":"true"}}`:   "'part-of-identity' property for key 'key' should be of type boolean",
		`{"key":{"part-of-identity":100}}`:      "'part-of-identity' property for key 'key' should be of type boolean",
		`{"key":{"secure":""}}`:                 "'secure' property for key 'key' should be of type boolean",
		`{"key":{"required":"true"}}`:           "'required' property for key 'key' should be of type boolean",
		`{"key":{"display-name":true}}`:         "'display-name' property for key 'key' should be of type string",
		`{"key":{"display-name":100}}`:          "'display-name' property for key 'key' should be of type string",
		`{"key":{"display-order":true}}`:        "'display-order' property for key 'key' should be of type integer",
		`{"key":{"display-order":10.0}}`:        "'display-order' property for key 'key' should be of type integer",
		`{"key":{"display-order":""}}`:          "'display-order' property for key 'key' should be of type integer",
	}
	for body, want := range cases {
		_, err := DecodeMetadataMap(body, "Repository configuration", MetadataDefaults{})
		require.Error(t, err, body)
		assert.True(t, plugin.IsDeserializationError(err), body)
		assert.Equal(t, plugin.DeserializationPrefix+want, err.Error(), body)
	}
}

func TestDecodeMetadataList(t *testing.T) {
	schema, err := DecodeMetadataList(`[{"key":"username","metadata":{"required":true,"secure":false}},{"key":"password","metadata":{"required":true,"secure":true}}]`)
	require.NoError(t, err)
	assert.Equal(t, configuration.Schema{
		{Key: "username", Required: true},
		{Key: "password", Required: true, Secure: true},
	}, schema)

	_, err = DecodeMetadataList(`{"key":"username"}`)
	assert.EqualError(t, err, "Unable to de-serialize json response. Configuration metadata should be returned as a list")
	_, err = DecodeMetadataList(`[{"metadata":{}}]`)
	assert.True(t, plugin.IsDeserializationError(err))
	_, err = DecodeMetadataList(`[{"key":"k","metadata":{"secure":"yes"}}]`)
	assert.EqualError(t, err, "Unable to de-serialize json response. 'secure' property for key 'k' should be of type boolean")
}

func TestDecodeTemplate(t *testing.T) {
	view, err := DecodeTemplate(`{ "template": "<div>This is view snippet</div>" }`, "Auth config view")
	require.NoError(t, err)
	assert.Equal(t, "<div>This is view snippet</div>", view)

	for _, body := range []string{``, `{}`, `{"template":"  "}`, `{"template":null}`} {
		_, err := DecodeTemplate(body, "Auth config view")
		assert.EqualError(t, err, "Auth config view `template` was blank!", body)
	}
}

func TestDecodeValidationResult(t *testing.T) {
	result, err := DecodeValidationResult(`[{"key":"key-one","message":"incorrect value"},{"message":"general error"}]`)
	require.NoError(t, err)
	assert.False(t, result.IsSuccessful())
	assert.Equal(t, []plugin.ValidationError{{Key: "key-one", Message: "incorrect value"}, {Key: "", Message: "general error"}}, result.Errors)
	assert.Equal(t, []string{"incorrect value"}, result.ErrorsFor("key-one"))

	for _, body := range []string{"", "null", "[]"} {
		result, err := DecodeValidationResult(body)
		require.NoError(t, err)
		assert.True(t, result.IsSuccessful())
	}

	_, err = DecodeValidationResult(`{"key":"k"}`)
	assert.True(t, plugin.IsDeserializationError(err))
	assert.EqualError(t, err, plugin.DeserializationPrefix+"Validation errors should be returned as list or errors, with each error represented as a map")

	_, err = DecodeValidationResult(`[[{"key":"abc","message":"msg"}]]`)
	assert.EqualError(t, err, plugin.DeserializationPrefix+"Each validation error should be represented as a map")
}

func TestDecodeCheckResult(t *testing.T) {
	result, err := DecodeCheckResult(`{"status":"success","messages":["message-one","message-two"]}`)
	require.NoError(t, err)
	assert.Equal(t, plugin.Success("message-one", "message-two"), result)

	result, err = DecodeCheckResult(`{"status":"failure"}`)
	require.NoError(t, err)
	assert.False(t, result.Successful)
	assert.Equal(t, []string{}, result.Messages)

	_, err = DecodeCheckResult(`{"status":"success","messages":"nope"}`)
	assert.True(t, plugin.IsDeserializationError(err))

	for body, want := range map[string]string{
		``:                                   "Empty response body",
		`[{"result":"success"}]`:             "Check connection result should be returned as map, with key represented as string and messages represented as list",
		`{"status":true}`:                    "Check connection 'status' should be of type string",
		`{"result":true}`:                    "Check connection 'status' is a required field",
		`{"status":"success","messages":{}}`: "Check connection 'messages' should be of type list of string",
	} {
		_, err := DecodeCheckResult(body)
		assert.EqualError(t, err, plugin.DeserializationPrefix+want, body)
	}
}

func TestDecodeStringMapAndStrings(t *testing.T) {
	root := gjson.Parse(`{"data":{"a":"1"},"bad":{"a":1},"list":["x","y"]}`)

	m, err := DecodeStringMap(root.Get("data"), "SCM data")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, m)

	m, err = DecodeStringMap(root.Get("missing"), "SCM data")
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = DecodeStringMap(root.Get("list"), "SCM data")
	assert.EqualError(t, err, "Unable to de-serialize json response. SCM data should be of type map")
	_, err = DecodeStringMap(root.Get("bad"), "SCM data")
	assert.Error(t, err)

	s, err := DecodeStrings(root.Get("list"), "roles")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, s)
}

func TestTimestamps(t *testing.T) {
	ts, err := ParseTimestamp("2011-07-14T19:43:37.100Z")
	require.NoError(t, err)
	assert.Equal(t, 100_000_000, ts.Nanosecond())
	assert.Equal(t, "2011-07-14T19:43:37.100Z", FormatTimestamp(ts))

	_, err = ParseTimestamp("12-01-2014")
	assert.Error(t, err)
}
