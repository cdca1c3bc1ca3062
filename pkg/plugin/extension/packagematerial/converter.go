// Package packagematerial talks to package repository plugins.
package packagematerial

import (
	"time"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension"
	"github.com/tidwall/gjson"
)

// PackageRevision is a revision of a package reported by a plugin.
type PackageRevision struct {
	Revision     string
	Timestamp    time.Time
	User         string
	Comment      string
	TrackbackURL string
	Data         map[string]string
}

// Converter speaks one version of the package repository messages.
type Converter interface {
	RepositoryConfigurationFromResponse(body string) (configuration.Schema, error)
	PackageConfigurationFromResponse(body string) (configuration.Schema, error)
	RepositoryRequest(repo extension.ConfigValues) (string, error)
	PackageRequest(pkg, repo extension.ConfigValues) (string, error)
	LatestRevisionSinceRequest(pkg, repo extension.ConfigValues, previous *PackageRevision) (string, error)
	ValidationFromResponse(body string) (*plugin.ValidationResult, error)
	CheckConnectionFromResponse(body string) (*plugin.Result, error)
	LatestRevisionFromResponse(body string) (*PackageRevision, error)
	LatestRevisionSinceFromResponse(body string) (*PackageRevision, error)
}

// ConverterV1 is protocol version 1.0.
type ConverterV1 struct{}

var identityDefaults = extension.MetadataDefaults{PartOfIdentity: true, Required: true}

// RepositoryConfigurationFromResponse implements Converter.
func (ConverterV1) RepositoryConfigurationFromResponse(body string) (configuration.Schema, error) {
	return extension.DecodeMetadataMap(body, "Repository configuration", identityDefaults)
}

// PackageConfigurationFromResponse implements Converter.
func (ConverterV1) PackageConfigurationFromResponse(body string) (configuration.Schema, error) {
	return extension.DecodeMetadataMap(body, "Package configuration", identityDefaults)
}

// RepositoryRequest implements Converter.
func (ConverterV1) RepositoryRequest(repo extension.ConfigValues) (string, error) {
	return extension.Encode(extension.Object{}.With("repository-configuration", repo.Keyed()))
}

// PackageRequest implements Converter.
func (ConverterV1) PackageRequest(pkg, repo extension.ConfigValues) (string, error) {
	return extension.Encode(packageObject(pkg, repo))
}

func packageObject(pkg, repo extension.ConfigValues) extension.Object {
	return extension.Object{}.
		With("repository-configuration", repo.Keyed()).
		With("package-configuration", pkg.Keyed())
}

// LatestRevisionSinceRequest implements Converter.
func (ConverterV1) LatestRevisionSinceRequest(pkg, repo extension.ConfigValues, previous *PackageRevision) (string, error) {
	prev := extension.Object{}.
		With("revision", previous.Revision).
		With("timestamp", extension.FormatTimestamp(previous.Timestamp)).
		With("data", extension.SortedStrings(previous.Data))
	return extension.Encode(packageObject(pkg, repo).With("previous-revision", prev))
}

// ValidationFromResponse implements Converter.
func (ConverterV1) ValidationFromResponse(body string) (*plugin.ValidationResult, error) {
	return extension.DecodeValidationResult(body)
}

// CheckConnectionFromResponse implements Converter.
func (ConverterV1) CheckConnectionFromResponse(body string) (*plugin.Result, error) {
	return extension.DecodeCheckResult(body)
}

// LatestRevisionFromResponse implements Converter. A plugin must always
// report a latest revision.
func (ConverterV1) LatestRevisionFromResponse(body string) (*PackageRevision, error) {
	if extension.IsEmptyObject(body) {
		return nil, plugin.ErrEmptyResponseBody
	}
	return decodeRevision(body)
}

// LatestRevisionSinceFromResponse implements Converter. Nothing new is
// reported as a nil revision.
func (ConverterV1) LatestRevisionSinceFromResponse(body string) (*PackageRevision, error) {
	if extension.IsEmptyObject(body) {
		return nil, nil
	}
	return decodeRevision(body)
}

const timestampMessage = "Package revision timestamp should be of type string with format yyyy-MM-dd'T'HH:mm:ss.SSS'Z'"

func decodeRevision(body string) (*PackageRevision, error) {
	if !gjson.Valid(body) {
		return nil, plugin.NewDeserializationError("Response body is not valid JSON")
	}
	root := gjson.Parse(body)
	if !root.IsObject() {
		return nil, plugin.NewDeserializationError("Package revision should be returned as a map")
	}

	rev := &PackageRevision{}
	var err error
	if rev.Revision, err = stringField(root, "revision", "Package revision should be of type string"); err != nil {
		return nil, err
	}
	if rev.Comment, err = stringField(root, "revisionComment", "Package revision comment should be of type string"); err != nil {
		return nil, err
	}
	if rev.User, err = stringField(root, "user", "Package revision user should be of type string"); err != nil {
		return nil, err
	}
	if rev.TrackbackURL, err = stringField(root, "trackbackUrl", "Package revision trackbackUrl should be of type string"); err != nil {
		return nil, err
	}
	ts, err := stringField(root, "timestamp", timestampMessage)
	if err != nil {
		return nil, err
	}
	if ts != "" {
		if rev.Timestamp, err = extension.ParseTimestamp(ts); err != nil {
			return nil, plugin.NewDeserializationError(timestampMessage)
		}
	}
	if rev.Data, err = extension.DecodeStringMap(root.Get("data"), "Package revision data"); err != nil {
		return nil, err
	}
	return rev, nil
}

func stringField(root gjson.Result, field, message string) (string, error) {
	v := root.Get(field)
	if !v.Exists() || v.Type == gjson.Null {
		return "", nil
	}
	if v.Type != gjson.String {
		return "", plugin.NewDeserializationError("%s", message)
	}
	return v.Str, nil
}
