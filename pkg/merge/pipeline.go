package merge

import (
	"strings"

	"github.com/rzbill/cruise/pkg/packages"
	"github.com/rzbill/cruise/pkg/scm"
	"github.com/rzbill/cruise/pkg/types"
)

// Error fields.
const (
	FieldName      = "name"
	FieldGroup     = "group"
	FieldMaterials = "materials"
	FieldOrigin    = "origin"

	// FieldAuthorization carries an *Authorization in group attributes.
	FieldAuthorization = "authorization"
	// FieldConsistentKV holds variable conflicts across environment parts.
	FieldConsistentKV = "CONSISTENT_KV"
)

// DefaultLabelTemplate is the label template of a new pipeline.
const DefaultLabelTemplate = "${COUNT}"

// EnvironmentVariable is a name/value pair exported to jobs.
type EnvironmentVariable struct {
	Name   string
	Value  string
	Secure bool
}

// EnvironmentVariables is an ordered variable list.
type EnvironmentVariables []EnvironmentVariable

// Get returns the variable with name.
func (l EnvironmentVariables) Get(name string) (EnvironmentVariable, bool) {
	for _, v := range l {
		if v.Name == name {
			return v, true
		}
	}
	return EnvironmentVariable{}, false
}

// Has reports whether a variable with name exists.
func (l EnvironmentVariables) Has(name string) bool {
	_, ok := l.Get(name)
	return ok
}

// OverrideWith returns l with every variable of other replacing or extending
// it.
func (l EnvironmentVariables) OverrideWith(other EnvironmentVariables) EnvironmentVariables {
	out := append(EnvironmentVariables(nil), l...)
	for _, v := range other {
		replaced := false
		for i := range out {
			if out[i].Name == v.Name {
				out[i] = v
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, v)
		}
	}
	return out
}

// GitMaterial is a git repository polled by a pipeline.
type GitMaterial struct {
	URL    string
	Branch string
}

// DependencyMaterial makes a pipeline run after a stage of another pipeline.
type DependencyMaterial struct {
	Pipeline string
	Stage    string
}

// PackageMaterial references a package definition by id.
type PackageMaterial struct {
	PackageID string
	Package   *packages.PackageDefinition
}

// Materials groups the materials of a pipeline by kind.
type Materials struct {
	Git          []GitMaterial
	SCM          []*scm.PluggableSCMMaterialConfig
	Packages     []*PackageMaterial
	Dependencies []DependencyMaterial

	errors types.ConfigErrors
}

// Errors returns the errors recorded on the materials.
func (m *Materials) Errors() *types.ConfigErrors { return &m.errors }

// IsEmpty reports whether there are no materials at all.
func (m *Materials) IsEmpty() bool {
	return len(m.Git) == 0 && len(m.SCM) == 0 && len(m.Packages) == 0 && len(m.Dependencies) == 0
}

// PipelineConfig is one pipeline definition.
type PipelineConfig struct {
	Name          string
	LabelTemplate string
	Materials     Materials
	Variables     EnvironmentVariables
	Origin        Origin

	errors types.ConfigErrors
}

// NewPipelineConfig returns a pipeline with the default label template.
func NewPipelineConfig(name string, origin Origin) *PipelineConfig {
	return &PipelineConfig{Name: name, LabelTemplate: DefaultLabelTemplate, Origin: origin}
}

// IsNamed compares names ignoring case.
func (p *PipelineConfig) IsNamed(name string) bool {
	return strings.EqualFold(p.Name, name)
}

// Errors returns the errors recorded on the pipeline.
func (p *PipelineConfig) Errors() *types.ConfigErrors { return &p.errors }

// AddError records msg against field.
func (p *PipelineConfig) AddError(field, msg string) { p.errors.Add(field, msg) }

// HasErrors reports whether the pipeline or its materials have errors.
func (p *PipelineConfig) HasErrors() bool {
	return !p.errors.IsEmpty() || !p.Materials.errors.IsEmpty()
}

// Validate checks the pipeline name.
func (p *PipelineConfig) Validate() {
	if !types.IsValidName(p.Name) {
		p.AddError(FieldName, types.InvalidNameMessage("pipeline", p.Name))
	}
}

// UpstreamPipelines returns the pipelines p depends on.
func (p *PipelineConfig) UpstreamPipelines() []string {
	out := make([]string, 0, len(p.Materials.Dependencies))
	for _, d := range p.Materials.Dependencies {
		out = append(out, d.Pipeline)
	}
	return out
}

// Clone returns a copy that shares material references but no errors.
func (p *PipelineConfig) Clone() *PipelineConfig {
	c := &PipelineConfig{
		Name:          p.Name,
		LabelTemplate: p.LabelTemplate,
		Variables:     append(EnvironmentVariables(nil), p.Variables...),
		Origin:        p.Origin,
	}
	c.Materials = Materials{
		Git:          append([]GitMaterial(nil), p.Materials.Git...),
		SCM:          append([]*scm.PluggableSCMMaterialConfig(nil), p.Materials.SCM...),
		Packages:     append([]*PackageMaterial(nil), p.Materials.Packages...),
		Dependencies: append([]DependencyMaterial(nil), p.Materials.Dependencies...),
	}
	return c
}
