package merge

import (
	"fmt"
	"strings"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/rzbill/cruise/pkg/packages"
	"github.com/rzbill/cruise/pkg/scm"
	"github.com/rzbill/cruise/pkg/types"
)

// PartialConfig is the configuration contributed by one source: the main
// file or one config repository revision.
type PartialConfig struct {
	Origin       Origin
	Groups       []*PipelinePart
	Environments []*EnvironmentPart
	SCMs         scm.SCMs
	Repositories packages.PackageRepositories
}

// SetOrigin stamps origin on the partial and on every part and pipeline
// that has none yet.
func (p *PartialConfig) SetOrigin(origin Origin) {
	p.Origin = origin
	p.inheritOrigin()
}

func (p *PartialConfig) inheritOrigin() {
	for _, g := range p.Groups {
		if g.Origin == nil {
			g.Origin = p.Origin
		}
		for _, pc := range g.Pipelines {
			if pc.Origin == nil {
				pc.Origin = g.Origin
			}
		}
	}
	for _, e := range p.Environments {
		if e.Origin == nil {
			e.Origin = p.Origin
		}
	}
}

// ValidationFailure is the set of errors recorded on one entity of a merged
// configuration.
type ValidationFailure struct {
	// Entity names the failing entity, for example "pipeline 'build'".
	Entity string
	// Origin is the display name of the source defining the entity.
	Origin string
	Errors *types.ConfigErrors
}

func (f ValidationFailure) String() string {
	return fmt.Sprintf("%s (%s): %s", f.Entity, f.Origin, f.Errors.String())
}

// ValidationContext carries what validation needs beyond the configuration
// itself.
type ValidationContext struct {
	SCMSchemas      configuration.SchemaSource
	PackageMetadata packages.MetadataSource
	Cipher          crypto.Cipher
}

// CruiseConfig is the merged view of the main configuration file and all
// configuration partials.
type CruiseConfig struct {
	main         *PartialConfig
	partials     []*PartialConfig
	groups       []*PipelineGroup
	environments []*EnvironmentConfig

	SCMs         scm.SCMs
	Repositories packages.PackageRepositories
}

// Merge combines main with partials. Groups and environments sharing a name
// are merged in source order: main first, then partials.
func Merge(main *PartialConfig, partials ...*PartialConfig) (*CruiseConfig, error) {
	if main == nil {
		main = &PartialConfig{Origin: FileOrigin{}}
	}
	if main.Origin == nil {
		main.Origin = FileOrigin{}
	}
	c := &CruiseConfig{main: main, partials: partials}
	for _, p := range c.sources() {
		p.inheritOrigin()
		c.SCMs = append(c.SCMs, p.SCMs...)
		c.Repositories = append(c.Repositories, p.Repositories...)
	}
	c.SCMs.EnsureIDsExist()
	c.Repositories.FinalizeAfterLoad()
	if err := c.mergeGroups(); err != nil {
		return nil, err
	}
	if err := c.mergeEnvironments(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CruiseConfig) sources() []*PartialConfig {
	return append([]*PartialConfig{c.main}, c.partials...)
}

func (c *CruiseConfig) mergeGroups() error {
	var order []string
	byName := map[string][]*PipelinePart{}
	for _, src := range c.sources() {
		for _, part := range src.Groups {
			key := strings.ToLower(part.Group)
			if _, ok := byName[key]; !ok {
				order = append(order, key)
			}
			byName[key] = append(byName[key], part)
		}
	}
	c.groups = c.groups[:0]
	for _, key := range order {
		g, err := NewPipelineGroup(byName[key]...)
		if err != nil {
			return err
		}
		c.groups = append(c.groups, g)
	}
	return nil
}

func (c *CruiseConfig) mergeEnvironments() error {
	var order []string
	byName := map[string][]*EnvironmentPart{}
	for _, src := range c.sources() {
		for _, part := range src.Environments {
			key := strings.ToLower(part.Name)
			if _, ok := byName[key]; !ok {
				order = append(order, key)
			}
			byName[key] = append(byName[key], part)
		}
	}
	c.environments = c.environments[:0]
	for _, key := range order {
		e, err := NewEnvironmentConfig(byName[key]...)
		if err != nil {
			return err
		}
		c.environments = append(c.environments, e)
	}
	return nil
}

// Main returns the main configuration partial.
func (c *CruiseConfig) Main() *PartialConfig { return c.main }

// Partials returns the merged config repository partials.
func (c *CruiseConfig) Partials() []*PartialConfig { return c.partials }

// Groups returns the merged pipeline groups.
func (c *CruiseConfig) Groups() []*PipelineGroup { return c.groups }

// Group returns the group named name, or nil.
func (c *CruiseConfig) Group(name string) *PipelineGroup {
	for _, g := range c.groups {
		if g.IsNamed(name) {
			return g
		}
	}
	return nil
}

// Environments returns the merged environments.
func (c *CruiseConfig) Environments() []*EnvironmentConfig { return c.environments }

// Environment returns the environment named name, or nil.
func (c *CruiseConfig) Environment(name string) *EnvironmentConfig {
	for _, e := range c.environments {
		if e.IsNamed(name) {
			return e
		}
	}
	return nil
}

// EnvironmentForPipeline returns the environment referencing pipeline, or
// nil.
func (c *CruiseConfig) EnvironmentForPipeline(pipeline string) *EnvironmentConfig {
	for _, e := range c.environments {
		if e.ContainsPipeline(pipeline) {
			return e
		}
	}
	return nil
}

// AllPipelines returns the pipelines of every group in order.
func (c *CruiseConfig) AllPipelines() []*PipelineConfig {
	var out []*PipelineConfig
	for _, g := range c.groups {
		out = append(out, g.Pipelines()...)
	}
	return out
}

// PipelineNames returns the names of all pipelines.
func (c *CruiseConfig) PipelineNames() []string {
	all := c.AllPipelines()
	out := make([]string, 0, len(all))
	for _, pc := range all {
		out = append(out, pc.Name)
	}
	return out
}

// PipelineByName returns the first pipeline named name.
func (c *CruiseConfig) PipelineByName(name string) (*PipelineConfig, error) {
	for _, g := range c.groups {
		if pc := g.FindBy(name); pc != nil {
			return pc, nil
		}
	}
	return nil, fmt.Errorf("Pipeline '%s' not found.", name)
}

// HasPipelineNamed reports whether any group defines name.
func (c *CruiseConfig) HasPipelineNamed(name string) bool {
	_, err := c.PipelineByName(name)
	return err == nil
}

// IsPipelineDefinedInMain reports whether the main file defines name.
func (c *CruiseConfig) IsPipelineDefinedInMain(name string) bool {
	for _, part := range c.main.Groups {
		if part.HasPipeline(name) {
			return true
		}
	}
	return false
}

// FindGroupOfPipeline returns the group defining pipeline, or nil.
func (c *CruiseConfig) FindGroupOfPipeline(pipeline string) *PipelineGroup {
	for _, g := range c.groups {
		if g.HasPipeline(pipeline) {
			return g
		}
	}
	return nil
}

// VariablesFor returns the environment variables of pipeline, overridden by
// the pipeline's own variables.
func (c *CruiseConfig) VariablesFor(pipeline string) (EnvironmentVariables, error) {
	pc, err := c.PipelineByName(pipeline)
	if err != nil {
		return nil, err
	}
	if env := c.EnvironmentForPipeline(pipeline); env != nil {
		return env.Variables().OverrideWith(pc.Variables), nil
	}
	return append(EnvironmentVariables(nil), pc.Variables...), nil
}

// GroupsAffectedByDeletionOfRole maps group names to the privileges role
// holds in them.
func (c *CruiseConfig) GroupsAffectedByDeletionOfRole(role string) map[string][]Privilege {
	out := map[string][]Privilege{}
	for _, g := range c.groups {
		if privileges := g.GetAuthorization().PrivilegesOfRole(role); len(privileges) > 0 {
			out[g.Name()] = privileges
		}
	}
	return out
}

// AddEnvironment adds an empty environment to the main file. The name must
// be unused across all sources.
func (c *CruiseConfig) AddEnvironment(name string) (*EnvironmentConfig, error) {
	if c.Environment(name) != nil {
		return nil, fmt.Errorf("Environment with name '%s' already exists.", name)
	}
	c.main.Environments = append(c.main.Environments, NewEnvironmentPart(name, c.main.Origin))
	if err := c.mergeEnvironments(); err != nil {
		return nil, err
	}
	return c.Environment(name), nil
}

// DependencyTable maps each pipeline to the pipelines it depends on. Keys
// are lower-cased names.
func (c *CruiseConfig) DependencyTable() map[string][]string {
	table := map[string][]string{}
	for _, pc := range c.AllPipelines() {
		key := types.DependencyNodeKey(pc.Name)
		deps := make([]string, 0, len(pc.Materials.Dependencies))
		for _, up := range pc.UpstreamPipelines() {
			deps = append(deps, types.DependencyNodeKey(up))
		}
		table[key] = append(table[key], deps...)
	}
	return table
}
