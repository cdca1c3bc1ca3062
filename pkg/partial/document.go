// Package partial reads configuration partials: YAML documents declaring
// pipeline groups, environments, SCMs and package repositories. The main
// configuration file and every config repository checkout are read into a
// merge.PartialConfig before being merged.
package partial

import (
	"fmt"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/merge"
	"github.com/rzbill/cruise/pkg/packages"
	"github.com/rzbill/cruise/pkg/scm"
)

// Document is the YAML form of a partial.
type Document struct {
	Groups       []Group         `yaml:"groups,omitempty"`
	Environments []Environment   `yaml:"environments,omitempty"`
	SCMs         []SCM           `yaml:"scms,omitempty"`
	Repositories []repositoryDoc `yaml:"repositories,omitempty"`
}

// Group is a pipeline group, or the part of one, declared by a document.
type Group struct {
	Name          string               `yaml:"name"`
	Authorization *merge.Authorization `yaml:"authorization,omitempty"`
	Pipelines     []Pipeline           `yaml:"pipelines,omitempty"`
}

type Pipeline struct {
	Name          string     `yaml:"name"`
	LabelTemplate string     `yaml:"label_template,omitempty"`
	Materials     Materials  `yaml:"materials,omitempty"`
	Variables     []Variable `yaml:"variables,omitempty"`
}

type Materials struct {
	Git          []GitMaterial        `yaml:"git,omitempty"`
	SCM          []SCMMaterial        `yaml:"scm,omitempty"`
	Packages     []PackageMaterial    `yaml:"packages,omitempty"`
	Dependencies []DependencyMaterial `yaml:"dependencies,omitempty"`
}

type GitMaterial struct {
	URL    string `yaml:"url"`
	Branch string `yaml:"branch,omitempty"`
}

// SCMMaterial references an SCM declared in any partial by id.
type SCMMaterial struct {
	Name   string   `yaml:"name,omitempty"`
	SCMID  string   `yaml:"scm_id"`
	Folder string   `yaml:"folder,omitempty"`
	Filter []string `yaml:"filter,omitempty"`
}

type PackageMaterial struct {
	PackageID string `yaml:"package_id"`
}

type DependencyMaterial struct {
	Pipeline string `yaml:"pipeline"`
	Stage    string `yaml:"stage"`
}

type Variable struct {
	Name   string `yaml:"name"`
	Value  string `yaml:"value"`
	Secure bool   `yaml:"secure,omitempty"`
}

type Environment struct {
	Name      string     `yaml:"name"`
	Agents    []string   `yaml:"agents,omitempty"`
	Pipelines []string   `yaml:"pipelines,omitempty"`
	Variables []Variable `yaml:"variables,omitempty"`
}

type Plugin struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version,omitempty"`
}

// Property is one configuration entry. A secure value is given already
// encrypted.
type Property struct {
	Key            string `yaml:"key"`
	Value          string `yaml:"value,omitempty"`
	EncryptedValue string `yaml:"encrypted_value,omitempty"`
}

type SCM struct {
	ID            string     `yaml:"id,omitempty"`
	Name          string     `yaml:"name"`
	AutoUpdate    *bool      `yaml:"auto_update,omitempty"`
	Plugin        Plugin     `yaml:"plugin"`
	Configuration []Property `yaml:"configuration,omitempty"`
}

type repositoryDoc struct {
	ID            string     `yaml:"id,omitempty"`
	Name          string     `yaml:"name"`
	Plugin        Plugin     `yaml:"plugin"`
	Configuration []Property `yaml:"configuration,omitempty"`
	Packages      []Package  `yaml:"packages,omitempty"`
}

type Package struct {
	ID            string     `yaml:"id,omitempty"`
	Name          string     `yaml:"name"`
	AutoUpdate    *bool      `yaml:"auto_update,omitempty"`
	Configuration []Property `yaml:"configuration,omitempty"`
}

// Append adds the declarations of other to d.
func (d *Document) Append(other *Document) {
	d.Groups = append(d.Groups, other.Groups...)
	d.Environments = append(d.Environments, other.Environments...)
	d.SCMs = append(d.SCMs, other.SCMs...)
	d.Repositories = append(d.Repositories, other.Repositories...)
}

// ToPartial converts d into a partial defined at origin. Structural problems
// are returned as errors; semantic ones are left to merge validation.
func (d *Document) ToPartial(origin merge.Origin) (*merge.PartialConfig, error) {
	p := &merge.PartialConfig{Origin: origin}
	for i, g := range d.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("groups[%d]: name is required", i)
		}
		pipelines := make([]*merge.PipelineConfig, 0, len(g.Pipelines))
		for _, pd := range g.Pipelines {
			pipelines = append(pipelines, pd.toConfig(origin))
		}
		p.Groups = append(p.Groups, merge.NewPipelinePart(g.Name, g.Authorization.Clone(), origin, pipelines...))
	}
	for i, e := range d.Environments {
		if e.Name == "" {
			return nil, fmt.Errorf("environments[%d]: name is required", i)
		}
		part := merge.NewEnvironmentPart(e.Name, origin)
		part.Agents = append(part.Agents, e.Agents...)
		part.Pipelines = append(part.Pipelines, e.Pipelines...)
		part.Variables = variables(e.Variables)
		p.Environments = append(p.Environments, part)
	}
	for _, s := range d.SCMs {
		p.SCMs = append(p.SCMs, s.toSCM())
	}
	for _, r := range d.Repositories {
		p.Repositories = append(p.Repositories, r.toRepository())
	}
	return p, nil
}

func (pd Pipeline) toConfig(origin merge.Origin) *merge.PipelineConfig {
	pc := merge.NewPipelineConfig(pd.Name, origin)
	if pd.LabelTemplate != "" {
		pc.LabelTemplate = pd.LabelTemplate
	}
	for _, g := range pd.Materials.Git {
		pc.Materials.Git = append(pc.Materials.Git, merge.GitMaterial{URL: g.URL, Branch: g.Branch})
	}
	for _, m := range pd.Materials.SCM {
		pc.Materials.SCM = append(pc.Materials.SCM, &scm.PluggableSCMMaterialConfig{
			Name:   m.Name,
			SCMID:  m.SCMID,
			Folder: m.Folder,
			Filter: append([]string(nil), m.Filter...),
		})
	}
	for _, m := range pd.Materials.Packages {
		pc.Materials.Packages = append(pc.Materials.Packages, &merge.PackageMaterial{PackageID: m.PackageID})
	}
	for _, m := range pd.Materials.Dependencies {
		pc.Materials.Dependencies = append(pc.Materials.Dependencies, merge.DependencyMaterial{Pipeline: m.Pipeline, Stage: m.Stage})
	}
	pc.Variables = variables(pd.Variables)
	return pc
}

func variables(in []Variable) merge.EnvironmentVariables {
	if len(in) == 0 {
		return nil
	}
	out := make(merge.EnvironmentVariables, 0, len(in))
	for _, v := range in {
		out = append(out, merge.EnvironmentVariable{Name: v.Name, Value: v.Value, Secure: v.Secure})
	}
	return out
}

func properties(in []Property) configuration.Configuration {
	cfg := make(configuration.Configuration, 0, len(in))
	for _, p := range in {
		if p.EncryptedValue != "" {
			cfg.Add(configuration.NewSecureProperty(p.Key, p.EncryptedValue))
			continue
		}
		cfg.Add(configuration.NewProperty(p.Key, p.Value))
	}
	return cfg
}

func (p Plugin) toConfiguration() configuration.PluginConfiguration {
	return configuration.PluginConfiguration{ID: p.ID, Version: p.Version}
}

func (s SCM) toSCM() *scm.SCM {
	out := scm.New(s.ID, s.Plugin.toConfiguration(), properties(s.Configuration))
	out.Name = s.Name
	if s.AutoUpdate != nil {
		out.AutoUpdate = *s.AutoUpdate
	}
	return out
}

func (r repositoryDoc) toRepository() *packages.PackageRepository {
	out := packages.NewPackageRepository(r.ID, r.Name, r.Plugin.toConfiguration(), properties(r.Configuration))
	for _, pd := range r.Packages {
		pkg := packages.NewPackageDefinition(pd.ID, pd.Name, properties(pd.Configuration))
		if pd.AutoUpdate != nil {
			pkg.AutoUpdate = *pd.AutoUpdate
		}
		out.AddPackage(pkg)
	}
	return out
}
