package merge

import (
	"fmt"
	"strings"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/types"
)

// Validate checks the merged configuration and returns one failure per
// entity that recorded errors. Errors from a previous run are cleared first.
// The error is only set when validation itself could not complete.
func (c *CruiseConfig) Validate(vc ValidationContext) ([]ValidationFailure, error) {
	c.clearErrors()

	for _, g := range c.groups {
		g.ValidateName()
		for _, pc := range g.Pipelines() {
			pc.Validate()
		}
	}
	c.validatePipelineNameUniqueness()
	c.resolveMaterials()
	c.validateDependencies()
	c.validateCycles()

	names := c.PipelineNames()
	for _, e := range c.environments {
		e.Validate()
		if err := e.ValidateContainsOnlyPipelines(names); err != nil {
			e.AddError(FieldPipeline, err.Error())
		}
		c.validateEnvironmentOrigins(e)
	}

	if err := c.SCMs.Validate(vc.SCMSchemas, vc.Cipher); err != nil {
		return nil, fmt.Errorf("failed to validate scms: %w", err)
	}
	if err := c.Repositories.Validate(vc.PackageMetadata, vc.Cipher); err != nil {
		return nil, fmt.Errorf("failed to validate package repositories: %w", err)
	}
	return c.collectFailures(), nil
}

func (c *CruiseConfig) validatePipelineNameUniqueness() {
	byName := map[string][]*PipelineConfig{}
	for _, pc := range c.AllPipelines() {
		key := strings.ToLower(pc.Name)
		byName[key] = append(byName[key], pc)
	}
	for _, dups := range byName {
		if len(dups) < 2 {
			continue
		}
		msg := fmt.Sprintf("You have defined multiple pipelines named '%s'. Pipeline names must be unique. Source(s): [%s]",
			dups[0].Name, strings.Join(sourcesOf(dups), ", "))
		for _, pc := range dups {
			pc.AddError(FieldName, msg)
		}
	}
}

// sourcesOf lists distinct origins, config repositories before the main
// file.
func sourcesOf(pipelines []*PipelineConfig) []string {
	var remote, local []string
	for _, pc := range pipelines {
		name := displayName(pc.Origin)
		if isLocal(pc.Origin) {
			if !contains(local, name) {
				local = append(local, name)
			}
			continue
		}
		if !contains(remote, name) {
			remote = append(remote, name)
		}
	}
	return append(remote, local...)
}

func (c *CruiseConfig) resolveMaterials() {
	for _, pc := range c.AllPipelines() {
		for _, m := range pc.Materials.SCM {
			if m.SCM != nil {
				continue
			}
			if err := m.ResolveSCM(c.SCMs); err != nil {
				pc.Materials.errors.Add(FieldMaterials, err.Error())
			}
		}
		for _, m := range pc.Materials.Packages {
			if m.Package != nil {
				continue
			}
			m.Package = c.Repositories.FindPackageDefinitionWith(m.PackageID)
			if m.Package == nil {
				pc.Materials.errors.Add(FieldMaterials, fmt.Sprintf("Failed to find package repository with package id '%s'", m.PackageID))
			}
		}
	}
}

// validateDependencies checks that upstream pipelines exist and that a
// pipeline of the main file only depends on pipelines of the main file.
func (c *CruiseConfig) validateDependencies() {
	for _, pc := range c.AllPipelines() {
		for _, dep := range pc.Materials.Dependencies {
			upstream, err := c.PipelineByName(dep.Pipeline)
			if err != nil {
				pc.Materials.errors.Add(FieldMaterials, fmt.Sprintf("Pipeline with name '%s' does not exist, it is defined as a dependency for pipeline '%s' (%s)",
					dep.Pipeline, pc.Name, displayName(pc.Origin)))
				continue
			}
			if isLocal(pc.Origin) && !isLocal(upstream.Origin) {
				pc.AddError(FieldOrigin, fmt.Sprintf("Pipeline '%s' defined in %s cannot depend on pipeline '%s' defined in %s.",
					pc.Name, displayName(pc.Origin), upstream.Name, displayName(upstream.Origin)))
			}
		}
	}
}

// validateCycles flags the first pipeline of every dependency cycle.
func (c *CruiseConfig) validateCycles() {
	for _, cycle := range types.DetectDependencyCycles(c.DependencyTable()) {
		pc, err := c.PipelineByName(cycle.Path[0])
		if err != nil {
			continue
		}
		pc.Materials.errors.Add(FieldMaterials, cycle.Error())
	}
}

// validateEnvironmentOrigins rejects parts of the main file that reference
// pipelines defined in config repositories.
func (c *CruiseConfig) validateEnvironmentOrigins(e *EnvironmentConfig) {
	for _, part := range e.parts {
		if !isLocal(part.Origin) {
			continue
		}
		for _, name := range part.Pipelines {
			pc, err := c.PipelineByName(name)
			if err != nil || isLocal(pc.Origin) {
				continue
			}
			e.AddError(FieldOrigin, fmt.Sprintf("Environment '%s' defined in %s refers to pipeline '%s' defined in %s.",
				e.Name(), displayName(part.Origin), pc.Name, displayName(pc.Origin)))
		}
	}
}

func (c *CruiseConfig) clearErrors() {
	for _, g := range c.groups {
		g.errors.Clear()
		for _, pc := range g.Pipelines() {
			pc.errors.Clear()
			pc.Materials.errors.Clear()
		}
	}
	for _, e := range c.environments {
		e.errors.Clear()
	}
	for _, s := range c.SCMs {
		s.Errors().Clear()
		clearPropertyErrors(s.Configuration)
	}
	for _, r := range c.Repositories {
		r.Errors().Clear()
		clearPropertyErrors(r.Configuration)
		for _, p := range r.Packages {
			p.Errors().Clear()
			clearPropertyErrors(p.Configuration)
		}
	}
}

func clearPropertyErrors(cfg configuration.Configuration) {
	for _, p := range cfg {
		p.Errors().Clear()
	}
}

func (c *CruiseConfig) collectFailures() []ValidationFailure {
	var out []ValidationFailure
	add := func(entity string, origin Origin, errs *types.ConfigErrors) {
		if errs.IsEmpty() {
			return
		}
		copied := &types.ConfigErrors{}
		copied.AddAll(errs)
		out = append(out, ValidationFailure{Entity: entity, Origin: displayName(origin), Errors: copied})
	}
	addProperties := func(entity string, origin Origin, cfg configuration.Configuration) {
		for _, p := range cfg {
			add(fmt.Sprintf("%s property '%s'", entity, p.Key()), origin, p.Errors())
		}
	}

	for _, g := range c.groups {
		add(fmt.Sprintf("group '%s'", g.Name()), g.GetOrigin(), &g.errors)
		for _, pc := range g.Pipelines() {
			add(fmt.Sprintf("pipeline '%s'", pc.Name), pc.Origin, &pc.errors)
			add(fmt.Sprintf("pipeline '%s' materials", pc.Name), pc.Origin, &pc.Materials.errors)
		}
	}
	for _, e := range c.environments {
		add(fmt.Sprintf("environment '%s'", e.Name()), e.GetOrigin(), &e.errors)
	}
	for _, s := range c.SCMs {
		origin := c.originOfSCM(s.ID)
		add(fmt.Sprintf("scm '%s'", s.Name), origin, s.Errors())
		addProperties(fmt.Sprintf("scm '%s'", s.Name), origin, s.Configuration)
	}
	for _, r := range c.Repositories {
		origin := c.originOfRepository(r.ID)
		add(fmt.Sprintf("repository '%s'", r.Name), origin, r.Errors())
		addProperties(fmt.Sprintf("repository '%s'", r.Name), origin, r.Configuration)
		for _, p := range r.Packages {
			entity := fmt.Sprintf("package '%s/%s'", r.Name, p.Name)
			add(entity, origin, p.Errors())
			addProperties(entity, origin, p.Configuration)
		}
	}
	return out
}

func (c *CruiseConfig) originOfSCM(id string) Origin {
	for _, src := range c.sources() {
		if src.SCMs.Find(id) != nil {
			return src.Origin
		}
	}
	return nil
}

func (c *CruiseConfig) originOfRepository(id string) Origin {
	for _, src := range c.sources() {
		if src.Repositories.Find(id) != nil {
			return src.Origin
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, each := range list {
		if each == s {
			return true
		}
	}
	return false
}
