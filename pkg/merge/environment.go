package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rzbill/cruise/pkg/types"
)

// Environment error fields.
const (
	FieldPipeline  = "pipeline"
	FieldAgent     = "agent"
	FieldVariables = "variables"
)

// EnvironmentNameVariable is exported to every job running in an environment.
const EnvironmentNameVariable = "GO_ENVIRONMENT_NAME"

// EnvironmentPart is the slice of an environment defined by one source.
type EnvironmentPart struct {
	Name      string
	Agents    []string
	Pipelines []string
	Variables EnvironmentVariables
	Origin    Origin
}

// NewEnvironmentPart returns an empty part named name.
func NewEnvironmentPart(name string, origin Origin) *EnvironmentPart {
	return &EnvironmentPart{Name: name, Origin: origin}
}

// AddPipeline appends a pipeline reference.
func (p *EnvironmentPart) AddPipeline(name string) { p.Pipelines = append(p.Pipelines, name) }

// AddAgent appends an agent uuid.
func (p *EnvironmentPart) AddAgent(uuid string) { p.Agents = append(p.Agents, uuid) }

// AddEnvironmentVariable appends a plain variable.
func (p *EnvironmentPart) AddEnvironmentVariable(name, value string) {
	p.Variables = append(p.Variables, EnvironmentVariable{Name: name, Value: value})
}

// CanEdit reports whether the part's origin is editable.
func (p *EnvironmentPart) CanEdit() bool { return canEdit(p.Origin) }

// ContainsPipeline compares names ignoring case.
func (p *EnvironmentPart) ContainsPipeline(name string) bool { return containsFold(p.Pipelines, name) }

// HasAgent reports whether uuid is assigned in this part.
func (p *EnvironmentPart) HasAgent(uuid string) bool {
	for _, a := range p.Agents {
		if a == uuid {
			return true
		}
	}
	return false
}

// EnvironmentConfig is a named environment made of one part per source that
// defines it.
type EnvironmentConfig struct {
	parts  []*EnvironmentPart
	errors types.ConfigErrors
}

// NewEnvironmentConfig combines parts that share an environment name.
func NewEnvironmentConfig(parts ...*EnvironmentPart) (*EnvironmentConfig, error) {
	if len(parts) == 0 {
		return nil, errors.New("environment requires at least one part")
	}
	name := parts[0].Name
	for _, p := range parts[1:] {
		if !strings.EqualFold(p.Name, name) {
			return nil, fmt.Errorf("cannot merge environment parts with different names: '%s' and '%s'", name, p.Name)
		}
	}
	return &EnvironmentConfig{parts: parts}, nil
}

// Name returns the environment name.
func (e *EnvironmentConfig) Name() string { return e.parts[0].Name }

// IsNamed compares names ignoring case.
func (e *EnvironmentConfig) IsNamed(name string) bool { return strings.EqualFold(e.Name(), name) }

// Parts returns the parts in merge order.
func (e *EnvironmentConfig) Parts() []*EnvironmentPart { return e.parts }

// Get returns the i-th part.
func (e *EnvironmentConfig) Get(i int) *EnvironmentPart { return e.parts[i] }

// Errors returns the errors recorded on the environment.
func (e *EnvironmentConfig) Errors() *types.ConfigErrors { return &e.errors }

// AddError records msg against field.
func (e *EnvironmentConfig) AddError(field, msg string) { e.errors.Add(field, msg) }

// PipelineNames returns the referenced pipelines of all parts without
// duplicates.
func (e *EnvironmentConfig) PipelineNames() []string {
	var out []string
	for _, p := range e.parts {
		for _, name := range p.Pipelines {
			if !containsFold(out, name) {
				out = append(out, name)
			}
		}
	}
	return out
}

// Agents returns the agent uuids of all parts without duplicates.
func (e *EnvironmentConfig) Agents() []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range e.parts {
		for _, a := range p.Agents {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}

// Variables returns the variables of all parts; the first definition of a
// name wins.
func (e *EnvironmentConfig) Variables() EnvironmentVariables {
	var out EnvironmentVariables
	for _, p := range e.parts {
		for _, v := range p.Variables {
			if !out.Has(v.Name) {
				out = append(out, v)
			}
		}
	}
	return out
}

// ContainsPipeline reports whether any part references name.
func (e *EnvironmentConfig) ContainsPipeline(name string) bool {
	for _, p := range e.parts {
		if p.ContainsPipeline(name) {
			return true
		}
	}
	return false
}

// HasAgent reports whether any part assigns uuid.
func (e *EnvironmentConfig) HasAgent(uuid string) bool {
	for _, p := range e.parts {
		if p.HasAgent(uuid) {
			return true
		}
	}
	return false
}

// HasVariable reports whether any part defines name.
func (e *EnvironmentConfig) HasVariable(name string) bool {
	return e.Variables().Has(name)
}

// Match reports whether the job of pipeline may run on agent.
func (e *EnvironmentConfig) Match(pipeline, agentUUID string) bool {
	return e.ContainsPipeline(pipeline) && e.HasAgent(agentUUID)
}

// HasSamePipelinesAs reports whether the environments share any pipeline.
func (e *EnvironmentConfig) HasSamePipelinesAs(other *EnvironmentConfig) bool {
	for _, name := range e.PipelineNames() {
		if other.ContainsPipeline(name) {
			return true
		}
	}
	return false
}

// RemotePipelines returns pipelines referenced from parts outside the main
// configuration file.
func (e *EnvironmentConfig) RemotePipelines() []string {
	var out []string
	for _, p := range e.parts {
		if isLocal(p.Origin) {
			continue
		}
		for _, name := range p.Pipelines {
			if !containsFold(out, name) {
				out = append(out, name)
			}
		}
	}
	return out
}

// IsLocal reports whether every part comes from the main configuration file.
func (e *EnvironmentConfig) IsLocal() bool {
	for _, p := range e.parts {
		if !isLocal(p.Origin) {
			return false
		}
	}
	return true
}

// GetLocal returns the first part defined in the main configuration file.
func (e *EnvironmentConfig) GetLocal() *EnvironmentPart {
	for _, p := range e.parts {
		if isLocal(p.Origin) {
			return p
		}
	}
	return nil
}

// GetOrigin returns the part's origin for a single-part environment and a
// MergeOrigin otherwise.
func (e *EnvironmentConfig) GetOrigin() Origin {
	if len(e.parts) == 1 {
		return e.parts[0].Origin
	}
	origins := make(MergeOrigin, 0, len(e.parts))
	for _, p := range e.parts {
		origins = append(origins, p.Origin)
	}
	return origins
}

// OriginForPipeline returns the origin of the first part referencing name.
func (e *EnvironmentConfig) OriginForPipeline(name string) Origin {
	for _, p := range e.parts {
		if p.ContainsPipeline(name) {
			return p.Origin
		}
	}
	return nil
}

// OriginForAgent returns the origin of the first part assigning uuid.
func (e *EnvironmentConfig) OriginForAgent(uuid string) Origin {
	for _, p := range e.parts {
		if p.HasAgent(uuid) {
			return p.Origin
		}
	}
	return nil
}

// CreateEnvironmentContext returns the variables exported to jobs,
// including GO_ENVIRONMENT_NAME.
func (e *EnvironmentConfig) CreateEnvironmentContext() EnvironmentVariables {
	ctx := EnvironmentVariables{{Name: EnvironmentNameVariable, Value: e.Name()}}
	return ctx.OverrideWith(e.Variables())
}

// IsEnvironmentEmpty reports whether no part references anything.
func (e *EnvironmentConfig) IsEnvironmentEmpty() bool {
	for _, p := range e.parts {
		if len(p.Pipelines) > 0 || len(p.Agents) > 0 || len(p.Variables) > 0 {
			return false
		}
	}
	return true
}

// FirstEditablePartOrNil returns the first part whose origin is editable.
func (e *EnvironmentConfig) FirstEditablePartOrNil() *EnvironmentPart {
	for _, p := range e.parts {
		if p.CanEdit() {
			return p
		}
	}
	return nil
}

// FirstEditablePart is FirstEditablePartOrNil failing with
// ErrNoEditablePart.
func (e *EnvironmentConfig) FirstEditablePart() (*EnvironmentPart, error) {
	if p := e.FirstEditablePartOrNil(); p != nil {
		return p, nil
	}
	return nil, ErrNoEditablePart
}

// AddPipeline references name from the first editable part.
func (e *EnvironmentConfig) AddPipeline(name string) error {
	p, err := e.FirstEditablePart()
	if err != nil {
		return err
	}
	p.AddPipeline(name)
	return nil
}

// AddAgent assigns uuid in the first editable part.
func (e *EnvironmentConfig) AddAgent(uuid string) error {
	p, err := e.FirstEditablePart()
	if err != nil {
		return err
	}
	p.AddAgent(uuid)
	return nil
}

// AddVariable defines a plain variable in the first editable part.
func (e *EnvironmentConfig) AddVariable(name, value string) error {
	p, err := e.FirstEditablePart()
	if err != nil {
		return err
	}
	p.AddEnvironmentVariable(name, value)
	return nil
}

// RemoveAgent unassigns uuid from every editable part. It fails when uuid is
// only assigned by parts that cannot be edited.
func (e *EnvironmentConfig) RemoveAgent(uuid string) error {
	removed, blocked := false, false
	for _, p := range e.parts {
		if !p.HasAgent(uuid) {
			continue
		}
		if !p.CanEdit() {
			blocked = true
			continue
		}
		kept := p.Agents[:0]
		for _, a := range p.Agents {
			if a != uuid {
				kept = append(kept, a)
			}
		}
		p.Agents = kept
		removed = true
	}
	if blocked && !removed {
		return ErrNoEditablePart
	}
	return nil
}

// SetConfigAttributes applies submitted form attributes to the first
// editable part. The "variables" key replaces the part's variables.
func (e *EnvironmentConfig) SetConfigAttributes(attrs map[string]any) error {
	p, err := e.FirstEditablePart()
	if err != nil {
		return err
	}
	raw, ok := attrs[FieldVariables]
	if !ok {
		return nil
	}
	switch vars := raw.(type) {
	case nil:
		p.Variables = nil
	case EnvironmentVariables:
		p.Variables = append(EnvironmentVariables(nil), vars...)
	case []EnvironmentVariable:
		p.Variables = append(EnvironmentVariables(nil), vars...)
	case []map[string]string:
		p.Variables = nil
		for _, v := range vars {
			p.Variables = append(p.Variables, EnvironmentVariable{
				Name:   v["name"],
				Value:  v["value"],
				Secure: v["secure"] == "true",
			})
		}
	default:
		return fmt.Errorf("unsupported environment variables attribute %T", raw)
	}
	return nil
}

// Validate flags pipelines and agents referenced more than once across
// parts and variables defined with conflicting values.
func (e *EnvironmentConfig) Validate() {
	pipelines := map[string]int{}
	for _, p := range e.parts {
		for _, name := range p.Pipelines {
			key := strings.ToLower(name)
			pipelines[key]++
			if pipelines[key] == 2 {
				e.AddError(FieldPipeline, fmt.Sprintf("Environment pipeline '%s' is defined more than once.", name))
			}
		}
	}
	agents := map[string]int{}
	for _, p := range e.parts {
		for _, uuid := range p.Agents {
			agents[uuid]++
			if agents[uuid] == 2 {
				e.AddError(FieldAgent, fmt.Sprintf("Environment agent '%s' is defined more than once.", uuid))
			}
		}
	}
	values := map[string]string{}
	for _, p := range e.parts {
		for _, v := range p.Variables {
			prev, seen := values[v.Name]
			if !seen {
				values[v.Name] = v.Value
				continue
			}
			if prev != v.Value {
				e.AddError(FieldConsistentKV, fmt.Sprintf("Environment variable '%s' is defined more than once with different values", v.Name))
			}
		}
	}
}

// ValidateContainsOnlyPipelines fails on the first referenced pipeline that
// is not among known.
func (e *EnvironmentConfig) ValidateContainsOnlyPipelines(known []string) error {
	for _, name := range e.PipelineNames() {
		if !containsFold(known, name) {
			return fmt.Errorf("Environment '%s' refers to an unknown pipeline '%s'.", e.Name(), name)
		}
	}
	return nil
}
