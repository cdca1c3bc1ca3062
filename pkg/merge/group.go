package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rzbill/cruise/pkg/types"
)

// DefaultGroupName replaces an empty group name on rename.
const DefaultGroupName = "defaultGroup"

var (
	// ErrNoEditableSources is returned by group writes when none of the
	// group's parts can be edited.
	ErrNoEditableSources = errors.New("No editable configuration sources")
	// ErrNonEditablePart is returned when a positional insert lands in a
	// part that cannot be edited.
	ErrNonEditablePart = errors.New("Cannot add pipeline to non-editable configuration part")
	// ErrNoEditablePart is returned by environment writes without an
	// editable part, and by group writes aimed at a read-only part.
	ErrNoEditablePart = errors.New("No editable configuration part")
)

// PipelinePart is the slice of a pipeline group defined by one source.
type PipelinePart struct {
	Group         string
	Authorization *Authorization
	Pipelines     []*PipelineConfig
	Origin        Origin
}

// NewPipelinePart returns a part of group defined at origin.
func NewPipelinePart(group string, auth *Authorization, origin Origin, pipelines ...*PipelineConfig) *PipelinePart {
	if auth == nil {
		auth = &Authorization{}
	}
	return &PipelinePart{Group: group, Authorization: auth, Pipelines: pipelines, Origin: origin}
}

// CanEdit reports whether the part's origin is editable.
func (p *PipelinePart) CanEdit() bool { return canEdit(p.Origin) }

// HasPipeline reports whether the part defines name.
func (p *PipelinePart) HasPipeline(name string) bool { return p.find(name) >= 0 }

func (p *PipelinePart) find(name string) int {
	for i, pc := range p.Pipelines {
		if pc.IsNamed(name) {
			return i
		}
	}
	return -1
}

func (p *PipelinePart) insert(i int, pc *PipelineConfig) {
	p.Pipelines = append(p.Pipelines, nil)
	copy(p.Pipelines[i+1:], p.Pipelines[i:])
	p.Pipelines[i] = pc
}

// PipelineGroup is a named pipeline group. It is made of one part per source
// defining the group; a group from a single source has one part.
type PipelineGroup struct {
	parts  []*PipelinePart
	errors types.ConfigErrors
}

// NewPipelineGroup combines parts that share a group name.
func NewPipelineGroup(parts ...*PipelinePart) (*PipelineGroup, error) {
	if len(parts) == 0 {
		return nil, errors.New("pipeline group requires at least one part")
	}
	name := parts[0].Group
	for _, p := range parts[1:] {
		if !strings.EqualFold(p.Group, name) {
			return nil, fmt.Errorf("cannot merge pipeline group parts with different names: '%s' and '%s'", name, p.Group)
		}
	}
	return &PipelineGroup{parts: parts}, nil
}

// Name returns the group name, taken from the first part.
func (g *PipelineGroup) Name() string { return g.parts[0].Group }

// IsNamed compares the group name ignoring case.
func (g *PipelineGroup) IsNamed(name string) bool { return strings.EqualFold(g.Name(), name) }

// Parts returns the parts in merge order.
func (g *PipelineGroup) Parts() []*PipelinePart { return g.parts }

// Part returns the i-th part.
func (g *PipelineGroup) Part(i int) *PipelinePart { return g.parts[i] }

// Errors returns the errors recorded on the group.
func (g *PipelineGroup) Errors() *types.ConfigErrors { return &g.errors }

// AddError records msg against field.
func (g *PipelineGroup) AddError(field, msg string) { g.errors.Add(field, msg) }

// Size returns the number of pipelines across all parts.
func (g *PipelineGroup) Size() int {
	n := 0
	for _, p := range g.parts {
		n += len(p.Pipelines)
	}
	return n
}

// IsEmpty reports whether no part defines a pipeline.
func (g *PipelineGroup) IsEmpty() bool { return g.Size() == 0 }

// Pipelines returns the pipelines of all parts in order.
func (g *PipelineGroup) Pipelines() []*PipelineConfig {
	out := make([]*PipelineConfig, 0, g.Size())
	for _, p := range g.parts {
		out = append(out, p.Pipelines...)
	}
	return out
}

// Get returns the pipeline at position i across parts, or nil when i is out
// of range.
func (g *PipelineGroup) Get(i int) *PipelineConfig {
	if i < 0 {
		return nil
	}
	for _, p := range g.parts {
		if i < len(p.Pipelines) {
			return p.Pipelines[i]
		}
		i -= len(p.Pipelines)
	}
	return nil
}

// IndexOf returns the position of pc across parts, or -1.
func (g *PipelineGroup) IndexOf(pc *PipelineConfig) int {
	for i, each := range g.Pipelines() {
		if each == pc {
			return i
		}
	}
	return -1
}

// Contains reports whether pc is one of the group's pipelines.
func (g *PipelineGroup) Contains(pc *PipelineConfig) bool { return g.IndexOf(pc) >= 0 }

// FindBy returns the pipeline named name, or nil.
func (g *PipelineGroup) FindBy(name string) *PipelineConfig {
	for _, p := range g.parts {
		if i := p.find(name); i >= 0 {
			return p.Pipelines[i]
		}
	}
	return nil
}

// HasPipeline reports whether any part defines name.
func (g *PipelineGroup) HasPipeline(name string) bool { return g.FindBy(name) != nil }

// PartWithPipeline returns the part defining name, or nil.
func (g *PipelineGroup) PartWithPipeline(name string) *PipelinePart {
	for _, p := range g.parts {
		if p.HasPipeline(name) {
			return p
		}
	}
	return nil
}

// FirstEditablePartOrNil returns the first part whose origin is editable.
func (g *PipelineGroup) FirstEditablePartOrNil() *PipelinePart {
	for _, p := range g.parts {
		if p.CanEdit() {
			return p
		}
	}
	return nil
}

// GetLocal returns the first part defined in the main configuration file.
func (g *PipelineGroup) GetLocal() *PipelinePart {
	for _, p := range g.parts {
		if isLocal(p.Origin) {
			return p
		}
	}
	return nil
}

// IsLocal reports whether every part comes from the main configuration file.
func (g *PipelineGroup) IsLocal() bool {
	for _, p := range g.parts {
		if !isLocal(p.Origin) {
			return false
		}
	}
	return true
}

// GetOrigin returns the part's origin for a single-part group and a
// MergeOrigin of all parts otherwise.
func (g *PipelineGroup) GetOrigin() Origin {
	if len(g.parts) == 1 {
		return g.parts[0].Origin
	}
	origins := make(MergeOrigin, 0, len(g.parts))
	for _, p := range g.parts {
		origins = append(origins, p.Origin)
	}
	return origins
}

// GetAuthorization returns the authorization of the first part that defines
// one. Without any, the first editable part's (empty) authorization is
// returned, falling back to the first part's. Parts are never modified.
func (g *PipelineGroup) GetAuthorization() *Authorization {
	for _, p := range g.parts {
		if p.Authorization.IsDefined() {
			return p.Authorization
		}
	}
	target := g.FirstEditablePartOrNil()
	if target == nil {
		target = g.parts[0]
	}
	if target.Authorization == nil {
		return &Authorization{}
	}
	return target.Authorization
}

// HasAuthorizationDefined reports whether any part defines authorization.
func (g *PipelineGroup) HasAuthorizationDefined() bool {
	return g.GetAuthorization().IsDefined()
}

// HasViewPermission grants view to everyone when no authorization is
// defined.
func (g *PipelineGroup) HasViewPermission(user string, roles []string) bool {
	return g.HasViewPermissionOr(user, roles, true)
}

// HasViewPermissionOr returns allowIfUndefined when no authorization is
// defined.
func (g *PipelineGroup) HasViewPermissionOr(user string, roles []string, allowIfUndefined bool) bool {
	auth := g.GetAuthorization()
	if !auth.IsDefined() {
		return allowIfUndefined
	}
	return auth.HasViewPermission(user, roles)
}

// HasOperatePermission grants operate to everyone when no authorization is
// defined.
func (g *PipelineGroup) HasOperatePermission(user string, roles []string) bool {
	return g.HasOperatePermissionOr(user, roles, true)
}

// HasOperatePermissionOr returns allowIfUndefined when no authorization is
// defined.
func (g *PipelineGroup) HasOperatePermissionOr(user string, roles []string, allowIfUndefined bool) bool {
	auth := g.GetAuthorization()
	if !auth.IsDefined() {
		return allowIfUndefined
	}
	return auth.HasOperatePermission(user, roles)
}

// HasAdminPermission grants administration to everyone when no
// authorization is defined.
func (g *PipelineGroup) HasAdminPermission(user string, roles []string) bool {
	return g.HasAdminPermissionOr(user, roles, true)
}

// HasAdminPermissionOr returns allowIfUndefined when no authorization is
// defined.
func (g *PipelineGroup) HasAdminPermissionOr(user string, roles []string, allowIfUndefined bool) bool {
	auth := g.GetAuthorization()
	if !auth.IsDefined() {
		return allowIfUndefined
	}
	return auth.HasAdminPermission(user, roles)
}

// HasViewPermissionDefined reports whether the effective authorization
// names any viewers.
func (g *PipelineGroup) HasViewPermissionDefined() bool {
	return g.GetAuthorization().HasViewPermissionDefined()
}

// HasOperatePermissionDefined reports whether any operators are named.
func (g *PipelineGroup) HasOperatePermissionDefined() bool {
	return g.GetAuthorization().HasOperatePermissionDefined()
}

// HasAdminsDefined reports whether any group admins are named.
func (g *PipelineGroup) HasAdminsDefined() bool {
	return g.GetAuthorization().HasAdminsDefined()
}

// AddToTop prepends pc to the first editable part.
func (g *PipelineGroup) AddToTop(pc *PipelineConfig) error {
	part := g.FirstEditablePartOrNil()
	if part == nil {
		return ErrNoEditableSources
	}
	part.insert(0, pc)
	return nil
}

// Add appends pc to the first editable part.
func (g *PipelineGroup) Add(pc *PipelineConfig) error {
	part := g.FirstEditablePartOrNil()
	if part == nil {
		return ErrNoEditableSources
	}
	part.Pipelines = append(part.Pipelines, pc)
	return nil
}

// Insert places pc at the flattened position index. The part covering index
// must be editable; index equal to Size targets the last part.
func (g *PipelineGroup) Insert(index int, pc *PipelineConfig) error {
	total := g.Size()
	if index < 0 || index > total {
		return fmt.Errorf("index %d out of range for pipeline group '%s' of size %d", index, g.Name(), total)
	}
	part, local := g.parts[len(g.parts)-1], index-(total-len(g.parts[len(g.parts)-1].Pipelines))
	start := 0
	for _, p := range g.parts {
		if index >= start && index < start+len(p.Pipelines) {
			part, local = p, index-start
			break
		}
		start += len(p.Pipelines)
	}
	if !part.CanEdit() {
		return ErrNonEditablePart
	}
	part.insert(local, pc)
	return nil
}

// Update replaces the pipeline named oldName with pc, in place, within the
// part that defines it.
func (g *PipelineGroup) Update(pc *PipelineConfig, oldName string) error {
	part := g.PartWithPipeline(oldName)
	if part == nil {
		return fmt.Errorf("Pipeline '%s' not found.", oldName)
	}
	if !part.CanEdit() {
		return ErrNoEditablePart
	}
	part.Pipelines[part.find(oldName)] = pc
	return nil
}

// Remove drops pc from the part that defines it.
func (g *PipelineGroup) Remove(pc *PipelineConfig) error {
	for _, p := range g.parts {
		for i, each := range p.Pipelines {
			if each != pc {
				continue
			}
			if !p.CanEdit() {
				return ErrNoEditablePart
			}
			p.Pipelines = append(p.Pipelines[:i], p.Pipelines[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("Pipeline '%s' not found.", pc.Name)
}

// SetAuthorization stores auth on the first editable part.
func (g *PipelineGroup) SetAuthorization(auth *Authorization) error {
	part := g.FirstEditablePartOrNil()
	if part == nil {
		return ErrNoEditableSources
	}
	part.Authorization = auth
	return nil
}

// SetGroup renames the group. Only a group defined by a single editable
// part can be renamed; an empty name becomes DefaultGroupName.
func (g *PipelineGroup) SetGroup(name string) error {
	if g.FirstEditablePartOrNil() == nil {
		return ErrNoEditableSources
	}
	if len(g.parts) > 1 {
		return fmt.Errorf("cannot rename pipeline group '%s' defined in more than one configuration source", g.Name())
	}
	if name == "" {
		name = DefaultGroupName
	}
	g.parts[0].Group = name
	return nil
}

// SetConfigAttributes applies submitted form attributes to the first
// editable part. A "group" key renames the group and a nil value clears the
// name; an "authorization" key replaces the authorization. Missing or nil
// authorization keeps the previous value.
func (g *PipelineGroup) SetConfigAttributes(attrs map[string]any) error {
	rawName, hasName := attrs[FieldGroup]
	rawAuth, hasAuth := attrs[FieldAuthorization]
	if !hasName && !hasAuth {
		return nil
	}
	part := g.FirstEditablePartOrNil()
	if part == nil {
		return ErrNoEditableSources
	}
	if hasAuth && rawAuth != nil {
		auth, ok := rawAuth.(*Authorization)
		if !ok {
			return fmt.Errorf("authorization must be *Authorization, got %T", rawAuth)
		}
		part.Authorization = auth
	}
	if !hasName {
		return nil
	}
	if rawName == nil {
		if len(g.parts) > 1 {
			return fmt.Errorf("cannot rename pipeline group '%s' defined in more than one configuration source", g.Name())
		}
		g.parts[0].Group = ""
		return nil
	}
	name, isString := rawName.(string)
	if !isString {
		return fmt.Errorf("group name must be a string, got %T", rawName)
	}
	return g.SetGroup(name)
}

// Validate checks the group name and that pipeline names are unique across
// all parts.
func (g *PipelineGroup) Validate() {
	g.ValidateName()
	g.ValidatePipelineNameUniqueness()
}

// ValidateName checks the group name grammar.
func (g *PipelineGroup) ValidateName() {
	if !types.IsValidName(g.Name()) {
		g.AddError(FieldGroup, types.InvalidNameMessage("group", g.Name()))
	}
}

// ValidatePipelineNameUniqueness flags every pipeline whose name is used
// more than once in the group.
func (g *PipelineGroup) ValidatePipelineNameUniqueness() {
	byName := map[string]int{}
	for _, pc := range g.Pipelines() {
		byName[strings.ToLower(pc.Name)]++
	}
	for _, pc := range g.Pipelines() {
		if byName[strings.ToLower(pc.Name)] > 1 {
			pc.AddError(FieldName, fmt.Sprintf("You have defined multiple pipelines called '%s'. Pipeline names are case-insensitive and must be unique.", pc.Name))
		}
	}
}

// HasErrors reports whether the group or any of its pipelines has errors.
func (g *PipelineGroup) HasErrors() bool {
	if !g.errors.IsEmpty() {
		return true
	}
	for _, pc := range g.Pipelines() {
		if pc.HasErrors() {
			return true
		}
	}
	return false
}
