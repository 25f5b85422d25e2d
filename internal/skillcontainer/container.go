// Package skillcontainer implements spec.md §4.10's Skill Container: a
// bounded, order-preserving set of skill references attached to a turn,
// distinct from internal/skills' marketplace/discovery system (which
// resolves skill *content* from disk, git, or a registry). A SkillContainer
// only tracks which already-resolved skills ride along on a request and,
// optionally, a container id the caller can reuse across turns for
// provider-side state preservation.
//
// Grounded on _examples/original_source/vtcode-core/src/skills/container.rs.
package skillcontainer

import (
	"errors"
	"fmt"
)

// MaxSkills is spec.md §4.10's hard cap: a container holds at most 8 skills.
const MaxSkills = 8

// SkillType distinguishes Anthropic-managed skills from workspace/custom ones.
type SkillType string

const (
	SkillTypeAnthropic SkillType = "anthropic"
	SkillTypeCustom    SkillType = "custom"
)

// SkillVersion pins a skill reference to "latest" or a specific version id.
type SkillVersion string

// Latest is the zero value: always resolve the newest version.
const Latest SkillVersion = ""

func (v SkillVersion) String() string {
	if v == Latest {
		return "latest"
	}
	return string(v)
}

// IsLatest reports whether the version is unpinned.
func (v SkillVersion) IsLatest() bool {
	return v == Latest
}

// SkillReference is one skill entry inside a container.
type SkillReference struct {
	Type    SkillType    `json:"type"`
	ID      string       `json:"skill_id"`
	Version SkillVersion `json:"version,omitempty"`
}

// Anthropic builds an unpinned reference to a pre-built Anthropic skill.
func Anthropic(id string) SkillReference {
	return SkillReference{Type: SkillTypeAnthropic, ID: id, Version: Latest}
}

// Custom builds an unpinned reference to a workspace/custom skill.
func Custom(id string) SkillReference {
	return SkillReference{Type: SkillTypeCustom, ID: id, Version: Latest}
}

// WithVersion returns a copy of the reference pinned to version.
func (s SkillReference) WithVersion(version SkillVersion) SkillReference {
	s.Version = version
	return s
}

// ErrContainerFull is returned when an insertion would exceed MaxSkills.
var ErrContainerFull = errors.New("skillcontainer: container already has the maximum number of skills")

// ErrDuplicateSkill is returned when an insertion would introduce a
// repeated skill id.
var ErrDuplicateSkill = errors.New("skillcontainer: duplicate skill id")

// Container is a bounded, order-preserving set of skill references for one
// turn. The zero value is not usable; construct with New or WithID.
type Container struct {
	// ID, when set, signals reuse across multiple turns. It is opaque and
	// never parsed by the runtime.
	ID string

	skills []SkillReference
	ids    map[string]struct{}
}

// New returns an empty container with no reuse id.
func New() *Container {
	return &Container{skills: make([]SkillReference, 0, MaxSkills), ids: make(map[string]struct{}, MaxSkills)}
}

// WithID returns an empty container carrying a reuse id.
func WithID(id string) *Container {
	c := New()
	c.ID = id
	return c
}

// Single returns a container holding exactly one reference.
func Single(ref SkillReference) *Container {
	c := New()
	_ = c.AddSkill(ref)
	return c
}

// Len returns the number of skills currently held.
func (c *Container) Len() int {
	return len(c.skills)
}

// IsEmpty reports whether the container holds no skills.
func (c *Container) IsEmpty() bool {
	return len(c.skills) == 0
}

// Skills returns a defensive copy of the held references, in insertion order.
func (c *Container) Skills() []SkillReference {
	out := make([]SkillReference, len(c.skills))
	copy(out, c.skills)
	return out
}

// HasSkill reports whether id is already present.
func (c *Container) HasSkill(id string) bool {
	_, ok := c.ids[id]
	return ok
}

// GetSkill returns the reference for id, if present.
func (c *Container) GetSkill(id string) (SkillReference, bool) {
	for _, s := range c.skills {
		if s.ID == id {
			return s, true
		}
	}
	return SkillReference{}, false
}

// AddSkill inserts a single reference. Per SPEC_FULL.md's resolved
// ambiguity #4, the ≤8-count and distinct-id invariants are enforced
// atomically: on failure the container is left completely unchanged.
func (c *Container) AddSkill(ref SkillReference) error {
	return c.AddSkills([]SkillReference{ref})
}

// AddSkills inserts refs as one atomic batch: if any invariant would be
// violated by the batch as a whole (resulting count > MaxSkills, or a
// duplicate id either within refs or against the container's existing
// ids), no reference is added and the container is left unchanged.
func (c *Container) AddSkills(refs []SkillReference) error {
	if len(refs) == 0 {
		return nil
	}
	if len(c.skills)+len(refs) > MaxSkills {
		return fmt.Errorf("%w: have %d, adding %d, max %d", ErrContainerFull, len(c.skills), len(refs), MaxSkills)
	}
	seen := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		if _, dup := c.ids[r.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateSkill, r.ID)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateSkill, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	for _, r := range refs {
		c.skills = append(c.skills, r)
		c.ids[r.ID] = struct{}{}
	}
	return nil
}

// SetID sets the reuse id.
func (c *Container) SetID(id string) {
	c.ID = id
}

// ClearID clears the reuse id.
func (c *Container) ClearID() {
	c.ID = ""
}

// SkillIDs returns the ids of all held skills, in insertion order.
func (c *Container) SkillIDs() []string {
	out := make([]string, len(c.skills))
	for i, s := range c.skills {
		out[i] = s.ID
	}
	return out
}

// SkillsByType returns the held skills matching t, in insertion order.
func (c *Container) SkillsByType(t SkillType) []SkillReference {
	var out []SkillReference
	for _, s := range c.skills {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// AnthropicCount returns how many Anthropic-type skills are held.
func (c *Container) AnthropicCount() int {
	return len(c.SkillsByType(SkillTypeAnthropic))
}

// CustomCount returns how many custom-type skills are held.
func (c *Container) CustomCount() int {
	return len(c.SkillsByType(SkillTypeCustom))
}

// Validate re-checks both invariants against the current contents; it
// exists for defense-in-depth after deserializing a Container built
// elsewhere (e.g. round-tripped over the wire), since AddSkill/AddSkills
// already guarantee them for containers built exclusively through this
// package's API.
func (c *Container) Validate() error {
	if len(c.skills) > MaxSkills {
		return fmt.Errorf("%w: has %d, max %d", ErrContainerFull, len(c.skills), MaxSkills)
	}
	seen := make(map[string]struct{}, len(c.skills))
	for _, s := range c.skills {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateSkill, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
