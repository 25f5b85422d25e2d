package skillcontainer

import "encoding/json"

// wireContainer mirrors the Rust SkillContainer's serde shape: `id` is
// omitted when unset, `skills` is always present (possibly empty).
type wireContainer struct {
	ID     string           `json:"id,omitempty"`
	Skills []SkillReference `json:"skills"`
}

// MarshalJSON implements json.Marshaler.
func (c *Container) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireContainer{ID: c.ID, Skills: c.Skills()})
}

// UnmarshalJSON implements json.Unmarshaler. The decoded container is
// validated so that a corrupted or hand-edited payload can't smuggle in
// more than MaxSkills entries or duplicate ids.
func (c *Container) UnmarshalJSON(data []byte) error {
	var wire wireContainer
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	fresh := New()
	fresh.ID = wire.ID
	if err := fresh.AddSkills(wire.Skills); err != nil {
		return err
	}
	*c = *fresh
	return nil
}
