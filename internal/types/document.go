// Package types provides type definitions for structured data used throughout the profile-orchestrator system.
package types

import "encoding/json"

// ProfileDocument represents the structured content of a generated job profile.
// The named fields are the required top-level sections; any additional fields
// returned by the model are preserved opaquely in Extra so regenerations never
// silently drop data.
type ProfileDocument struct {
	Summary          string         `json:"summary"`
	Responsibilities []string       `json:"responsibilities"`
	Requirements     []Requirement  `json:"requirements"`
	Skills           []Skill        `json:"skills"`
	Qualifications   Qualifications `json:"qualifications"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Requirement represents one requirement of the position
type Requirement struct {
	Description string `json:"description"`
	Level       string `json:"level,omitempty"` // e.g. "required", "preferred"
}

// Skill represents a skill entry with an optional proficiency level
type Skill struct {
	Name  string `json:"name"`
	Level string `json:"level,omitempty"`
}

// Qualifications groups the formal qualification sub-fields of a profile
type Qualifications struct {
	Education      []string `json:"education,omitempty"`
	Experience     []string `json:"experience,omitempty"`
	Certifications []string `json:"certifications,omitempty"`
}

// sectionNames lists the required top-level sections in document order
var sectionNames = []string{"summary", "responsibilities", "requirements", "skills", "qualifications"}

// SectionNames returns the required top-level section names
func SectionNames() []string {
	out := make([]string, len(sectionNames))
	copy(out, sectionNames)
	return out
}

// profileDocumentAlias avoids recursion in the custom JSON methods
type profileDocumentAlias ProfileDocument

// UnmarshalJSON decodes the known sections and stashes unknown top-level
// fields into Extra.
func (d *ProfileDocument) UnmarshalJSON(data []byte) error {
	var alias profileDocumentAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, name := range sectionNames {
		delete(raw, name)
	}
	if len(raw) > 0 {
		alias.Extra = raw
	}

	*d = ProfileDocument(alias)
	return nil
}

// MarshalJSON encodes the known sections and re-inlines preserved Extra fields.
func (d ProfileDocument) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(profileDocumentAlias(d))
	if err != nil {
		return nil, err
	}
	if len(d.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, value := range d.Extra {
		if _, exists := merged[key]; !exists {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}
