package version

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jonathan/profile-orchestrator/internal/types"
)

// ChangeKind classifies one field-level change
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// FieldChange records one structural difference between two documents
type FieldChange struct {
	Field string     `json:"field"`
	Kind  ChangeKind `json:"kind"`
	From  any        `json:"from,omitempty"`
	To    any        `json:"to,omitempty"`
}

// ChangeSet is a structural field-level diff between two profile versions
type ChangeSet struct {
	FromVersion int           `json:"from_version"`
	ToVersion   int           `json:"to_version"`
	Changes     []FieldChange `json:"changes"`
}

// Empty reports whether the change set records no differences
func (c *ChangeSet) Empty() bool {
	return len(c.Changes) == 0
}

// Diff computes the structural diff between two versions' documents. It is a
// pure function: Diff(v, v) is always empty.
func Diff(from, to *ProfileVersion) *ChangeSet {
	return &ChangeSet{
		FromVersion: from.VersionNumber,
		ToVersion:   to.VersionNumber,
		Changes:     diffDocuments(from.Content, to.Content),
	}
}

// diffDocuments compares corresponding sections of two documents
func diffDocuments(from, to *types.ProfileDocument) []FieldChange {
	var changes []FieldChange

	if from.Summary != to.Summary {
		changes = append(changes, FieldChange{
			Field: "summary", Kind: ChangeModified, From: from.Summary, To: to.Summary,
		})
	}

	changes = append(changes, diffStringList("responsibilities", from.Responsibilities, to.Responsibilities)...)
	changes = append(changes, diffItemList("requirements", asAnyList(from.Requirements), asAnyList(to.Requirements))...)
	changes = append(changes, diffItemList("skills", asAnyList(from.Skills), asAnyList(to.Skills))...)

	changes = append(changes, diffStringList("qualifications.education", from.Qualifications.Education, to.Qualifications.Education)...)
	changes = append(changes, diffStringList("qualifications.experience", from.Qualifications.Experience, to.Qualifications.Experience)...)
	changes = append(changes, diffStringList("qualifications.certifications", from.Qualifications.Certifications, to.Qualifications.Certifications)...)

	changes = append(changes, diffExtra(from.Extra, to.Extra)...)

	return changes
}

// diffStringList compares two string lists positionally
func diffStringList(field string, from, to []string) []FieldChange {
	var changes []FieldChange
	max := len(from)
	if len(to) > max {
		max = len(to)
	}
	for i := 0; i < max; i++ {
		name := fmt.Sprintf("%s[%d]", field, i)
		switch {
		case i >= len(from):
			changes = append(changes, FieldChange{Field: name, Kind: ChangeAdded, To: to[i]})
		case i >= len(to):
			changes = append(changes, FieldChange{Field: name, Kind: ChangeRemoved, From: from[i]})
		case from[i] != to[i]:
			changes = append(changes, FieldChange{Field: name, Kind: ChangeModified, From: from[i], To: to[i]})
		}
	}
	return changes
}

// diffItemList compares two object lists positionally by JSON equality
func diffItemList(field string, from, to []any) []FieldChange {
	var changes []FieldChange
	max := len(from)
	if len(to) > max {
		max = len(to)
	}
	for i := 0; i < max; i++ {
		name := fmt.Sprintf("%s[%d]", field, i)
		switch {
		case i >= len(from):
			changes = append(changes, FieldChange{Field: name, Kind: ChangeAdded, To: to[i]})
		case i >= len(to):
			changes = append(changes, FieldChange{Field: name, Kind: ChangeRemoved, From: from[i]})
		case !jsonEqual(from[i], to[i]):
			changes = append(changes, FieldChange{Field: name, Kind: ChangeModified, From: from[i], To: to[i]})
		}
	}
	return changes
}

// diffExtra compares preserved unknown fields by key
func diffExtra(from, to map[string]json.RawMessage) []FieldChange {
	var changes []FieldChange

	keys := make(map[string]bool, len(from)+len(to))
	for k := range from {
		keys[k] = true
	}
	for k := range to {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		fromVal, inFrom := from[k]
		toVal, inTo := to[k]
		name := fmt.Sprintf("extra.%s", k)
		switch {
		case !inFrom:
			changes = append(changes, FieldChange{Field: name, Kind: ChangeAdded, To: json.RawMessage(toVal)})
		case !inTo:
			changes = append(changes, FieldChange{Field: name, Kind: ChangeRemoved, From: json.RawMessage(fromVal)})
		case !bytes.Equal(compactJSON(fromVal), compactJSON(toVal)):
			changes = append(changes, FieldChange{Field: name, Kind: ChangeModified, From: json.RawMessage(fromVal), To: json.RawMessage(toVal)})
		}
	}
	return changes
}

func asAnyList[T any](items []T) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func jsonEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

func compactJSON(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
