package models

import (
	"encoding/json"
	"fmt"

	"github.com/aluiziolira/awtomato/dom"
)

// Descriptor is a serialisable snapshot of one element. Geometry is in
// document pixels; DistanceToTop is relative to the viewport.
type Descriptor struct {
	TagName       string        `json:"tagName"`
	ClassList     []string      `json:"classList"`
	ID            *string       `json:"id"`
	ElementID     dom.ID        `json:"elementId"`
	X             int           `json:"x"`
	Y             int           `json:"y"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	DistanceToTop int           `json:"distanceToTop"`
	HasChildren   bool          `json:"hasChildren"`
	Label         *string       `json:"label"`
	Data          *string       `json:"data"`
	Name          string        `json:"name,omitempty"`
	Properties    []*Descriptor `json:"properties,omitempty"`
}

// Extractor says what to read from each described element and which named
// sub-properties to resolve around it.
type Extractor struct {
	Source     string         `json:"source,omitempty" yaml:"source"`
	Properties []PropertySpec `json:"properties,omitempty" yaml:"properties"`
}

// PropertySpec is a named sub-query run ParentOffset levels above the
// described element.
type PropertySpec struct {
	Name         string `json:"name" yaml:"name"`
	Selector     string `json:"selector" yaml:"selector"`
	ParentOffset int    `json:"parentOffset" yaml:"parent_offset"`
	Source       string `json:"source,omitempty" yaml:"source"`
}

// PickRequest asks for a selector around ElementID that avoids Rejects.
type PickRequest struct {
	ElementID dom.ID   `json:"elementId"`
	Rejects   []dom.ID `json:"rejects"`
}

// PickResult is the outcome of a pick: the synthesised selector, every
// element it matches, and which of them was picked (-1 when the pick itself
// is not among them).
type PickResult struct {
	ID           dom.ID        `json:"id"`
	Selector     string        `json:"selector"`
	Elements     []*Descriptor `json:"elements"`
	PrimaryPick  int           `json:"primaryPick"`
	ParentOffset int           `json:"parentOffset"`
}

// Match pairs a selection or attachment id with the elements it matched.
// It encodes as a two element JSON array.
type Match struct {
	ID       string
	Elements []*Descriptor
}

// MarshalJSON implements json.Marshaler.
func (m Match) MarshalJSON() ([]byte, error) {
	elements := m.Elements
	if elements == nil {
		elements = []*Descriptor{}
	}
	return json.Marshal([]any{m.ID, elements})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Match) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("match: want [id, elements], got %d items", len(pair))
	}
	if err := json.Unmarshal(pair[0], &m.ID); err != nil {
		return fmt.Errorf("match id: %w", err)
	}
	if err := json.Unmarshal(pair[1], &m.Elements); err != nil {
		return fmt.Errorf("match elements: %w", err)
	}
	return nil
}
