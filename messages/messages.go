// Package messages defines the envelopes exchanged between the inspected
// page and the tools driving it. Every action has a fixed payload type.
package messages

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aluiziolira/awtomato/dom"
	"github.com/aluiziolira/awtomato/infer"
	"github.com/aluiziolira/awtomato/models"
)

// Kind is the action name carried by an envelope.
type Kind string

const (
	PageReady         Kind = "pageReady"
	DevtoolsReady     Kind = "devtoolsReady"
	PickElement       Kind = "pickElement"
	PickedElements    Kind = "pickedElements"
	QueryElements     Kind = "queryElements"
	JustElements      Kind = "justElements"
	GetCurrentPage    Kind = "getCurrentPage"
	CurrentPage       Kind = "currentPage"
	CreateSelection   Kind = "createSelection"
	UpdateSelection   Kind = "updateSelection"
	RemoveSelection   Kind = "removeSelection"
	CreateAttachment  Kind = "createAttachment"
	UpdateAttachment  Kind = "updateAttachment"
	RemoveAttachment  Kind = "removeAttachment"
	LookupWithinScope Kind = "lookupWithinScope"
	ScopedInspect     Kind = "scopedInspect"
	ElementAtPoint    Kind = "elementAtPoint"
	ActiveElement     Kind = "activeElement"
	AnalysePage       Kind = "analysePage"
	AnalysisReport    Kind = "analysisReport"
	Error             Kind = "error"
)

// ErrUnknownAction is returned for actions outside the vocabulary.
var ErrUnknownAction = errors.New("unknown action")

// Ready reports whether the page side is connected.
type Ready struct {
	Ready bool `json:"ready"`
}

// Query runs a stored selector and describes what it matches.
type Query struct {
	Selector  string            `json:"selector"`
	Extractor *models.Extractor `json:"extractor,omitempty"`
}

// Descriptors is the payload of JustElements.
type Descriptors []*models.Descriptor

// Empty is the payload of actions that carry none.
type Empty struct{}

// PageMatches is the current page with what its selections match. It
// encodes as [page, matches].
type PageMatches struct {
	Page    *models.Page
	Matches []models.Match
}

func (p PageMatches) MarshalJSON() ([]byte, error) {
	matches := p.Matches
	if matches == nil {
		matches = []models.Match{}
	}
	return json.Marshal([]any{p.Page, matches})
}

func (p *PageMatches) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("current page: want [page, matches], got %d items", len(pair))
	}
	if err := json.Unmarshal(pair[0], &p.Page); err != nil {
		return fmt.Errorf("current page: %w", err)
	}
	if err := json.Unmarshal(pair[1], &p.Matches); err != nil {
		return fmt.Errorf("current page matches: %w", err)
	}
	return nil
}

// NewSelection creates a selection on a page.
type NewSelection struct {
	SelectionID string `json:"selectionId,omitempty"`
	Name        string `json:"name"`
	PageID      string `json:"pageId"`
	CSSSelector string `json:"cssSelector"`
}

// SelectionEdit renames a selection or replaces its selector.
type SelectionEdit struct {
	SelectionID string `json:"selectionId"`
	Name        string `json:"name"`
	CSSSelector string `json:"cssSelector"`
}

// SelectionRef names a selection.
type SelectionRef struct {
	SelectionID string `json:"selectionId"`
}

// AttachmentEdit creates or updates an attachment of a selection.
type AttachmentEdit struct {
	SelectionID  string `json:"selectionId"`
	AttachmentID string `json:"attachmentId,omitempty"`
	Name         string `json:"name"`
	CSSSelector  string `json:"cssSelector"`
	ParentOffset int    `json:"parentOffset"`
}

// AttachmentRef names an attachment of a selection.
type AttachmentRef struct {
	SelectionID  string `json:"selectionId"`
	AttachmentID string `json:"attachmentId"`
}

// Lookup anchors the scoped lookup on the Index-th match of Selector. An
// empty selector clears it. Widen and Narrow move the scope root by one
// level relative to its current offset.
type Lookup struct {
	Selector     string `json:"selector"`
	Index        int    `json:"index"`
	ParentOffset int    `json:"parentOffset"`
	Widen        bool   `json:"widen,omitempty"`
	Narrow       bool   `json:"narrow,omitempty"`
}

// Inspect sets the scoped lookup, then finds the first match of Selector
// inside it.
type Inspect struct {
	Anchor       string `json:"anchor"`
	Index        int    `json:"index"`
	Selector     string `json:"selector"`
	ParentOffset int    `json:"parentOffset"`
}

// Point is a position in document pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Element is a possibly absent descriptor.
type Element struct {
	Element *models.Descriptor `json:"element"`
}

// Analyse runs the inference engine under ElementID, or the body when zero.
type Analyse struct {
	ElementID dom.ID `json:"elementId,omitempty"`
}

// Failure reports that handling Action failed.
type Failure struct {
	Action  Kind   `json:"action"`
	Message string `json:"message"`
}

var payloads = map[Kind]func() any{
	PageReady:         func() any { return new(Ready) },
	DevtoolsReady:     func() any { return new(Ready) },
	PickElement:       func() any { return new(models.PickRequest) },
	PickedElements:    func() any { return new(models.PickResult) },
	QueryElements:     func() any { return new(Query) },
	JustElements:      func() any { return new(Descriptors) },
	GetCurrentPage:    func() any { return new(Empty) },
	CurrentPage:       func() any { return new(PageMatches) },
	CreateSelection:   func() any { return new(NewSelection) },
	UpdateSelection:   func() any { return new(SelectionEdit) },
	RemoveSelection:   func() any { return new(SelectionRef) },
	CreateAttachment:  func() any { return new(AttachmentEdit) },
	UpdateAttachment:  func() any { return new(AttachmentEdit) },
	RemoveAttachment:  func() any { return new(AttachmentRef) },
	LookupWithinScope: func() any { return new(Lookup) },
	ScopedInspect:     func() any { return new(Inspect) },
	ElementAtPoint:    func() any { return new(Point) },
	ActiveElement:     func() any { return new(Element) },
	AnalysePage:       func() any { return new(Analyse) },
	AnalysisReport:    func() any { return new(infer.Report) },
	Error:             func() any { return new(Failure) },
}

// Valid reports whether k is part of the vocabulary.
func (k Kind) Valid() bool {
	_, ok := payloads[k]
	return ok
}

// Envelope is one message: an action and its JSON payload.
type Envelope struct {
	Action  Kind            `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New wraps payload in an envelope for kind.
func New(kind Kind, payload any) (Envelope, error) {
	if !kind.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownAction, kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Envelope{Action: kind, Payload: data}, nil
}

// Fail builds an Error envelope for a failed action.
func Fail(action Kind, err error) Envelope {
	env, _ := New(Error, Failure{Action: action, Message: err.Error()})
	return env
}

// UnmarshalJSON rejects actions outside the vocabulary.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type raw Envelope
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	if !r.Action.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, r.Action)
	}
	*e = Envelope(r)
	return nil
}

// Decode unmarshals the payload into v. A missing payload leaves v as is.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Action, err)
	}
	return nil
}

// Body decodes the payload into the type registered for the action and
// returns a pointer to it.
func (e Envelope) Body() (any, error) {
	mk, ok := payloads[e.Action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, e.Action)
	}
	v := mk()
	if err := e.Decode(v); err != nil {
		return nil, err
	}
	return v, nil
}
