// Package models defines the records shared by the inspector, the matcher,
// storage and the export pipeline.
package models

// Page groups selections under a host. A host may own several pages.
type Page struct {
	ID         string       `json:"id"`
	Hostname   string       `json:"hostname"`
	Name       string       `json:"name"`
	Selections []*Selection `json:"selections"`
}

// Selection is a persisted, named selector rule.
type Selection struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	PageID string          `json:"pageId"`
	Config SelectionConfig `json:"config"`
}

// SelectionConfig is stored as a JSON blob next to the selection columns.
type SelectionConfig struct {
	CSSSelector string        `json:"cssSelector"`
	Attachments []*Attachment `json:"attachments"`
}

// Attachment is a named sub-selector evaluated ParentOffset levels above
// the owning selection's first match.
type Attachment struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CSSSelector  string `json:"cssSelector"`
	ParentOffset int    `json:"parentOffset"`
}

// Attachment returns the attachment with id, or nil.
func (s *Selection) Attachment(id string) *Attachment {
	for _, a := range s.Config.Attachments {
		if a.ID == id {
			return a
		}
	}
	return nil
}
