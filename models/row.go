package models

import (
	"strconv"
	"time"
)

// Row is one extracted record: a matched element of a selection plus the
// values of its attachments resolved around that element.
type Row struct {
	PageID        string            `json:"page_id"`
	SelectionID   string            `json:"selection_id"`
	SelectionName string            `json:"selection"`
	Index         int               `json:"index"`
	URL           string            `json:"url"`
	Label         string            `json:"label"`
	Data          string            `json:"data"`
	Fields        map[string]string `json:"fields"`
	ExtractedAt   time.Time         `json:"extracted_at"`
}

// Key identifies the row across repeated extractions of the same page.
func (r *Row) Key() string {
	return r.URL + "|" + r.SelectionID + "|" + strconv.Itoa(r.Index)
}

// RunResult summarises one extraction run.
type RunResult struct {
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int
	PageCount    int
}
