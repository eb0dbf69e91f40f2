// Package store persists pages, their selections and HTML snapshots in
// SQLite. Attachments live inside each selection's JSON config column.
//
// Lookups of unknown ids return nil with a nil error.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aluiziolira/awtomato/models"
)

// Schema creates every table the store uses.
const Schema = `
CREATE TABLE IF NOT EXISTS pages (
    id        TEXT PRIMARY KEY,
    hostname  TEXT NOT NULL,
    name      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS selections (
    id        TEXT PRIMARY KEY,
    page_id   TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
    name      TEXT NOT NULL DEFAULT '',
    config    TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS html (
    page_id   TEXT PRIMARY KEY REFERENCES pages(id) ON DELETE CASCADE,
    url       TEXT NOT NULL DEFAULT '',
    html      TEXT NOT NULL,
    saved_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pages_hostname ON pages(hostname);
CREATE INDEX IF NOT EXISTS idx_selections_page ON selections(page_id);
`

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// pragmas go in the DSN so every pooled connection gets them.
const pragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// --- Pages ---

// CreatePage inserts a page with a fresh id.
func (s *Store) CreatePage(ctx context.Context, hostname, name string) (*models.Page, error) {
	p := &models.Page{ID: uuid.NewString(), Hostname: hostname, Name: name, Selections: []*models.Selection{}}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pages (id, hostname, name) VALUES (?, ?, ?)`, p.ID, p.Hostname, p.Name)
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	return p, nil
}

// UpdatePage renames a page.
func (s *Store) UpdatePage(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pages SET name = ? WHERE id = ?`, name, id)
	return err
}

// DeletePage removes a page with its selections and snapshot.
func (s *Store) DeletePage(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range []string{
		`DELETE FROM selections WHERE page_id = ?`,
		`DELETE FROM html WHERE page_id = ?`,
		`DELETE FROM pages WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete page %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// GetPage returns a page with its selections. Returns nil, nil if not found.
func (s *Store) GetPage(ctx context.Context, id string) (*models.Page, error) {
	p := &models.Page{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, hostname, name FROM pages WHERE id = ?`, id,
	).Scan(&p.ID, &p.Hostname, &p.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Selections, err = s.selections(ctx, `WHERE page_id = ?`, id); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPages returns every page of hostname, oldest first, each with its
// selections in stored order.
func (s *Store) GetPages(ctx context.Context, hostname string) ([]*models.Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hostname, name FROM pages WHERE hostname = ? ORDER BY rowid`, hostname)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []*models.Page
	byID := make(map[string]*models.Page)
	for rows.Next() {
		p := &models.Page{Selections: []*models.Selection{}}
		if err := rows.Scan(&p.ID, &p.Hostname, &p.Name); err != nil {
			return nil, err
		}
		pages = append(pages, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return pages, nil
	}

	sels, err := s.selections(ctx,
		`WHERE page_id IN (SELECT id FROM pages WHERE hostname = ?)`, hostname)
	if err != nil {
		return nil, err
	}
	for _, sel := range sels {
		if p := byID[sel.PageID]; p != nil {
			p.Selections = append(p.Selections, sel)
		}
	}
	return pages, nil
}

// --- Selections ---

func (s *Store) selections(ctx context.Context, where string, args ...any) ([]*models.Selection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, page_id, name, config FROM selections `+where+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*models.Selection{}
	for rows.Next() {
		sel, err := scanSelection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSelection(sc scanner) (*models.Selection, error) {
	sel := &models.Selection{}
	var config string
	if err := sc.Scan(&sel.ID, &sel.PageID, &sel.Name, &config); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(config), &sel.Config); err != nil {
		return nil, fmt.Errorf("selection %s config: %w", sel.ID, err)
	}
	if sel.Config.Attachments == nil {
		sel.Config.Attachments = []*models.Attachment{}
	}
	return sel, nil
}

// CreateSelection inserts sel, replacing any selection with the same id
// while keeping its position. An empty id is filled in.
func (s *Store) CreateSelection(ctx context.Context, sel *models.Selection) error {
	if sel.ID == "" {
		sel.ID = uuid.NewString()
	}
	if sel.Config.Attachments == nil {
		sel.Config.Attachments = []*models.Attachment{}
	}
	config, err := json.Marshal(sel.Config)
	if err != nil {
		return fmt.Errorf("encode selection config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO selections (id, page_id, name, config) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET page_id = excluded.page_id, name = excluded.name, config = excluded.config`,
		sel.ID, sel.PageID, sel.Name, string(config))
	if err != nil {
		return fmt.Errorf("create selection %s: %w", sel.ID, err)
	}
	return nil
}

// GetSelection returns a selection by id. Returns nil, nil if not found.
func (s *Store) GetSelection(ctx context.Context, id string) (*models.Selection, error) {
	sel, err := scanSelection(s.db.QueryRowContext(ctx,
		`SELECT id, page_id, name, config FROM selections WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sel, nil
}

// UpdateSelection renames a selection and replaces its selector. Its
// attachments are kept. Returns nil, nil if the selection does not exist.
func (s *Store) UpdateSelection(ctx context.Context, id, name, cssSelector string) (*models.Selection, error) {
	return s.modify(ctx, id, func(sel *models.Selection) {
		sel.Name = name
		sel.Config.CSSSelector = cssSelector
	})
}

// RemoveSelection deletes a selection.
func (s *Store) RemoveSelection(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM selections WHERE id = ?`, id)
	return err
}

// modify reads, changes and writes back one selection in a transaction.
func (s *Store) modify(ctx context.Context, id string, fn func(*models.Selection)) (*models.Selection, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sel, err := scanSelection(tx.QueryRowContext(ctx,
		`SELECT id, page_id, name, config FROM selections WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fn(sel)
	config, err := json.Marshal(sel.Config)
	if err != nil {
		return nil, fmt.Errorf("encode selection config: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE selections SET name = ?, config = ? WHERE id = ?`, sel.Name, string(config), id); err != nil {
		return nil, fmt.Errorf("update selection %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sel, nil
}

// --- Attachments ---

// CreateAttachment appends att to a selection, or replaces the attachment
// with the same id in place. An empty id is filled in. Returns nil, nil if
// the selection does not exist.
func (s *Store) CreateAttachment(ctx context.Context, selectionID string, att *models.Attachment) (*models.Selection, error) {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	return s.modify(ctx, selectionID, func(sel *models.Selection) {
		for i, a := range sel.Config.Attachments {
			if a.ID == att.ID {
				sel.Config.Attachments[i] = att
				return
			}
		}
		sel.Config.Attachments = append(sel.Config.Attachments, att)
	})
}

// UpdateAttachment overwrites an existing attachment. Unknown attachment
// ids leave the selection unchanged.
func (s *Store) UpdateAttachment(ctx context.Context, selectionID string, att *models.Attachment) (*models.Selection, error) {
	return s.modify(ctx, selectionID, func(sel *models.Selection) {
		if a := sel.Attachment(att.ID); a != nil {
			a.Name = att.Name
			a.CSSSelector = att.CSSSelector
			a.ParentOffset = att.ParentOffset
		}
	})
}

// RemoveAttachment drops an attachment from a selection.
func (s *Store) RemoveAttachment(ctx context.Context, selectionID, attachmentID string) (*models.Selection, error) {
	return s.modify(ctx, selectionID, func(sel *models.Selection) {
		kept := sel.Config.Attachments[:0]
		for _, a := range sel.Config.Attachments {
			if a.ID != attachmentID {
				kept = append(kept, a)
			}
		}
		sel.Config.Attachments = kept
	})
}

// --- HTML snapshots ---

// Snapshot is the saved markup of a page.
type Snapshot struct {
	PageID  string    `json:"page_id"`
	URL     string    `json:"url"`
	HTML    string    `json:"html"`
	SavedAt time.Time `json:"saved_at"`
}

// SaveHTML stores the markup of a page, replacing the previous snapshot.
func (s *Store) SaveHTML(ctx context.Context, pageID, url, html string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO html (page_id, url, html, saved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(page_id) DO UPDATE SET url = excluded.url, html = excluded.html, saved_at = excluded.saved_at`,
		pageID, url, html, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save html for %s: %w", pageID, err)
	}
	return nil
}

// GetHTML returns the snapshot of a page. Returns nil, nil if not found.
func (s *Store) GetHTML(ctx context.Context, pageID string) (*Snapshot, error) {
	snap := &Snapshot{}
	var saved string
	err := s.db.QueryRowContext(ctx,
		`SELECT page_id, url, html, saved_at FROM html WHERE page_id = ?`, pageID,
	).Scan(&snap.PageID, &snap.URL, &snap.HTML, &saved)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.SavedAt, _ = time.Parse(time.RFC3339Nano, saved)
	return snap, nil
}
