// Package docstore is a SQLite-backed reference implementation of the
// document store docbatch watches. It supports exclusive checkout, full
// entry-set updates and release, and delivers change events synchronously to
// subscribers once each change is committed.
package docstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/docbatch/internal/store"
)

// ErrExists is returned by Create when the document id is taken.
var ErrExists = errors.New("document already exists")

// Store is the reference document store.
type Store struct {
	db               *sql.DB
	sourceID         string
	annotationPrefix string
	now              func() time.Time

	mu        sync.RWMutex
	listeners []store.Listener
}

var (
	_ store.Store             = (*Store)(nil)
	_ store.AnnotationChecker = (*Store)(nil)
)

// New wraps a bootstrapped database. sourceID is stamped on every event;
// entries whose name starts with annotationPrefix are processing annotations.
func New(db *sql.DB, sourceID, annotationPrefix string) *Store {
	return &Store{
		db:               db,
		sourceID:         sourceID,
		annotationPrefix: annotationPrefix,
		now:              time.Now,
	}
}

// SourceID returns the id stamped on events.
func (s *Store) SourceID() string {
	return s.sourceID
}

// Subscribe registers l for all subsequent events.
func (s *Store) Subscribe(l store.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) subscribers() store.Listeners {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(store.Listeners(nil), s.listeners...)
}

// HasProcessingAnnotations reports whether doc lists any annotation entries.
func (s *Store) HasProcessingAnnotations(doc *store.Document) bool {
	return doc != nil && len(doc.Annotations) > 0
}

// Create inserts an empty document. It emits no event; content arrives
// through a checkout and update.
func (s *Store) Create(ctx context.Context, author string, doc store.Document) (*store.Document, error) {
	if err := validateID(doc.ID); err != nil {
		return nil, err
	}
	meta, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	version := uuid.NewString()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO documents(id, name, metadata, version, updated_by, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`, doc.ID, doc.Name, meta, version, author, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %q", ErrExists, doc.ID)
	}

	out := doc
	out.Version = version
	out.UpdatedBy = author
	out.UpdatedAt = now
	out.Annotations = nil
	return &out, nil
}

// Get returns the document without its entries.
func (s *Store) Get(ctx context.Context, id string) (*store.Document, error) {
	doc, _, err := s.readDocument(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	names, err := s.entryNames(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	doc.Annotations = s.annotations(names)
	return doc, nil
}

// Load returns the document and all of its entries without checking it out.
func (s *Store) Load(ctx context.Context, id string) (*store.DocumentData, error) {
	doc, _, err := s.readDocument(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.readEntries(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	doc.Annotations = s.annotations(keys(entries))
	return &store.DocumentData{Document: *doc, Entries: entries}, nil
}

// CheckoutDocumentAsData takes an exclusive checkout for identity. A second
// checkout by the same identity succeeds.
func (s *Store) CheckoutDocumentAsData(ctx context.Context, identity, id string) (*store.DocumentData, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	doc, holder, err := s.readDocument(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if holder != "" && holder != identity {
		return nil, fmt.Errorf("%w: %q held by %q", store.ErrCheckedOut, id, holder)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET checked_out_by = ?, checked_out_at = ? WHERE id = ?;",
		identity, s.now().UTC().Format(time.RFC3339Nano), id); err != nil {
		return nil, fmt.Errorf("checkout document: %w", err)
	}

	entries, err := s.readEntries(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	doc.Annotations = s.annotations(keys(entries))
	return &store.DocumentData{Document: *doc, Entries: entries}, nil
}

// UpdateDocumentFromData replaces the document's metadata and entry set with
// data. Entries missing from data are removed. identity must hold the
// checkout; author is recorded as the updater and carried on the event.
func (s *Store) UpdateDocumentFromData(ctx context.Context, identity, author string, data *store.DocumentData, logf store.LogFunc) error {
	if data == nil {
		return fmt.Errorf("document data is nil")
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	for name := range data.Entries {
		if err := validateEntryName(name); err != nil {
			return err
		}
	}
	meta, err := encodeMetadata(data.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, holder, err := s.readDocument(ctx, tx, data.ID)
	if err != nil {
		return err
	}
	if holder != identity {
		return fmt.Errorf("%w: %q", store.ErrNotCheckedOut, data.ID)
	}

	current, err := s.readDigests(ctx, tx, data.ID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	stamp := now.Format(time.RFC3339Nano)

	for _, name := range data.EntryNames() {
		content := data.Entries[name]
		if content == nil {
			content = []byte{}
		}
		digest := digest(content)
		prev, exists := current[name]
		delete(current, name)
		if exists && prev == digest {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO entries(document_id, name, content, size, blake3, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(document_id, name) DO UPDATE SET
  content = excluded.content,
  size = excluded.size,
  blake3 = excluded.blake3,
  updated_at = excluded.updated_at;
`, data.ID, name, content, len(content), digest, stamp); err != nil {
			return fmt.Errorf("write entry %q: %w", name, err)
		}
		if exists {
			logf("entry updated", "name", name, "size", len(content))
		} else {
			logf("entry added", "name", name, "size", len(content))
		}
	}

	removed := keys(current)
	for _, name := range removed {
		if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE document_id = ? AND name = ?;", data.ID, name); err != nil {
			return fmt.Errorf("remove entry %q: %w", name, err)
		}
		logf("entry removed", "name", name)
	}

	version := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET name = ?, metadata = ?, version = ?, updated_by = ?, updated_at = ? WHERE id = ?;",
		data.Name, meta, version, author, stamp, data.ID); err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	logf("document committed", "version", version, "entries", len(data.Entries))

	data.Version = version
	data.UpdatedBy = author
	data.UpdatedAt = now
	data.Annotations = s.annotations(data.EntryNames())

	doc := data.Document
	doc.Metadata = maps.Clone(data.Metadata)
	doc.Annotations = append([]string(nil), data.Annotations...)
	s.subscribers().DocumentUpdated(store.DocumentUpdated{
		SourceID:   s.sourceID,
		Author:     author,
		Document:   &doc,
		DocumentID: data.ID,
	})
	return nil
}

// ReleaseDocument ends identity's checkout of id.
func (s *Store) ReleaseDocument(ctx context.Context, identity, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET checked_out_by = NULL, checked_out_at = NULL WHERE id = ? AND checked_out_by = ?;",
		id, identity)
	if err != nil {
		return fmt.Errorf("release document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, _, err := s.readDocument(ctx, s.db, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %q", store.ErrNotCheckedOut, id)
	}

	s.subscribers().DocumentReleased(store.DocumentReleased{SourceID: s.sourceID, DocumentID: id})
	return nil
}

// Delete removes a document and its entries. A checked-out document cannot be
// deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ? AND checked_out_by IS NULL;", id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, _, err := s.readDocument(ctx, s.db, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %q", store.ErrCheckedOut, id)
	}

	s.subscribers().DocumentDeleted(store.DocumentDeleted{SourceID: s.sourceID, DocumentID: id})
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) readDocument(ctx context.Context, q querier, id string) (*store.Document, string, error) {
	var (
		doc       store.Document
		metaRaw   string
		updatedAt string
		holder    sql.NullString
	)
	err := q.QueryRowContext(ctx, `
SELECT id, name, metadata, version, updated_by, updated_at, checked_out_by
FROM documents WHERE id = ?;
`, id).Scan(&doc.ID, &doc.Name, &metaRaw, &doc.Version, &doc.UpdatedBy, &updatedAt, &holder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read document: %w", err)
	}

	if err := json.Unmarshal([]byte(metaRaw), &doc.Metadata); err != nil {
		return nil, "", fmt.Errorf("decode metadata for %q: %w", id, err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		doc.UpdatedAt = ts
	}
	return &doc, holder.String, nil
}

func (s *Store) readEntries(ctx context.Context, q querier, id string) (map[string][]byte, error) {
	rows, err := q.QueryContext(ctx, "SELECT name, content FROM entries WHERE document_id = ?;", id)
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string][]byte)
	for rows.Next() {
		var (
			name    string
			content []byte
		)
		if err := rows.Scan(&name, &content); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries[name] = content
	}
	return entries, rows.Err()
}

func (s *Store) readDigests(ctx context.Context, q querier, id string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name, blake3 FROM entries WHERE document_id = ?;", id)
	if err != nil {
		return nil, fmt.Errorf("read entry digests: %w", err)
	}
	defer rows.Close()

	digests := make(map[string]string)
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, fmt.Errorf("scan entry digest: %w", err)
		}
		digests[name] = sum
	}
	return digests, rows.Err()
}

func (s *Store) entryNames(ctx context.Context, q querier, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM entries WHERE document_id = ? ORDER BY name;", id)
	if err != nil {
		return nil, fmt.Errorf("read entry names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan entry name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) annotations(names []string) []string {
	if s.annotationPrefix == "" {
		return nil
	}
	var out []string
	for _, name := range names {
		if strings.HasPrefix(name, s.annotationPrefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("document id is empty")
	}
	return nil
}

func validateEntryName(name string) error {
	if name == "" || strings.Contains(name, `\`) || !filepath.IsLocal(filepath.FromSlash(name)) {
		return fmt.Errorf("%w: %q", store.ErrInvalidEntryName, name)
	}
	return nil
}

func encodeMetadata(meta map[string]string) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(raw), nil
}

func digest(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
