package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/docbatch/internal/storage"
	"github.com/mattjoyce/docbatch/internal/store"
)

type recorder struct {
	mu       sync.Mutex
	updated  []store.DocumentUpdated
	released []store.DocumentReleased
	deleted  []store.DocumentDeleted
}

func (r *recorder) DocumentUpdated(ev store.DocumentUpdated) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, ev)
}

func (r *recorder) DocumentReleased(ev store.DocumentReleased) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, ev)
}

func (r *recorder) DocumentDeleted(ev store.DocumentDeleted) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, ev)
}

func openStore(t *testing.T) (*Store, *recorder) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "documents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := New(db, "docstore", "annotations/")
	rec := &recorder{}
	s.Subscribe(rec)
	return s, rec
}

func seed(t *testing.T, s *Store, id string, entries map[string][]byte) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Create(ctx, "alice", store.Document{ID: id, Name: "Doc " + id, Metadata: map[string]string{"type": "newspaper"}})
	require.NoError(t, err)

	data, err := s.CheckoutDocumentAsData(ctx, "alice", id)
	require.NoError(t, err)
	data.Entries = entries
	require.NoError(t, s.UpdateDocumentFromData(ctx, "alice", "alice", data, nil))
	require.NoError(t, s.ReleaseDocument(ctx, "alice", id))
}

func TestCreateRejectsDuplicate(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	doc, err := s.Create(ctx, "alice", store.Document{ID: "doc-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Version)

	_, err = s.Create(ctx, "alice", store.Document{ID: "doc-1"})
	assert.True(t, errors.Is(err, ErrExists))

	_, err = s.Create(ctx, "alice", store.Document{ID: " "})
	assert.Error(t, err)
}

func TestCheckoutIsExclusive(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	seed(t, s, "doc-1", map[string][]byte{"a.xml": []byte("a")})

	data, err := s.CheckoutDocumentAsData(ctx, "docbatch", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data.Entries["a.xml"])
	assert.Equal(t, "newspaper", data.Metadata["type"])

	_, err = s.CheckoutDocumentAsData(ctx, "alice", "doc-1")
	assert.True(t, errors.Is(err, store.ErrCheckedOut))

	_, err = s.CheckoutDocumentAsData(ctx, "docbatch", "doc-1")
	assert.NoError(t, err, "same identity may check out again")

	_, err = s.CheckoutDocumentAsData(ctx, "docbatch", "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestUpdateSyncsEntriesAndEmits(t *testing.T) {
	s, rec := openStore(t)
	ctx := context.Background()
	seed(t, s, "doc-1", map[string][]byte{
		"keep.xml":   []byte("same"),
		"change.xml": []byte("old"),
		"drop.xml":   []byte("gone"),
	})
	before, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)

	data, err := s.CheckoutDocumentAsData(ctx, "docbatch", "doc-1")
	require.NoError(t, err)
	data.Entries = map[string][]byte{
		"keep.xml":               []byte("same"),
		"change.xml":             []byte("new"),
		"annotations/layout.xml": []byte("<l/>"),
	}

	var logged []string
	logf := func(msg string, args ...any) { logged = append(logged, msg) }
	require.NoError(t, s.UpdateDocumentFromData(ctx, "docbatch", "docbatch", data, logf))

	assert.ElementsMatch(t, []string{"entry updated", "entry added", "entry removed", "document committed"}, logged)

	loaded, err := s.Load(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, data.Entries, loaded.Entries)
	assert.Equal(t, []string{"annotations/layout.xml"}, loaded.Annotations)
	assert.Equal(t, "docbatch", loaded.UpdatedBy)
	assert.NotEqual(t, before.Version, loaded.Version)

	last := rec.updated[len(rec.updated)-1]
	assert.Equal(t, "docstore", last.SourceID)
	assert.Equal(t, "docbatch", last.Author)
	assert.Equal(t, "doc-1", last.DocumentID)
	assert.True(t, s.HasProcessingAnnotations(last.Document))
}

func TestUpdateRequiresCheckout(t *testing.T) {
	s, rec := openStore(t)
	ctx := context.Background()
	seed(t, s, "doc-1", nil)
	events := len(rec.updated)

	data, err := s.Load(ctx, "doc-1")
	require.NoError(t, err)
	err = s.UpdateDocumentFromData(ctx, "docbatch", "docbatch", data, nil)
	assert.True(t, errors.Is(err, store.ErrNotCheckedOut))
	assert.Len(t, rec.updated, events)
}

func TestUpdateRejectsBadEntryNames(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	seed(t, s, "doc-1", nil)

	data, err := s.CheckoutDocumentAsData(ctx, "docbatch", "doc-1")
	require.NoError(t, err)
	for _, name := range []string{"../x.xml", "/abs.xml", `win\x.xml`, ""} {
		data.Entries = map[string][]byte{name: []byte("x")}
		err := s.UpdateDocumentFromData(ctx, "docbatch", "docbatch", data, nil)
		assert.True(t, errors.Is(err, store.ErrInvalidEntryName), "name %q", name)
	}
}

func TestReleaseEmitsAndRequiresHolder(t *testing.T) {
	s, rec := openStore(t)
	ctx := context.Background()
	seed(t, s, "doc-1", nil)
	released := len(rec.released)

	_, err := s.CheckoutDocumentAsData(ctx, "docbatch", "doc-1")
	require.NoError(t, err)

	err = s.ReleaseDocument(ctx, "alice", "doc-1")
	assert.True(t, errors.Is(err, store.ErrNotCheckedOut))

	require.NoError(t, s.ReleaseDocument(ctx, "docbatch", "doc-1"))
	require.Len(t, rec.released, released+1)
	assert.Equal(t, store.DocumentReleased{SourceID: "docstore", DocumentID: "doc-1"}, rec.released[released])

	err = s.ReleaseDocument(ctx, "docbatch", "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestDelete(t *testing.T) {
	s, rec := openStore(t)
	ctx := context.Background()
	seed(t, s, "doc-1", map[string][]byte{"a.xml": []byte("a")})

	_, err := s.CheckoutDocumentAsData(ctx, "alice", "doc-1")
	require.NoError(t, err)
	assert.True(t, errors.Is(s.Delete(ctx, "doc-1"), store.ErrCheckedOut))

	require.NoError(t, s.ReleaseDocument(ctx, "alice", "doc-1"))
	require.NoError(t, s.Delete(ctx, "doc-1"))
	require.Len(t, rec.deleted, 1)

	_, err = s.Get(ctx, "doc-1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestEmptyEntryRoundTrips(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	seed(t, s, "doc-1", map[string][]byte{"empty.xml": nil})

	loaded, err := s.Load(ctx, "doc-1")
	require.NoError(t, err)
	assert.Contains(t, loaded.Entries, "empty.xml")
	assert.Empty(t, loaded.Entries["empty.xml"])
}
