package listener

import (
	"os"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/docbatch/internal/log"
	"github.com/mattjoyce/docbatch/internal/metrics"
	"github.com/mattjoyce/docbatch/internal/queue"
	"github.com/mattjoyce/docbatch/internal/store"
	"github.com/mattjoyce/docbatch/internal/store/mocks"
)

const (
	source   = "docstore"
	identity = "docbatch"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type annotationSet map[string]bool

func (a annotationSet) HasProcessingAnnotations(doc *store.Document) bool {
	return a[doc.ID]
}

type fixture struct {
	listener *Listener
	pending  *queue.PendingSet
	queue    *queue.Queue
	styles   *mocks.MockStyleMatcher
	reg      *prometheus.Registry
}

func newFixture(t *testing.T, annotated annotationSet) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		pending: queue.NewPendingSet(),
		queue:   queue.New(),
		styles:  mocks.NewMockStyleMatcher(ctrl),
		reg:     prometheus.NewRegistry(),
	}
	f.listener = New(Config{
		SourceID:    source,
		Identity:    identity,
		Styles:      f.styles,
		Annotations: annotated,
		Pending:     f.pending,
		Queue:       f.queue,
		Metrics:     metrics.New(f.reg),
	})
	return f
}

func updated(id, author string) store.DocumentUpdated {
	return store.DocumentUpdated{
		SourceID:   source,
		Author:     author,
		Document:   &store.Document{ID: id},
		DocumentID: id,
	}
}

func released(id string) store.DocumentReleased {
	return store.DocumentReleased{SourceID: source, DocumentID: id}
}

func eligibleStyle() store.Style {
	return store.Style{Name: "default", ConfName: "default", Tools: []string{"ocr"}}
}

func TestUpdateThenReleaseSubmitsOnce(t *testing.T) {
	f := newFixture(t, annotationSet{})
	f.styles.EXPECT().StyleFor(gomock.Any()).Return(eligibleStyle(), true)

	f.listener.DocumentUpdated(updated("doc-1", "alice"))
	assert.True(t, f.pending.IsMarked("doc-1"))
	assert.Equal(t, 0, f.queue.Len())

	f.listener.DocumentReleased(released("doc-1"))
	assert.False(t, f.pending.IsMarked("doc-1"))
	assert.True(t, f.queue.Contains("doc-1"))
	assert.Equal(t, 1, f.queue.Len())

	// A second release without a new update submits nothing.
	f.listener.DocumentReleased(released("doc-1"))
	assert.Equal(t, 1, f.queue.Len())
}

func TestOwnUpdatesAreIgnored(t *testing.T) {
	f := newFixture(t, annotationSet{})

	f.listener.DocumentUpdated(updated("doc-1", identity))
	f.listener.DocumentReleased(released("doc-1"))

	assert.False(t, f.pending.IsMarked("doc-1"))
	assert.Equal(t, 0, f.queue.Len())
}

func TestForeignSourceIgnored(t *testing.T) {
	f := newFixture(t, annotationSet{})

	ev := updated("doc-1", "alice")
	ev.SourceID = "mirror"
	f.listener.DocumentUpdated(ev)
	assert.False(t, f.pending.IsMarked("doc-1"))

	f.pending.Mark("doc-2")
	f.listener.DocumentReleased(store.DocumentReleased{SourceID: "mirror", DocumentID: "doc-2"})
	assert.True(t, f.pending.IsMarked("doc-2"), "foreign release must not consume the mark")
	assert.Equal(t, 0, f.queue.Len())
}

func TestAnnotatedDocumentClearsMark(t *testing.T) {
	f := newFixture(t, annotationSet{"doc-1": true})
	f.pending.Mark("doc-1")

	f.listener.DocumentUpdated(updated("doc-1", "alice"))
	assert.False(t, f.pending.IsMarked("doc-1"))

	f.listener.DocumentReleased(released("doc-1"))
	assert.Equal(t, 0, f.queue.Len())
}

func TestUnmatchedStyleClearsMark(t *testing.T) {
	f := newFixture(t, annotationSet{})
	gomock.InOrder(
		f.styles.EXPECT().StyleFor(gomock.Any()).Return(eligibleStyle(), true),
		f.styles.EXPECT().StyleFor(gomock.Any()).Return(store.Style{}, false),
	)

	f.listener.DocumentUpdated(updated("doc-1", "alice"))
	require.True(t, f.pending.IsMarked("doc-1"))

	// The latest update wins: the document lost its style.
	f.listener.DocumentUpdated(updated("doc-1", "bob"))
	assert.False(t, f.pending.IsMarked("doc-1"))

	f.listener.DocumentReleased(released("doc-1"))
	assert.Equal(t, 0, f.queue.Len())
}

func TestUpdateWithoutDocumentIsIneligible(t *testing.T) {
	f := newFixture(t, annotationSet{})
	f.pending.Mark("doc-1")

	f.listener.DocumentUpdated(store.DocumentUpdated{SourceID: source, Author: "alice", DocumentID: "doc-1"})
	assert.False(t, f.pending.IsMarked("doc-1"))
}

func TestReleaseWhileQueuedCoalesces(t *testing.T) {
	f := newFixture(t, annotationSet{})
	f.styles.EXPECT().StyleFor(gomock.Any()).Return(eligibleStyle(), true).Times(2)

	f.listener.DocumentUpdated(updated("doc-1", "alice"))
	f.listener.DocumentReleased(released("doc-1"))
	f.listener.DocumentUpdated(updated("doc-1", "alice"))
	f.listener.DocumentReleased(released("doc-1"))

	assert.Equal(t, 1, f.queue.Len())
	assert.False(t, f.pending.IsMarked("doc-1"))
}

func TestDeletedIsNoop(t *testing.T) {
	f := newFixture(t, annotationSet{})
	f.pending.Mark("doc-1")

	f.listener.DocumentDeleted(store.DocumentDeleted{SourceID: source, DocumentID: "doc-1"})
	assert.True(t, f.pending.IsMarked("doc-1"))
	assert.Equal(t, 0, f.queue.Len())
}

func TestProcessBypassesEligibility(t *testing.T) {
	f := newFixture(t, annotationSet{"doc-1": true})

	added, err := f.listener.Process("doc-1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = f.listener.Process("doc-1")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, f.queue.Len())
}

func TestProcessAfterShutdownIsRefused(t *testing.T) {
	f := newFixture(t, annotationSet{})
	f.queue.Shutdown()

	added, err := f.listener.Process("doc-1")
	assert.ErrorIs(t, err, queue.ErrShutdown)
	assert.False(t, added)
}

func TestConcurrentReleasesSubmitOnce(t *testing.T) {
	f := newFixture(t, annotationSet{})
	f.styles.EXPECT().StyleFor(gomock.Any()).Return(eligibleStyle(), true)

	f.listener.DocumentUpdated(updated("doc-1", "alice"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.listener.DocumentReleased(released("doc-1"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.queue.Len())
	count, err := testutil.GatherAndCount(f.reg, "docbatch_queue_submissions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
