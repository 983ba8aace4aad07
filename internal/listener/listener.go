// Package listener turns store change events into queue submissions.
//
// An update from the canonical store, by anyone other than docbatch itself,
// marks the document as pending when it is eligible for processing. The
// matching release promotes the mark to a queue submission. Nothing on this
// path performs I/O.
package listener

import (
	"log/slog"

	"github.com/mattjoyce/docbatch/internal/log"
	"github.com/mattjoyce/docbatch/internal/metrics"
	"github.com/mattjoyce/docbatch/internal/queue"
	"github.com/mattjoyce/docbatch/internal/store"
)

const (
	kindUpdated  = "updated"
	kindReleased = "released"
	kindDeleted  = "deleted"

	originEvent  = "event"
	originManual = "manual"
)

// Submitter accepts document ids for processing.
type Submitter interface {
	Submit(id string) bool
	Offer(id string) (bool, error)
	Len() int
}

// Config wires a Listener.
type Config struct {
	// SourceID is the canonical store id. Events from other sources are ignored.
	SourceID string
	// Identity is docbatch's own principal. Its updates never reschedule.
	Identity    string
	Styles      store.StyleMatcher
	Annotations store.AnnotationChecker
	Pending     *queue.PendingSet
	Queue       Submitter
	Metrics     *metrics.Metrics
}

// Listener is the eligibility filter and change listener.
type Listener struct {
	sourceID    string
	identity    string
	styles      store.StyleMatcher
	annotations store.AnnotationChecker
	pending     *queue.PendingSet
	queue       Submitter
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

var _ store.Listener = (*Listener)(nil)

// New creates a Listener.
func New(cfg Config) *Listener {
	return &Listener{
		sourceID:    cfg.SourceID,
		identity:    cfg.Identity,
		styles:      cfg.Styles,
		annotations: cfg.Annotations,
		pending:     cfg.Pending,
		queue:       cfg.Queue,
		metrics:     cfg.Metrics,
		logger:      log.WithComponent("listener"),
	}
}

// DocumentUpdated evaluates eligibility and sets or clears the pending mark.
func (l *Listener) DocumentUpdated(ev store.DocumentUpdated) {
	if ev.SourceID != l.sourceID || ev.Author == l.identity {
		l.metrics.Event(kindUpdated, metrics.OutcomeIgnored)
		return
	}

	id := ev.DocumentID
	if id == "" && ev.Document != nil {
		id = ev.Document.ID
	}
	if id == "" {
		l.metrics.Event(kindUpdated, metrics.OutcomeIgnored)
		return
	}

	if !l.eligible(ev.Document) {
		l.pending.Clear(id)
		l.metrics.Event(kindUpdated, metrics.OutcomeIneligible)
		l.logger.Debug("document not eligible", "document_id", id, "author", ev.Author)
		return
	}

	l.pending.Mark(id)
	l.metrics.Event(kindUpdated, metrics.OutcomePending)
	l.logger.Debug("document pending release", "document_id", id, "author", ev.Author)
}

// DocumentReleased submits a pending document and clears its mark.
func (l *Listener) DocumentReleased(ev store.DocumentReleased) {
	if ev.SourceID != l.sourceID {
		l.metrics.Event(kindReleased, metrics.OutcomeIgnored)
		return
	}

	if !l.pending.Clear(ev.DocumentID) {
		l.metrics.Event(kindReleased, metrics.OutcomeNoMark)
		return
	}

	added := l.queue.Submit(ev.DocumentID)
	l.metrics.Submission(originEvent, added)
	l.metrics.QueueDepth(l.queue.Len())
	if added {
		l.metrics.Event(kindReleased, metrics.OutcomeSubmitted)
	} else {
		l.metrics.Event(kindReleased, metrics.OutcomeCoalesced)
	}
	l.logger.Debug("document released", "document_id", ev.DocumentID, "queued", added)
}

// DocumentDeleted is not consumed.
func (l *Listener) DocumentDeleted(store.DocumentDeleted) {
	l.metrics.Event(kindDeleted, metrics.OutcomeIgnored)
}

// Process enqueues id directly, bypassing eligibility. Rejection, if any,
// happens when the job runs. It reports whether id was newly queued rather
// than coalesced with an existing entry, and returns queue.ErrShutdown once
// the worker is stopping.
func (l *Listener) Process(id string) (bool, error) {
	added, err := l.queue.Offer(id)
	if err != nil {
		l.logger.Warn("manual process refused", "document_id", id, "error", err)
		return false, err
	}
	l.metrics.Submission(originManual, added)
	l.metrics.QueueDepth(l.queue.Len())
	l.logger.Info("manual process requested", "document_id", id, "queued", added)
	return added, nil
}

func (l *Listener) eligible(doc *store.Document) bool {
	if doc == nil {
		return false
	}
	if l.annotations.HasProcessingAnnotations(doc) {
		return false
	}
	_, ok := l.styles.StyleFor(doc)
	return ok
}
