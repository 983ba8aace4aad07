package store

// DocumentUpdated is emitted after a document's representation changed.
type DocumentUpdated struct {
	SourceID   string    `json:"source_id"`
	Author     string    `json:"author"`
	Document   *Document `json:"document"`
	DocumentID string    `json:"document_id"`
}

// DocumentReleased is emitted after a checkout of a document ended.
type DocumentReleased struct {
	SourceID   string `json:"source_id"`
	DocumentID string `json:"document_id"`
}

// DocumentDeleted is emitted after a document was removed.
type DocumentDeleted struct {
	SourceID   string `json:"source_id"`
	DocumentID string `json:"document_id"`
}

// Listener receives store change events. Calls arrive on the store's own
// delivery goroutines and must return quickly.
type Listener interface {
	DocumentUpdated(ev DocumentUpdated)
	DocumentReleased(ev DocumentReleased)
	DocumentDeleted(ev DocumentDeleted)
}

// Listeners fans a single event out to several listeners in order.
type Listeners []Listener

func (ls Listeners) DocumentUpdated(ev DocumentUpdated) {
	for _, l := range ls {
		l.DocumentUpdated(ev)
	}
}

func (ls Listeners) DocumentReleased(ev DocumentReleased) {
	for _, l := range ls {
		l.DocumentReleased(ev)
	}
}

func (ls Listeners) DocumentDeleted(ev DocumentDeleted) {
	for _, l := range ls {
		l.DocumentDeleted(ev)
	}
}
