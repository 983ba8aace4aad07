// Package store defines the boundary between docbatch and the document store
// it watches: the documents and entries it exchanges, the change events it
// receives and the checkout/update/release operations it calls.
//
// Locking, versioning and persistence belong to the store implementation.
// docbatch only depends on the interfaces declared here.
package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/docbatch/internal/store Store,StyleMatcher

var (
	ErrNotFound         = errors.New("document not found")
	ErrCheckedOut       = errors.New("document is checked out by another identity")
	ErrNotCheckedOut    = errors.New("document is not checked out by this identity")
	ErrInvalidEntryName = errors.New("invalid entry name")
)

// Document is the lightweight view of a stored document carried by events.
type Document struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Annotations []string          `json:"annotations,omitempty"`
	Version     string            `json:"version,omitempty"`
	UpdatedBy   string            `json:"updated_by,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at,omitzero"`
}

// DocumentData is a checked-out document together with all of its entries.
type DocumentData struct {
	Document
	Entries map[string][]byte
}

// EntryNames returns the entry names in lexical order.
func (d *DocumentData) EntryNames() []string {
	names := make([]string, 0, len(d.Entries))
	for name := range d.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Style selects the processing applied to a document. The zero Style means
// no template matched.
type Style struct {
	Name     string
	ConfName string
	Tools    []string
}

// IsZero reports whether s carries no processing.
func (s Style) IsZero() bool {
	return s.Name == "" && s.ConfName == "" && len(s.Tools) == 0
}

// LogFunc receives informational messages emitted by the store while it
// applies an update.
type LogFunc func(msg string, args ...any)

// Store is the subset of document store operations the executor drives.
type Store interface {
	// CheckoutDocumentAsData takes an exclusive checkout of id for identity and
	// returns its full representation.
	CheckoutDocumentAsData(ctx context.Context, identity, id string) (*DocumentData, error)

	// UpdateDocumentFromData replaces the stored representation with data.
	UpdateDocumentFromData(ctx context.Context, identity, author string, data *DocumentData, logf LogFunc) error

	// ReleaseDocument ends identity's checkout of id.
	ReleaseDocument(ctx context.Context, identity, id string) error
}

// StyleMatcher resolves the style template applying to a document.
type StyleMatcher interface {
	StyleFor(doc *Document) (Style, bool)
}

// AnnotationChecker reports whether a document already carries processing
// annotations. Implementations must not perform I/O.
type AnnotationChecker interface {
	HasProcessingAnnotations(doc *Document) bool
}
