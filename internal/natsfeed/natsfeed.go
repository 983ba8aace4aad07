// Package natsfeed carries store change events over NATS core pub/sub so a
// store running in another process can drive docbatch.
package natsfeed

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mattjoyce/docbatch/internal/log"
	"github.com/mattjoyce/docbatch/internal/store"
)

// Envelope kinds.
const (
	KindUpdated  = "updated"
	KindReleased = "released"
	KindDeleted  = "deleted"
)

// Envelope is the wire form of one store event. Exactly one payload field is
// set, matching Kind.
type Envelope struct {
	Kind     string                  `json:"kind"`
	Updated  *store.DocumentUpdated  `json:"updated,omitempty"`
	Released *store.DocumentReleased `json:"released,omitempty"`
	Deleted  *store.DocumentDeleted  `json:"deleted,omitempty"`
}

// Encode serializes an envelope.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Decode parses and validates an envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal event: %w", err)
	}

	var ok bool
	switch env.Kind {
	case KindUpdated:
		ok = env.Updated != nil
	case KindReleased:
		ok = env.Released != nil
	case KindDeleted:
		ok = env.Deleted != nil
	default:
		return Envelope{}, fmt.Errorf("unknown event kind %q", env.Kind)
	}
	if !ok {
		return Envelope{}, fmt.Errorf("event kind %q has no payload", env.Kind)
	}
	return env, nil
}

// Deliver invokes the listener method matching env.Kind.
func Deliver(env Envelope, l store.Listener) {
	switch env.Kind {
	case KindUpdated:
		l.DocumentUpdated(*env.Updated)
	case KindReleased:
		l.DocumentReleased(*env.Released)
	case KindDeleted:
		l.DocumentDeleted(*env.Deleted)
	}
}

// Connect dials url with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return nc, nil
}

// Publisher is a store.Listener that forwards every event to a subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

var _ store.Listener = (*Publisher)(nil)

// NewPublisher creates a Publisher.
func NewPublisher(nc *nats.Conn, subject string) *Publisher {
	return &Publisher{nc: nc, subject: subject, logger: log.WithComponent("natsfeed")}
}

func (p *Publisher) DocumentUpdated(ev store.DocumentUpdated) {
	p.publish(Envelope{Kind: KindUpdated, Updated: &ev})
}

func (p *Publisher) DocumentReleased(ev store.DocumentReleased) {
	p.publish(Envelope{Kind: KindReleased, Released: &ev})
}

func (p *Publisher) DocumentDeleted(ev store.DocumentDeleted) {
	p.publish(Envelope{Kind: KindDeleted, Deleted: &ev})
}

// Flush waits until published events reached the server.
func (p *Publisher) Flush(timeout time.Duration) error {
	return p.nc.FlushTimeout(timeout)
}

func (p *Publisher) publish(env Envelope) {
	data, err := Encode(env)
	if err != nil {
		p.logger.Error("failed to encode event", "kind", env.Kind, "error", err)
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		p.logger.Error("failed to publish event", "kind", env.Kind, "subject", p.subject, "error", err)
	}
}

// Subscription delivers events from a subject to a listener.
type Subscription struct {
	mu  sync.Mutex
	sub *nats.Subscription
}

// Subscribe decodes every message on subject and hands it to l. NATS invokes
// the handler on one goroutine per subscription, so l sees events in order.
func Subscribe(nc *nats.Conn, subject string, l store.Listener) (*Subscription, error) {
	logger := log.WithComponent("natsfeed")
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		env, err := Decode(msg.Data)
		if err != nil {
			logger.Warn("dropping malformed event", "subject", msg.Subject, "error", err)
			return
		}
		Deliver(env, l)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	logger.Info("subscribed to store events", "subject", subject)
	return &Subscription{sub: sub}, nil
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.sub = nil
	return err
}
