package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hari-yahoo/CourseStatus/internal/deadletter"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "coursestatus.deadletter"

// Event is the JSON body published for each dead-lettered envelope. The
// payload itself is not included; fetch it through the admin API.
type Event struct {
	Queue        string    `json:"queue"`
	EntryID      string    `json:"entry_id"`
	ID           string    `json:"id"`
	GroupKey     string    `json:"group_key"`
	Kind         string    `json:"kind"`
	Reason       string    `json:"reason,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	ReceiveCount int       `json:"receive_count"`
	EscalatedAt  time.Time `json:"escalated_at"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// Publisher sends dead-letter events to a NATS subject. It implements
// deadletter.Notifier.
type Publisher struct {
	pub     publisher
	nc      *nats.Conn
	subject string
	queue   string
}

// Connect dials url and returns a Publisher for subject. The connection
// reconnects in the background; publishes made while disconnected are
// buffered by the client.
func Connect(url, subject, queue string, logger logpkg.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	log := logger.WithComponent("notify")
	nc, err := nats.Connect(url,
		nats.Name("coursestatus"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logpkg.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", logpkg.Str("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", url, err)
	}
	p := newPublisher(nc, subject, queue)
	p.nc = nc
	log.Info("dead-letter notifications enabled", logpkg.Str("subject", p.subject))
	return p, nil
}

func newPublisher(pub publisher, subject, queue string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{pub: pub, subject: subject, queue: queue}
}

// Notify publishes rec as an Event.
func (p *Publisher) Notify(ctx context.Context, rec deadletter.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Event{
		Queue:        p.queue,
		EntryID:      rec.EntryID.String(),
		ID:           rec.Envelope.ID,
		GroupKey:     rec.Envelope.GroupKey,
		Kind:         string(rec.Kind),
		Reason:       rec.Reason,
		LastError:    rec.Envelope.LastError,
		ReceiveCount: rec.Envelope.ReceiveCount,
		EscalatedAt:  rec.EscalatedAt,
	})
	if err != nil {
		return err
	}
	return p.pub.Publish(p.subject, data)
}

// Subject returns the subject events are published on.
func (p *Publisher) Subject() string { return p.subject }

// Close flushes buffered events and closes the connection.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	_ = p.nc.FlushTimeout(2 * time.Second)
	p.nc.Close()
}
