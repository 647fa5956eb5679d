package deadletter

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hari-yahoo/CourseStatus/internal/envelope"
	pebblestore "github.com/hari-yahoo/CourseStatus/internal/storage/pebble"
	"github.com/hari-yahoo/CourseStatus/pkg/id"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

// ErrNotFound is returned by Get and Remove for unknown entries.
var ErrNotFound = errors.New("deadletter: entry not found")

// Kind classifies why an envelope was escalated.
type Kind string

const (
	// KindPermanent marks envelopes the handler rejected as unprocessable.
	KindPermanent Kind = "permanent"
	// KindRetriesExhausted marks envelopes that failed transiently retry_limit times.
	KindRetriesExhausted Kind = "retries_exhausted"
)

// Record is one dead-lettered envelope.
type Record struct {
	EntryID     id.ID             `json:"entry_id"`
	Envelope    envelope.Envelope `json:"envelope"`
	Payload     []byte            `json:"payload"`
	Kind        Kind              `json:"kind"`
	Reason      string            `json:"reason,omitempty"`
	EscalatedAt time.Time         `json:"escalated_at"`
}

// Notifier is told about each newly dead-lettered envelope. Failures are
// logged and never undo the append.
type Notifier interface {
	Notify(ctx context.Context, rec Record) error
}

// Options configures a Channel.
type Options struct {
	// Name scopes the keyspace, normally the dead-letter queue name.
	Name     string
	Now      func() time.Time
	Logger   logpkg.Logger
	Notifier Notifier
}

// Channel is an append-only, durable sink for escalated envelopes.
//
// Keys under cs/{name}/:
//
//	dlq/{entry_id}  - record, entry ids sort in escalation order
//	dlq_seq/{seq}   - entry id per admission seq, makes Append idempotent
type Channel struct {
	db     *pebblestore.DB
	name   string
	root   string
	now    func() time.Time
	ids    *id.Generator
	logger logpkg.Logger
	notify Notifier

	mu sync.Mutex
}

// Open returns a Channel stored in db.
func Open(db *pebblestore.DB, opts Options) (*Channel, error) {
	if opts.Name == "" || strings.ContainsAny(opts.Name, "/\x00") {
		return nil, fmt.Errorf("deadletter: invalid name %q", opts.Name)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	return &Channel{
		db:     db,
		name:   opts.Name,
		root:   "cs/" + opts.Name + "/",
		now:    opts.Now,
		ids:    id.NewGenerator(opts.Now),
		notify: opts.Notifier,
		logger: opts.Logger.With(logpkg.Component("deadletter"), logpkg.Str("queue", opts.Name)),
	}, nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

func (c *Channel) entryPrefix() []byte { return []byte(c.root + "dlq/") }

func (c *Channel) entryKey(entry id.ID) []byte {
	return append(c.entryPrefix(), entry[:]...)
}

func (c *Channel) seqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(c.root+"dlq_seq/"), seq)
}

// Append records env. Appending the same admission (same Seq) twice returns
// the existing record unchanged.
func (c *Channel) Append(ctx context.Context, env envelope.Envelope, kind Kind, reason string) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if raw, err := c.db.Get(c.seqKey(env.Seq)); err == nil {
		entry, err := id.FromBytes(raw)
		if err == nil {
			if rec, err := c.getLocked(entry); err == nil {
				return rec, nil
			}
		}
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return Record{}, fmt.Errorf("deadletter: append: %w", err)
	}

	rec := Record{
		EntryID:     c.ids.Next(),
		Envelope:    env,
		Payload:     env.Payload,
		Kind:        kind,
		Reason:      reason,
		EscalatedAt: c.now(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("deadletter: encode: %w", err)
	}
	b := c.db.NewBatch()
	defer b.Close()
	_ = b.Set(c.entryKey(rec.EntryID), raw, nil)
	_ = b.Set(c.seqKey(env.Seq), rec.EntryID.Bytes(), nil)
	if err := c.db.CommitBatch(ctx, b); err != nil {
		return Record{}, fmt.Errorf("deadletter: append: %w", err)
	}
	c.logger.Info("envelope dead-lettered",
		logpkg.Str("id", env.ID),
		logpkg.Str("group", env.GroupKey),
		logpkg.Str("kind", string(kind)),
		logpkg.Int("receive_count", env.ReceiveCount),
		logpkg.Str("reason", reason))
	if c.notify != nil {
		if err := c.notify.Notify(ctx, rec); err != nil {
			c.logger.Warn("dead-letter notification failed", logpkg.Str("id", env.ID), logpkg.Err(err))
		}
	}
	return rec, nil
}

// Get returns the record stored under entry.
func (c *Channel) Get(entry id.ID) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(entry)
}

func (c *Channel) getLocked(entry id.ID) (Record, error) {
	raw, err := c.db.Get(c.entryKey(entry))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(raw)
}

// List returns up to limit records, oldest first. limit <= 0 means all.
func (c *Channel) List(limit int) ([]Record, error) {
	var (
		out     []Record
		scanErr error
	)
	err := c.db.ScanPrefix(c.entryPrefix(), func(_, v []byte) bool {
		rec, err := decodeRecord(v)
		if err != nil {
			scanErr = err
			return false
		}
		out = append(out, rec)
		return limit <= 0 || len(out) < limit
	})
	if err == nil {
		err = scanErr
	}
	if err != nil {
		return nil, fmt.Errorf("deadletter: list: %w", err)
	}
	return out, nil
}

// Count returns the number of stored records.
func (c *Channel) Count() (int, error) {
	return c.db.CountPrefix(c.entryPrefix())
}

// Remove deletes a record. It is meant for external tooling only.
func (c *Channel) Remove(ctx context.Context, entry id.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.getLocked(entry)
	if err != nil {
		return err
	}
	b := c.db.NewBatch()
	defer b.Close()
	_ = b.Delete(c.entryKey(entry), nil)
	_ = b.Delete(c.seqKey(rec.Envelope.Seq), nil)
	return c.db.CommitBatch(ctx, b)
}

func decodeRecord(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("deadletter: decode: %w", err)
	}
	rec.Envelope.Payload = rec.Payload
	return rec, nil
}
