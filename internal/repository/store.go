// Package repository persists conversation state and message history.
// Three backends implement pipeline.Checkpointer: DynamoDB for production,
// Redis for shared low-latency deployments and an in-process map for local
// runs and tests.
package repository

import (
	"time"

	"sdr-agent/internal/domain"
)

const (
	defaultTTL         = 30 * 24 * time.Hour
	defaultPrefix      = "sdr:"
	defaultMaxMessages = 200
)

type options struct {
	ttl         time.Duration
	prefix      string
	maxMessages int
	now         func() time.Time
}

// Option configures a store. Not every option applies to every backend.
type Option func(*options)

// WithTTL sets how long an idle conversation is kept.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithPrefix sets the Redis key prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithMaxMessages caps the messages kept per conversation by the Redis and
// memory stores.
func WithMaxMessages(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxMessages = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		ttl:         defaultTTL,
		prefix:      defaultPrefix,
		maxMessages: defaultMaxMessages,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// record is the serialized conversation used by the Redis store.
type record struct {
	ID           string           `json:"id"`
	State        domain.State     `json:"state"`
	Facts        domain.Facts     `json:"facts"`
	Score        int              `json:"score"`
	Breakdown    domain.BANTScore `json:"breakdown"`
	PendingOffer []string         `json:"pendingOffer,omitempty"`
	LastIntent   domain.Intent    `json:"lastIntent,omitempty"`
	LastTrigger  domain.Trigger   `json:"lastTrigger,omitempty"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

func toRecord(c *domain.Conversation) record {
	return record{
		ID:           c.ID,
		State:        c.State,
		Facts:        c.Facts.Clone(),
		Score:        c.Score,
		Breakdown:    c.Breakdown,
		PendingOffer: append([]string(nil), c.PendingOffer...),
		LastIntent:   c.LastIntent,
		LastTrigger:  c.LastTrigger,
		UpdatedAt:    c.UpdatedAt,
	}
}

func (r record) conversation() *domain.Conversation {
	return &domain.Conversation{
		ID:           r.ID,
		State:        r.State,
		Facts:        r.Facts.Clone(),
		Score:        r.Score,
		Breakdown:    r.Breakdown,
		PendingOffer: append([]string(nil), r.PendingOffer...),
		LastIntent:   r.LastIntent,
		LastTrigger:  r.LastTrigger,
		UpdatedAt:    r.UpdatedAt,
	}
}

func lastN(turns []domain.Turn, limit int) []domain.Turn {
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]domain.Turn(nil), turns...)
}
