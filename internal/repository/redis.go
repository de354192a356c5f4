package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	backend "github.com/redis/go-redis/v9"

	"sdr-agent/internal/domain"
)

const maxUpdateRetries = 3

// stringGetter is satisfied by both *backend.Client and *backend.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *backend.StringCmd
}

// RedisStore keeps each conversation as a JSON document and its messages
// as a capped list. Both keys expire after the configured TTL of inactivity.
type RedisStore struct {
	client *backend.Client
	opts   options
}

func NewRedisStore(client *backend.Client, opts ...Option) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	return &RedisStore{client: client, opts: newOptions(opts)}, nil
}

func (s *RedisStore) leadKey(id string) string {
	return s.opts.prefix + "lead:" + id
}

func (s *RedisStore) messagesKey(id string) string {
	return s.opts.prefix + "msgs:" + id
}

func (s *RedisStore) Load(ctx context.Context, id string) (*domain.Conversation, error) {
	r, err := s.get(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	return r.conversation(), nil
}

func (s *RedisStore) Save(ctx context.Context, conv *domain.Conversation) error {
	if conv == nil || strings.TrimSpace(conv.ID) == "" {
		return errors.New("repository: conversation id is required")
	}
	r := toRecord(conv)
	r.UpdatedAt = s.opts.now().UTC()
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("repository: marshal conversation: %w", err)
	}
	if err := s.client.Set(ctx, s.leadKey(conv.ID), data, s.opts.ttl).Err(); err != nil {
		return fmt.Errorf("repository: save conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveFacts(ctx context.Context, id string, delta domain.Facts) error {
	return s.update(ctx, id, func(r *record) { r.Facts.Merge(delta) })
}

func (s *RedisStore) SaveScore(ctx context.Context, id string, score int, breakdown domain.BANTScore) error {
	return s.update(ctx, id, func(r *record) {
		r.Score = score
		r.Breakdown = breakdown
	})
}

func (s *RedisStore) SaveState(ctx context.Context, id string, state domain.State) error {
	return s.update(ctx, id, func(r *record) { r.State = state })
}

func (s *RedisStore) AppendMessage(ctx context.Context, id string, direction domain.Direction, text string) error {
	data, err := json.Marshal(domain.Turn{Direction: direction, Text: text, At: s.opts.now().UTC()})
	if err != nil {
		return fmt.Errorf("repository: marshal message: %w", err)
	}
	key := s.messagesKey(id)
	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-s.opts.maxMessages), -1)
		pipe.Expire(ctx, key, s.opts.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("repository: append message: %w", err)
	}
	return nil
}

func (s *RedisStore) History(ctx context.Context, id string, limit int) ([]domain.Turn, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, s.messagesKey(id), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("repository: history: %w", err)
	}
	turns := make([]domain.Turn, 0, len(raw))
	for _, item := range raw {
		var t domain.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("repository: decode message: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// update applies fn to the stored record inside a WATCH transaction and
// retries when a concurrent writer got there first.
func (s *RedisStore) update(ctx context.Context, id string, fn func(*record)) error {
	key := s.leadKey(id)
	txf := func(tx *backend.Tx) error {
		r, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		fn(&r)
		r.UpdatedAt = s.opts.now().UTC()
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("repository: marshal conversation: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, s.opts.ttl)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxUpdateRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, backend.TxFailedErr) {
			break
		}
	}
	if err != nil && !errors.Is(err, domain.ErrConversationNotFound) {
		return fmt.Errorf("repository: update conversation: %w", err)
	}
	return err
}

func (s *RedisStore) get(ctx context.Context, c stringGetter, id string) (record, error) {
	val, err := c.Get(ctx, s.leadKey(id)).Result()
	if errors.Is(err, backend.Nil) {
		return record{}, domain.ErrConversationNotFound
	}
	if err != nil {
		return record{}, fmt.Errorf("repository: load conversation: %w", err)
	}
	var r record
	if err := json.Unmarshal([]byte(val), &r); err != nil {
		return record{}, fmt.Errorf("repository: decode conversation: %w", err)
	}
	return r, nil
}
