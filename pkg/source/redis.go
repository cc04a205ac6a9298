package source

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/common"
)

// Stream entry fields.
const (
	FieldType   = "type"
	FieldEra    = "era"
	FieldCBOR   = "cbor"
	FieldSlot   = "slot"
	FieldHash   = "hash"
	FieldEpoch  = "epoch"
	FieldHeight = "height"
)

// RedisConfig configures the Redis stream source.
type RedisConfig struct {
	// Stream is the Redis stream the chain follower publishes to.
	Stream string `yaml:"stream" default:"cardano:chainsync"`
	// BlockTimeout is how long a read waits for new entries. Zero makes Pull return a nil event
	// as soon as the stream is drained.
	BlockTimeout time.Duration `yaml:"blockTimeout" default:"5s"`
	BatchSize    int64         `yaml:"batchSize" default:"100"`
	// StartID is the stream position used when no cursor is stored.
	StartID string `yaml:"startId" default:"0"`
	// MaxRetryElapsed bounds retries of a failing read.
	MaxRetryElapsed time.Duration `yaml:"maxRetryElapsed" default:"5m"`
}

// Validate checks the stream name and batch size.
func (c *RedisConfig) Validate() error {
	if c.Stream == "" {
		return errors.New("stream is required")
	}

	if c.BatchSize <= 0 {
		return errors.New("batchSize must be positive")
	}

	return nil
}

// Redis reads events from a Redis stream. The position of the last acknowledged event is
// stored under <prefix>:cursor:<stream> so a restart resumes after it.
type Redis struct {
	log     logrus.FieldLogger
	client  *redis.Client
	config  RedisConfig
	prefix  string
	network string

	loaded   bool
	readPos  string
	buffered []*Event
}

var _ Source = (*Redis)(nil)

// NewRedis returns a source reading cfg.Stream.
func NewRedis(log logrus.FieldLogger, client *redis.Client, prefix, network string, cfg RedisConfig) *Redis {
	return &Redis{
		log:     log.WithFields(logrus.Fields{"component": "source", "stream": cfg.Stream}),
		client:  client,
		config:  cfg,
		prefix:  prefix,
		network: network,
	}
}

func (r *Redis) cursorKey() string {
	return fmt.Sprintf("%s:cursor:%s", r.prefix, r.config.Stream)
}

// Cursor returns the stored position, or the configured start when none is stored.
func (r *Redis) Cursor(ctx context.Context) (string, error) {
	id, err := r.client.Get(ctx, r.cursorKey()).Result()
	if errors.Is(err, redis.Nil) {
		return r.config.StartID, nil
	}

	if err != nil {
		return "", fmt.Errorf("read cursor: %w", err)
	}

	return id, nil
}

// Pull returns the next stream entry, reading a new batch when the buffer is empty.
func (r *Redis) Pull(ctx context.Context) (*Event, error) {
	if !r.loaded {
		pos, err := r.Cursor(ctx)
		if err != nil {
			return nil, err
		}

		r.readPos = pos
		r.loaded = true

		r.log.WithField("position", pos).Info("Resuming stream")
	}

	if len(r.buffered) == 0 {
		if err := r.fill(ctx); err != nil {
			return nil, err
		}
	}

	if len(r.buffered) == 0 {
		return nil, nil
	}

	ev := r.buffered[0]
	r.buffered = r.buffered[1:]

	common.SourceEvents.WithLabelValues(r.network, "redis", ev.Kind.String()).Inc()

	return ev, nil
}

func (r *Redis) fill(ctx context.Context) error {
	block := time.Duration(-1)
	if r.config.BlockTimeout > 0 {
		block = r.config.BlockTimeout
	}

	var streams []redis.XStream

	read := func() error {
		res, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{r.config.Stream, r.readPos},
			Count:   r.config.BatchSize,
			Block:   block,
		}).Result()

		switch {
		case errors.Is(err, redis.Nil):
			streams = nil

			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case err != nil:
			return err
		}

		streams = res

		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = r.config.MaxRetryElapsed

	notify := func(err error, wait time.Duration) {
		common.SourceReconnects.WithLabelValues(r.network, "redis").Inc()
		r.log.WithError(err).WithField("retry_in", wait).Warn("Stream read failed")
	}

	if err := backoff.RetryNotify(read, backoff.WithContext(bo, ctx), notify); err != nil {
		return fmt.Errorf("read stream %s: %w", r.config.Stream, err)
	}

	for _, s := range streams {
		for _, msg := range s.Messages {
			ev, err := decodeMessage(msg)
			if err != nil {
				return err
			}

			r.buffered = append(r.buffered, ev)
			r.readPos = msg.ID
		}
	}

	return nil
}

// Reset drops buffered events so the next Pull resumes from the stored cursor. It is called
// when another process may have advanced the cursor, such as after a leadership change.
func (r *Redis) Reset() {
	r.loaded = false
	r.buffered = nil
}

// Ack stores the event position as the resume cursor.
func (r *Redis) Ack(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		return nil
	}

	if err := r.client.Set(ctx, r.cursorKey(), ev.ID, 0).Err(); err != nil {
		return fmt.Errorf("store cursor: %w", err)
	}

	return nil
}

// Close leaves the client open; it is shared with other components.
func (r *Redis) Close() error { return nil }

// Publish appends an event to a stream. It is what a chain follower does and is used by tests.
func Publish(ctx context.Context, client *redis.Client, stream string, ev *Event) (string, error) {
	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: encodeEvent(ev),
	}).Result()
}

func encodeEvent(ev *Event) map[string]any {
	values := map[string]any{
		FieldType: ev.Kind.String(),
		FieldSlot: strconv.FormatUint(ev.Slot, 10),
		FieldHash: hex.EncodeToString(ev.Hash),
	}

	if ev.Kind == KindBlock {
		values[FieldEra] = strconv.FormatUint(uint64(ev.BlockType), 10)
		values[FieldCBOR] = hex.EncodeToString(ev.Payload)
		values[FieldEpoch] = strconv.FormatUint(ev.Epoch, 10)
		values[FieldHeight] = strconv.FormatUint(ev.Height, 10)
	}

	return values
}

func decodeMessage(msg redis.XMessage) (*Event, error) {
	field := func(name string) (string, error) {
		v, ok := msg.Values[name]
		if !ok {
			return "", fmt.Errorf("%w: entry %s has no %s", ErrInvalidEvent, msg.ID, name)
		}

		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("%w: entry %s field %s is %T", ErrInvalidEvent, msg.ID, name, v)
		}

		return s, nil
	}

	number := func(name string) (uint64, error) {
		s, err := field(name)
		if err != nil {
			return 0, err
		}

		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: entry %s field %s: %v", ErrInvalidEvent, msg.ID, name, err)
		}

		return n, nil
	}

	bytesField := func(name string) ([]byte, error) {
		s, err := field(name)
		if err != nil {
			return nil, err
		}

		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %s field %s: %v", ErrInvalidEvent, msg.ID, name, err)
		}

		return b, nil
	}

	typ, err := field(FieldType)
	if err != nil {
		return nil, err
	}

	ev := &Event{ID: msg.ID}

	if ev.Slot, err = number(FieldSlot); err != nil {
		return nil, err
	}

	if ev.Hash, err = bytesField(FieldHash); err != nil {
		return nil, err
	}

	switch typ {
	case KindRollback.String():
		ev.Kind = KindRollback

		return ev, nil
	case KindBlock.String():
		ev.Kind = KindBlock
	default:
		return nil, fmt.Errorf("%w: entry %s has type %q", ErrInvalidEvent, msg.ID, typ)
	}

	era, err := number(FieldEra)
	if err != nil {
		return nil, err
	}

	ev.BlockType = uint(era)

	if ev.Payload, err = bytesField(FieldCBOR); err != nil {
		return nil, err
	}

	if ev.Epoch, err = number(FieldEpoch); err != nil {
		return nil, err
	}

	if ev.Height, err = number(FieldHeight); err != nil {
		return nil, err
	}

	return ev, nil
}
