package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// StreamClient is the subset of the redis client used by RedisConsumer
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
}

// ConsumerConfig configures a RedisConsumer
type ConsumerConfig struct {
	Stream        string
	Group         string
	Consumer      string
	BatchSize     int64
	Block         time.Duration
	RetryInterval time.Duration
	ClaimMinIdle  time.Duration
}

func (c *ConsumerConfig) setDefaults() {
	if c.Stream == "" {
		c.Stream = "auth:account-created"
	}
	if c.Group == "" {
		c.Group = "signup-bonus"
	}
	if c.Consumer == "" {
		c.Consumer = "worker-1"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = time.Minute
	}
}

// RedisConsumer delivers account-created events from a Redis stream consumer
// group to a Handler. Delivery is at least once: an entry is acknowledged only
// after the handler succeeded, failed entries stay pending and are retried.
type RedisConsumer struct {
	client  StreamClient
	handler Handler
	cfg     ConsumerConfig
	log     *logrus.Logger
}

// NewRedisConsumer creates a consumer
func NewRedisConsumer(client StreamClient, handler Handler, cfg ConsumerConfig, log *logrus.Logger) *RedisConsumer {
	cfg.setDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisConsumer{client: client, handler: handler, cfg: cfg, log: log}
}

// Run consumes until ctx is cancelled. Entries left pending by an earlier run
// of this consumer, then stale entries of other consumers, are processed
// before new ones.
func (c *RedisConsumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"stream":   c.cfg.Stream,
		"group":    c.cfg.Group,
		"consumer": c.cfg.Consumer,
	}).Info("Event consumer started")

	for {
		if ctx.Err() != nil {
			return nil
		}

		failed, err := c.DrainPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if failed > 0 && !sleep(ctx, c.cfg.RetryInterval) {
			return nil
		}

		if _, err := c.ClaimStale(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(err).Warn("Claiming stale events failed")
		}

		if _, err := c.ReadNew(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(err).Warn("Reading event stream failed")
			if !sleep(ctx, c.cfg.RetryInterval) {
				return nil
			}
		}
	}
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// DrainPending processes every entry already delivered to this consumer but
// not acknowledged, and returns how many failed again.
func (c *RedisConsumer) DrainPending(ctx context.Context) (int, error) {
	failed := 0
	start := "0"
	for {
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, start},
			Count:    c.cfg.BatchSize,
			Block:    -1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return failed, err
		}

		msgs := messages(streams)
		if len(msgs) == 0 {
			return failed, nil
		}
		failed += c.process(ctx, msgs)
		start = msgs[len(msgs)-1].ID
	}
}

// ClaimStale takes over entries left pending by other consumers of the group
// (a crashed or renamed worker) for at least ClaimMinIdle, processes them and
// returns how many failed. Failed entries stay pending with this consumer.
func (c *RedisConsumer) ClaimStale(ctx context.Context) (int, error) {
	failed := 0
	start := "0-0"
	for {
		msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			MinIdle:  c.cfg.ClaimMinIdle,
			Start:    start,
			Count:    c.cfg.BatchSize,
			Consumer: c.cfg.Consumer,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return failed, nil
			}
			return failed, err
		}

		if len(msgs) > 0 {
			c.log.WithField("count", len(msgs)).Info("Claimed stale account-created events")
			failed += c.process(ctx, msgs)
		}
		// the cursor wraps to 0-0 once the whole pending list was scanned
		if next == "" || next == "0-0" || next == start {
			return failed, nil
		}
		start = next
	}
}

// ReadNew blocks for up to the configured duration waiting for new entries
// and processes them. It returns how many failed.
func (c *RedisConsumer) ReadNew(ctx context.Context) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return c.process(ctx, messages(streams)), nil
}

func (c *RedisConsumer) process(ctx context.Context, msgs []redis.XMessage) int {
	failed := 0
	for _, msg := range msgs {
		log := c.log.WithField("eventId", msg.ID)

		ev, err := DecodeAccountCreated(msg.ID, msg.Values)
		if err != nil {
			// never retryable, acknowledge and move on
			log.WithError(err).Warn("Discarding undecodable account-created event")
			c.ack(ctx, msg.ID)
			continue
		}

		if err := c.handler.HandleAccountCreated(ctx, ev); err != nil {
			failed++
			log.WithError(err).WithField("uid", ev.UID).Error("Handling account-created event failed")
			continue
		}
		c.ack(ctx, msg.ID)
	}
	return failed
}

func (c *RedisConsumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.log.WithError(err).WithField("eventId", id).Warn("Acknowledging event failed")
	}
}

func messages(streams []redis.XStream) []redis.XMessage {
	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
