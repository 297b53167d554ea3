// Package events publishes generation outcomes to a Redis list so other
// services can follow what the retouch backend produced.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Defaults for the Redis list.
const (
	DefaultKey     = "retouch:events"
	DefaultMaxLen  = 1000
	publishTimeout = 2 * time.Second
	queueSize      = 64
)

// Event is the JSON document pushed for every processed request.
type Event struct {
	ID          string    `json:"id"`
	Operation   string    `json:"operation"`
	Status      string    `json:"status"`
	FailureKind string    `json:"failure_kind,omitempty"`
	Seed        *int64    `json:"seed,omitempty"`
	Device      string    `json:"device,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Options configures a Publisher.
type Options struct {
	URL    string // redis://[:password@]host:port/db
	Key    string
	MaxLen int64
}

// Publisher LPUSHes events onto a capped Redis list. Publish calls from the
// request path are queued and sent by a single background goroutine.
type Publisher struct {
	client *redis.Client
	key    string
	maxLen int64
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewPublisher parses opts.URL and starts the sender goroutine. It does not
// contact Redis; use Ping to check connectivity.
func NewPublisher(opts Options, logger *zap.Logger) (*Publisher, error) {
	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("events: invalid redis url: %w", err)
	}
	return newPublisher(redis.NewClient(ropts), opts, logger), nil
}

func newPublisher(client *redis.Client, opts Options, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultMaxLen
	}
	p := &Publisher{
		client: client,
		key:    opts.Key,
		maxLen: opts.MaxLen,
		logger: logger.Named("events"),
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Ping checks that Redis is reachable.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Publish pushes ev and trims the list to the configured length.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	item, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, p.key, item)
	pipe.LTrim(ctx, p.key, 0, p.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.ID, err)
	}
	return nil
}

// Enqueue hands ev to the sender without blocking. It reports false when
// the queue is full or the publisher is closed.
func (p *Publisher) Enqueue(ev Event) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- ev:
		return true
	default:
		p.logger.Warn("event dropped", zap.String("id", ev.ID))
		return false
	}
}

// Recent returns up to n events, newest first.
func (p *Publisher) Recent(ctx context.Context, n int64) ([]Event, error) {
	if n <= 0 {
		n = 10
	}
	items, err := p.client.LRange(ctx, p.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("events: read %s: %w", p.key, err)
	}
	out := make([]Event, 0, len(items))
	for _, item := range items {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("events: decode: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.Publish(ctx, ev); err != nil {
			p.logger.Warn("event publish failed", zap.Error(err))
		}
		cancel()
	}
}

// Close flushes queued events, waiting at most until ctx ends, then closes
// the Redis client.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn("event queue not flushed", zap.Int("pending", len(p.queue)))
	}
	return p.client.Close()
}
