package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forgeview/orchestrator/internal/metrics"
	"github.com/forgeview/orchestrator/pkg/types"
)

// RedisStore implements Store backed by Redis.
// Uses a Redis Stream for events and a counter key for sequence ids.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	maxLen  int64
	mu      sync.Mutex
	closed  bool
	baseCtx context.Context
	cancel  context.CancelFunc

	subsMu sync.RWMutex
	subs   map[chan *types.Event]struct{}
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL string

	// Password for Redis authentication
	Password string

	// DB is the database number
	DB int

	// Prefix for all keys (default: "forgeview")
	Prefix string

	// TTL for event data (default: 24h)
	TTL time.Duration

	// MaxLen caps the event stream length
	MaxLen int64

	// Connection pool settings
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		Prefix:       "forgeview",
		TTL:          24 * time.Hour,
		MaxLen:       5000,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a new Redis-backed Store.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opts := &redis.Options{
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Password:     cfg.Password,
		DB:           cfg.DB,
	}

	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addr = parsed.Addr
		if parsed.Password != "" && cfg.Password == "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 && cfg.DB == 0 {
			opts.DB = parsed.DB
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "forgeview"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 5000
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		ttl:     cfg.TTL,
		maxLen:  maxLen,
		baseCtx: baseCtx,
		cancel:  baseCancel,
		subs:    make(map[chan *types.Event]struct{}),
	}, nil
}

// Key helpers
func (s *RedisStore) keyEvents() string { return fmt.Sprintf("%s:events", s.prefix) }
func (s *RedisStore) keySeq() string    { return fmt.Sprintf("%s:seq", s.prefix) }

// setTTL refreshes TTL on the stream keys.
func (s *RedisStore) setTTL(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	pipe := s.client.Pipeline()
	pipe.Expire(ctx, s.keyEvents(), s.ttl)
	pipe.Expire(ctx, s.keySeq(), s.ttl)
	pipe.Exec(ctx)
}

func (s *RedisStore) Append(ctx context.Context, input types.EventInput) (*types.Event, error) {
	seq, err := s.client.Incr(ctx, s.keySeq()).Result()
	if err != nil {
		return nil, fmt.Errorf("incr seq: %w", err)
	}

	now := time.Now().UTC()
	eventID := strconv.FormatInt(seq, 10)
	dataBytes, _ := json.Marshal(input.Data)

	event := &types.Event{
		ID:        eventID,
		BuildID:   input.BuildID,
		Type:      input.Type,
		NodeID:    input.NodeID,
		Timestamp: now,
		Data:      dataBytes,
	}

	streamFields := map[string]interface{}{
		"seq":     eventID,
		"ts":      now.Format(time.RFC3339),
		"type":    string(input.Type),
		"data":    string(dataBytes),
		"nodeId":  input.NodeID,
		"buildId": input.BuildID,
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.keyEvents(),
		MaxLen: s.maxLen,
		Approx: true,
		Values: streamFields,
	}).Err(); err != nil {
		return nil, fmt.Errorf("xadd: %w", err)
	}

	s.setTTL(ctx)
	metrics.EventsTotal.WithLabelValues(string(event.Type)).Inc()
	s.notifySubscribers(event)

	return event, nil
}

func (s *RedisStore) EventsSince(ctx context.Context, lastEventID string) ([]*types.Event, error) {
	entries, err := s.client.XRange(ctx, s.keyEvents(), "-", "+").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*types.Event{}, nil
		}
		return nil, fmt.Errorf("xrange: %w", err)
	}

	var lastSeq int64
	if lastEventID != "" {
		lastSeq, _ = strconv.ParseInt(lastEventID, 10, 64)
	}

	var events []*types.Event
	for _, entry := range entries {
		event := eventFromStreamValues(entry.Values)
		seq, _ := strconv.ParseInt(event.ID, 10, 64)
		if lastSeq > 0 && seq <= lastSeq {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func (s *RedisStore) Subscribe(ctx context.Context) (<-chan *types.Event, func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrClosed
	}
	s.mu.Unlock()

	ch := make(chan *types.Event, 100)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	go s.streamReader(ctx, ch)

	cleanup := func() {
		s.subsMu.Lock()
		delete(s.subs, ch)
		s.subsMu.Unlock()
	}

	return ch, cleanup, nil
}

// streamReader tails the Redis Stream from "$" so subscribers see appends
// made by other processes. Local appends also reach subscribers directly
// through notifySubscribers; consumers must tolerate a repeated event.
func (s *RedisStore) streamReader(ctx context.Context, ch chan *types.Event) {
	lastID := "$"

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.baseCtx.Done():
			return
		default:
		}

		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.keyEvents(), lastID},
			Count:   10,
			Block:   time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				lastID = entry.ID
				event := eventFromStreamValues(entry.Values)
				select {
				case ch <- event:
				case <-ctx.Done():
					return
				default:
					// Channel full, skip event
				}
			}
		}
	}
}

func eventFromStreamValues(values map[string]interface{}) *types.Event {
	seqStr, _ := values["seq"].(string)
	ts, _ := values["ts"].(string)
	timestamp, _ := time.Parse(time.RFC3339, ts)
	eventType, _ := values["type"].(string)
	data, _ := values["data"].(string)
	nodeID, _ := values["nodeId"].(string)
	buildID, _ := values["buildId"].(string)

	return &types.Event{
		ID:        seqStr,
		BuildID:   buildID,
		Type:      types.EventType(eventType),
		NodeID:    nodeID,
		Timestamp: timestamp,
		Data:      json.RawMessage(data),
	}
}

func (s *RedisStore) notifySubscribers(event *types.Event) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for ch := range s.subs {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}

func (s *RedisStore) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	pingStart := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return map[string]interface{}{
			"adapter": "redis",
			"healthy": false,
			"error":   err.Error(),
		}, nil
	}
	pingLatency := time.Since(pingStart)

	poolStats := s.client.PoolStats()

	return map[string]interface{}{
		"adapter": "redis",
		"healthy": true,
		"details": map[string]interface{}{
			"prefix":       s.prefix,
			"ttl_hours":    s.ttl.Hours(),
			"ping_latency": pingLatency.String(),
			"pool": map[string]interface{}{
				"hits":       poolStats.Hits,
				"misses":     poolStats.Misses,
				"timeouts":   poolStats.Timeouts,
				"total_conn": poolStats.TotalConns,
				"idle_conn":  poolStats.IdleConns,
				"stale_conn": poolStats.StaleConns,
			},
		},
	}, nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	s.subsMu.Lock()
	for ch := range s.subs {
		close(ch)
	}
	s.subs = make(map[chan *types.Event]struct{})
	s.subsMu.Unlock()

	return s.client.Close()
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
