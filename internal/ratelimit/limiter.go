package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRateLimits = []byte("rate_limits")

// Level represents the level of rate limiting
type Level string

const (
	LevelGlobal          Level = "global"
	LevelSender          Level = "sender"
	LevelRecipientDomain Level = "recipient_domain"
)

// Config contains rate limit configuration for outgoing campaign mail
type Config struct {
	// Global limits for all outgoing messages
	Global *LimitConfig

	// Default limits per From address
	DefaultSender *LimitConfig

	// Default limits per recipient domain, overridden by RecipientDomains
	DefaultRecipientDomain *LimitConfig
	RecipientDomains       map[string]*LimitConfig

	// Persistence settings
	FlushInterval time.Duration
}

// LimitConfig contains rate limit values. Zero means unlimited.
type LimitConfig struct {
	MessagesPerHour int `json:"messages_per_hour"`
	MessagesPerDay  int `json:"messages_per_day"`
}

// Counter tracks rate limit counters
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter counts messages per level in fixed hourly and daily windows.
// Counters are persisted to bbolt when a database is given so that quotas
// survive restarts.
type Limiter struct {
	db       *bolt.DB
	config   *Config
	counters map[string]*Counter
	mu       sync.Mutex
	now      func() time.Time
	stopCh   chan struct{}
	wg       sync.WaitGroup
	ownsDB   bool
}

// Open opens or creates the counter database at path and returns a limiter
// that closes it on Stop
func Open(path string, cfg *Config) (*Limiter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create rate limit directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open rate limit database: %w", err)
	}
	l, err := NewLimiter(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	l.ownsDB = true
	return l, nil
}

// NewLimiter creates a new rate limiter. db may be nil for in-memory counters.
func NewLimiter(db *bolt.DB, cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}

	if db == nil {
		return l, nil
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRateLimits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limits bucket: %w", err)
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	l.wg.Add(1)
	go l.persistLoop()

	return l, nil
}

// Request describes one outgoing message
type Request struct {
	Sender    string // From address
	Recipient string // To address
}

// Result contains the rate limit check result
type Result struct {
	Allowed    bool
	DeniedBy   Level
	DeniedKey  string
	RetryAfter time.Duration
}

// Allow checks if the message is allowed and counts it when it is
func (l *Limiter) Allow(ctx context.Context, req *Request) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	checks := l.getChecks(req)

	for _, check := range checks {
		counter := l.getOrCreateCounter(check.key, now)
		resetExpiredCounter(counter, now)

		if wait, full := exceeded(counter, check.limit, now); full {
			return &Result{
				DeniedBy:   check.level,
				DeniedKey:  check.key,
				RetryAfter: wait,
			}, nil
		}
	}

	for _, check := range checks {
		counter := l.counters[check.key]
		counter.HourlyCount++
		counter.DailyCount++
	}

	return &Result{Allowed: true}, nil
}

// exceeded reports whether counter has used up limit and how long until the
// window that is full resets
func exceeded(counter *Counter, limit *LimitConfig, now time.Time) (time.Duration, bool) {
	if limit.MessagesPerHour > 0 && counter.HourlyCount >= limit.MessagesPerHour {
		return counter.HourStart.Add(time.Hour).Sub(now), true
	}
	if limit.MessagesPerDay > 0 && counter.DailyCount >= limit.MessagesPerDay {
		return counter.DayStart.Add(24 * time.Hour).Sub(now), true
	}
	return 0, false
}

// Stop stops the background flush and persists counters
func (l *Limiter) Stop() error {
	if l.db == nil {
		return nil
	}
	close(l.stopCh)
	l.wg.Wait()

	err := l.persistCounters()
	if l.ownsDB {
		if cerr := l.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type limitCheck struct {
	level Level
	key   string
	limit *LimitConfig
}

func (l *Limiter) getChecks(req *Request) []limitCheck {
	var checks []limitCheck

	if l.config.Global != nil {
		checks = append(checks, limitCheck{
			level: LevelGlobal,
			key:   makeKey(LevelGlobal, "global"),
			limit: l.config.Global,
		})
	}

	if sender := strings.ToLower(req.Sender); sender != "" && l.config.DefaultSender != nil {
		checks = append(checks, limitCheck{
			level: LevelSender,
			key:   makeKey(LevelSender, sender),
			limit: l.config.DefaultSender,
		})
	}

	if domain := recipientDomain(req.Recipient); domain != "" {
		limit := l.config.RecipientDomains[domain]
		if limit == nil {
			limit = l.config.DefaultRecipientDomain
		}
		if limit != nil {
			checks = append(checks, limitCheck{
				level: LevelRecipientDomain,
				key:   makeKey(LevelRecipientDomain, domain),
				limit: limit,
			})
		}
	}

	return checks
}

func (l *Limiter) getOrCreateCounter(key string, now time.Time) *Counter {
	counter, exists := l.counters[key]
	if !exists {
		counter = &Counter{
			HourStart: now,
			DayStart:  now,
		}
		l.counters[key] = counter
	}
	return counter
}

func resetExpiredCounter(counter *Counter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // Skip invalid entries
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

func (l *Limiter) persistCounters() error {
	l.mu.Lock()
	snapshot := make(map[string][]byte, len(l.counters))
	for key, counter := range l.counters {
		data, err := json.Marshal(counter)
		if err != nil {
			continue
		}
		snapshot[key] = data
	}
	l.mu.Unlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}
		for key, data := range snapshot {
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistCounters()
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}

func recipientDomain(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}
