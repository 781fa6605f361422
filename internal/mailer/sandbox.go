package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMessages = []byte("messages")
	bucketIndex    = []byte("messages_by_id")
)

// Captured is a message stored by the sandbox sender instead of being delivered
type Captured struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Data       []byte    `json:"data,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// SandboxStorage keeps captured messages in BoltDB ordered by capture time
type SandboxStorage struct {
	db *bolt.DB
}

// OpenSandboxStorage opens or creates the sandbox database at path
func OpenSandboxStorage(path string) (*SandboxStorage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox database: %w", err)
	}
	s, err := NewSandboxStorage(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSandboxStorage creates storage on an open BoltDB instance
func NewSandboxStorage(db *bolt.DB) (*SandboxStorage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketIndex)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox buckets: %w", err)
	}
	return &SandboxStorage{db: db}, nil
}

// Close closes the underlying database
func (s *SandboxStorage) Close() error {
	return s.db.Close()
}

// Save stores a captured message
func (s *SandboxStorage) Save(ctx context.Context, msg *Captured) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := makeIndexKey(msg.CapturedAt, msg.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketMessages).Put(key, data); err != nil {
			return err
		}
		return tx.Bucket(bucketIndex).Put([]byte(msg.ID), key)
	})
}

// Get returns a captured message by ID, nil when unknown
func (s *SandboxStorage) Get(ctx context.Context, id string) (*Captured, error) {
	var msg *Captured
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketIndex).Get([]byte(id))
		if key == nil {
			return nil
		}
		data := tx.Bucket(bucketMessages).Get(key)
		if data == nil {
			return nil
		}
		msg = &Captured{}
		return json.Unmarshal(data, msg)
	})
	return msg, err
}

// List returns captured messages newest first, without their raw data
func (s *SandboxStorage) List(ctx context.Context, limit, offset int) ([]Captured, error) {
	messages := []Captured{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if skipped < offset {
				skipped++
				continue
			}
			var msg Captured
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}
			msg.Data = nil
			messages = append(messages, msg)
			if limit > 0 && len(messages) >= limit {
				break
			}
		}
		return nil
	})
	return messages, err
}

// Count returns the number of captured messages
func (s *SandboxStorage) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketMessages).Stats().KeyN
		return nil
	})
	return n, err
}

// Clear removes every captured message older than olderThan, or all when zero
func (s *SandboxStorage) Clear(ctx context.Context, olderThan time.Duration) (int, error) {
	var count int
	cutoff := time.Now().Add(-olderThan)

	err := s.db.Update(func(tx *bolt.Tx) error {
		messages := tx.Bucket(bucketMessages)
		index := tx.Bucket(bucketIndex)

		var keys [][]byte
		var ids [][]byte
		c := messages.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var msg Captured
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}
			if olderThan > 0 && msg.CapturedAt.After(cutoff) {
				continue
			}
			keys = append(keys, append([]byte(nil), k...))
			ids = append(ids, []byte(msg.ID))
		}

		for i := range keys {
			if err := messages.Delete(keys[i]); err != nil {
				return err
			}
			if err := index.Delete(ids[i]); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(time.RFC3339Nano) + ":" + id)
}

// SandboxSender captures messages in SandboxStorage instead of delivering them
type SandboxSender struct {
	storage *SandboxStorage
	signer  *Signer
	logger  *slog.Logger
}

// NewSandboxSender creates a sender that only captures
func NewSandboxSender(storage *SandboxStorage, logger *slog.Logger) *SandboxSender {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SandboxSender{storage: storage, logger: logger}
}

// SetDKIMSigner signs captured messages the same way the relay would
func (s *SandboxSender) SetDKIMSigner(signer *Signer) {
	s.signer = signer
}

// Send captures msg and returns its Message-ID
func (s *SandboxSender) Send(ctx context.Context, msg *Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", &DeliveryError{Temporary: false, Message: err.Error()}
	}

	now := time.Now()
	data, messageID := msg.Build(now)
	if s.signer != nil {
		signed, err := s.signer.Sign(data)
		if err != nil {
			return "", err
		}
		data = signed
	}

	captured := &Captured{
		ID:         uuid.New().String(),
		MessageID:  messageID,
		From:       msg.From,
		To:         msg.To,
		Subject:    msg.Subject,
		Data:       data,
		CapturedAt: now,
	}
	if err := s.storage.Save(ctx, captured); err != nil {
		return "", fmt.Errorf("failed to capture message: %w", err)
	}

	s.logger.Info("sandbox: captured message",
		"message_id", messageID,
		"from", msg.From,
		"to", msg.To,
	)
	return messageID, nil
}
