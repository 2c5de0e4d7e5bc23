// Package store persists captured conversation records in an embedded bolt
// database. Records are write-once: they are created by SaveConversation,
// served in reverse-chronological order, and removed only by an explicit
// delete. The store performs its own duplicate check at save time and is the
// authority on what counts as a duplicate, regardless of any adapter-side
// suppression that happened earlier.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/llmlog/llmlog/internal/dedupe"
	"github.com/llmlog/llmlog/internal/notify"
)

var bucketConversations = []byte("conversations")

// ErrNotFound reports a lookup of an id with no stored record. It is a
// reportable, non-fatal condition.
var ErrNotFound = errors.New("store: conversation not found")

// Conversation is one stored prompt/reply exchange.
type Conversation struct {
	ID        uint64    `json:"id"`
	Platform  string    `json:"platform"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

// SaveResult reports the outcome of SaveConversation. When Duplicate is set,
// ID is the id of the already stored record and no new row was written.
type SaveResult struct {
	ID        uint64 `json:"id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Query selects a page of conversations. Search is an optional
// case-insensitive substring filter over prompt, response and title.
type Query struct {
	Page   int
	Limit  int
	Search string
}

// PageResult is one page of conversations plus the pagination echo.
type PageResult struct {
	Conversations []Conversation `json:"conversations"`
	Page          int            `json:"page"`
	Limit         int            `json:"limit"`
	HasMore       bool           `json:"hasMore"`
}

// Store is a bolt-backed conversation table. All saves run inside bolt
// update transactions, so the dedup check and the insert are one atomic
// read-then-write and concurrent captures cannot race past each other.
type Store struct {
	db          *bolt.DB
	dedupWindow time.Duration
	now         func() time.Time
}

// Option adjusts a Store at open time.
type Option func(*Store)

// WithDedupWindow overrides the content-dedup time window.
func WithDedupWindow(window time.Duration) Option {
	return func(s *Store) {
		if window > 0 {
			s.dedupWindow = window
		}
	}
}

// withClock injects the time source, for tests.
func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the conversation database at path.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: failed to create data directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	if err = db.Update(func(tx *bolt.Tx) error {
		_, errCreate := tx.CreateBucketIfNotExists(bucketConversations)
		return errCreate
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: failed to create bucket: %w", err)
	}
	s := &Store{db: db, dedupWindow: dedupe.DefaultWindow, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveConversation inserts the record unless an equivalent one exists.
// A record is a duplicate when either an existing record has the same URL and
// the same prompt/response content, or the same content was stored within the
// dedup window under any URL. A matching URL with different content is a new
// record: revisiting the same conversation page with new turns is expected.
func (s *Store) SaveConversation(c Conversation) (SaveResult, error) {
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Title == "" {
		c.Title = notify.TitleFromPrompt(c.Prompt)
	}

	var result SaveResult
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)

		var existing *Conversation
		errScan := b.ForEach(func(_, v []byte) error {
			var rec Conversation
			if e := json.Unmarshal(v, &rec); e != nil {
				// Skip malformed entries instead of failing the save.
				return nil
			}
			if rec.Prompt != c.Prompt || rec.Response != c.Response {
				return nil
			}
			if rec.URL == c.URL {
				existing = &rec
				return nil
			}
			if now.Sub(rec.CreatedAt) <= s.dedupWindow && existing == nil {
				existing = &rec
			}
			return nil
		})
		if errScan != nil {
			return errScan
		}
		if existing != nil {
			log.Debugf("store: duplicate of conversation %d, skipping insert", existing.ID)
			result = SaveResult{ID: existing.ID, Duplicate: true}
			return nil
		}

		id, errSeq := b.NextSequence()
		if errSeq != nil {
			return errSeq
		}
		c.ID = id
		enc, errMarshal := json.Marshal(c)
		if errMarshal != nil {
			return errMarshal
		}
		if errPut := b.Put(idKey(id), enc); errPut != nil {
			return errPut
		}
		result = SaveResult{ID: id}
		return nil
	})
	if err != nil {
		return SaveResult{}, fmt.Errorf("store: failed to save conversation: %w", err)
	}
	return result, nil
}

// GetAllConversations returns every record, most recent first.
func (s *Store) GetAllConversations() ([]Conversation, error) {
	return s.collect("")
}

// GetConversations returns the requested page of matching records, most
// recent first. HasMore reports whether records remain beyond the slice.
func (s *Store) GetConversations(q Query) (PageResult, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}
	records, err := s.collect(q.Search)
	if err != nil {
		return PageResult{}, err
	}
	offset := (q.Page - 1) * q.Limit
	page := PageResult{Page: q.Page, Limit: q.Limit, Conversations: []Conversation{}}
	if offset < len(records) {
		end := offset + q.Limit
		if end > len(records) {
			end = len(records)
		}
		page.Conversations = records[offset:end]
		page.HasMore = end < len(records)
	}
	return page, nil
}

// GetTotalConversationCount returns the number of records matching the same
// filter GetConversations applies, independent of pagination.
func (s *Store) GetTotalConversationCount(search string) (int, error) {
	needle := strings.ToLower(search)
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(_, v []byte) error {
			var rec Conversation
			if e := json.Unmarshal(v, &rec); e != nil {
				return nil
			}
			if matches(rec, needle) {
				count++
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("store: failed to count conversations: %w", err)
	}
	return count, nil
}

// DeleteConversation removes exactly one record by id. A missing id yields
// ErrNotFound.
func (s *Store) DeleteConversation(id uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		key := idKey(id)
		if b.Get(key) == nil {
			return ErrNotFound
		}
		return b.Delete(key)
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("store: failed to delete conversation %d: %w", id, err)
	}
	return nil
}

// collect loads records matching the filter, sorted reverse-chronologically
// with ties broken by id descending.
func (s *Store) collect(search string) ([]Conversation, error) {
	needle := strings.ToLower(search)
	var records []Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(_, v []byte) error {
			var rec Conversation
			if e := json.Unmarshal(v, &rec); e != nil {
				return nil
			}
			if matches(rec, needle) {
				records = append(records, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to list conversations: %w", err)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
	return records, nil
}

func matches(rec Conversation, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(rec.Prompt), needle) ||
		strings.Contains(strings.ToLower(rec.Response), needle) ||
		strings.Contains(strings.ToLower(rec.Title), needle)
}

func idKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
