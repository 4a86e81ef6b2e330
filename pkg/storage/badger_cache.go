package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/vcloud-bot/vcloud-bot/pkg/log"
	"github.com/vcloud-bot/vcloud-bot/pkg/models"
	"github.com/vcloud-bot/vcloud-bot/pkg/utils"
)

const (
	pageKeyPrefix      = "page:"
	memTableSize       = 16 << 20
	maxConflictRetries = 10
)

// cacheEntry is the stored value for one intermediate page
type cacheEntry struct {
	Records  []models.TargetRecord `json:"records"`
	CachedAt time.Time             `json:"cached_at"`
}

// BadgerCache implements PageCache on an in-memory BadgerDB. Nothing touches disk, and closing
// the cache discards every entry.
type BadgerCache struct {
	db      *badger.DB
	log     *logrus.Entry
	entries atomic.Int64
}

// NewBadgerCache opens an empty in-memory cache
func NewBadgerCache(logger *logrus.Entry) (*BadgerCache, error) {
	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open in-memory page cache: %w", utils.ErrDatabase, err)
	}
	logger.Debug("In-memory page cache opened")
	return &BadgerCache{db: db, log: logger}, nil
}

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts
func (c *BadgerCache) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := c.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		c.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Get implements PageCache
func (c *BadgerCache) Get(normalizedURL string) ([]models.TargetRecord, bool, error) {
	key := []byte(pageKeyPrefix + normalizedURL)
	var entry cacheEntry
	found := false

	err := c.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: get page key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			if errJSON := json.Unmarshal(val, &entry); errJSON != nil {
				// A corrupt entry behaves as a miss; the page is simply fetched again
				c.log.Warnf("Failed to unmarshal cache entry for key '%s': %v", string(key), errJSON)
				return nil
			}
			found = true
			return nil
		})
	})
	if err != nil {
		c.log.WithField("key", string(key)).Errorf("DB View error in Get: %v", err)
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return entry.Records, true, nil
}

// Put implements PageCache
func (c *BadgerCache) Put(normalizedURL string, records []models.TargetRecord) error {
	key := []byte(pageKeyPrefix + normalizedURL)
	val, err := json.Marshal(cacheEntry{Records: records, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("%w: marshal cache entry for key '%s': %w", utils.ErrParsing, string(key), err)
	}

	isNew := false
	err = c.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		isNew = errors.Is(errGet, badger.ErrKeyNotFound)
		return txn.SetEntry(badger.NewEntry(key, val))
	})
	if err != nil {
		c.log.WithField("key", string(key)).Errorf("DB Update error in Put: %v", err)
		return fmt.Errorf("%w: set page key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		c.entries.Add(1)
	}
	return nil
}

// Len implements PageCache
func (c *BadgerCache) Len() int {
	return int(c.entries.Load())
}

// Close implements PageCache
func (c *BadgerCache) Close() error {
	if c.db == nil || c.db.IsClosed() {
		return nil
	}
	if err := c.db.Close(); err != nil {
		c.log.Errorf("Error closing page cache: %v", err)
		return err
	}
	c.log.WithField("entries", c.Len()).Debug("Page cache closed")
	return nil
}
