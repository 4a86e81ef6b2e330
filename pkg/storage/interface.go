package storage

import "github.com/vcloud-bot/vcloud-bot/pkg/models"

// PageCache remembers the target records extracted from intermediate pages during one bulk run
type PageCache interface {
	// Get returns the cached records for a normalized intermediate URL.
	// The bool reports whether the key was present; a cached page may legitimately hold zero records.
	Get(normalizedURL string) ([]models.TargetRecord, bool, error)

	// Put stores the records extracted from a successfully fetched intermediate page
	Put(normalizedURL string, records []models.TargetRecord) error

	// Len returns the number of cached pages
	Len() int

	// Close releases the cache; all entries are discarded
	Close() error
}
