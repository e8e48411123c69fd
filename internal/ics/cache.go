package ics

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	metaBucket = "meta"
	bodyBucket = "body"
)

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Cache stores conditional-GET validators and the last body per feed URL
// in a bbolt file. A nil *Cache is valid and caches nothing.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (or creates) the cache file at path.
func OpenCache(path string) (*Cache, error) {
	if path == "" {
		return nil, errors.New("cache path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{metaBucket, bodyBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("unable to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database if possible.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// load returns the cached metadata and body for url. Missing entries are
// returned as zero values.
func (c *Cache) load(url string) (cacheEntry, []byte, error) {
	var meta cacheEntry
	var body []byte
	if c == nil || c.db == nil {
		return meta, nil, nil
	}
	err := c.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket([]byte(metaBucket)).Get([]byte(url)); raw != nil {
			if err := json.Unmarshal(raw, &meta); err != nil {
				return err
			}
		}
		if raw := tx.Bucket([]byte(bodyBucket)).Get([]byte(url)); raw != nil {
			// bbolt values are only valid inside the transaction.
			body = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return cacheEntry{}, nil, err
	}
	if len(body) == 0 {
		// Validators without a body are useless: a 304 could not be served.
		meta = cacheEntry{}
	}
	return meta, body, nil
}

func (c *Cache) save(meta cacheEntry, body []byte) error {
	if c == nil || c.db == nil {
		return nil
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(&meta)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		// Write body first so meta never points at missing body.
		if err := tx.Bucket([]byte(bodyBucket)).Put([]byte(meta.URL), body); err != nil {
			return err
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(meta.URL), data)
	})
}
