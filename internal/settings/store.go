// Package settings persists the add-on's key/value state (credentials,
// tokens, timestamps, feature flags) and its flat-file artifacts
// (channels.json, playlists, test results) under a profile directory.
package settings

import (
	"errors"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

const settingsBucket = "settings"

// Store is a bbolt-backed key/value store with process-wide lifecycle:
// values persist across invocations, there is no schema and no versioning.
// Absent keys read as zero values.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the settings database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(settingsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the value for key, or "" when absent.
func (s *Store) Get(key string) string {
	var out string
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(settingsBucket)).Get([]byte(key)); v != nil {
			out = string(v)
		}
		return nil
	})
	return out
}

func (s *Store) Set(key, value string) error {
	if key == "" {
		return errors.New("settings: empty key")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).Put([]byte(key), []byte(value))
	})
}

func (s *Store) Remove(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).Delete([]byte(key))
	})
}

// GetBool returns false for absent or non-"true" values.
func (s *Store) GetBool(key string) bool {
	return s.Get(key) == "true"
}

func (s *Store) SetBool(key string, value bool) error {
	return s.Set(key, strconv.FormatBool(value))
}

// GetInt returns 0 for absent or malformed values.
func (s *Store) GetInt(key string) int64 {
	n, err := strconv.ParseInt(s.Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (s *Store) SetInt(key string, value int64) error {
	return s.Set(key, strconv.FormatInt(value, 10))
}
