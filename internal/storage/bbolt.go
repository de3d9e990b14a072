package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketSession  = "session"
	bucketDenyList = "denylist"
	bucketBuckets  = "buckets"
	bucketCategory = "categorymap"
	bucketMeta     = "meta"

	keySession       = "current"
	keyCategoryMap   = "map"
	keyLastHeartbeat = "last_heartbeat"
)

type bboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens (or creates) a bbolt database at dataDir/focusgate.db.
func NewBboltStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "focusgate.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketSession, bucketDenyList, bucketBuckets, bucketCategory, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStore{db: db}, nil
}

// ---- Session ---------------------------------------------------------------

func (s *bboltStore) GetSession() (*SessionRecord, error) {
	var rec SessionRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketSession)).Get([]byte(keySession))
		if v == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (s *bboltStore) SetSession(rec SessionRecord) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal SessionRecord: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSession)).Put([]byte(keySession), data)
	})
}

// ---- Deny list -------------------------------------------------------------

func (s *bboltStore) DenyList() ([]string, error) {
	var domains []string
	err := s.db.View(func(tx *bolt.Tx) error {
		// bbolt iterates keys in byte order, so the list comes out sorted.
		return tx.Bucket([]byte(bucketDenyList)).ForEach(func(k, _ []byte) error {
			domains = append(domains, string(k))
			return nil
		})
	})
	return domains, err
}

func (s *bboltStore) AddDenied(domain string) (bool, error) {
	return s.putDenied(domain, "local")
}

func (s *bboltStore) putDenied(domain, source string) (bool, error) {
	var added bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDenyList))
		if b.Get([]byte(domain)) != nil {
			return nil
		}
		entry := DenyEntry{AddedAt: time.Now().UTC(), Source: source}
		data, err := msgpack.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal DenyEntry: %w", err)
		}
		added = true
		return b.Put([]byte(domain), data)
	})
	return added, err
}

func (s *bboltStore) RemoveDenied(domain string) (bool, error) {
	var removed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDenyList))
		if b.Get([]byte(domain)) == nil {
			return nil
		}
		removed = true
		return b.Delete([]byte(domain))
	})
	return removed, err
}

func (s *bboltStore) MergeRemoteDenied(remote []string) (int, error) {
	var added int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDenyList))
		for _, domain := range remote {
			if domain == "" || b.Get([]byte(domain)) != nil {
				continue
			}
			entry := DenyEntry{AddedAt: time.Now().UTC(), Source: "remote"}
			data, err := msgpack.Marshal(entry)
			if err != nil {
				return fmt.Errorf("marshal DenyEntry: %w", err)
			}
			if err := b.Put([]byte(domain), data); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	return added, err
}

// ---- Time buckets ----------------------------------------------------------

func bucketKey(day, domain string) []byte {
	return []byte(day + "|" + domain)
}

func (s *bboltStore) AddTime(day, domain string, ms int64, category string) error {
	// Read-merge-write inside one transaction so a concurrent instance
	// flushing the same bucket cannot lose an update.
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBuckets))
		key := bucketKey(day, domain)

		var entry TimeBucket
		if raw := b.Get(key); raw != nil {
			if err := msgpack.Unmarshal(raw, &entry); err != nil {
				return fmt.Errorf("unmarshal TimeBucket for %s: %w", key, err)
			}
		}
		entry.Ms += ms
		entry.Category = category

		data, err := msgpack.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal TimeBucket: %w", err)
		}
		return b.Put(key, data)
	})
}

func (s *bboltStore) DayBuckets(day string) (map[string]TimeBucket, error) {
	result := make(map[string]TimeBucket)
	prefix := []byte(day + "|")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketBuckets)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var entry TimeBucket
			if err := msgpack.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshal TimeBucket for %s: %w", k, err)
			}
			result[string(k[len(prefix):])] = entry
		}
		return nil
	})
	return result, err
}

// ---- Category map ----------------------------------------------------------

func (s *bboltStore) CategoryMap() (map[string]string, error) {
	result := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketCategory)).Get([]byte(keyCategoryMap))
		if raw == nil {
			return nil
		}
		return msgpack.Unmarshal(raw, &result)
	})
	return result, err
}

func (s *bboltStore) SetCategoryMap(m map[string]string) error {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal category map: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketCategory)).Put([]byte(keyCategoryMap), data)
	})
}

// ---- Heartbeat -------------------------------------------------------------

func (s *bboltStore) Heartbeat(at time.Time) error {
	data, err := msgpack.Marshal(at.UTC())
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte(keyLastHeartbeat), data)
	})
}

func (s *bboltStore) LastHeartbeat() (time.Time, error) {
	var at time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketMeta)).Get([]byte(keyLastHeartbeat))
		if raw == nil {
			return nil
		}
		return msgpack.Unmarshal(raw, &at)
	})
	return at, err
}

// ---- Utility ---------------------------------------------------------------

func (s *bboltStore) SizeBytes() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
