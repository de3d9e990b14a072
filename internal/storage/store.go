package storage

import (
	"time"
)

// Session status values as persisted.
const (
	StatusOff    = "off"
	StatusActive = "active"
	StatusLocked = "locked"
)

// SessionRecord is the durable form of the session state machine.
// Invariants: Status==locked implies LockUntil after StartedAt;
// Status==off implies LockUntil is zero.
type SessionRecord struct {
	Status     string
	StartedAt  time.Time
	LockUntil  time.Time // zero unless locked
	DurationMs int64
}

// DenyEntry holds metadata about a denied destination.
type DenyEntry struct {
	AddedAt time.Time
	Source  string // "local" or "remote"
}

// TimeBucket is the aggregated time-spent record for one destination on one day.
type TimeBucket struct {
	Ms       int64
	Category string
}

// Store is the persistence interface for the controller. It is the only
// resource shared between process instances; every method is a complete
// read-merge-write so concurrent instances converge last-write-wins.
type Store interface {
	// Session
	GetSession() (*SessionRecord, error)
	SetSession(rec SessionRecord) error

	// Deny list
	DenyList() ([]string, error)
	AddDenied(domain string) (bool, error)
	RemoveDenied(domain string) (bool, error)
	// MergeRemoteDenied unions remote entries into the local set.
	// Returns the number of entries added.
	MergeRemoteDenied(remote []string) (int, error)

	// Time buckets
	// AddTime accumulates ms into the (day, domain) bucket and overwrites
	// the stored category with the freshly resolved one.
	AddTime(day, domain string, ms int64, category string) error
	DayBuckets(day string) (map[string]TimeBucket, error)

	// Category map
	CategoryMap() (map[string]string, error)
	SetCategoryMap(m map[string]string) error

	// Heartbeat
	Heartbeat(at time.Time) error
	LastHeartbeat() (time.Time, error)

	// Utility
	SizeBytes() (int64, error)
	Close() error
}

// DayKey formats t as the bucket day key.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
