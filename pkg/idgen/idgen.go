// Package idgen produces short, prefixed, time-ordered identifiers
// such as "evt-20250314-091502-a3f9c1e07b2d".
package idgen

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common prefixes.
const (
	PrefixEvent       = "evt"
	PrefixTransaction = "txn"
	PrefixAttestation = "att"
	PrefixMessage     = "msg"
	PrefixAlert       = "alert"
	PrefixEscalation  = "esc"
)

// suffixLen hex characters follow the timestamp.
const suffixLen = 12

// New returns prefix-YYYYMMDD-HHMMSS-xxxxxxxxxxxx using the current UTC time.
func New(prefix string) string {
	return NewAt(prefix, time.Now())
}

// NewAt is New with an explicit clock reading.
func NewAt(prefix string, t time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:suffixLen]
	return prefix + "-" + t.UTC().Format("20060102-150405") + "-" + suffix
}

// UniqueAt is NewAt, drawing again while taken reports the ID in use.
// Callers hold whatever lock guards the map taken reads.
func UniqueAt(prefix string, t time.Time, taken func(string) bool) string {
	for {
		if id := NewAt(prefix, t); !taken(id) {
			return id
		}
	}
}
