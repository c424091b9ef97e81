// Package tally accumulates normalized records into per-sender buckets for
// the current checkpoint cycle. Buckets live only until the next merge;
// durable state belongs to senderdb.
package tally

import "github.com/nwalden/mailscan/pkg/mailparse"

// Bucket is the cycle-scoped accumulation for one sender key.
type Bucket struct {
	Key            string
	DisplayAddress string
	DisplayName    string
	Count          int64
	SampleSubject  string
	LastSeen       string // RFC 3339 UTC, empty if no parsable date seen
	UnsubURL       string
	UnsubMailto    string
}

// Tally maps sender keys to their buckets for the current cycle.
type Tally struct {
	buckets map[string]*Bucket
}

// New creates an empty tally.
func New() *Tally {
	return &Tally{buckets: make(map[string]*Bucket)}
}

// Absorb folds one normalized record into its sender bucket, creating the
// bucket on first sight of the key. Field policy, applied once per call:
//   - Count increments by 1.
//   - SampleSubject: first non-empty subject wins.
//   - LastSeen: maximum timestamp (RFC 3339 compares correctly as strings),
//     empty treated as minimal.
//   - UnsubURL/UnsubMailto: first non-empty value wins.
func (t *Tally) Absorb(rec mailparse.Record) {
	b, ok := t.buckets[rec.Key]
	if !ok {
		b = &Bucket{
			Key:            rec.Key,
			DisplayAddress: rec.DisplayAddress,
			DisplayName:    rec.DisplayName,
		}
		t.buckets[rec.Key] = b
	}

	b.Count++
	if b.SampleSubject == "" && rec.Subject != "" {
		b.SampleSubject = rec.Subject
	}
	if rec.Timestamp != "" && (b.LastSeen == "" || rec.Timestamp > b.LastSeen) {
		b.LastSeen = rec.Timestamp
	}
	if b.UnsubURL == "" && rec.UnsubURL != "" {
		b.UnsubURL = rec.UnsubURL
	}
	if b.UnsubMailto == "" && rec.UnsubMailto != "" {
		b.UnsubMailto = rec.UnsubMailto
	}
	if b.DisplayName == "" && rec.DisplayName != "" {
		b.DisplayName = rec.DisplayName
	}
}

// Len returns the number of distinct keys in the tally.
func (t *Tally) Len() int {
	return len(t.buckets)
}

// Buckets returns the underlying key→bucket map. The map is handed to the
// merger and must not be mutated after that.
func (t *Tally) Buckets() map[string]*Bucket {
	return t.buckets
}

// Reset discards all buckets, starting a fresh cycle.
func (t *Tally) Reset() {
	t.buckets = make(map[string]*Bucket)
}
