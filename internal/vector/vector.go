// Package vector implements per-file causal clocks used by the sync
// decision engine to detect concurrent edits and establish dominance.
package vector

import (
	"encoding/json"
	"maps"
	"time"
)

// Vector is a version vector: a mapping from client id to a monotonically
// increasing counter, plus an advisory wall-clock timestamp. Vector is an
// immutable value type — every mutating method returns a new Vector rather
// than modifying the receiver in place. The nil Vector is the zero vector:
// every key reads as 0, and every other vector dominates it (and is
// dominated by it only when that other vector is also empty).
type Vector struct {
	counters  map[string]int64
	Timestamp time.Time
}

// New returns an empty vector stamped with the current time.
func New() Vector {
	return Vector{counters: make(map[string]int64), Timestamp: time.Now()}
}

// Get returns the counter for clientID, or 0 if absent.
func (v Vector) Get(clientID string) int64 {
	if v.counters == nil {
		return 0
	}

	return v.counters[clientID]
}

// Increment returns a new Vector with clientID's counter incremented by one
// and the timestamp refreshed.
func (v Vector) Increment(clientID string) Vector {
	out := v.clone()
	out.counters[clientID] = out.counters[clientID] + 1
	out.Timestamp = time.Now()

	return out
}

// Dominates reports whether v dominates other: every key present in either
// vector has v's counter >= other's counter. A vector always dominates
// itself and the zero vector.
func (v Vector) Dominates(other Vector) bool {
	for _, k := range unionKeys(v, other) {
		if v.Get(k) < other.Get(k) {
			return false
		}
	}

	return true
}

// Equal reports whether v and other have identical counters (timestamps are
// advisory and excluded from comparison).
func (v Vector) Equal(other Vector) bool {
	for _, k := range unionKeys(v, other) {
		if v.Get(k) != other.Get(k) {
			return false
		}
	}

	return true
}

// Concurrent reports whether neither vector dominates the other: there
// exist keys k1, k2 such that v[k1] > other[k1] and other[k2] > v[k2].
func (v Vector) Concurrent(other Vector) bool {
	return !v.Dominates(other) && !other.Dominates(v)
}

// Merge returns the pointwise maximum of v and other as a new Vector.
func (v Vector) Merge(other Vector) Vector {
	out := Vector{counters: make(map[string]int64), Timestamp: time.Now()}

	for _, k := range unionKeys(v, other) {
		a, b := v.Get(k), other.Get(k)
		if a > b {
			out.counters[k] = a
		} else {
			out.counters[k] = b
		}
	}

	return out
}

func (v Vector) clone() Vector {
	out := Vector{counters: make(map[string]int64, len(v.counters)), Timestamp: v.Timestamp}
	maps.Copy(out.counters, v.counters)

	return out
}

func unionKeys(a, b Vector) []string {
	seen := make(map[string]struct{}, len(a.counters)+len(b.counters))
	keys := make([]string, 0, len(a.counters)+len(b.counters))

	for k := range a.counters {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	for k := range b.counters {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	return keys
}

// wireVector is the stable JSON shape: {"vectors":{...},"timestamp":"..."}.
// Deserialization tolerates a missing timestamp.
type wireVector struct {
	Vectors   map[string]int64 `json:"vectors"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Vector) MarshalJSON() ([]byte, error) {
	counters := v.counters
	if counters == nil {
		counters = map[string]int64{}
	}

	return json.Marshal(wireVector{Vectors: counters, Timestamp: &v.Timestamp})
}

// UnmarshalJSON implements json.Unmarshaler. A missing "timestamp" field
// leaves Timestamp at its zero value rather than erroring.
func (v *Vector) UnmarshalJSON(data []byte) error {
	var w wireVector
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	v.counters = w.Vectors
	if v.counters == nil {
		v.counters = make(map[string]int64)
	}

	if w.Timestamp != nil {
		v.Timestamp = *w.Timestamp
	}

	return nil
}

// Snapshot returns a copy of the vector's counters, safe for callers to
// range over without risk of mutating internal state.
func (v Vector) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(v.counters))
	maps.Copy(out, v.counters)

	return out
}
