// Package resolver implements the client's conflict-resolution strategy
// dispatch (spec.md §4.10): deciding whether a conflict offers a text merge
// or a binary choice, and turning the user's chosen outcome into the bytes
// to write locally and/or submit to the server.
//
// Grounded on onedrive-go's resolve.go/conflicts.go strategy-flag dispatch
// (--keep-local/--keep-remote/--keep-both), generalized from that file's
// binary KeepLocal/KeepRemote/KeepBoth choices to this spec's four
// outcomes, one of which (USE_MERGED) carries user-edited bytes rather than
// just picking a side.
package resolver

import "errors"

// Outcome is the user's chosen resolution for one conflicted file.
type Outcome int

const (
	USE_LOCAL Outcome = iota
	USE_SERVER
	USE_MERGED
	CANCELLED
)

func (o Outcome) String() string {
	switch o {
	case USE_LOCAL:
		return "USE_LOCAL"
	case USE_SERVER:
		return "USE_SERVER"
	case USE_MERGED:
		return "USE_MERGED"
	case CANCELLED:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ErrMergedBytesRequired is returned when USE_MERGED is chosen without
// supplying the user's edited content.
var ErrMergedBytesRequired = errors.New("resolver: USE_MERGED requires merged bytes")

// Conflict describes one file in a CONFLICT state (spec.md §4.10).
type Conflict struct {
	FileID      string
	Path        string
	LocalBytes  []byte
	ServerBytes []byte
}

// Candidate is what the client presents to the user before they decide.
type Candidate struct {
	Mergeable   bool
	MergeSeed   []byte // three-pane seed text, only set when Mergeable
	LocalBytes  []byte
	ServerBytes []byte
}

// BuildCandidate decides whether c qualifies for a text merge and, if so,
// seeds the merge markers.
func BuildCandidate(c Conflict) Candidate {
	if !IsMergeable(c.Path, int64(len(c.LocalBytes))) {
		return Candidate{LocalBytes: c.LocalBytes, ServerBytes: c.ServerBytes}
	}

	return Candidate{
		Mergeable:   true,
		MergeSeed:   SeedMergeCandidate(c.LocalBytes, c.ServerBytes),
		LocalBytes:  c.LocalBytes,
		ServerBytes: c.ServerBytes,
	}
}

// Resolution is the effect of applying a chosen Outcome: what (if anything)
// to write to the local file, and what (if anything) to submit to the
// server as an update.
type Resolution struct {
	Outcome      Outcome
	WriteLocal   []byte // nil if no local write is needed
	SubmitUpdate []byte // nil if no server submission is needed
}

// Resolve applies outcome to a conflict candidate. mergedBytes is the
// user-edited text; required only for USE_MERGED.
func Resolve(c Conflict, outcome Outcome, mergedBytes []byte) (Resolution, error) {
	switch outcome {
	case USE_LOCAL:
		// The caller merges the server's vector into the local one before
		// submitting, so the update descends from it; bytes are unchanged locally.
		return Resolution{Outcome: outcome, SubmitUpdate: c.LocalBytes}, nil

	case USE_SERVER:
		return Resolution{Outcome: outcome, WriteLocal: c.ServerBytes}, nil

	case USE_MERGED:
		if mergedBytes == nil {
			return Resolution{}, ErrMergedBytesRequired
		}

		return Resolution{Outcome: outcome, WriteLocal: mergedBytes, SubmitUpdate: mergedBytes}, nil

	case CANCELLED:
		// File remains conflictStatus=CONFLICT until the next resolution
		// attempt (spec.md §4.10) — no writes, no submission.
		return Resolution{Outcome: outcome}, nil

	default:
		return Resolution{}, errors.New("resolver: unknown outcome")
	}
}
