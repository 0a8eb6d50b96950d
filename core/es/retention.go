package es

import (
	"time"
)

// RetentionPolicy decides which entries remain materially present after a
// read or a commit pass. The zero value keeps everything.
//
// UntilReacted is mutually exclusive with every other rule. The remaining
// rules combine: distinct-by-key filtering is applied first, then the count
// and age cutoffs trim the surviving entries. Retention is the conjunction of
// all configured rules.
type RetentionPolicy struct {
	// MaxCount keeps only the last N entries by sequence. 0 keeps all.
	MaxCount int
	// MaxAge keeps only entries whose logical timestamp is within MaxAge of
	// now. Entries without a logical timestamp never age out. 0 keeps all.
	MaxAge time.Duration
	// DistinctByKey keeps, per event id, only the highest-sequence entry.
	// Requires the stream to have an event-id selector.
	DistinctByKey bool
	// UntilReacted keeps an entry until all of its reactor states are
	// complete-successful, then makes it evictable.
	UntilReacted bool
}

func (p RetentionPolicy) Validate() error {
	if p.UntilReacted && (p.MaxCount != 0 || p.MaxAge != 0 || p.DistinctByKey) {
		return ErrRetentionConflict
	}
	if p.MaxCount < 0 {
		return ErrRetentionConflict
	}
	return nil
}

func (p RetentionPolicy) keepsAll() bool {
	return !p.UntilReacted && !p.DistinctByKey && p.MaxCount == 0 && p.MaxAge == 0
}

// retainedSet evaluates p over all entries of one stream and returns the set
// of retained sequence numbers. The evaluation is deterministic for a given
// input set and now, so read-path and commit-path decisions agree.
//
// entries must be in ascending sequence order.
func (p RetentionPolicy) retainedSet(entries []*Entry, now time.Time) map[uint64]bool {
	out := make(map[uint64]bool, len(entries))
	if p.keepsAll() {
		for _, e := range entries {
			out[e.Seq] = true
		}
		return out
	}

	if p.UntilReacted {
		for _, e := range entries {
			out[e.Seq] = !e.FullyReacted()
		}
		return out
	}

	// Distinct filtering first: the highest-sequence entry per event id wins.
	survivors := entries
	if p.DistinctByKey {
		latest := make(map[string]uint64, len(entries))
		for _, e := range entries {
			latest[e.EventID] = e.Seq
		}
		survivors = make([]*Entry, 0, len(latest))
		for _, e := range entries {
			if latest[e.EventID] == e.Seq {
				survivors = append(survivors, e)
			} else {
				out[e.Seq] = false
			}
		}
	}

	// Count cutoff over the distinct survivors.
	cutoff := 0
	if p.MaxCount > 0 && len(survivors) > p.MaxCount {
		cutoff = len(survivors) - p.MaxCount
	}

	for i, e := range survivors {
		keep := i >= cutoff
		if keep && p.MaxAge > 0 && !e.EventTime.IsZero() {
			keep = now.Sub(e.EventTime) <= p.MaxAge
		}
		out[e.Seq] = keep
	}
	return out
}
