package es

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetentionPolicy_Validate(t *testing.T) {
	require.NoError(t, RetentionPolicy{}.Validate())
	require.NoError(t, RetentionPolicy{MaxCount: 5, MaxAge: time.Hour, DistinctByKey: true}.Validate())
	require.NoError(t, RetentionPolicy{UntilReacted: true}.Validate())

	require.ErrorIs(t, RetentionPolicy{UntilReacted: true, MaxCount: 1}.Validate(), ErrRetentionConflict)
	require.ErrorIs(t, RetentionPolicy{UntilReacted: true, MaxAge: time.Hour}.Validate(), ErrRetentionConflict)
	require.ErrorIs(t, RetentionPolicy{UntilReacted: true, DistinctByKey: true}.Validate(), ErrRetentionConflict)
	require.ErrorIs(t, RetentionPolicy{MaxCount: -1}.Validate(), ErrRetentionConflict)
}

func TestRetentionPolicy_KeepsAll(t *testing.T) {
	now := time.Now()
	entries := []*Entry{
		entryAt("s", 1, "a", time.Time{}),
		entryAt("s", 2, "b", time.Time{}),
	}
	kept := RetentionPolicy{}.retainedSet(entries, now)
	require.True(t, kept[1])
	require.True(t, kept[2])
}

func TestRetentionPolicy_MaxCount(t *testing.T) {
	now := time.Now()
	var entries []*Entry
	for seq := uint64(1); seq <= 5; seq++ {
		entries = append(entries, entryAt("s", seq, "", time.Time{}))
	}
	kept := RetentionPolicy{MaxCount: 2}.retainedSet(entries, now)
	require.Equal(t, map[uint64]bool{1: false, 2: false, 3: false, 4: true, 5: true}, kept)
}

func TestRetentionPolicy_MaxAge(t *testing.T) {
	now := time.Now()
	entries := []*Entry{
		entryAt("s", 1, "", now.Add(-2*time.Hour)),
		entryAt("s", 2, "", now.Add(-time.Minute)),
		entryAt("s", 3, "", time.Time{}), // no logical timestamp, never ages out
	}
	kept := RetentionPolicy{MaxAge: time.Hour}.retainedSet(entries, now)
	require.False(t, kept[1])
	require.True(t, kept[2])
	require.True(t, kept[3])
}

func TestRetentionPolicy_DistinctByKey(t *testing.T) {
	now := time.Now()
	entries := []*Entry{
		entryAt("s", 1, "k1", time.Time{}),
		entryAt("s", 2, "k2", time.Time{}),
		entryAt("s", 3, "k1", time.Time{}),
	}
	kept := RetentionPolicy{DistinctByKey: true}.retainedSet(entries, now)
	require.Equal(t, map[uint64]bool{1: false, 2: true, 3: true}, kept)
}

// Distinct filtering runs before the count cutoff: the cutoff counts surviving
// keys, not raw entries.
func TestRetentionPolicy_DistinctBeforeCount(t *testing.T) {
	now := time.Now()
	entries := []*Entry{
		entryAt("s", 1, "k1", time.Time{}),
		entryAt("s", 2, "k2", time.Time{}),
		entryAt("s", 3, "k1", time.Time{}),
	}
	kept := RetentionPolicy{DistinctByKey: true, MaxCount: 1}.retainedSet(entries, now)
	require.Equal(t, map[uint64]bool{1: false, 2: false, 3: true}, kept)

	kept = RetentionPolicy{DistinctByKey: true, MaxCount: 2}.retainedSet(entries, now)
	require.Equal(t, map[uint64]bool{1: false, 2: true, 3: true}, kept)
}

func TestRetentionPolicy_UntilReacted(t *testing.T) {
	now := time.Now()
	pending := entryAt("s", 1, "", time.Time{})
	pending.Reactors = map[string]ReactorState{"mailer": {Status: ReactorNotStarted}}
	done := entryAt("s", 2, "", time.Time{})
	done.Reactors = map[string]ReactorState{"mailer": {Status: ReactorSucceeded}}
	bare := entryAt("s", 3, "", time.Time{}) // no reactors: trivially reacted

	kept := RetentionPolicy{UntilReacted: true}.retainedSet([]*Entry{pending, done, bare}, now)
	require.True(t, kept[1])
	require.False(t, kept[2])
	require.False(t, kept[3])
}
