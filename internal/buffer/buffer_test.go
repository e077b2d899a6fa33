package buffer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func entry(seq uint64, at time.Time) Entry {
	return Entry{Seq: seq, Time: at, Source: "wm", Kind: "window.new"}
}

func TestAppendEnforcesStrictlyIncreasingSeq(t *testing.T) {
	l := NewLog(10, 0)
	now := time.Now()
	require.NoError(t, l.Append(entry(1, now)))
	require.NoError(t, l.Append(entry(2, now)))
	require.Error(t, l.Append(entry(2, now)), "duplicate seq must be rejected")
	require.Error(t, l.Append(entry(1, now)), "regressing seq must be rejected")
	require.NoError(t, l.Append(entry(5, now)), "gaps are allowed")
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	l := NewLog(3, 0)
	now := time.Now()
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, l.Append(entry(seq, now)))
	}
	got := l.Since(0)
	want := []uint64{3, 4, 5}
	seqs := make([]uint64, len(got))
	for i, e := range got {
		seqs[i] = e.Seq
	}
	if diff := cmp.Diff(want, seqs); diff != "" {
		t.Fatalf("retained seqs mismatch (-want +got):\n%s", diff)
	}
}

func TestSinceIsRestartable(t *testing.T) {
	l := NewLog(10, 0)
	now := time.Now()
	for seq := uint64(1); seq <= 4; seq++ {
		require.NoError(t, l.Append(entry(seq, now)))
	}
	first := l.Since(2)
	second := l.Since(2)
	require.Len(t, first, 2)
	require.Equal(t, first, second, "a fresh call re-walks from the same point")
	require.Nil(t, l.Since(4))
}

func TestPruneByAge(t *testing.T) {
	l := NewLog(10, time.Minute)
	now := time.Now()
	require.NoError(t, l.Append(entry(1, now.Add(-3*time.Minute))))
	require.NoError(t, l.Append(entry(2, now.Add(-2*time.Minute))))
	require.NoError(t, l.Append(entry(3, now.Add(-10*time.Second))))
	evicted := l.Prune(now)
	require.Equal(t, 2, evicted)
	require.Equal(t, 1, l.Len())
	require.Equal(t, uint64(3), l.Since(0)[0].Seq)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	l := NewLog(10, 0)
	now := time.Now().Truncate(time.Second)
	require.NoError(t, l.Append(entry(1, now)))
	require.NoError(t, l.Append(entry(2, now)))
	require.NoError(t, l.Save(path))

	restored := NewLog(10, 0)
	require.NoError(t, restored.Load(path))
	require.Equal(t, uint64(2), restored.LastSeq())
	require.Len(t, restored.Since(0), 2)
	// Sequence numbers continue after the persisted watermark.
	require.Error(t, restored.Append(entry(2, now)))
	require.NoError(t, restored.Append(entry(3, now)))
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, writeFile(path, "]["))
	l := NewLog(10, 0)
	require.Error(t, l.Load(path))
	require.Equal(t, 0, l.Len())
}
