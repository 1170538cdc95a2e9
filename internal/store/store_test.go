package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cursor-scrub/pkg/geometry"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, 0.3)
	require.NoError(t, err)
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)

	require.NoError(t, s.SetDetection(Record{Frame: 3, BBox: [4]int{10, 20, 30, 30}, Score: 0.91, Template: "gauntlet_a", Source: SourceAuto}))
	require.NoError(t, s.SetDetection(Record{Frame: 7, BBox: [4]int{50, 60, 30, 30}, Score: 0.88, Template: "gauntlet_b", Source: SourceGuided}))

	reopened := openTestStore(t, dir)
	recs := reopened.Detections()
	require.Len(t, recs, 2)
	assert.Equal(t, 3, recs[0].Frame)
	assert.Equal(t, [4]int{10, 20, 30, 30}, recs[0].BBox)
	assert.Equal(t, SourceAuto, recs[0].Source)
	assert.Equal(t, 7, recs[1].Frame)
	assert.Equal(t, "gauntlet_b", recs[1].Template)
}

func TestStoreLatestEntryWins(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)

	require.NoError(t, s.SetDetection(Record{Frame: 5, BBox: [4]int{0, 0, 10, 10}, Score: 0.8, Source: SourceAuto}))
	require.NoError(t, s.SetDetection(Record{Frame: 5, BBox: [4]int{40, 40, 10, 10}, Score: 0.95, Source: SourceManual}))

	// Both entries stay in the ledger; replay keeps the newest.
	data, err := os.ReadFile(filepath.Join(dir, "detections", "detections.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))

	reopened := openTestStore(t, dir)
	rec, ok := reopened.Detection(5)
	require.True(t, ok)
	assert.Equal(t, [4]int{40, 40, 10, 10}, rec.BBox)
	assert.Equal(t, SourceManual, rec.Source)
}

func TestStoreRejectRewritesLedger(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)

	require.NoError(t, s.SetDetection(Record{Frame: 2, BBox: [4]int{10, 10, 20, 20}, Score: 0.9, Source: SourceAuto}))
	require.NoError(t, s.SetDetection(Record{Frame: 4, BBox: [4]int{30, 30, 20, 20}, Score: 0.85, Source: SourceAuto}))

	rejected, err := s.Reject(2, SourceBadClick)
	require.NoError(t, err)
	assert.Equal(t, 2, rejected.Frame)

	_, ok := s.Detection(2)
	assert.False(t, ok)

	// The rewritten ledger must not resurrect frame 2 on replay.
	data, err := os.ReadFile(filepath.Join(dir, "detections", "detections.jsonl"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"frame":2`)
	assert.Contains(t, string(data), `"frame":4`)

	reopened := openTestStore(t, dir)
	_, ok = reopened.Detection(2)
	assert.False(t, ok)
	bad := reopened.Rejected(2)
	require.Len(t, bad, 1)
	assert.Equal(t, SourceBadClick, bad[0].Source)
	assert.Equal(t, [4]int{10, 10, 20, 20}, bad[0].BBox)
}

func TestStoreRejectWithoutDetection(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	_, err := s.Reject(9, SourceBadClick)
	assert.True(t, errors.Is(err, ErrNoDetection))
}

func TestStoreIsRejected(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	require.NoError(t, s.SetDetection(Record{Frame: 1, BBox: [4]int{100, 100, 40, 40}, Score: 0.9, Source: SourceAuto}))
	_, err := s.Reject(1, SourceBadClick)
	require.NoError(t, err)

	assert.True(t, s.IsRejected(1, geometry.RectInt{X: 100, Y: 100, Width: 40, Height: 40}))
	assert.True(t, s.IsRejected(1, geometry.RectInt{X: 104, Y: 104, Width: 40, Height: 40}), "near-identical box overlaps well past the threshold")
	assert.False(t, s.IsRejected(1, geometry.RectInt{X: 300, Y: 300, Width: 40, Height: 40}))
	assert.False(t, s.IsRejected(2, geometry.RectInt{X: 100, Y: 100, Width: 40, Height: 40}), "rejections are per frame")
}

func TestStoreSkipsMalformedLedgerLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "detections"), 0755))
	ledger := `{"frame":1,"bbox":[1,2,3,4],"score":0.9,"source":"auto"}
this line is not json
{"frame":2,"bbox":[5,6,7,8],"score":0.8,"source":"auto"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "detections", "detections.jsonl"), []byte(ledger), 0644))

	s := openTestStore(t, dir)
	recs := s.Detections()
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].Frame)
	assert.Equal(t, 2, recs[1].Frame)
}

func TestStoreGoodFrames(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)

	require.NoError(t, s.MarkGood(5))
	require.NoError(t, s.MarkGood(3))
	require.NoError(t, s.MarkGood(3), "marking twice is a no-op")
	assert.True(t, s.IsGood(3))
	assert.False(t, s.IsGood(4))
	assert.Equal(t, []int{3, 5}, s.GoodFrames())

	require.NoError(t, s.UnmarkGood(3))
	assert.False(t, s.IsGood(3))

	reopened := openTestStore(t, dir)
	assert.Equal(t, []int{5}, reopened.GoodFrames())
}

func TestStoreCorruptGoodFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good_frames.json"), []byte("not json"), 0644))

	s := openTestStore(t, dir)
	assert.Empty(t, s.GoodFrames())

	// The next write repairs the file.
	require.NoError(t, s.MarkGood(1))
	reopened := openTestStore(t, dir)
	assert.Equal(t, []int{1}, reopened.GoodFrames())
}

func TestRecordRect(t *testing.T) {
	rec := Record{BBox: [4]int{7, 8, 9, 10}}
	assert.Equal(t, geometry.RectInt{X: 7, Y: 8, Width: 9, Height: 10}, rec.Rect())
	assert.Equal(t, [4]int{7, 8, 9, 10}, BoxOf(rec.Rect()))
}
