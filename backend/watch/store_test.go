package watch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentValueLastWriterWinsByTimestamp(t *testing.T) {
	s := NewStore()
	s.Set("cpu", "10", 2000, "app", 0, "")
	s.Set("cpu", "5", 1000, "app", 0, "") // older, must not win

	v, ok := s.Get("cpu")
	require.True(t, ok)
	assert.Equal(t, "10", v.Value)
	assert.Equal(t, int64(2000), v.Timestamp)
}

func TestSecondTierRollup(t *testing.T) {
	s := NewStore()

	// One sample per 100ms for 12 seconds; value = secondIndex + 0.5.
	for sec := 0; sec < 12; sec++ {
		for i := 0; i < 10; i++ {
			ts := int64(sec*1000 + i*100)
			s.Set("cpu", fmt.Sprintf("%g", float64(sec)+0.5), ts, "app", 0, "")
		}
	}
	// Crossing into second 12 closes second 11.
	s.Set("cpu", "12.5", 12_000, "app", 0, "")

	buckets := s.History("cpu", 0, 0, ResolutionSecond)
	require.Len(t, buckets, 12)
	for sec, b := range buckets {
		assert.Equal(t, int64(sec*1000), b.BucketStart)
		assert.Equal(t, 10, b.Count)
		assert.InDelta(t, float64(sec)+0.5, b.Avg, 1e-9)
		assert.Equal(t, b.Min, b.Max)
		if sec > 0 {
			assert.Greater(t, b.BucketStart, buckets[sec-1].BucketStart)
		}
	}
}

func TestMinuteTierFlushConservesCounts(t *testing.T) {
	s := NewStore()
	for sec := 0; sec < 12; sec++ {
		for i := 0; i < 10; i++ {
			s.Set("cpu", fmt.Sprintf("%g", float64(sec)+0.5), int64(sec*1000+i*100), "app", 0, "")
		}
	}
	// Crossing into minute 1 closes second 11; closing second 60 then
	// flushes minute 0.
	s.Set("cpu", "0", 60_000, "app", 0, "")
	s.Set("cpu", "0", 61_000, "app", 0, "")

	buckets := s.History("cpu", 0, 0, ResolutionMinute)
	require.Len(t, buckets, 1)
	b := buckets[0]
	assert.Equal(t, int64(0), b.BucketStart)
	assert.Equal(t, 120, b.Count)
	assert.InDelta(t, 6.0, b.Avg, 1e-9)
	assert.InDelta(t, 0.5, b.Min, 1e-9)
	assert.InDelta(t, 11.5, b.Max, 1e-9)
	assert.LessOrEqual(t, b.Min, b.Avg)
	assert.LessOrEqual(t, b.Avg, b.Max)
}

func TestNonNumericValuesPlotAsOccurrenceCounts(t *testing.T) {
	s := NewStore()
	s.Set("state", "connecting", 100, "app", 0, "")
	s.Set("state", "connected", 200, "app", 0, "")
	s.Set("state", "connecting", 300, "app", 0, "")

	points := s.History("state", 0, 0, ResolutionRaw)
	require.Len(t, points, 3)
	assert.Equal(t, 1.0, points[0].Avg)
	assert.Equal(t, "connecting", points[0].Label)
	assert.Equal(t, 1.0, points[1].Avg)
	assert.Equal(t, "connected", points[1].Label)
	assert.Equal(t, 2.0, points[2].Avg)
	assert.Equal(t, "connecting", points[2].Label)

	// Current value keeps the raw string.
	v, _ := s.Get("state")
	assert.Equal(t, "connecting", v.Value)
}

func TestAutoResolutionPicksTierBySpan(t *testing.T) {
	s := NewStore()
	assert.Equal(t, ResolutionRaw, s.resolve(ResolutionAuto, 1, 20_000))
	assert.Equal(t, ResolutionSecond, s.resolve(ResolutionAuto, 1, 1_000_000))
	assert.Equal(t, ResolutionMinute, s.resolve(ResolutionAuto, 1, 10_000_000))
	assert.Equal(t, ResolutionHour, s.resolve(ResolutionAuto, 1, 100_000_000))
	assert.Equal(t, ResolutionHour, s.resolve(ResolutionAuto, 0, 0))
}

func TestHistoryWindowFiltering(t *testing.T) {
	s := NewStore()
	for i := 0; i < 10; i++ {
		s.Set("cpu", "1", int64(i*1000), "app", 0, "")
	}
	points := s.History("cpu", 3000, 6000, ResolutionRaw)
	require.Len(t, points, 4)
	assert.Equal(t, int64(3000), points[0].BucketStart)
	assert.Equal(t, int64(6000), points[3].BucketStart)
}

func TestClearHistoryKeepsCurrentValues(t *testing.T) {
	s := NewStore()
	s.Set("cpu", "42", 1000, "app", 0, "")
	s.ClearHistory("")

	v, ok := s.Get("cpu")
	require.True(t, ok)
	assert.Equal(t, "42", v.Value)
	assert.Empty(t, s.History("cpu", 0, 0, ResolutionRaw))

	// New samples start fresh aggregation.
	s.Set("cpu", "7", 2000, "app", 0, "")
	assert.Len(t, s.History("cpu", 0, 0, ResolutionRaw), 1)
}

func TestStorageIsLosslessUpToTierCapacity(t *testing.T) {
	s := NewStore()
	for i := 0; i < 50; i++ {
		s.Set("mem", fmt.Sprintf("%d", i), int64(i*10), "app", 0, "")
	}
	points := s.History("mem", 0, 0, ResolutionRaw)
	require.Len(t, points, 50)
	for i, p := range points {
		assert.Equal(t, float64(i), p.Avg)
	}
}

func TestOutOfOrderSampleKeepsTierAscending(t *testing.T) {
	s := NewStore()

	s.Set("cpu", "2", 2000, "app", 0, "")
	s.Set("cpu", "4", 1000, "app", 0, "")
	s.Set("cpu", "6", 5000, "app", 0, "")
	s.Set("cpu", "8", 6000, "app", 0, "")

	// The regressing sample folds into the open second-2 bucket instead of
	// closing a bucket behind it.
	buckets := s.History("cpu", 0, 0, ResolutionSecond)
	require.Len(t, buckets, 2)
	assert.Equal(t, int64(2000), buckets[0].BucketStart)
	assert.Equal(t, 2, buckets[0].Count)
	assert.InDelta(t, 3.0, buckets[0].Avg, 1e-9)
	assert.InDelta(t, 2.0, buckets[0].Min, 1e-9)
	assert.InDelta(t, 4.0, buckets[0].Max, 1e-9)
	assert.Equal(t, int64(5000), buckets[1].BucketStart)
	assert.Greater(t, buckets[1].BucketStart, buckets[0].BucketStart)
}
