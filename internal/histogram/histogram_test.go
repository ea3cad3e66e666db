package histogram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tde/go-alor-collector/internal/errs"
	"github.com/tde/go-alor-collector/internal/models"
)

func tradesWithQty(qtys ...float64) []models.NormalizedTrade {
	out := make([]models.NormalizedTrade, len(qtys))
	for i, q := range qtys {
		out[i] = models.NormalizedTrade{TimestampMs: 1700000000000 + int64(i), Qty: q, Price: 100}
	}
	return out
}

func TestBuildBucketPlacement(t *testing.T) {
	buckets, err := Build(tradesWithQty(1, 10, 11, 100, 100000), 10, 10)
	require.NoError(t, err)
	require.Len(t, buckets, 11)

	assert.Equal(t, 2, buckets[0].Count, "qty 1 and 10 fall in bucket 0")
	assert.Equal(t, 1, buckets[1].Count, "qty 11 falls in bucket 1")
	assert.Equal(t, 1, buckets[9].Count, "qty 100 stays in the last regular bucket")
	assert.Equal(t, 1, buckets[10].Count, "qty 100000 overflows")

	sum := 0
	for _, b := range buckets {
		sum += b.Count
	}
	assert.Equal(t, 5, sum, "counts sum to the trade count")
}

func TestBuildExactMaxStaysRegular(t *testing.T) {
	// qty == qtyInterval*intervalCount is not overflow.
	buckets, err := Build(tradesWithQty(100, 101), 10, 10)
	require.NoError(t, err)

	assert.Equal(t, 1, buckets[9].Count)
	assert.Equal(t, 1, buckets[10].Count)
}

func TestBuildRanges(t *testing.T) {
	buckets, err := Build(nil, 10, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(1), buckets[0].RangeStart)
	assert.Equal(t, int64(10), buckets[0].RangeEnd)
	assert.Equal(t, int64(11), buckets[1].RangeStart)
	assert.Equal(t, int64(20), buckets[1].RangeEnd)

	// Last regular bucket keeps the legacy no-minus-one upper label.
	assert.Equal(t, int64(91), buckets[9].RangeStart)
	assert.Equal(t, int64(101), buckets[9].RangeEnd)

	assert.Equal(t, int64(101), buckets[10].RangeStart)
	assert.Equal(t, int64(99999), buckets[10].RangeEnd)
}

func TestBuildInvalidInterval(t *testing.T) {
	_, err := Build(tradesWithQty(1), 0, 10)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConfig))

	_, err = Build(tradesWithQty(1), -5, 10)
	require.Error(t, err)
}

func TestBuildDefaultsIntervalCount(t *testing.T) {
	buckets, err := Build(tradesWithQty(1), 10, 0)
	require.NoError(t, err)
	assert.Len(t, buckets, 11)
}

func TestReport(t *testing.T) {
	buckets, err := Build(tradesWithQty(5, 15, 500), 10, 2)
	require.NoError(t, err)

	report := Report(buckets, 10)
	assert.Contains(t, report, "[1 .. 10] : 1")
	assert.Contains(t, report, "[11 .. 21] : 1")
	assert.Contains(t, report, "[21 .. 99999] : 1")
}

func TestSummarize(t *testing.T) {
	trades := []models.NormalizedTrade{
		{TimestampMs: 1, Qty: 2, Price: 100},
		{TimestampMs: 2, Qty: 3, Price: 200},
	}
	s := Summarize(trades)

	assert.Equal(t, 2, s.Trades)
	assert.Equal(t, "5", s.TotalVolume.String())
	// (2*100 + 3*200) / 5 = 160
	assert.Equal(t, "160", s.VWAP.String())
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Trades)
	assert.True(t, s.VWAP.IsZero())
}
