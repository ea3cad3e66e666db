// Package histogram builds the fixed-width volume distribution over a set
// of normalized trades and renders the operator-facing report.
package histogram

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tde/go-alor-collector/internal/errs"
	"github.com/tde/go-alor-collector/internal/models"
)

const (
	// minQty is the minimum tradable quantity; bucket ranges start here.
	minQty = 1

	// overflowLabel is the displayed upper bound of the open-ended
	// overflow bucket.
	overflowLabel = 99999
)

// Build produces intervalCount fixed-width buckets plus one overflow bucket.
//
// Bucket i covers quantities [1+i*qtyInterval, 1+(i+1)*qtyInterval-1]. Only
// quantities strictly above qtyInterval*intervalCount reach the overflow
// bucket; a quantity exactly equal to that maximum stays in the last regular
// bucket because of the floor clamp.
func Build(trades []models.NormalizedTrade, qtyInterval, intervalCount int) ([]models.VolumeBucket, error) {
	if qtyInterval <= 0 {
		return nil, errs.Newf(errs.KindConfig, "histogram", "qty interval must be positive, got %d", qtyInterval)
	}
	if intervalCount <= 0 {
		intervalCount = 10
	}

	counts := make([]int, intervalCount+1)
	maxQty := float64(qtyInterval * intervalCount)

	for _, t := range trades {
		idx := 0
		if t.Qty > maxQty {
			idx = intervalCount
		} else {
			idx = int(math.Floor((t.Qty - minQty) / float64(qtyInterval)))
			if idx < 0 {
				idx = 0
			}
			if idx > intervalCount-1 {
				idx = intervalCount - 1
			}
		}
		counts[idx]++
	}

	buckets := make([]models.VolumeBucket, intervalCount+1)
	for i := range buckets {
		start := int64(minQty + i*qtyInterval)
		var end int64
		switch {
		case i >= intervalCount:
			end = overflowLabel
		case i == intervalCount-1:
			// The last regular bucket is displayed without the usual -1,
			// overlapping the overflow start by one. Display only; the
			// counting uses the real boundary.
			end = start + int64(qtyInterval)
		default:
			end = start + int64(qtyInterval) - 1
		}
		buckets[i] = models.VolumeBucket{RangeStart: start, RangeEnd: end, Count: counts[i]}
	}
	return buckets, nil
}

// Report renders the bucket table in the "[start .. end] : count" form.
func Report(buckets []models.VolumeBucket, qtyInterval int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "volume buckets (%d regular, step=%d):\n", len(buckets)-1, qtyInterval)
	for _, bucket := range buckets {
		fmt.Fprintf(&b, "[%d .. %d] : %d\n", bucket.RangeStart, bucket.RangeEnd, bucket.Count)
	}
	return b.String()
}

// Summary aggregates the trade list into headline figures. Volume and
// turnover are accumulated with decimals so large lists do not drift.
type Summary struct {
	Trades      int
	TotalVolume decimal.Decimal
	VWAP        decimal.Decimal
}

// Summarize computes trade count, total volume and the volume-weighted
// average price over the list.
func Summarize(trades []models.NormalizedTrade) Summary {
	total := decimal.Zero
	turnover := decimal.Zero
	for _, t := range trades {
		qty := decimal.NewFromFloat(t.Qty)
		total = total.Add(qty)
		turnover = turnover.Add(qty.Mul(decimal.NewFromFloat(t.Price)))
	}

	vwap := decimal.Zero
	if total.IsPositive() {
		vwap = turnover.DivRound(total, 6)
	}
	return Summary{Trades: len(trades), TotalVolume: total, VWAP: vwap}
}

// String renders the summary for the stats report.
func (s Summary) String() string {
	return fmt.Sprintf("trades=%d total_volume=%s vwap=%s", s.Trades, s.TotalVolume.String(), s.VWAP.String())
}
