package provider

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics"
)

// instrumentingProvider wraps a Provider and records batch metrics.
type instrumentingProvider struct {
	batchCount    metrics.Counter
	batchDuration metrics.Histogram
	candleCount   metrics.Counter
	next          Provider
}

// NewInstrumentingProvider wraps next so every batch is counted and timed.
// All metrics are labelled with instrument, outcome and paginated.
func NewInstrumentingProvider(batchCount metrics.Counter, batchDuration metrics.Histogram, candleCount metrics.Counter, next Provider) Provider {
	return &instrumentingProvider{
		batchCount:    batchCount,
		batchDuration: batchDuration,
		candleCount:   candleCount,
		next:          next,
	}
}

func (p *instrumentingProvider) FetchBatch(ctx context.Context, req BatchRequest) (result BatchResult) {
	defer func(begin time.Time) {
		labels := []string{
			"instrument", req.Instrument,
			"outcome", result.Outcome.String(),
			"paginated", paginated(req),
		}
		p.batchCount.With(labels...).Add(1)
		p.batchDuration.With(labels...).Observe(time.Since(begin).Seconds())
		p.candleCount.With(labels...).Add(float64(len(result.Candles)))
	}(time.Now())

	return p.next.FetchBatch(ctx, req)
}

// paginated reports whether the request walks forward by count instead of a time window.
func paginated(req BatchRequest) string {
	return strconv.FormatBool(req.Count.IsSome())
}
