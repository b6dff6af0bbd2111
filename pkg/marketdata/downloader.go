package marketdata

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/oanda-candles/internal/logger"
	"github.com/rxtech-lab/oanda-candles/internal/types"
	"github.com/rxtech-lab/oanda-candles/pkg/errors"
	"github.com/rxtech-lab/oanda-candles/pkg/marketdata/provider"
	"go.uber.org/zap"
)

// OnDownloadProgress is called after every paginated batch that does not finish the download.
// current is the time of the last candle received, start the time of the first candle ever received
// and end the requested end time, all in UNIX seconds.
type OnDownloadProgress func(current, start, end int64)

// DownloadRequest describes a whole download. It is never modified by the Downloader.
type DownloadRequest struct {
	Instrument        string
	Price             types.PriceClasses
	Granularity       Granularity
	Smooth            bool
	DailyAlignment    int
	AlignmentTimezone string
	WeeklyAlignment   string
	// From is the exclusive start of the span in UNIX seconds.
	From int64
	// To is the inclusive end of the span in UNIX seconds. None means up to now.
	To optional.Option[int64]
}

// Validate checks the request before any network call is made.
// An end before the start is an invalid time. An end equal to the start is a valid
// but empty span and is reported by Download as no results.
func (r DownloadRequest) Validate() error {
	if r.Instrument == "" {
		return errors.New(errors.ErrCodeInvalidParameter, "instrument is required")
	}

	if !r.Granularity.Valid() {
		return errors.Newf(errors.ErrCodeInvalidGranularity, "invalid granularity %q", r.Granularity)
	}

	if r.Price.String() == "" {
		return errors.New(errors.ErrCodeInvalidPriceClass, "at least one price class is required")
	}

	if r.To.IsSome() && r.To.Unwrap() < r.From {
		return errors.Newf(errors.ErrCodeInvalidTime, "end time %d is before start time %d", r.To.Unwrap(), r.From)
	}

	return nil
}

func (r DownloadRequest) batch(c cursor) provider.BatchRequest {
	return provider.BatchRequest{
		Instrument:        r.Instrument,
		Price:             r.Price,
		Granularity:       string(r.Granularity),
		Smooth:            r.Smooth,
		DailyAlignment:    r.DailyAlignment,
		AlignmentTimezone: r.AlignmentTimezone,
		WeeklyAlignment:   r.WeeklyAlignment,
		From:              c.from,
		Count:             c.count,
		To:                c.to,
	}
}

// cursor is the window of the next batch call.
type cursor struct {
	from  int64
	count optional.Option[int]
	to    optional.Option[int64]
}

// Downloader turns a DownloadRequest into a complete, ordered candle series.
type Downloader struct {
	provider   provider.Provider
	logger     *logger.Logger
	onProgress OnDownloadProgress
	now        func() time.Time
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithProgress registers a progress callback.
func WithProgress(onProgress OnDownloadProgress) DownloaderOption {
	return func(d *Downloader) {
		d.onProgress = onProgress
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(log *logger.Logger) DownloaderOption {
	return func(d *Downloader) {
		if log != nil {
			d.logger = log
		}
	}
}

// WithClock replaces time.Now, used as the end of open-ended downloads.
func WithClock(now func() time.Time) DownloaderOption {
	return func(d *Downloader) {
		d.now = now
	}
}

// NewDownloader creates a Downloader on top of a batch provider.
func NewDownloader(p provider.Provider, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		provider:   p,
		logger:     logger.NewNopLogger(),
		onProgress: func(int64, int64, int64) {},
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Download fetches every candle in (req.From, req.To].
// It first tries a single batch for the whole span and switches to paginated mode
// when the server reports the span as too large. No partial result is returned on failure.
func (d *Downloader) Download(ctx context.Context, req DownloadRequest) ([]types.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	end := d.end(req)
	if end <= req.From {
		return nil, errors.Newf(errors.ErrCodeNoResults, "nothing to download between %d and %d", req.From, end)
	}

	result := d.provider.FetchBatch(ctx, req.batch(cursor{
		from:  req.From,
		count: optional.None[int](),
		to:    optional.Some(end),
	}))

	var candles []types.Candle

	switch result.Outcome {
	case provider.OutcomeOK:
		d.logger.Debug("Downloaded candles in a single batch", zap.Int("count", len(result.Candles)))

		candles = result.Candles
	case provider.OutcomeTooLarge:
		estimate := req.Granularity.EstimateCandles(req.From, end)

		d.logger.Debug("Span exceeds one batch, switching to paginated mode",
			zap.Int64("from", req.From),
			zap.Int64("to", end),
			zap.Int64("estimatedCandles", estimate),
			zap.Int64("estimatedBatches", estimatedBatches(estimate)),
		)

		var err error

		candles, err = d.paginate(ctx, req, end)
		if err != nil {
			return nil, err
		}
	default:
		return nil, d.failure(ctx, result)
	}

	if len(candles) == 0 {
		return nil, errors.New(errors.ErrCodeNoResults, "no candles in the requested range")
	}

	return candles, nil
}

func (d *Downloader) paginate(ctx context.Context, req DownloadRequest, end int64) ([]types.Candle, error) {
	var candles []types.Candle

	c := cursor{
		from:  req.From,
		count: optional.Some(provider.MaxCandlesPerRequest),
		to:    optional.None[int64](),
	}

	start := int64(-1)

	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInterrupted, "download interrupted", err)
		}

		result := d.provider.FetchBatch(ctx, req.batch(c))

		switch result.Outcome {
		case provider.OutcomeOK:
		case provider.OutcomeTooLarge:
			return nil, errors.Newf(errors.ErrCodeBatchTooLarge, "server rejected a batch of %d candles: %s", provider.MaxCandlesPerRequest, result.Message)
		default:
			return nil, d.failure(ctx, result)
		}

		batch := after(result.Candles, c.from)
		if len(batch) == 0 {
			d.logger.Debug("Data exhausted", zap.Int("total", len(candles)))

			return candles, nil
		}

		if start < 0 {
			start = batch[0].Time
		}

		last := batch[len(batch)-1].Time

		if req.To.IsSome() && last > end {
			kept := upTo(batch, end)
			candles = append(candles, kept...)

			d.logger.Debug("Reached end of span",
				zap.Int("kept", len(kept)),
				zap.Int("dropped", len(batch)-len(kept)),
				zap.Int("total", len(candles)),
			)

			return candles, nil
		}

		candles = append(candles, batch...)
		c.from = last

		d.logger.Debug("Downloaded batch",
			zap.Int("count", len(batch)),
			zap.Int64("last", last),
			zap.Int("total", len(candles)),
		)

		d.onProgress(last, start, end)
	}
}

// failure converts a failed batch into an error, preferring the interrupt when ctx is done.
func (d *Downloader) failure(ctx context.Context, result provider.BatchResult) error {
	if ctx.Err() != nil {
		return errors.Wrap(errors.ErrCodeInterrupted, "download interrupted", ctx.Err())
	}

	return result.AsError()
}

func (d *Downloader) end(req DownloadRequest) int64 {
	if req.To.IsSome() {
		return req.To.Unwrap()
	}

	return d.now().Unix()
}

// estimatedBatches is the number of full pages needed for estimate candles.
func estimatedBatches(estimate int64) int64 {
	return (estimate + provider.MaxCandlesPerRequest - 1) / provider.MaxCandlesPerRequest
}

// after drops candles at or before from. Batches are sorted, so only a prefix can be dropped.
func after(candles []types.Candle, from int64) []types.Candle {
	i := 0
	for i < len(candles) && candles[i].Time <= from {
		i++
	}

	return candles[i:]
}

// upTo keeps candles at or before end.
func upTo(candles []types.Candle, end int64) []types.Candle {
	i := len(candles)
	for i > 0 && candles[i-1].Time > end {
		i--
	}

	return candles[:i]
}

// Percentage returns the share of [start, end] covered by current, clamped to [0, 100].
func Percentage(current, start, end int64) float64 {
	if end <= start {
		return 100
	}

	p := float64(current-start) / float64(end-start) * 100

	return max(0, min(100, p))
}
