package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/oanda-candles/internal/logger"
	"github.com/rxtech-lab/oanda-candles/internal/types"
	"github.com/rxtech-lab/oanda-candles/mocks"
	"github.com/rxtech-lab/oanda-candles/pkg/errors"
	"github.com/rxtech-lab/oanda-candles/pkg/marketdata/provider"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// seriesProvider answers batch calls from an in-memory series the way the candles endpoint does.
type seriesProvider struct {
	series   []types.Candle
	requests []provider.BatchRequest
}

func (p *seriesProvider) FetchBatch(_ context.Context, req provider.BatchRequest) provider.BatchResult {
	p.requests = append(p.requests, req)

	window := after(p.series, req.From)

	if req.To.IsSome() {
		window = upTo(window, req.To.Unwrap())
		if len(window) > provider.MaxCandlesPerRequest {
			return provider.TooLarge("Maximum value for 'count' exceeded")
		}

		return provider.Ok(window)
	}

	n := min(req.Count.Unwrap(), len(window))

	return provider.Ok(window[:n])
}

type progressCall struct {
	current, start, end int64
}

type DownloaderTestSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	mock     *mocks.MockProvider
	dayStart time.Time
	dayEnd   time.Time
}

func TestDownloaderSuite(t *testing.T) {
	suite.Run(t, new(DownloaderTestSuite))
}

func (suite *DownloaderTestSuite) SetupTest() {
	suite.ctrl = gomock.NewController(suite.T())
	suite.mock = mocks.NewMockProvider(suite.ctrl)
	suite.dayStart = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	suite.dayEnd = time.Date(2019, 1, 2, 0, 0, 0, 0, time.UTC)
}

func (suite *DownloaderTestSuite) TearDownTest() {
	suite.ctrl.Finish()
}

func (suite *DownloaderTestSuite) request(from, to time.Time) DownloadRequest {
	return DownloadRequest{
		Instrument:        "EUR_USD",
		Price:             types.PriceClasses{Ask: false, Bid: false, Mid: true},
		Granularity:       GranularityS10,
		Smooth:            false,
		DailyAlignment:    17,
		AlignmentTimezone: "America/New_York",
		WeeklyAlignment:   "Friday",
		From:              from.Unix(),
		To:                optional.Some(to.Unix()),
	}
}

func (suite *DownloaderTestSuite) assertIncreasing(candles []types.Candle) {
	for i := 1; i < len(candles); i++ {
		suite.Require().Greater(candles[i].Time, candles[i-1].Time, "candle %d is not after candle %d", i, i-1)
	}
}

func (suite *DownloaderTestSuite) TestSingleBatch() {
	candles := mocks.NewDataGenerator(1).GenerateRange(suite.dayStart.Add(time.Minute), suite.dayEnd, time.Minute)
	req := suite.request(suite.dayStart, suite.dayEnd)
	req.Granularity = GranularityM1

	expected := req.batch(cursor{from: req.From, count: optional.None[int](), to: optional.Some(req.To.Unwrap())})
	suite.mock.EXPECT().FetchBatch(gomock.Any(), expected).Return(provider.Ok(candles)).Times(1)

	progressCalled := false
	downloader := NewDownloader(suite.mock, WithProgress(func(int64, int64, int64) { progressCalled = true }))

	result, err := downloader.Download(context.Background(), req)
	suite.Require().NoError(err)
	suite.Equal(candles, result)
	suite.False(progressCalled)
}

func (suite *DownloaderTestSuite) TestPaginatedDayOfTenSecondCandles() {
	fake := &seriesProvider{
		series:   mocks.NewDataGenerator(2).GenerateRange(suite.dayStart, suite.dayStart.Add(48*time.Hour), 10*time.Second),
		requests: nil,
	}

	var progress []progressCall

	downloader := NewDownloader(fake, WithProgress(func(current, start, end int64) {
		progress = append(progress, progressCall{current: current, start: start, end: end})
	}))

	result, err := downloader.Download(context.Background(), suite.request(suite.dayStart, suite.dayEnd))
	suite.Require().NoError(err)

	suite.Len(result, 8640)
	suite.assertIncreasing(result)
	suite.Equal(suite.dayStart.Unix()+10, result[0].Time)
	suite.Equal(suite.dayEnd.Unix(), result[len(result)-1].Time)

	suite.Require().Len(fake.requests, 3)

	first := fake.requests[0]
	suite.True(first.To.IsSome())
	suite.True(first.Count.IsNone())

	pages := fake.requests[1:]
	for _, page := range pages {
		suite.True(page.To.IsNone())
		suite.Equal(provider.MaxCandlesPerRequest, page.Count.Unwrap())
	}

	suite.Equal(suite.dayStart.Unix(), pages[0].From)
	suite.Equal(result[provider.MaxCandlesPerRequest-1].Time, pages[1].From)

	suite.Require().Len(progress, 1)
	suite.Equal(progressCall{
		current: result[provider.MaxCandlesPerRequest-1].Time,
		start:   result[0].Time,
		end:     suite.dayEnd.Unix(),
	}, progress[0])
}

func (suite *DownloaderTestSuite) TestPaginatedModeLogsEstimate() {
	fake := &seriesProvider{
		series:   mocks.NewDataGenerator(2).GenerateRange(suite.dayStart, suite.dayStart.Add(48*time.Hour), 10*time.Second),
		requests: nil,
	}

	core, logs := observer.New(zapcore.DebugLevel)
	downloader := NewDownloader(fake, WithLogger(&logger.Logger{Logger: zap.New(core)}))

	_, err := downloader.Download(context.Background(), suite.request(suite.dayStart, suite.dayEnd))
	suite.Require().NoError(err)

	entries := logs.FilterMessage("Span exceeds one batch, switching to paginated mode").All()
	suite.Require().Len(entries, 1)

	fields := entries[0].ContextMap()
	suite.Equal(int64(8640), fields["estimatedCandles"])
	suite.Equal(int64(2), fields["estimatedBatches"])
}

func (suite *DownloaderTestSuite) TestEstimatedBatches() {
	suite.Equal(int64(0), estimatedBatches(0))
	suite.Equal(int64(1), estimatedBatches(1))
	suite.Equal(int64(1), estimatedBatches(provider.MaxCandlesPerRequest))
	suite.Equal(int64(2), estimatedBatches(provider.MaxCandlesPerRequest+1))
}

func (suite *DownloaderTestSuite) TestPaginationMatchesUnboundedCall() {
	series := mocks.NewDataGenerator(3).GenerateRange(suite.dayStart, suite.dayStart.Add(72*time.Hour), 10*time.Second)
	fake := &seriesProvider{series: series, requests: nil}

	to := suite.dayStart.Add(36*time.Hour + 5*time.Second)

	result, err := NewDownloader(fake).Download(context.Background(), suite.request(suite.dayStart, to))
	suite.Require().NoError(err)

	suite.Equal(upTo(after(series, suite.dayStart.Unix()), to.Unix()), result)
}

func (suite *DownloaderTestSuite) TestBoundaryCandleIsNotDuplicated() {
	candles := mocks.NewDataGenerator(4).GenerateRange(suite.dayStart, suite.dayStart.Add(3*time.Minute), time.Minute)
	req := suite.request(suite.dayStart, suite.dayEnd)

	gomock.InOrder(
		suite.mock.EXPECT().FetchBatch(gomock.Any(), gomock.Any()).Return(provider.TooLarge("Maximum value for 'count' exceeded")),
		// a server that ignores includeFirst returns the cursor candle again
		suite.mock.EXPECT().FetchBatch(gomock.Any(), gomock.Any()).Return(provider.Ok(candles[:3])),
		suite.mock.EXPECT().FetchBatch(gomock.Any(), gomock.Any()).Return(provider.Ok(candles[2:])),
		suite.mock.EXPECT().FetchBatch(gomock.Any(), gomock.Any()).Return(provider.Ok(candles[3:])),
	)

	result, err := NewDownloader(suite.mock).Download(context.Background(), req)
	suite.Require().NoError(err)
	suite.Equal(candles[1:], result)
}

func (suite *DownloaderTestSuite) TestOpenEndedDownloadRunsUntilEmpty() {
	now := time.Date(2019, 1, 3, 0, 0, 0, 0, time.UTC)
	fake := &seriesProvider{
		series:   mocks.NewDataGenerator(5).GenerateRange(suite.dayStart, suite.dayStart.Add(36*time.Hour), 10*time.Second),
		requests: nil,
	}

	req := suite.request(suite.dayStart, suite.dayEnd)
	req.To = optional.None[int64]()

	var ends []int64

	downloader := NewDownloader(fake,
		WithClock(func() time.Time { return now }),
		WithProgress(func(_, _, end int64) { ends = append(ends, end) }),
	)

	result, err := downloader.Download(context.Background(), req)
	suite.Require().NoError(err)

	suite.Len(result, 12960)
	suite.assertIncreasing(result)

	suite.Require().Len(fake.requests, 5)
	suite.Equal(now.Unix(), fake.requests[0].To.Unwrap())
	suite.True(fake.requests[4].To.IsNone())

	suite.Len(ends, 3)

	for _, end := range ends {
		suite.Equal(now.Unix(), end)
	}
}

func (suite *DownloaderTestSuite) TestStartBeforeEarliestData() {
	earliest := suite.dayStart.Add(10 * time.Hour)
	fake := &seriesProvider{
		series:   mocks.NewDataGenerator(6).GenerateRange(earliest, suite.dayStart.Add(30*time.Hour), 5*time.Second),
		requests: nil,
	}

	var progress []progressCall

	downloader := NewDownloader(fake, WithProgress(func(current, start, end int64) {
		progress = append(progress, progressCall{current: current, start: start, end: end})
	}))

	result, err := downloader.Download(context.Background(), suite.request(suite.dayStart, suite.dayEnd))
	suite.Require().NoError(err)

	suite.Equal(earliest.Unix(), result[0].Time)
	suite.Equal(suite.dayEnd.Unix(), result[len(result)-1].Time)
	suite.Len(result, 10081)
	suite.Require().Len(progress, 2)

	for _, call := range progress {
		suite.Equal(earliest.Unix(), call.start)

		percentage := Percentage(call.current, call.start, call.end)
		suite.GreaterOrEqual(percentage, 0.0)
		suite.LessOrEqual(percentage, 100.0)
	}

	suite.Equal(0.0, Percentage(result[0].Time, progress[0].start, progress[0].end))
}

func (suite *DownloaderTestSuite) TestFailuresAbortWithoutPartialResult() {
	candles := mocks.NewDataGenerator(7).GenerateRange(suite.dayStart.Add(time.Minute), suite.dayStart.Add(time.Hour), time.Minute)
	tooLarge := provider.TooLarge("Maximum value for 'count' exceeded")

	tests := []struct {
		name    string
		results []provider.BatchResult
		code    errors.ErrorCode
	}{
		{
			name:    "connection failure on the single batch",
			results: []provider.BatchResult{provider.ConnectionError(context.DeadlineExceeded)},
			code:    errors.ErrCodeConnectionFailure,
		},
		{
			name:    "api failure on the single batch",
			results: []provider.BatchResult{provider.APIError("Invalid value specified for 'instrument'", nil)},
			code:    errors.ErrCodeAPIFailure,
		},
		{
			name:    "connection failure while paginating",
			results: []provider.BatchResult{tooLarge, provider.Ok(candles), provider.ConnectionError(context.DeadlineExceeded)},
			code:    errors.ErrCodeConnectionFailure,
		},
		{
			name:    "api failure while paginating",
			results: []provider.BatchResult{tooLarge, provider.Ok(candles), provider.APIError("Service unavailable", nil)},
			code:    errors.ErrCodeAPIFailure,
		},
		{
			name:    "too large while paginating",
			results: []provider.BatchResult{tooLarge, tooLarge},
			code:    errors.ErrCodeBatchTooLarge,
		},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			ctrl := gomock.NewController(suite.T())
			defer ctrl.Finish()

			mockProvider := mocks.NewMockProvider(ctrl)

			calls := make([]any, 0, len(tc.results))
			for _, r := range tc.results {
				calls = append(calls, mockProvider.EXPECT().FetchBatch(gomock.Any(), gomock.Any()).Return(r))
			}

			gomock.InOrder(calls...)

			result, err := NewDownloader(mockProvider).Download(context.Background(), suite.request(suite.dayStart, suite.dayEnd))
			suite.Nil(result)
			suite.Require().Error(err)
			suite.Equal(tc.code, errors.GetCode(err))
		})
	}
}

func (suite *DownloaderTestSuite) TestNoResults() {
	suite.Run("single batch", func() {
		suite.mock.EXPECT().FetchBatch(gomock.Any(), gomock.Any()).Return(provider.Ok(nil))

		_, err := NewDownloader(suite.mock).Download(context.Background(), suite.request(suite.dayStart, suite.dayEnd))
		suite.True(errors.HasCode(err, errors.ErrCodeNoResults))
	})

	suite.Run("paginated", func() {
		gomock.InOrder(
			suite.mock.EXPECT().FetchBatch(gomock.Any(), gomock.Any()).Return(provider.TooLarge("Maximum value for 'count' exceeded")),
			suite.mock.EXPECT().FetchBatch(gomock.Any(), gomock.Any()).Return(provider.Ok([]types.Candle{})),
		)

		_, err := NewDownloader(suite.mock).Download(context.Background(), suite.request(suite.dayStart, suite.dayEnd))
		suite.True(errors.HasCode(err, errors.ErrCodeNoResults))
	})
}

func (suite *DownloaderTestSuite) TestInterruptBetweenBatches() {
	fake := &seriesProvider{
		series:   mocks.NewDataGenerator(8).GenerateRange(suite.dayStart, suite.dayStart.Add(48*time.Hour), 10*time.Second),
		requests: nil,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	downloader := NewDownloader(fake, WithProgress(func(int64, int64, int64) { cancel() }))

	result, err := downloader.Download(ctx, suite.request(suite.dayStart, suite.dayEnd))
	suite.Nil(result)
	suite.True(errors.HasCode(err, errors.ErrCodeInterrupted))
	suite.Len(fake.requests, 2)
}

func (suite *DownloaderTestSuite) TestInterruptDuringBatch() {
	ctx, cancel := context.WithCancel(context.Background())

	suite.mock.EXPECT().FetchBatch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, provider.BatchRequest) provider.BatchResult {
			cancel()

			return provider.ConnectionError(context.Canceled)
		},
	)

	_, err := NewDownloader(suite.mock).Download(ctx, suite.request(suite.dayStart, suite.dayEnd))
	suite.True(errors.HasCode(err, errors.ErrCodeInterrupted))
}

func (suite *DownloaderTestSuite) TestInvalidRequest() {
	tests := []struct {
		name   string
		modify func(*DownloadRequest)
		code   errors.ErrorCode
	}{
		{name: "missing instrument", modify: func(r *DownloadRequest) { r.Instrument = "" }, code: errors.ErrCodeInvalidParameter},
		{name: "unknown granularity", modify: func(r *DownloadRequest) { r.Granularity = "1m" }, code: errors.ErrCodeInvalidGranularity},
		{name: "no price class", modify: func(r *DownloadRequest) { r.Price = types.PriceClasses{} }, code: errors.ErrCodeInvalidPriceClass},
		{name: "end before start", modify: func(r *DownloadRequest) { r.To = optional.Some(r.From - 1) }, code: errors.ErrCodeInvalidTime},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			req := suite.request(suite.dayStart, suite.dayEnd)
			tc.modify(&req)

			_, err := NewDownloader(suite.mock).Download(context.Background(), req)
			suite.Equal(tc.code, errors.GetCode(err))
		})
	}
}

func (suite *DownloaderTestSuite) TestEmptySpan() {
	req := suite.request(suite.dayStart, suite.dayStart)

	_, err := NewDownloader(suite.mock).Download(context.Background(), req)
	suite.True(errors.HasCode(err, errors.ErrCodeNoResults))
}

func (suite *DownloaderTestSuite) TestPercentage() {
	tests := []struct {
		name                string
		current, start, end int64
		expected            float64
	}{
		{name: "at start", current: 100, start: 100, end: 200, expected: 0},
		{name: "half way", current: 150, start: 100, end: 200, expected: 50},
		{name: "at end", current: 200, start: 100, end: 200, expected: 100},
		{name: "before start", current: 50, start: 100, end: 200, expected: 0},
		{name: "past end", current: 250, start: 100, end: 200, expected: 100},
		{name: "empty span", current: 100, start: 100, end: 100, expected: 100},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.InDelta(tc.expected, Percentage(tc.current, tc.start, tc.end), 1e-9)
		})
	}
}
