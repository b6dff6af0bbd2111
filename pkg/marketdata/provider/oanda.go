package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/rxtech-lab/oanda-candles/internal/logger"
	"github.com/rxtech-lab/oanda-candles/internal/types"
	"github.com/rxtech-lab/oanda-candles/internal/utils"
	"github.com/rxtech-lab/oanda-candles/pkg/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	candlesPath = "/v3/instruments/{instrument}/candles"

	// tooManyCandlesMessage is what OANDA answers when a window holds more than MaxCandlesPerRequest candles.
	tooManyCandlesMessage = "Maximum value for 'count' exceeded"

	// DefaultMaxAttempts bounds how often a batch is sent when the connection keeps failing.
	DefaultMaxAttempts = 5
	DefaultTimeout     = 30 * time.Second
)

// OandaConfig holds the connection settings for the OANDA v20 REST API.
type OandaConfig struct {
	// Hostname is either a bare host such as "api-fxpractice.oanda.com" (https is assumed)
	// or a full base URL.
	Hostname string `validate:"required"`
	Token    string `validate:"required"`
	// MaxAttempts defaults to DefaultMaxAttempts when zero.
	MaxAttempts   int `validate:"min=0"`
	RetryInterval time.Duration
	// Timeout defaults to DefaultTimeout when zero.
	Timeout time.Duration
}

// OandaClient implements Provider on top of the v20 instrument candles endpoint.
type OandaClient struct {
	client        *resty.Client
	logger        *logger.Logger
	maxAttempts   int
	retryInterval time.Duration
}

// NewOandaClient creates a client for the given host and token.
func NewOandaClient(config OandaConfig, log *logger.Logger) (*OandaClient, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid oanda config", err)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	maxAttempts := config.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	client := resty.New().
		SetBaseURL(BaseURL(config.Hostname)).
		SetAuthToken(config.Token).
		SetHeader("Accept-Datetime-Format", "UNIX").
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout).
		SetLogger(restyLogger{logger: log.Sugar()})

	return &OandaClient{
		client:        client,
		logger:        log,
		maxAttempts:   maxAttempts,
		retryInterval: config.RetryInterval,
	}, nil
}

// restyLogger routes resty's own messages to debug level; failed attempts are reported by FetchBatch.
type restyLogger struct {
	logger *zap.SugaredLogger
}

func (l restyLogger) Errorf(format string, v ...interface{}) { l.logger.Debugf(format, v...) }
func (l restyLogger) Warnf(format string, v ...interface{})  { l.logger.Debugf(format, v...) }
func (l restyLogger) Debugf(format string, v ...interface{}) { l.logger.Debugf(format, v...) }

// BaseURL turns a configured hostname into the API base URL.
func BaseURL(hostname string) string {
	hostname = strings.TrimRight(hostname, "/")
	if strings.Contains(hostname, "://") {
		return hostname
	}

	return "https://" + hostname
}

type candlesResponse struct {
	Instrument  string        `json:"instrument"`
	Granularity string        `json:"granularity"`
	Candles     []oandaCandle `json:"candles"`
}

type oandaCandle struct {
	Time     string      `json:"time"`
	Complete bool        `json:"complete"`
	Volume   int64       `json:"volume"`
	Ask      *types.OHLC `json:"ask"`
	Bid      *types.OHLC `json:"bid"`
	Mid      *types.OHLC `json:"mid"`
}

// FetchBatch issues one candles request. Transport failures are retried with the identical
// request up to the configured number of attempts.
func (c *OandaClient) FetchBatch(ctx context.Context, req BatchRequest) BatchResult {
	if err := req.Validate(); err != nil {
		return APIError(errors.GetMessage(err), err)
	}

	resp, err := c.send(ctx, req)
	if err != nil {
		return ConnectionError(err)
	}

	if resp.StatusCode() != http.StatusOK {
		message := gjson.GetBytes(resp.Body(), "errorMessage").String()
		if message == "" {
			message = resp.Status()
		}

		if message == tooManyCandlesMessage {
			return TooLarge(message)
		}

		return APIError(message, nil)
	}

	candles, err := decodeCandles(resp.Body(), req)
	if err != nil {
		return APIError("malformed candles response", errors.Wrap(errors.ErrCodeMalformedResponse, "failed to decode candles", err))
	}

	c.logger.Debug("Fetched candle batch",
		zap.String("instrument", req.Instrument),
		zap.Int64("from", req.From),
		zap.Int("candles", len(candles)),
	)

	return Ok(candles)
}

func (c *OandaClient) send(ctx context.Context, req BatchRequest) (*resty.Response, error) {
	var resp *resty.Response

	attempt := 0
	operation := func() error {
		attempt++

		r, err := c.client.R().
			SetContext(ctx).
			SetPathParam("instrument", req.Instrument).
			SetQueryParamsFromValues(queryParams(req)).
			Get(candlesPath)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}

			return err
		}

		resp = r

		return nil
	}

	//nolint:gosec // maxAttempts is validated to be non-negative
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryInterval), uint64(c.maxAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(operation, policy, func(err error, _ time.Duration) {
		c.logger.Warn("Candles request failed, retrying",
			zap.String("instrument", req.Instrument),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", c.maxAttempts),
			zap.Error(err),
		)
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func queryParams(req BatchRequest) url.Values {
	params := url.Values{}
	params.Set("price", req.Price.String())
	params.Set("granularity", req.Granularity)
	params.Set("smooth", strconv.FormatBool(req.Smooth))
	params.Set("includeFirst", "false")
	params.Set("dailyAlignment", strconv.Itoa(req.DailyAlignment))
	params.Set("alignmentTimezone", req.AlignmentTimezone)
	params.Set("weeklyAlignment", req.WeeklyAlignment)
	params.Set("from", strconv.FormatInt(req.From, 10))

	if req.Count.IsSome() {
		params.Set("count", strconv.Itoa(req.Count.Unwrap()))
	} else {
		params.Set("to", strconv.FormatInt(req.To.Unwrap(), 10))
	}

	return params
}

// decodeCandles keeps only the requested price classes and candles strictly after req.From.
// A body without a candles array yields an empty batch.
func decodeCandles(body []byte, req BatchRequest) ([]types.Candle, error) {
	var payload candlesResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	candles := make([]types.Candle, 0, len(payload.Candles))

	for _, raw := range payload.Candles {
		unix, err := utils.ParseUnix(raw.Time)
		if err != nil {
			return nil, err
		}

		if unix <= req.From {
			continue
		}

		candle := types.Candle{
			Time:     unix,
			Ask:      nil,
			Bid:      nil,
			Mid:      nil,
			Volume:   raw.Volume,
			Complete: raw.Complete,
		}

		if req.Price.Ask {
			candle.Ask = raw.Ask
		}

		if req.Price.Bid {
			candle.Bid = raw.Bid
		}

		if req.Price.Mid {
			candle.Mid = raw.Mid
		}

		candles = append(candles, candle)
	}

	slices.SortStableFunc(candles, func(a, b types.Candle) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		default:
			return 0
		}
	})

	return candles, nil
}
