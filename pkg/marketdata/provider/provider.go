package provider

import (
	"context"
	"fmt"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/oanda-candles/internal/logger"
	"github.com/rxtech-lab/oanda-candles/internal/types"
	"github.com/rxtech-lab/oanda-candles/pkg/errors"
)

// ProviderType defines the type of market data provider.
type ProviderType string

const (
	ProviderOanda ProviderType = "oanda"
)

// MaxCandlesPerRequest is the largest count OANDA accepts for a single candles request.
const MaxCandlesPerRequest = 5000

// BatchRequest is one bounded "get candles" call.
// Exactly one of Count and To must be set. Candles at From are excluded.
type BatchRequest struct {
	Instrument        string
	Price             types.PriceClasses
	Granularity       string
	Smooth            bool
	DailyAlignment    int
	AlignmentTimezone string
	WeeklyAlignment   string
	// From is a UNIX time in seconds.
	From  int64
	Count optional.Option[int]
	// To is a UNIX time in seconds.
	To optional.Option[int64]
}

// Validate checks the window of the request.
func (r BatchRequest) Validate() error {
	if r.Instrument == "" {
		return errors.New(errors.ErrCodeInvalidParameter, "instrument is required")
	}

	if r.Count.IsSome() == r.To.IsSome() {
		return errors.New(errors.ErrCodeInvalidParameter, "exactly one of count and to must be set")
	}

	if r.Count.IsSome() {
		count := r.Count.Unwrap()
		if count < 1 || count > MaxCandlesPerRequest {
			return errors.Newf(errors.ErrCodeInvalidParameter, "count must be between 1 and %d, got %d", MaxCandlesPerRequest, count)
		}
	}

	if r.To.IsSome() && r.To.Unwrap() < r.From {
		return errors.Newf(errors.ErrCodeInvalidParameter, "to (%d) is before from (%d)", r.To.Unwrap(), r.From)
	}

	return nil
}

// Outcome classifies the result of a batch call.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeTooLarge means the server refused the window because it holds more than MaxCandlesPerRequest candles.
	OutcomeTooLarge
	// OutcomeConnectionError means every attempt failed at the transport level.
	OutcomeConnectionError
	// OutcomeAPIError means the server rejected the request for another reason.
	OutcomeAPIError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTooLarge:
		return "too_large"
	case OutcomeConnectionError:
		return "connection_error"
	case OutcomeAPIError:
		return "api_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// BatchResult is the variant returned by Provider.FetchBatch.
// Candles is only meaningful for OutcomeOK, Message for OutcomeTooLarge and OutcomeAPIError.
type BatchResult struct {
	Outcome Outcome
	Candles []types.Candle
	Message string
	Err     error
}

// Ok builds a successful result.
func Ok(candles []types.Candle) BatchResult {
	return BatchResult{Outcome: OutcomeOK, Candles: candles, Message: "", Err: nil}
}

// TooLarge builds a result for an oversized window.
func TooLarge(message string) BatchResult {
	return BatchResult{Outcome: OutcomeTooLarge, Candles: nil, Message: message, Err: nil}
}

// ConnectionError builds a result for exhausted transport retries.
func ConnectionError(err error) BatchResult {
	return BatchResult{Outcome: OutcomeConnectionError, Candles: nil, Message: "", Err: err}
}

// APIError builds a result for a server-side rejection.
func APIError(message string, err error) BatchResult {
	return BatchResult{Outcome: OutcomeAPIError, Candles: nil, Message: message, Err: err}
}

// AsError converts a non-OK result into a structured error. It returns nil for OutcomeOK.
func (r BatchResult) AsError() error {
	switch r.Outcome {
	case OutcomeOK:
		return nil
	case OutcomeTooLarge:
		return errors.New(errors.ErrCodeBatchTooLarge, r.Message)
	case OutcomeConnectionError:
		return errors.Wrap(errors.ErrCodeConnectionFailure, "could not reach the candles endpoint", r.Err)
	case OutcomeAPIError:
		return errors.Wrap(errors.ErrCodeAPIFailure, r.Message, r.Err)
	default:
		return errors.Newf(errors.ErrCodeUnknown, "unexpected batch outcome %s", r.Outcome)
	}
}

// Provider fetches a single batch of candles.
type Provider interface {
	// FetchBatch issues one bounded request and returns its candles oldest first.
	// example:
	// FetchBatch(ctx, BatchRequest{Instrument: "EUR_USD", Granularity: "M1", From: 1546300800, Count: optional.Some(5000)})
	FetchBatch(ctx context.Context, req BatchRequest) BatchResult
}

// NewMarketDataProvider creates a new market data provider based on the provider type.
func NewMarketDataProvider(providerType ProviderType, config any, log *logger.Logger) (Provider, error) {
	switch providerType {
	case ProviderOanda:
		oandaConfig, ok := config.(OandaConfig)
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidConfiguration, "oanda provider requires an OandaConfig")
		}

		client, err := NewOandaClient(oandaConfig, log)
		if err != nil {
			return nil, err
		}

		return client, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unsupported market data provider: %s", providerType)
	}
}
