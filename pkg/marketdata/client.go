package marketdata

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/oanda-candles/internal/logger"
	"github.com/rxtech-lab/oanda-candles/internal/types"
	"github.com/rxtech-lab/oanda-candles/pkg/errors"
	"github.com/rxtech-lab/oanda-candles/pkg/marketdata/provider"
	"github.com/rxtech-lab/oanda-candles/pkg/marketdata/writer"
	"go.uber.org/zap"
)

// ClientConfig holds the configuration for the market data client.
type ClientConfig struct {
	ProviderType provider.ProviderType `validate:"required,oneof=oanda"`
	WriterType   writer.Format         `validate:"required,oneof=csv parquet"`
	OutputPath   string                `validate:"required"`
	TimeFormat   types.TimeFormat      `validate:"required,oneof=UNIX RFC3339"`
	// MetricsFile receives batch metrics in the Prometheus text format after every fetch. Empty disables metrics.
	MetricsFile  string
	Oanda        provider.OandaConfig
}

// DownloadSummary describes a finished download.
type DownloadSummary struct {
	OutputPath string
	Candles    int
	From       int64
	To         int64
}

// Client is the market data client responsible for downloading candles and storing them using writers.
type Client struct {
	provider   provider.Provider
	config     ClientConfig
	onProgress OnDownloadProgress
	metrics    *Metrics
	logger     *logger.Logger
}

// NewClient creates a new market data client with the given configuration.
func NewClient(config ClientConfig, onProgress OnDownloadProgress, log *logger.Logger) (*Client, error) {
	if err := validateClientConfig(config); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	marketProvider, err := provider.NewMarketDataProvider(config.ProviderType, config.Oanda, log)
	if err != nil {
		return nil, err
	}

	return newClient(marketProvider, config, onProgress, log), nil
}

// NewClientWithProvider creates a client on top of an existing provider.
func NewClientWithProvider(p provider.Provider, config ClientConfig, onProgress OnDownloadProgress, log *logger.Logger) (*Client, error) {
	if err := validateClientConfig(config); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return newClient(p, config, onProgress, log), nil
}

func newClient(p provider.Provider, config ClientConfig, onProgress OnDownloadProgress, log *logger.Logger) *Client {
	if onProgress == nil {
		onProgress = func(int64, int64, int64) {}
	}

	var metrics *Metrics
	if config.MetricsFile != "" {
		metrics = NewMetrics()
		p = metrics.Instrument(p)
	}

	return &Client{
		provider:   p,
		config:     config,
		onProgress: onProgress,
		metrics:    metrics,
		logger:     log,
	}
}

func validateClientConfig(config ClientConfig) error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid client configuration", err)
	}

	return nil
}

// Download fetches the requested range and writes it to the output file.
// The file is only written once every candle has been downloaded.
func (c *Client) Download(ctx context.Context, req DownloadRequest) (DownloadSummary, error) {
	candles, err := c.Fetch(ctx, req)
	if err != nil {
		return DownloadSummary{}, err
	}

	outputPath, err := c.Write(candles, req.Price)
	if err != nil {
		return DownloadSummary{}, err
	}

	c.logger.Info("Download finished",
		zap.String("instrument", req.Instrument),
		zap.Int("candles", len(candles)),
		zap.String("output", outputPath),
	)

	return DownloadSummary{
		OutputPath: outputPath,
		Candles:    len(candles),
		From:       candles[0].Time,
		To:         candles[len(candles)-1].Time,
	}, nil
}

// Fetch downloads the requested range without writing it.
func (c *Client) Fetch(ctx context.Context, req DownloadRequest) ([]types.Candle, error) {
	if c.metrics != nil {
		defer func() {
			if err := c.metrics.WriteToFile(c.config.MetricsFile); err != nil {
				c.logger.Warn("Failed to write metrics", zap.Error(err))
			}
		}()
	}

	downloader := NewDownloader(c.provider,
		WithProgress(c.onProgress),
		WithLogger(c.logger),
	)

	return downloader.Download(ctx, req)
}

// Write stores candles in the configured output file. Nothing is left behind on failure.
func (c *Client) Write(candles []types.Candle, price types.PriceClasses) (string, error) {
	candleWriter, err := writer.NewCandleWriter(c.config.WriterType, c.config.OutputPath, price, c.config.TimeFormat)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeWriteFailed, "failed to create writer", err)
	}

	defer func() {
		if err := candleWriter.Close(); err != nil {
			c.logger.Warn("Failed to close writer", zap.Error(err))
		}
	}()

	if err := candleWriter.Initialize(); err != nil {
		return "", errors.Wrapf(errors.ErrCodeWriteFailed, err, "failed to initialize writer for %s", c.config.OutputPath)
	}

	for _, candle := range candles {
		if err := candleWriter.Write(candle); err != nil {
			return "", errors.Wrap(errors.ErrCodeWriteFailed, "failed to write candle", err)
		}
	}

	outputPath, err := candleWriter.Finalize()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeWriteFailed, "failed to finalize output", err)
	}

	return outputPath, nil
}
