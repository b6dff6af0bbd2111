package main

import (
	"fmt"
	"io"

	"github.com/rxtech-lab/oanda-candles/internal/logger"
	"github.com/rxtech-lab/oanda-candles/pkg/marketdata"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// progressSteps gives the bar a resolution of 0.1%.
const progressSteps = 1000

// progressBar renders download progress in place. The bar is created on the first
// update so a download that fits into a single batch prints nothing.
type progressBar struct {
	out    io.Writer
	bar    *progressbar.ProgressBar
	logger *logger.Logger
}

func newProgressBar(out io.Writer, log *logger.Logger) *progressBar {
	return &progressBar{out: out, bar: nil, logger: log}
}

// Update matches marketdata.OnDownloadProgress.
func (p *progressBar) Update(current, start, end int64) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions(progressSteps,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetWidth(50),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "#",
				SaucerHead:    "#",
				SaucerPadding: ".",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}

	if err := p.bar.Set(int(marketdata.Percentage(current, start, end) * progressSteps / 100)); err != nil {
		p.logger.Debug("Failed to render progress bar", zap.Error(err))
	}
}

// Close moves the cursor past the bar if one was drawn.
func (p *progressBar) Close() {
	if p.bar == nil {
		return
	}

	fmt.Fprintln(p.out)

	p.bar = nil
}
