package mocks

import (
	"math"
	"math/rand"
	"time"

	"github.com/rxtech-lab/oanda-candles/internal/types"
	"github.com/shopspring/decimal"
)

// DataGenerator generates realistic candle series for testing.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator creates a new DataGenerator with the given seed.
// Use a fixed seed for reproducible results in tests.
func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// GeneratorConfig configures how candles are generated.
type GeneratorConfig struct {
	// StartTime is the time of the first candle
	StartTime time.Time
	// Interval is the duration between each candle
	Interval time.Duration
	// Count is the number of candles to generate
	Count int
	// InitialPrice is the starting mid price
	InitialPrice float64
	// Volatility controls price movement per candle
	Volatility float64
	// Spread is the distance between bid and ask
	Spread float64
	// VolumeBase is the average tick volume per candle
	VolumeBase int64
}

// DefaultConfig returns a sensible default configuration for a major FX pair.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		StartTime:    time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval:     time.Minute,
		Count:        1000,
		InitialPrice: 1.1450,
		Volatility:   0.0005,
		Spread:       0.0002,
		VolumeBase:   100,
	}
}

// Generate creates a candle series with ask, bid and mid prices populated.
// Prices follow a geometric random walk and are rounded to five decimals like FX quotes.
func (g *DataGenerator) Generate(config GeneratorConfig) []types.Candle {
	candles := make([]types.Candle, config.Count)
	currentPrice := config.InitialPrice
	currentTime := config.StartTime

	for i := 0; i < config.Count; i++ {
		open := currentPrice

		// Box-Muller transform for normal distribution
		u1 := g.rng.Float64()
		u2 := g.rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		closePrice := open * (1 + config.Volatility*z)
		if closePrice <= 0 {
			closePrice = open * 0.99
		}

		high := math.Max(open, closePrice) + math.Abs(g.rng.Float64()*config.Volatility*open*0.5)
		low := math.Min(open, closePrice) - math.Abs(g.rng.Float64()*config.Volatility*open*0.5)

		volume := config.VolumeBase + int64(g.rng.Intn(int(config.VolumeBase)+1))

		half := config.Spread / 2
		candles[i] = types.Candle{
			Time:     currentTime.Unix(),
			Ask:      newOHLC(open+half, high+half, low+half, closePrice+half),
			Bid:      newOHLC(open-half, high-half, low-half, closePrice-half),
			Mid:      newOHLC(open, high, low, closePrice),
			Volume:   volume,
			Complete: true,
		}

		currentPrice = closePrice
		currentTime = currentTime.Add(config.Interval)
	}

	return candles
}

// GenerateRange generates one candle per interval with times in [from, to].
func (g *DataGenerator) GenerateRange(from, to time.Time, interval time.Duration) []types.Candle {
	config := DefaultConfig()
	config.StartTime = from
	config.Interval = interval
	config.Count = int(to.Sub(from)/interval) + 1

	return g.Generate(config)
}

func newOHLC(open, high, low, closePrice float64) *types.OHLC {
	return &types.OHLC{
		Open:  decimal.NewFromFloat(open).Round(5),
		High:  decimal.NewFromFloat(high).Round(5),
		Low:   decimal.NewFromFloat(low).Round(5),
		Close: decimal.NewFromFloat(closePrice).Round(5),
	}
}
