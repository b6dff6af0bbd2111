package marketdata

import "time"

// Granularity is the OANDA candlestick interval.
type Granularity string

const (
	GranularityS5  Granularity = "S5"
	GranularityS10 Granularity = "S10"
	GranularityS15 Granularity = "S15"
	GranularityS30 Granularity = "S30"
	GranularityM1  Granularity = "M1"
	GranularityM2  Granularity = "M2"
	GranularityM4  Granularity = "M4"
	GranularityM5  Granularity = "M5"
	GranularityM10 Granularity = "M10"
	GranularityM15 Granularity = "M15"
	GranularityM30 Granularity = "M30"
	GranularityH1  Granularity = "H1"
	GranularityH2  Granularity = "H2"
	GranularityH3  Granularity = "H3"
	GranularityH4  Granularity = "H4"
	GranularityH6  Granularity = "H6"
	GranularityH8  Granularity = "H8"
	GranularityH12 Granularity = "H12"
	GranularityD   Granularity = "D"
	GranularityW   Granularity = "W"
	GranularityM   Granularity = "M"
)

var granularityDurations = map[Granularity]time.Duration{
	GranularityS5:  5 * time.Second,
	GranularityS10: 10 * time.Second,
	GranularityS15: 15 * time.Second,
	GranularityS30: 30 * time.Second,
	GranularityM1:  time.Minute,
	GranularityM2:  2 * time.Minute,
	GranularityM4:  4 * time.Minute,
	GranularityM5:  5 * time.Minute,
	GranularityM10: 10 * time.Minute,
	GranularityM15: 15 * time.Minute,
	GranularityM30: 30 * time.Minute,
	GranularityH1:  time.Hour,
	GranularityH2:  2 * time.Hour,
	GranularityH3:  3 * time.Hour,
	GranularityH4:  4 * time.Hour,
	GranularityH6:  6 * time.Hour,
	GranularityH8:  8 * time.Hour,
	GranularityH12: 12 * time.Hour,
	GranularityD:   24 * time.Hour,
	GranularityW:   7 * 24 * time.Hour,
	// months vary in length, 30 days is used for estimates only
	GranularityM: 30 * 24 * time.Hour,
}

// Valid reports whether g is a granularity OANDA accepts.
func (g Granularity) Valid() bool {
	_, ok := granularityDurations[g]

	return ok
}

// Duration returns the nominal length of one candle, or 0 for an unknown granularity.
func (g Granularity) Duration() time.Duration {
	return granularityDurations[g]
}

// EstimateCandles returns an upper bound for the number of candles in (from, to].
// Market closures make the real number smaller.
func (g Granularity) EstimateCandles(from, to int64) int64 {
	d := int64(g.Duration() / time.Second)
	if d == 0 || to <= from {
		return 0
	}

	return (to - from) / d
}
