package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceClass is one of the price components OANDA can return for a candle.
type PriceClass string

const (
	PriceClassAsk PriceClass = "A"
	PriceClassBid PriceClass = "B"
	PriceClassMid PriceClass = "M"
)

// TimeFormat controls how the time column of a candle is rendered.
type TimeFormat string

const (
	TimeFormatUnix    TimeFormat = "UNIX"
	TimeFormatRFC3339 TimeFormat = "RFC3339"
)

// rfc3339Seconds is RFC3339 without fractional seconds and without a zone suffix.
const rfc3339Seconds = "2006-01-02T15:04:05"

// Format renders a UNIX time in seconds.
func (f TimeFormat) Format(unix int64) string {
	if f == TimeFormatRFC3339 {
		return time.Unix(unix, 0).UTC().Format(rfc3339Seconds)
	}

	return strconv.FormatInt(unix, 10)
}

// OHLC holds the four prices of one price class.
type OHLC struct {
	Open  decimal.Decimal `json:"o"`
	High  decimal.Decimal `json:"h"`
	Low   decimal.Decimal `json:"l"`
	Close decimal.Decimal `json:"c"`
}

// Candle is a single time-stamped price observation.
// Which of Ask, Bid and Mid are set is decided once per download by the requested PriceClasses.
type Candle struct {
	// Time is the candle open time in UNIX seconds.
	Time     int64
	Ask      *OHLC
	Bid      *OHLC
	Mid      *OHLC
	Volume   int64
	Complete bool
}

// PriceClasses is the set of price classes requested for a download.
type PriceClasses struct {
	Ask bool
	Bid bool
	Mid bool
}

// ParsePriceClasses parses a price string such as "AB" or "M".
// Characters may appear in any order but only once each.
func ParsePriceClasses(price string) (PriceClasses, error) {
	var classes PriceClasses

	if price == "" {
		return classes, fmt.Errorf("price must contain at least one of A, B, M")
	}

	for _, r := range price {
		switch PriceClass(r) {
		case PriceClassAsk:
			if classes.Ask {
				return PriceClasses{}, fmt.Errorf("duplicate price class %q in %q", r, price)
			}

			classes.Ask = true
		case PriceClassBid:
			if classes.Bid {
				return PriceClasses{}, fmt.Errorf("duplicate price class %q in %q", r, price)
			}

			classes.Bid = true
		case PriceClassMid:
			if classes.Mid {
				return PriceClasses{}, fmt.Errorf("duplicate price class %q in %q", r, price)
			}

			classes.Mid = true
		default:
			return PriceClasses{}, fmt.Errorf("unknown price class %q in %q", r, price)
		}
	}

	return classes, nil
}

// String returns the canonical request form, e.g. "ABM".
func (p PriceClasses) String() string {
	var sb strings.Builder

	if p.Ask {
		sb.WriteString(string(PriceClassAsk))
	}

	if p.Bid {
		sb.WriteString(string(PriceClassBid))
	}

	if p.Mid {
		sb.WriteString(string(PriceClassMid))
	}

	return sb.String()
}

// Fields returns the ordered column names for candles of this price class set.
// Volume is always included, the price columns only for requested classes.
func (p PriceClasses) Fields() []string {
	fields := []string{"time"}

	if p.Ask {
		fields = append(fields, "openAsk", "highAsk", "lowAsk", "closeAsk")
	}

	if p.Bid {
		fields = append(fields, "openBid", "highBid", "lowBid", "closeBid")
	}

	if p.Mid {
		fields = append(fields, "open", "high", "low", "close")
	}

	return append(fields, "volume")
}

// Record renders a candle as a row matching Fields.
func (p PriceClasses) Record(c Candle, format TimeFormat) []string {
	record := make([]string, 0, 14)
	record = append(record, format.Format(c.Time))

	if p.Ask {
		record = appendOHLC(record, c.Ask)
	}

	if p.Bid {
		record = appendOHLC(record, c.Bid)
	}

	if p.Mid {
		record = appendOHLC(record, c.Mid)
	}

	return append(record, strconv.FormatInt(c.Volume, 10))
}

func appendOHLC(record []string, ohlc *OHLC) []string {
	if ohlc == nil {
		return append(record, "", "", "", "")
	}

	return append(record,
		formatPrice(ohlc.Open),
		formatPrice(ohlc.High),
		formatPrice(ohlc.Low),
		formatPrice(ohlc.Close),
	)
}

// formatPrice keeps the precision the price was quoted with, trailing zeros included.
func formatPrice(d decimal.Decimal) string {
	return d.StringFixed(max(0, -d.Exponent()))
}
