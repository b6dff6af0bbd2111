// Package mockserver provides a mock OANDA v20 server for testing.
// It implements the instrument candles endpoint with the same windowing rules as the real API.
package mockserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rxtech-lab/oanda-candles/internal/types"
)

const (
	// MaxCount mirrors the server side candle limit of the real API.
	MaxCount = 5000
	// DefaultCount is used when neither count nor to is given.
	DefaultCount = 500

	TooManyCandlesMessage = "Maximum value for 'count' exceeded"
)

// RecordedRequest is a candles request as seen by the server.
type RecordedRequest struct {
	Instrument string
	Query      url.Values
	Header     http.Header
}

// Int64 returns a numeric query parameter, or -1 if it is absent.
func (r RecordedRequest) Int64(key string) int64 {
	value := r.Query.Get(key)
	if value == "" {
		return -1
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return -1
	}

	return parsed
}

// MockOandaServer serves candles for a set of instruments.
type MockOandaServer struct {
	mu sync.Mutex

	server *httptest.Server
	token  string

	candles  map[string][]types.Candle
	requests []RecordedRequest

	// dropConnections is the number of upcoming requests closed without a response.
	dropConnections int
	// rejectMessage, when set, is returned as a 400 for every request.
	rejectMessage string
}

// NewMockOandaServer starts a server accepting the given bearer token.
func NewMockOandaServer(token string) *MockOandaServer {
	s := &MockOandaServer{
		mu:              sync.Mutex{},
		server:          nil,
		token:           token,
		candles:         make(map[string][]types.Candle),
		requests:        make([]RecordedRequest, 0),
		dropConnections: 0,
		rejectMessage:   "",
	}

	router := mux.NewRouter()
	router.HandleFunc("/v3/instruments/{instrument}/candles", s.handleCandles).Methods(http.MethodGet)

	s.server = httptest.NewServer(router)

	return s
}

// URL returns the base URL of the server.
func (s *MockOandaServer) URL() string {
	return s.server.URL
}

// Close shuts the server down.
func (s *MockOandaServer) Close() {
	s.server.Close()
}

// SetCandles replaces the series served for an instrument. Candles must be sorted by time.
func (s *MockOandaServer) SetCandles(instrument string, candles []types.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.candles[instrument] = candles
}

// DropConnections makes the next n requests fail at the connection level.
func (s *MockOandaServer) DropConnections(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropConnections = n
}

// RejectWith makes every request fail with a 400 carrying message. An empty message disables it.
func (s *MockOandaServer) RejectWith(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rejectMessage = message
}

// Requests returns a copy of all requests received so far.
func (s *MockOandaServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]RecordedRequest(nil), s.requests...)
}

func (s *MockOandaServer) handleCandles(w http.ResponseWriter, r *http.Request) {
	instrument := mux.Vars(r)["instrument"]

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Instrument: instrument,
		Query:      r.URL.Query(),
		Header:     r.Header.Clone(),
	})

	drop := s.dropConnections > 0
	if drop {
		s.dropConnections--
	}

	reject := s.rejectMessage
	series, known := s.candles[instrument]
	s.mu.Unlock()

	if drop {
		closeConnection(w)

		return
	}

	if r.Header.Get("Authorization") != "Bearer "+s.token {
		writeError(w, http.StatusUnauthorized, "Insufficient authorization to perform request.")

		return
	}

	if reject != "" {
		writeError(w, http.StatusBadRequest, reject)

		return
	}

	if !known {
		writeError(w, http.StatusBadRequest, "Invalid value specified for 'instrument'")

		return
	}

	selected, status, message := selectCandles(series, r.URL.Query())
	if status != http.StatusOK {
		writeError(w, status, message)

		return
	}

	price := r.URL.Query().Get("price")
	if price == "" {
		price = "M"
	}

	unixTimes := r.Header.Get("Accept-Datetime-Format") == "UNIX"

	body := map[string]any{
		"instrument":  instrument,
		"granularity": r.URL.Query().Get("granularity"),
		"candles":     renderCandles(selected, price, unixTimes),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// selectCandles applies the from/to/count window. from is exclusive unless includeFirst is true.
func selectCandles(series []types.Candle, query url.Values) ([]types.Candle, int, string) {
	from, err := strconv.ParseInt(query.Get("from"), 10, 64)
	if err != nil {
		return nil, http.StatusBadRequest, "Invalid value specified for 'from'"
	}

	includeFirst := query.Get("includeFirst") != "false"

	start := 0
	for start < len(series) && (series[start].Time < from || (!includeFirst && series[start].Time == from)) {
		start++
	}

	if query.Has("count") && query.Has("to") {
		return nil, http.StatusBadRequest, "Cannot specify 'count' when 'from' and 'to' are both specified"
	}

	if query.Has("to") {
		to, err := strconv.ParseInt(query.Get("to"), 10, 64)
		if err != nil {
			return nil, http.StatusBadRequest, "Invalid value specified for 'to'"
		}

		end := start
		for end < len(series) && series[end].Time <= to {
			end++
		}

		if end-start > MaxCount {
			return nil, http.StatusBadRequest, TooManyCandlesMessage
		}

		return series[start:end], http.StatusOK, ""
	}

	count := DefaultCount

	if query.Has("count") {
		count, err = strconv.Atoi(query.Get("count"))
		if err != nil {
			return nil, http.StatusBadRequest, "Invalid value specified for 'count'"
		}
	}

	if count > MaxCount {
		return nil, http.StatusBadRequest, TooManyCandlesMessage
	}

	end := min(start+count, len(series))

	return series[start:end], http.StatusOK, ""
}

func renderCandles(candles []types.Candle, price string, unixTimes bool) []map[string]any {
	rendered := make([]map[string]any, 0, len(candles))

	for _, c := range candles {
		item := map[string]any{
			"complete": c.Complete,
			"volume":   c.Volume,
			"time":     formatTime(c.Time, unixTimes),
		}

		if strings.Contains(price, "A") && c.Ask != nil {
			item["ask"] = renderOHLC(c.Ask)
		}

		if strings.Contains(price, "B") && c.Bid != nil {
			item["bid"] = renderOHLC(c.Bid)
		}

		if strings.Contains(price, "M") && c.Mid != nil {
			item["mid"] = renderOHLC(c.Mid)
		}

		rendered = append(rendered, item)
	}

	return rendered
}

func renderOHLC(ohlc *types.OHLC) map[string]string {
	return map[string]string{
		"o": ohlc.Open.StringFixed(5),
		"h": ohlc.High.StringFixed(5),
		"l": ohlc.Low.StringFixed(5),
		"c": ohlc.Close.StringFixed(5),
	}
}

func formatTime(unix int64, unixTimes bool) string {
	if unixTimes {
		return fmt.Sprintf("%d.000000000", unix)
	}

	return time.Unix(unix, 0).UTC().Format("2006-01-02T15:04:05.000000000Z")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"errorMessage": message})
}

// closeConnection drops the TCP connection so the client sees a transport error.
func closeConnection(w http.ResponseWriter) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		panic("mockserver: response writer does not support hijacking")
	}

	conn, _, err := hijacker.Hijack()
	if err != nil {
		panic(fmt.Sprintf("mockserver: hijack failed: %v", err))
	}

	_ = conn.Close()
}
