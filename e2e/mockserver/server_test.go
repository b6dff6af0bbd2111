package mockserver

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/rxtech-lab/oanda-candles/mocks"
	"github.com/stretchr/testify/suite"
)

type MockServerTestSuite struct {
	suite.Suite
	server *MockOandaServer
	start  time.Time
}

func TestMockServerSuite(t *testing.T) {
	suite.Run(t, new(MockServerTestSuite))
}

func (suite *MockServerTestSuite) SetupTest() {
	suite.start = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	suite.server = NewMockOandaServer("secret")
	suite.server.SetCandles("EUR_USD", mocks.NewDataGenerator(1).GenerateRange(suite.start, suite.start.Add(10*time.Minute), time.Minute))
}

func (suite *MockServerTestSuite) TearDownTest() {
	suite.server.Close()
}

func (suite *MockServerTestSuite) get(query string) (int, map[string]any) {
	req, err := http.NewRequest(http.MethodGet, suite.server.URL()+"/v3/instruments/EUR_USD/candles?"+query, nil)
	suite.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Accept-Datetime-Format", "UNIX")

	resp, err := http.DefaultClient.Do(req)
	suite.Require().NoError(err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	suite.Require().NoError(err)

	var body map[string]any
	suite.Require().NoError(json.Unmarshal(raw, &body))

	return resp.StatusCode, body
}

func (suite *MockServerTestSuite) TestCountWindowExcludesFrom() {
	status, body := suite.get("price=M&includeFirst=false&count=3&from=1546300800")
	suite.Equal(http.StatusOK, status)

	candles := body["candles"].([]any)
	suite.Len(candles, 3)
	suite.Equal("1546300860.000000000", candles[0].(map[string]any)["time"])
	suite.Contains(candles[0].(map[string]any), "mid")
	suite.NotContains(candles[0].(map[string]any), "ask")
}

func (suite *MockServerTestSuite) TestToWindow() {
	status, body := suite.get("price=AB&includeFirst=false&from=1546300800&to=1546301100")
	suite.Equal(http.StatusOK, status)
	suite.Len(body["candles"].([]any), 5)
}

func (suite *MockServerTestSuite) TestTooManyCandles() {
	status, body := suite.get("price=M&from=1546300800&count=5001")
	suite.Equal(http.StatusBadRequest, status)
	suite.Equal(TooManyCandlesMessage, body["errorMessage"])
}

func (suite *MockServerTestSuite) TestRejectWith() {
	suite.server.RejectWith("Invalid value specified for 'granularity'")

	status, body := suite.get("price=M&from=1546300800&count=1")
	suite.Equal(http.StatusBadRequest, status)
	suite.Equal("Invalid value specified for 'granularity'", body["errorMessage"])
}

func (suite *MockServerTestSuite) TestUnauthorized() {
	resp, err := http.Get(suite.server.URL() + "/v3/instruments/EUR_USD/candles?from=1546300800")
	suite.Require().NoError(err)
	defer resp.Body.Close()

	suite.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (suite *MockServerTestSuite) TestDropConnections() {
	suite.server.DropConnections(1)

	_, err := http.Get(suite.server.URL() + "/v3/instruments/EUR_USD/candles?from=1546300800")
	suite.Error(err)
	suite.Len(suite.server.Requests(), 1)
}
