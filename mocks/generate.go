package mocks

//go:generate mockgen -destination=./mock_provider.go -package=mocks github.com/rxtech-lab/oanda-candles/pkg/marketdata/provider Provider
