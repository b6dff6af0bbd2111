package marketdata

import (
	"sort"

	"github.com/rxtech-lab/oanda-candles/pkg/errors"
)

// Environment is an OANDA trading environment.
type Environment string

const (
	EnvironmentPractice Environment = "practice"
	EnvironmentLive     Environment = "live"
)

const (
	PracticeHostname = "api-fxpractice.oanda.com"
	LiveHostname     = "api-fxtrade.oanda.com"
)

// EnvironmentInfo contains metadata about an OANDA environment.
type EnvironmentInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Hostname    string `json:"hostname"`
}

// environmentRegistry holds metadata about all known environments.
var environmentRegistry = map[Environment]EnvironmentInfo{
	EnvironmentPractice: {
		Name:        string(EnvironmentPractice),
		DisplayName: "fxTrade Practice",
		Description: "Demo account environment",
		Hostname:    PracticeHostname,
	},
	EnvironmentLive: {
		Name:        string(EnvironmentLive),
		DisplayName: "fxTrade",
		Description: "Live account environment",
		Hostname:    LiveHostname,
	},
}

// GetSupportedEnvironments returns the sorted names of all known environments.
func GetSupportedEnvironments() []string {
	environments := make([]string, 0, len(environmentRegistry))
	for environment := range environmentRegistry {
		environments = append(environments, string(environment))
	}

	sort.Strings(environments)

	return environments
}

// GetEnvironmentInfo returns metadata for a specific environment.
func GetEnvironmentInfo(name string) (EnvironmentInfo, error) {
	info, exists := environmentRegistry[Environment(name)]
	if !exists {
		return EnvironmentInfo{}, errors.Newf(errors.ErrCodeInvalidParameter, "unsupported environment: %s", name)
	}

	return info, nil
}

// ResolveHostname maps an environment name to its hostname. Anything else is returned unchanged.
func ResolveHostname(hostname string) string {
	if info, err := GetEnvironmentInfo(hostname); err == nil {
		return info.Hostname
	}

	return hostname
}
