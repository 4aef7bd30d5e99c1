package ratelimit

import (
	"strings"
)

// MatchEndpoint returns the rule for a request. Unlimited paths yield a zero Limit, exact
// rules win over prefix rules (paths ending in "/"), and the longest prefix wins among those.
// Requests that match nothing fall back to the default limit.
func MatchEndpoint(path, method string, config *Config) EndpointConfig {
	for _, p := range config.Unlimited {
		if p == path {
			return EndpointConfig{Path: path, Method: method}
		}
	}

	var best *EndpointConfig
	for i := range config.EndpointConfigs {
		rule := &config.EndpointConfigs[i]
		if rule.Method != method {
			continue
		}
		if rule.Path == path {
			return *rule
		}
		if strings.HasSuffix(rule.Path, "/") && strings.HasPrefix(path, rule.Path) {
			if best == nil || len(rule.Path) > len(best.Path) {
				best = rule
			}
		}
	}
	if best != nil {
		return *best
	}

	return EndpointConfig{
		Path:   path,
		Method: method,
		Limit:  config.DefaultLimit,
		Window: config.DefaultWindow,
		Burst:  config.DefaultLimit,
	}
}
