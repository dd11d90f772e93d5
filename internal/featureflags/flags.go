package featureflags

import (
	"os"
	"sort"
	"strings"
)

// Flag names an optional behavior.
type Flag string

const (
	// SubscriptionSweep runs the worker that deactivates expired tenants.
	SubscriptionSweep Flag = "subscription_sweep"
	// RedisDomainIndex resolves tenant hosts through Redis before Postgres.
	RedisDomainIndex Flag = "redis_domain_index"
	// LoginThrottle rate limits login attempts per tenant and email.
	LoginThrottle Flag = "login_throttle"
)

// Set is the list of flags switched on in configuration.
type Set struct {
	enabled map[Flag]bool
}

// Parse reads a comma separated flag list such as "subscription_sweep,login_throttle".
func Parse(list string) Set {
	s := Set{enabled: map[Flag]bool{}}
	for _, name := range strings.Split(list, ",") {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			s.enabled[Flag(name)] = true
		}
	}
	return s
}

// Enabled reports whether f is on. FLAG_<NAME>=true/1/yes/on or
// false/0/no/off in the environment overrides the configured list.
func (s Set) Enabled(f Flag) bool {
	if v, ok := envOverride(f); ok {
		return v
	}
	return s.enabled[f]
}

// Names lists the configured flags in order, for logging.
func (s Set) Names() []string {
	out := make([]string, 0, len(s.enabled))
	for f := range s.enabled {
		out = append(out, string(f))
	}
	sort.Strings(out)
	return out
}

func envOverride(f Flag) (bool, bool) {
	v, ok := os.LookupEnv("FLAG_" + strings.ToUpper(string(f)))
	if !ok {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
