package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Settings are the typed, resolved options a command runs with.
type Settings struct {
	LogLevel   string
	LogFormat  string
	Period     time.Duration
	MaxSteps   int
	CBFEnabled bool
	CBFDebug   bool
	CBFGain    float64
	EventsDB   string
	// EventsMaxAge and EventsMaxRuns bound the recorded runs kept in EventsDB.
	EventsMaxAge  time.Duration
	EventsMaxRuns int
	MetricsAddr   string
}

// Settings resolves every global option for section (see ResolveFor). Values
// that fail validation are reported together in the returned error.
func (s *ConfigSchema) Settings(c *Config, section string) (Settings, error) {
	var (
		out  Settings
		errs []string
	)
	get := func(key string) string {
		v := s.ResolveFor(c, section, key)
		if opt := s.Lookup("", key); opt != nil {
			if err := opt.Validate(v); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return opt.Default
			}
		}
		return v
	}

	out.LogLevel = strings.ToLower(get(KeyLogLevel))
	out.LogFormat = strings.ToLower(get(KeyLogFormat))
	out.Period, _ = time.ParseDuration(get(KeyControlPeriod))
	out.MaxSteps, _ = strconv.Atoi(get(KeyControlMaxSteps))
	out.CBFEnabled, _ = parseBool(get(KeyCBFEnabled))
	out.CBFDebug, _ = parseBool(get(KeyCBFDebug))
	out.CBFGain, _ = strconv.ParseFloat(get(KeyCBFGain), 64)
	out.EventsDB = get(KeyEventsDB)
	out.EventsMaxAge, _ = time.ParseDuration(get(KeyEventsMaxAge))
	out.EventsMaxRuns, _ = strconv.Atoi(get(KeyEventsMaxRuns))
	out.MetricsAddr = get(KeyMetricsAddr)

	if out.Period < 0 {
		errs = append(errs, fmt.Sprintf("%s: must not be negative", KeyControlPeriod))
	}
	if out.MaxSteps < 0 {
		errs = append(errs, fmt.Sprintf("%s: must not be negative", KeyControlMaxSteps))
	}
	if out.EventsMaxAge < 0 || out.EventsMaxRuns < 0 {
		errs = append(errs, "events retention limits must not be negative")
	}
	if out.CBFGain <= 0 {
		errs = append(errs, fmt.Sprintf("%s: must be positive", KeyCBFGain))
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return out, nil
}
