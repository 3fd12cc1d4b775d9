// Package config describes every setting ytfeeds reads at startup, and the
// text forms of the ones that are not plain scalars.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// splitList breaks a comma separated value into trimmed, non-empty items.
func splitList(s string) []string {
	var a []string

	for _, e := range strings.Split(s, ",") {
		if e = strings.TrimSpace(e); e != "" {
			a = append(a, e)
		}
	}

	return a
}

// LevelList is a set of log levels, written as "error,warning". A lone "-"
// stands for the empty list so it survives a round trip through flags.
type LevelList []logrus.Level

func (a LevelList) MarshalText() ([]byte, error) {
	if len(a) == 0 {
		return []byte("-"), nil
	}

	names := make([]string, len(a))
	for i, l := range a {
		names[i] = l.String()
	}

	return []byte(strings.Join(names, ",")), nil
}

func (a *LevelList) UnmarshalText(d []byte) error {
	l := LevelList{}

	if s := string(d); s != "-" {
		for _, name := range splitList(s) {
			level, err := logrus.ParseLevel(name)
			if err != nil {
				return fmt.Errorf("config.LevelList.UnmarshalText: %w", err)
			}

			l = append(l, level)
		}
	}

	*a = l

	return nil
}

// LogQueries picks which SQL statements get logged: "none", "all", or
// ">DURATION" for only those slower than DURATION.
type LogQueries struct {
	Enabled    bool
	SlowerThan time.Duration
}

func (l LogQueries) String() string {
	switch {
	case !l.Enabled:
		return "none"
	case l.SlowerThan > 0:
		return ">" + l.SlowerThan.String()
	default:
		return "all"
	}
}

func (l LogQueries) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *LogQueries) UnmarshalText(d []byte) error {
	s := strings.TrimSpace(string(d))

	switch s {
	case "", "none", "off":
		*l = LogQueries{}
	case "all":
		*l = LogQueries{Enabled: true}
	default:
		threshold, ok := strings.CutPrefix(s, ">")
		if !ok || threshold == "" {
			return fmt.Errorf("config.LogQueries.UnmarshalText: unrecognised input %q; valid options are none, all, or >x where x is a duration", s)
		}

		d, err := time.ParseDuration(threshold)
		if err != nil {
			return fmt.Errorf("config.LogQueries.UnmarshalText: could not parse threshold: %w", err)
		}

		*l = LogQueries{Enabled: true, SlowerThan: d}
	}

	return nil
}

func (l LogQueries) IsZero() bool {
	return !l.Enabled && l.SlowerThan == 0
}

// StringList is a comma separated list in flags and the environment.
type StringList []string

func (a StringList) MarshalText() ([]byte, error) {
	return []byte(strings.Join(a, ",")), nil
}

func (a *StringList) UnmarshalText(d []byte) error {
	*a = splitList(string(d))
	return nil
}

type Config struct {
	Config                 string        `name:"config" toml:"config" yaml:"config" help:"Config file location."`
	LogLevel               logrus.Level  `name:"log_level" toml:"log_level" yaml:"log_level" help:"Global log level."`
	LogDebugLevels         LevelList     `name:"log_debug_levels" toml:"log_debug_levels" yaml:"log_debug_levels" help:"Which log levels to include stack data on."`
	LogQueries             LogQueries    `name:"log_queries" toml:"log_queries" yaml:"log_queries" help:"Log SQL queries."`
	LogSORM                bool          `name:"log_sorm" toml:"log_sorm" yaml:"log_sorm" help:"Log SORM queries."`
	ApplicationAddr        string        `name:"application_addr" toml:"application_addr" yaml:"application_addr" help:"Address to listen on for the query API."`
	ApplicationDatabase    string        `name:"application_database" toml:"application_database" yaml:"application_database" help:"Database location for application."`
	ApplicationCachePath   string        `name:"application_cache_path" toml:"application_cache_path" yaml:"application_cache_path" help:"Location for HTTP client cache."`
	HTTPCacheMaxAge        time.Duration `name:"http_cache_max_age" toml:"http_cache_max_age" yaml:"http_cache_max_age" help:"How long cached remote responses are served."`
	APIKey                 string        `name:"api_key" toml:"api_key" yaml:"api_key" help:"YouTube Data API key."`
	APIRequestsPerSecond   float64       `name:"api_requests_per_second" toml:"api_requests_per_second" yaml:"api_requests_per_second" help:"Upper bound on remote requests per second; zero disables the limit."`
	ResolveHandlesDirectly bool          `name:"resolve_handles_directly" toml:"resolve_handles_directly" yaml:"resolve_handles_directly" help:"Resolve handles from channel pages before spending API quota on a search."`
	PageSize               int           `name:"page_size" toml:"page_size" yaml:"page_size" help:"Videos fetched per remote page."`
	DefaultChannels        StringList    `name:"default_channels" toml:"default_channels" yaml:"default_channels" help:"Channels subscribed to on first start."`
	SeedDelay              time.Duration `name:"seed_delay" toml:"seed_delay" yaml:"seed_delay" help:"Pause between default channels while seeding."`
	RefreshInterval        time.Duration `name:"refresh_interval" toml:"refresh_interval" yaml:"refresh_interval" help:"How often every subscription is refreshed in the background; zero disables it."`
	BackgroundWorkers      int           `name:"background_workers" toml:"background_workers" yaml:"background_workers" help:"How many background workers to run."`
}
