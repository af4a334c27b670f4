// Package config loads, validates, and exposes Centinela's YAML
// configuration: global settings, file-sets, monitors, and notifiers.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the top-level, immutable-after-load configuration tree.
type Config struct {
	Global    GlobalConfig              `yaml:"global"`
	FileSets  map[string]FileSetConfig  `yaml:"file_sets"`
	Monitors  map[string]MonitorConfig  `yaml:"monitors"`
	Notifiers map[string]NotifierConfig `yaml:"notifiers"`
}

// GlobalConfig holds daemon-wide settings.
type GlobalConfig struct {
	NotifiersForFilesLastSeen []string `yaml:"notifiers_for_files_last_seen"`
	PeriodForFilesLastSeen    int      `yaml:"period_for_files_last_seen"`
}

// FileSetConfig is a list of path globs plus, per monitor, the notifiers
// that should fire when that monitor matches within this file-set. A nil
// notifier list disables notification for that monitor in this file-set;
// counts are still recorded.
type FileSetConfig struct {
	FileGlobs           []string            `yaml:"file_globs"`
	MonitorNotifierSets map[string][]string `yaml:"monitor_notifier_sets"`
}

// MonitorConfig describes one regular-expression monitor and its context/
// retention behavior. The regex is compiled once, at load time, into
// Compiled.
type MonitorConfig struct {
	Regex               string `yaml:"regex"`
	LogRecentEvents     *int   `yaml:"log_recent_events"`
	KeepLinesBefore     *int   `yaml:"keep_lines_before"`
	KeepLinesAfter      *int   `yaml:"keep_lines_after"`
	LogCounts           bool   `yaml:"log_counts"`
	MaxWaitBeforeNotify int    `yaml:"max_wait_before_notify"`

	Compiled *regexp.Regexp `yaml:"-"`
}

// LogRecentEventsOrZero returns the configured log_recent_events, or 0 if unset.
func (m MonitorConfig) LogRecentEventsOrZero() int {
	if m.LogRecentEvents == nil {
		return 0
	}
	return *m.LogRecentEvents
}

// KeepLinesBeforeOrZero returns the configured keep_lines_before, or 0 if unset.
func (m MonitorConfig) KeepLinesBeforeOrZero() int {
	if m.KeepLinesBefore == nil {
		return 0
	}
	return *m.KeepLinesBefore
}

// KeepLinesAfterOrZero returns the configured keep_lines_after, or 0 if unset.
func (m MonitorConfig) KeepLinesAfterOrZero() int {
	if m.KeepLinesAfter == nil {
		return 0
	}
	return *m.KeepLinesAfter
}

// NotifierConfig is a tagged-variant notifier. Exactly one variant is
// currently supported: Webhook.
type NotifierConfig struct {
	Webhook *WebhookConfig `yaml:"webhook"`
}

// WebhookConfig configures a Slack/Mattermost-compatible webhook sink.
type WebhookConfig struct {
	URL             string `yaml:"url"`
	Template        string `yaml:"template"`
	MinimumInterval *int   `yaml:"minimum_interval"`
}

// MinimumIntervalOrZero returns the configured minimum_interval in
// seconds, or 0 (no coalescing) if unset.
func (w WebhookConfig) MinimumIntervalOrZero() int {
	if w.MinimumInterval == nil {
		return 0
	}
	return *w.MinimumInterval
}

// LoadConfig reads the YAML file at path, unmarshals it into Config,
// compiles every monitor's regular expression, and validates every
// cross-reference and invariant. Every failure is accumulated and
// returned together via errors.Join, rather than failing on the first.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// validate compiles every monitor's regex and checks the configuration's
// invariants: every cross-referenced MonitorId/NotifierId must resolve to
// a configured entry, and every numeric bound must be non-negative.
func validate(cfg *Config) error {
	var errs []error

	for id, mon := range cfg.Monitors {
		re, err := regexp.Compile(mon.Regex)
		if err != nil {
			errs = append(errs, fmt.Errorf("monitors.%s: invalid regex %q: %w", id, mon.Regex, err))
			continue
		}
		mon.Compiled = re
		if mon.KeepLinesBefore != nil && *mon.KeepLinesBefore < 0 {
			errs = append(errs, fmt.Errorf("monitors.%s: keep_lines_before must be >= 0", id))
		}
		if mon.KeepLinesAfter != nil && *mon.KeepLinesAfter < 0 {
			errs = append(errs, fmt.Errorf("monitors.%s: keep_lines_after must be >= 0", id))
		}
		if mon.MaxWaitBeforeNotify < 0 {
			errs = append(errs, fmt.Errorf("monitors.%s: max_wait_before_notify must be >= 0", id))
		}
		cfg.Monitors[id] = mon
	}

	for id, n := range cfg.Notifiers {
		if n.Webhook == nil {
			errs = append(errs, fmt.Errorf("notifiers.%s: exactly one notifier variant (webhook) must be configured", id))
			continue
		}
		if n.Webhook.URL == "" {
			errs = append(errs, fmt.Errorf("notifiers.%s: webhook.url is required", id))
		}
		if n.Webhook.MinimumInterval != nil && *n.Webhook.MinimumInterval < 0 {
			errs = append(errs, fmt.Errorf("notifiers.%s: webhook.minimum_interval must be >= 0", id))
		}
	}

	for _, id := range cfg.Global.NotifiersForFilesLastSeen {
		if _, ok := cfg.Notifiers[id]; !ok {
			errs = append(errs, fmt.Errorf("global.notifiers_for_files_last_seen: unknown notifier %q", id))
		}
	}
	if cfg.Global.PeriodForFilesLastSeen < 0 {
		errs = append(errs, errors.New("global.period_for_files_last_seen must be >= 0"))
	}

	for fsName, fs := range cfg.FileSets {
		if len(fs.FileGlobs) == 0 {
			errs = append(errs, fmt.Errorf("file_sets.%s: file_globs must not be empty", fsName))
		}
		for monID, notifierIDs := range fs.MonitorNotifierSets {
			if _, ok := cfg.Monitors[monID]; !ok {
				errs = append(errs, fmt.Errorf("file_sets.%s: unknown monitor %q", fsName, monID))
				continue
			}
			for _, nID := range notifierIDs {
				if _, ok := cfg.Notifiers[nID]; !ok {
					errs = append(errs, fmt.Errorf("file_sets.%s: monitor %q: unknown notifier %q", fsName, monID, nID))
				}
			}
		}
	}

	return errors.Join(errs...)
}

// MaxLinesBefore returns the largest keep_lines_before across every
// monitor the named file-set references — the size its per-path context
// ring must be trimmed to.
func (cfg *Config) MaxLinesBefore(fsName string) int {
	fs, ok := cfg.FileSets[fsName]
	if !ok {
		return 0
	}
	max := 0
	for monID := range fs.MonitorNotifierSets {
		if mon, ok := cfg.Monitors[monID]; ok {
			if n := mon.KeepLinesBeforeOrZero(); n > max {
				max = n
			}
		}
	}
	return max
}
