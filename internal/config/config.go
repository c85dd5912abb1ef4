package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sync holds the tunables of the chat sync engine. Zero values are replaced
// with defaults after decoding.
type Sync struct {
	PageSize            int           `yaml:"page_size"`
	DebounceWindow      time.Duration `yaml:"debounce_window"`
	AnchorRetryAttempts int           `yaml:"anchor_retry_attempts"`
	AnchorRetryInterval time.Duration `yaml:"anchor_retry_interval"`
	QueueSize           int           `yaml:"queue_size"`
	CacheTTL            time.Duration `yaml:"cache_ttl"`
	Timezone            string        `yaml:"timezone"`

	location *time.Location
}

// Default returns the tunables with every default applied.
func Default() *Sync {
	s := &Sync{}
	if err := s.applyDefaults(); err != nil {
		// UTC always resolves
		panic(err)
	}
	return s
}

// Load reads one or more comma-separated yaml files. Later files override
// earlier ones. An empty path yields the defaults.
func Load(pathList string) (*Sync, error) {
	var s Sync
	for _, p := range strings.Split(pathList, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read sync config %s: %w", p, err)
		}
		if err := yaml.Unmarshal(b, &s); err != nil {
			return nil, fmt.Errorf("decode sync config %s: %w", p, err)
		}
	}
	if err := s.applyDefaults(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Sync) applyDefaults() error {
	if s.PageSize <= 0 {
		s.PageSize = 50
	}
	if s.DebounceWindow <= 0 {
		s.DebounceWindow = 300 * time.Millisecond
	}
	if s.AnchorRetryAttempts <= 0 {
		s.AnchorRetryAttempts = 10
	}
	if s.AnchorRetryInterval <= 0 {
		s.AnchorRetryInterval = 50 * time.Millisecond
	}
	if s.QueueSize <= 0 {
		s.QueueSize = 256
	}
	if s.CacheTTL <= 0 {
		s.CacheTTL = 10 * time.Minute
	}
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fmt.Errorf("sync config timezone %q: %w", s.Timezone, err)
	}
	s.location = loc
	return nil
}

// Location is the zone used for calendar-date dividers and clock times.
func (s *Sync) Location() *time.Location {
	if s.location == nil {
		return time.UTC
	}
	return s.location
}
