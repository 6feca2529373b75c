package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/visiongate/visiongate/pkg/consensus"
)

// Profile is a named deployment preset. Set fields override Config;
// zero fields leave the environment-derived value alone.
type Profile struct {
	Name      string          `yaml:"name" json:"name"`
	Consensus ConsensusConfig `yaml:"consensus" json:"consensus"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Render    RenderConfig    `yaml:"render" json:"render"`
	Limits    LimitsConfig    `yaml:"limits" json:"limits"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
}

// ConsensusConfig overrides the verdict confirmation policy.
type ConsensusConfig struct {
	MinAgreeing     int                      `yaml:"min_agreeing" json:"min_agreeing"`
	ConfidenceFloor float64                  `yaml:"confidence_floor" json:"confidence_floor"`
	ConfirmRule     string                   `yaml:"confirm_rule,omitempty" json:"confirm_rule,omitempty"`
	Bands           []consensus.SeverityBand `yaml:"bands,omitempty" json:"bands,omitempty"`
}

// CacheConfig overrides the fingerprint cache bounds.
type CacheConfig struct {
	Capacity   int `yaml:"capacity" json:"capacity"`
	TTLMinutes int `yaml:"ttl_minutes" json:"ttl_minutes"`
}

// RenderConfig overrides the rendering pool.
type RenderConfig struct {
	PDFWorkers        int `yaml:"pdf_workers" json:"pdf_workers"`
	PDFTimeoutSeconds int `yaml:"pdf_timeout_seconds" json:"pdf_timeout_seconds"`
}

// LimitsConfig overrides API rate limits.
type LimitsConfig struct {
	RPS   int `yaml:"rps" json:"rps"`
	Burst int `yaml:"burst" json:"burst"`
}

// StorageConfig overrides storage behavior.
type StorageConfig struct {
	HandleTTLSeconds int `yaml:"handle_ttl_seconds" json:"handle_ttl_seconds"`
	FallbackJobs     int `yaml:"fallback_jobs" json:"fallback_jobs"`
	FallbackRendered int `yaml:"fallback_renditions" json:"fallback_renditions"`
}

// LoadProfile loads a profile YAML by name. It searches the profiles
// directory for profile_<name>.yaml.
func LoadProfile(profilesDir, name string) (*Profile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}

	if profile.Name == "" {
		profile.Name = name
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml from the profiles
// directory, keyed by profile name.
func LoadAllProfiles(profilesDir string) (map[string]*Profile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*Profile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile Profile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Name == "" {
			base := filepath.Base(path)
			profile.Name = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Name] = &profile
	}
	return profiles, nil
}

// Apply merges the profile's set fields onto cfg.
func (p *Profile) Apply(cfg *Config) {
	if p.Consensus.MinAgreeing > 0 {
		cfg.MinAgreeing = p.Consensus.MinAgreeing
	}
	if p.Consensus.ConfidenceFloor > 0 {
		cfg.ConfidenceFloor = p.Consensus.ConfidenceFloor
	}
	if p.Consensus.ConfirmRule != "" {
		cfg.ConfirmRule = p.Consensus.ConfirmRule
	}
	if p.Cache.Capacity > 0 {
		cfg.CacheCapacity = p.Cache.Capacity
	}
	if p.Cache.TTLMinutes > 0 {
		cfg.CacheTTL = time.Duration(p.Cache.TTLMinutes) * time.Minute
	}
	if p.Render.PDFWorkers > 0 {
		cfg.PDFWorkers = p.Render.PDFWorkers
	}
	if p.Render.PDFTimeoutSeconds > 0 {
		cfg.PDFTimeout = time.Duration(p.Render.PDFTimeoutSeconds) * time.Second
	}
	if p.Limits.RPS > 0 {
		cfg.RateRPS = p.Limits.RPS
	}
	if p.Limits.Burst > 0 {
		cfg.RateBurst = p.Limits.Burst
	}
	if p.Storage.HandleTTLSeconds > 0 {
		cfg.HandleTTL = time.Duration(p.Storage.HandleTTLSeconds) * time.Second
	}
	if p.Storage.FallbackJobs > 0 {
		cfg.FallbackJobs = p.Storage.FallbackJobs
	}
	if p.Storage.FallbackRendered > 0 {
		cfg.FallbackRendered = p.Storage.FallbackRendered
	}
}

// SeverityBands returns the profile's bands, or the defaults when the
// profile sets none.
func (p *Profile) SeverityBands() []consensus.SeverityBand {
	if len(p.Consensus.Bands) > 0 {
		return p.Consensus.Bands
	}
	return consensus.DefaultBands()
}
