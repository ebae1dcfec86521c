package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models bugarena.yml: the scoring table, duplicate-detection tuning,
// and phase timing defaults. A snapshot is persisted per game so tuning
// changes never rewrite history for games already in flight.
type Config struct {
	Game struct {
		TargetScore    int    `yaml:"target_score"`
		MaxRounds      int    `yaml:"max_rounds"`
		AgentCount     int    `yaml:"agent_count"`
		HuntDuration   string `yaml:"hunt_duration"`
		ReviewDuration string `yaml:"review_duration"`
	} `yaml:"game"`
	Scoring Scoring `yaml:"scoring"`
	Dedup   Dedup   `yaml:"dedup"`
}

// Scoring is the fixed point-value table. Penalties are negative.
type Scoring struct {
	ValidFinding     int `yaml:"valid_finding"`
	FalseFlagPenalty int `yaml:"false_flag_penalty"`
	DuplicatePenalty int `yaml:"duplicate_penalty"`
	DisputeWon       int `yaml:"dispute_won"`
	DisputeLost      int `yaml:"dispute_lost"`
}

// Dedup carries the duplicate-detection policy constants.
type Dedup struct {
	LineBucketWidth     int     `yaml:"line_bucket_width"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Game.TargetScore <= 0 {
		return fmt.Errorf("config.game.target_score must be positive")
	}
	if c.Game.MaxRounds < 0 {
		return fmt.Errorf("config.game.max_rounds must be >= 0 (0 means unlimited)")
	}
	if c.Game.AgentCount <= 0 {
		return fmt.Errorf("config.game.agent_count must be positive")
	}
	if _, err := time.ParseDuration(c.Game.HuntDuration); err != nil {
		return fmt.Errorf("config.game.hunt_duration: %w", err)
	}
	if _, err := time.ParseDuration(c.Game.ReviewDuration); err != nil {
		return fmt.Errorf("config.game.review_duration: %w", err)
	}
	if c.Scoring.ValidFinding <= 0 {
		return fmt.Errorf("config.scoring.valid_finding must be positive")
	}
	if c.Scoring.FalseFlagPenalty >= 0 {
		return fmt.Errorf("config.scoring.false_flag_penalty must be negative")
	}
	if c.Scoring.DuplicatePenalty >= c.Scoring.FalseFlagPenalty {
		return fmt.Errorf("config.scoring.duplicate_penalty must be more severe than false_flag_penalty")
	}
	if c.Scoring.DisputeWon <= 0 {
		return fmt.Errorf("config.scoring.dispute_won must be positive")
	}
	if c.Scoring.DisputeLost >= 0 {
		return fmt.Errorf("config.scoring.dispute_lost must be negative")
	}
	if c.Dedup.LineBucketWidth <= 0 {
		return fmt.Errorf("config.dedup.line_bucket_width must be positive")
	}
	if c.Dedup.SimilarityThreshold <= 0 || c.Dedup.SimilarityThreshold >= 1 {
		return fmt.Errorf("config.dedup.similarity_threshold must be in (0,1)")
	}
	return nil
}

// HuntDuration returns the parsed hunt phase duration.
func (c *Config) HuntDuration() time.Duration {
	d, _ := time.ParseDuration(c.Game.HuntDuration)
	return d
}

// ReviewDuration returns the parsed review phase duration.
func (c *Config) ReviewDuration() time.Duration {
	d, _ := time.ParseDuration(c.Game.ReviewDuration)
	return d
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `game:
  target_score: 50
  max_rounds: 0
  agent_count: 3
  hunt_duration: 15m
  review_duration: 10m

scoring:
  valid_finding: 10
  false_flag_penalty: -2
  duplicate_penalty: -5
  dispute_won: 3
  dispute_lost: -2

dedup:
  line_bucket_width: 10
  similarity_threshold: 0.5
`
