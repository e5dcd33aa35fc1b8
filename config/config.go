package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"dexwatch/models"
)

// Duration decodes TOML strings such as "30s" or "2m"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// TomlPoll configures the poll loop and the upstream client
type TomlPoll struct {
	Interval        Duration `toml:"interval"`
	Timeout         Duration `toml:"timeout"`
	Kinds           []string `toml:"kinds,omitempty"`
	MaxOrderLookups int      `toml:"max_order_lookups"`
	Enrich          *bool    `toml:"enrich"`
}

// TomlTelegram configures the Telegram sink
type TomlTelegram struct {
	Token      string `toml:"token"`
	ChatID     string `toml:"chat_id"`
	Announce   bool   `toml:"announce"`
	Commands   bool   `toml:"commands"`
	MaxRetries *int   `toml:"max_retries"`
}

// TomlDedup configures how seen identities are remembered
type TomlDedup struct {
	Database   string `toml:"database"`
	RedisURL   string `toml:"redis_url"`
	MaxEntries int    `toml:"max_entries"`
}

// TomlStatus configures the status server
type TomlStatus struct {
	Addr         string `toml:"addr"`
	AllowOrigins string `toml:"allow_origins"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Poll     TomlPoll     `toml:"poll"`
	Telegram TomlTelegram `toml:"telegram"`
	Dedup    TomlDedup    `toml:"dedup"`
	Status   TomlStatus   `toml:"status"`
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config TomlConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

// Settings is the resolved configuration of a monitor run
type Settings struct {
	Interval        time.Duration
	RequestTimeout  time.Duration
	Kinds           []models.FeedKind
	MaxOrderLookups int
	Enrich          bool

	TelegramToken string
	ChatID        string
	Announce      bool
	Commands      bool
	MaxRetries    int

	Database   string
	RedisURL   string
	MaxEntries int

	StatusAddr   string
	AllowOrigins string
}

func Default() Settings {
	return Settings{
		Interval:        30 * time.Second,
		RequestTimeout:  10 * time.Second,
		Kinds:           append([]models.FeedKind(nil), models.AllFeedKinds...),
		MaxOrderLookups: 50,
		Enrich:          true,
		MaxRetries:      3,
		StatusAddr:      ":3000",
	}
}

// Apply copies every value set in the file onto s
func (c *TomlConfig) Apply(s *Settings) error {
	if c.Poll.Interval.Duration > 0 {
		s.Interval = c.Poll.Interval.Duration
	}
	if c.Poll.Timeout.Duration > 0 {
		s.RequestTimeout = c.Poll.Timeout.Duration
	}
	if len(c.Poll.Kinds) > 0 {
		kinds, err := ParseKinds(c.Poll.Kinds)
		if err != nil {
			return err
		}
		s.Kinds = kinds
	}
	if c.Poll.MaxOrderLookups > 0 {
		s.MaxOrderLookups = c.Poll.MaxOrderLookups
	}
	if c.Poll.Enrich != nil {
		s.Enrich = *c.Poll.Enrich
	}

	if c.Telegram.Token != "" {
		s.TelegramToken = c.Telegram.Token
	}
	if c.Telegram.ChatID != "" {
		s.ChatID = c.Telegram.ChatID
	}
	s.Announce = s.Announce || c.Telegram.Announce
	s.Commands = s.Commands || c.Telegram.Commands
	if c.Telegram.MaxRetries != nil {
		s.MaxRetries = *c.Telegram.MaxRetries
	}

	if c.Dedup.Database != "" {
		s.Database = c.Dedup.Database
	}
	if c.Dedup.RedisURL != "" {
		s.RedisURL = c.Dedup.RedisURL
	}
	if c.Dedup.MaxEntries > 0 {
		s.MaxEntries = c.Dedup.MaxEntries
	}

	if c.Status.Addr != "" {
		s.StatusAddr = c.Status.Addr
	}
	if c.Status.AllowOrigins != "" {
		s.AllowOrigins = c.Status.AllowOrigins
	}
	return nil
}

// ParseKinds parses feed names and keeps the fixed processing order
func ParseKinds(names []string) ([]models.FeedKind, error) {
	wanted := make(map[models.FeedKind]bool, len(names))
	for _, name := range names {
		kind, err := models.ParseFeedKind(name)
		if err != nil {
			return nil, err
		}
		wanted[kind] = true
	}

	var kinds []models.FeedKind
	for _, kind := range models.AllFeedKinds {
		if wanted[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}
