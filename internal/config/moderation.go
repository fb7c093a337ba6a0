package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/decision"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

// EnvPrefix scopes every environment override.
const EnvPrefix = "MODERATION"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the full moderator configuration.
type Config struct {
	Broker     Broker            `toml:"broker"`
	Classifier Classifier        `toml:"classifier"`
	Store      Store             `toml:"store"`
	HTTP       HTTP              `toml:"http"`
	Worker     Worker            `toml:"worker"`
	Feeds      Feeds             `toml:"feeds"`
	Log        Log               `toml:"log"`
	Rules      []moderation.Rule `toml:"rules"`
}

// Broker selects the queue backend and topic names.
type Broker struct {
	Kind             string   `toml:"kind"`
	Brokers          []string `toml:"brokers"`
	RedisURL         string   `toml:"redis_url"`
	ClientID         string   `toml:"client_id"`
	BufferSize       int      `toml:"buffer_size"`
	ContentTopic     string   `toml:"content_topic"`
	ResultTopic      string   `toml:"result_topic"`
	WorkerGroup      string   `toml:"worker_group"`
	DistributorGroup string   `toml:"distributor_group"`
}

// Classifier configures the remote classification strategy.
type Classifier struct {
	Enabled        bool   `toml:"enabled"`
	APIURL         string `toml:"api_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout returns the remote call budget.
func (c Classifier) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Store selects the searchable store.
type Store struct {
	Kind          string `toml:"kind"`
	Path          string `toml:"path"`
	Retries       int    `toml:"retries"`
	RecentResults int    `toml:"recent_results"`
}

// HTTP configures the API listener.
type HTTP struct {
	Addr                   string `toml:"addr"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// ShutdownTimeout returns the graceful shutdown budget.
func (h HTTP) ShutdownTimeout() time.Duration {
	return time.Duration(h.ShutdownTimeoutSeconds) * time.Second
}

// Worker sizes the moderation worker pool.
type Worker struct {
	Count          int `toml:"count"`
	PublishRetries int `toml:"publish_retries"`
}

// Feeds lists news feeds to ingest.
type Feeds struct {
	URLs            []string `toml:"urls"`
	IntervalSeconds int      `toml:"interval_seconds"`
	PaceMillis      int      `toml:"pace_millis"`
}

// Interval returns the delay between ingestion passes.
func (f Feeds) Interval() time.Duration {
	return time.Duration(f.IntervalSeconds) * time.Second
}

// Pace returns the delay between submitted articles.
func (f Feeds) Pace() time.Duration {
	return time.Duration(f.PaceMillis) * time.Millisecond
}

// Log configures the logger.
type Log struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Broker: Broker{
			Kind:             "memory",
			Brokers:          []string{"localhost:9092"},
			RedisURL:         "redis://localhost:6379/0",
			ClientID:         "moderator",
			BufferSize:       256,
			ContentTopic:     "content",
			ResultTopic:      "analysis-result",
			WorkerGroup:      "content-processing-group",
			DistributorGroup: "analysis-results-group",
		},
		Classifier: Classifier{
			Enabled:        true,
			APIURL:         "https://api.openai.com/v1/chat/completions",
			Model:          "gpt-4o",
			TimeoutSeconds: 300,
		},
		Store: Store{
			Kind:          "sqlite",
			Path:          "data/moderation.db",
			Retries:       3,
			RecentResults: 100,
		},
		HTTP: HTTP{
			Addr:                   ":8080",
			ShutdownTimeoutSeconds: 10,
		},
		Worker: Worker{
			Count:          2,
			PublishRetries: 3,
		},
		Feeds: Feeds{
			IntervalSeconds: 900,
			PaceMillis:      1000,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path (if it exists), applies MODERATION_ environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv(NewLoader(EnvPrefix))
	if len(cfg.Rules) == 0 {
		cfg.Rules = decision.StandardRules()
	}
	for i := range cfg.Rules {
		if category, ok := moderation.ParseCategory(string(cfg.Rules[i].Category)); ok {
			cfg.Rules[i].Category = category
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// wholeSeconds rounds a positive duration up so a sub-second budget stays
// non-zero.
func wholeSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func (c *Config) applyEnv(env Loader) {
	c.Broker.Kind = env.String("BROKER_KIND", c.Broker.Kind)
	c.Broker.Brokers = env.List("BROKER_BROKERS", c.Broker.Brokers)
	c.Broker.RedisURL = env.String("BROKER_REDIS_URL", c.Broker.RedisURL)
	c.Broker.ClientID = env.String("BROKER_CLIENT_ID", c.Broker.ClientID)

	c.Classifier.Enabled = env.Bool("CLASSIFIER_ENABLED", c.Classifier.Enabled)
	c.Classifier.APIURL = env.String("CLASSIFIER_API_URL", c.Classifier.APIURL)
	c.Classifier.APIKey = env.String("CLASSIFIER_API_KEY", c.Classifier.APIKey)
	c.Classifier.Model = env.String("CLASSIFIER_MODEL", c.Classifier.Model)
	c.Classifier.TimeoutSeconds = wholeSeconds(env.Duration("CLASSIFIER_TIMEOUT", c.Classifier.Timeout()))

	c.Store.Kind = env.String("STORE_KIND", c.Store.Kind)
	c.Store.Path = env.String("STORE_PATH", c.Store.Path)

	c.HTTP.Addr = env.String("HTTP_ADDR", c.HTTP.Addr)
	c.Worker.Count = env.Int("WORKER_COUNT", c.Worker.Count)
	c.Feeds.URLs = env.List("FEEDS_URLS", c.Feeds.URLs)
	c.Log.Level = env.String("LOG_LEVEL", c.Log.Level)
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	switch strings.ToLower(c.Broker.Kind) {
	case "memory", "kafka", "redis":
	default:
		return fmt.Errorf("%w: broker.kind %q must be memory, kafka or redis", ErrInvalid, c.Broker.Kind)
	}
	if strings.EqualFold(c.Broker.Kind, "kafka") && len(c.Broker.Brokers) == 0 {
		return fmt.Errorf("%w: broker.brokers must list at least one address", ErrInvalid)
	}
	if c.Broker.ContentTopic == "" || c.Broker.ResultTopic == "" {
		return fmt.Errorf("%w: broker topics must be set", ErrInvalid)
	}
	switch strings.ToLower(c.Store.Kind) {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("%w: store.kind %q must be sqlite or memory", ErrInvalid, c.Store.Kind)
	}
	if c.Classifier.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: classifier.timeout_seconds must be positive", ErrInvalid)
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("%w: worker.count must be positive", ErrInvalid)
	}
	if c.Worker.PublishRetries < 0 || c.Store.Retries < 0 {
		return fmt.Errorf("%w: retry counts cannot be negative", ErrInvalid)
	}
	return validateRules(c.Rules)
}

func validateRules(rules []moderation.Rule) error {
	active := make(map[moderation.Category]bool)
	for i, rule := range rules {
		category, ok := moderation.ParseCategory(string(rule.Category))
		if !ok {
			return fmt.Errorf("%w: rules[%d].category %q is unknown", ErrInvalid, i, rule.Category)
		}
		if rule.Sensitivity < 0 || rule.Sensitivity > 100 {
			return fmt.Errorf("%w: rules[%d].sensitivity must be between 0 and 100", ErrInvalid, i)
		}
		if !rule.AutoAction.Valid() {
			return fmt.Errorf("%w: rules[%d].auto_action %q must be auto_remove or flag_for_review", ErrInvalid, i, rule.AutoAction)
		}
		if rule.Active {
			if active[category] {
				return fmt.Errorf("%w: more than one active rule for %s", ErrInvalid, category)
			}
			active[category] = true
		}
	}
	return nil
}
