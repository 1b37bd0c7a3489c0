package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so intervals can be written as "30s" in the
// config file.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Messages holds the reply texts the agent posts back to users.
type Messages struct {
	FollowActivated         string `toml:"follow_activated"`
	FollowDeactivated       string `toml:"follow_deactivated"`
	GuidanceIntro           string `toml:"guidance_intro"`
	GuidanceDeactivateIntro string `toml:"guidance_deactivate_intro"`
	UnfollowExplanation     string `toml:"unfollow_explanation"`
}

// Config holds application configuration.
type Config struct {
	DBPath        string `toml:"db_path"`
	LogLevel      string `toml:"log_level"`
	PublicKey     string `toml:"public_key"`
	NexusURL      string `toml:"nexus_url"`
	HomeserverURL string `toml:"homeserver_url"`
	SessionToken  string `toml:"session_token"`

	OllamaURL   string `toml:"ollama_url"`
	OllamaModel string `toml:"ollama_model"`
	Prompt      string `toml:"prompt"`

	FollowTag  string `toml:"follow_tag"`
	PendingTag string `toml:"pending_tag"`

	FetchInterval   Duration `toml:"fetch_interval"`
	WorkerInterval  Duration `toml:"worker_interval"`
	PublishInterval Duration `toml:"publish_interval"`
	RecoverAge      Duration `toml:"recover_age"`

	MentionLimit   int  `toml:"mention_limit"`
	PostsPerAuthor int  `toml:"posts_per_author"`
	WorkerBatch    int  `toml:"worker_batch"`
	PublishBatch   int  `toml:"publish_batch"`
	QuietPublish   bool `toml:"quiet_publish"`

	Messages Messages `toml:"messages"`
}

// DefaultPrompt is the classifier prompt template; {{TEXT}} is replaced with
// the post content.
const DefaultPrompt = `From the following French text, output EXACTLY three keywords for tagging. RULES: (1) Output ONLY the three keywords, (2) separated by semicolons ';', (3) no numbering, no bullets, no quotes, no explanations, (4) replace spaces in keywords with hyphens. Example: mot-cle-1;mot-cle-2;mot-cle-3. Text: "{{TEXT}}"`

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "tagky", "queue.db")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DBPath:          DefaultDBPath(),
		LogLevel:        "info",
		NexusURL:        "https://nexus.pubky.app",
		OllamaURL:       "http://localhost:11434",
		OllamaModel:     "gemma2:2b",
		Prompt:          DefaultPrompt,
		FollowTag:       "tagky-👀",
		PendingTag:      "tagky-⏳",
		FetchInterval:   Duration{60 * time.Second},
		WorkerInterval:  Duration{5 * time.Second},
		PublishInterval: Duration{30 * time.Second},
		RecoverAge:      Duration{15 * time.Minute},
		MentionLimit:    10,
		PostsPerAuthor:  5,
		WorkerBatch:     10,
		PublishBatch:    20,
		Messages: Messages{
			FollowActivated:         "✅ Suivi activé. Je traiterai tes nouveaux posts et publierai des tags.",
			FollowDeactivated:       "✅ Suivi désactivé. Je ne traiterai plus tes nouveaux posts.",
			GuidanceIntro:           "ℹ️ Pour activer le suivi des tags, poste exactement:",
			GuidanceDeactivateIntro: "Pour désactiver:",
			UnfollowExplanation:     `Désolé, je ne peux pas taguer ce post car le suivi a été désactivé pendant le traitement. Pour réactiver le tagging automatique, mentionne-moi avec "/tag on".`,
		},
	}
}

// Load parses flags, an optional TOML file and environment overrides to
// build Config. Precedence: flags > environment > file > defaults.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("tagky", flag.ContinueOnError)
	configPath := fs.String("config", "", "TOML config file path")
	dbPath := fs.String("db", "", "SQLite database path")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	quiet := fs.Bool("quiet", false, "suppress per-publish info logs")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", *configPath, err)
		}
	}

	cfg.applyEnv()

	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *quiet {
		cfg.QuietPublish = true
	}

	if cfg.PublicKey == "" {
		return nil, fmt.Errorf("public_key is required (config file or PUBLIC_KEY)")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.PublicKey, "PUBLIC_KEY")
	setString(&c.SessionToken, "SESSION_TOKEN")
	setString(&c.NexusURL, "NEXUS_API_URL")
	setString(&c.HomeserverURL, "HOMESERVER_URL")
	setString(&c.OllamaURL, "OLLAMA_URL")
	setString(&c.OllamaModel, "OLLAMA_MODEL")
	setString(&c.Prompt, "LLM_KEYWORD_PROMPT")
	setString(&c.FollowTag, "TAGKY_FOLLOW_TAG")
	setString(&c.PendingTag, "TAGKY_PENDING_TAG")
	setString(&c.DBPath, "TAGKY_DB")
	setString(&c.LogLevel, "TAGKY_LOG_LEVEL")

	if v := os.Getenv("TAGKY_QUIET_TAGS"); v != "" {
		c.QuietPublish = v == "1"
	}

	setDuration := func(dst *Duration, key string) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		if ms, err := strconv.Atoi(v); err == nil {
			dst.Duration = time.Duration(ms) * time.Millisecond
			return
		}
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
	setDuration(&c.FetchInterval, "TAGKY_FETCH_INTERVAL_MS")
	setDuration(&c.WorkerInterval, "TAGKY_WORKER_INTERVAL_MS")
	setDuration(&c.PublishInterval, "TAGKY_PUBLISH_INTERVAL_MS")
}
