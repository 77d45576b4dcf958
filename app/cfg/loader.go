package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath       string `long:"db-path" env:"DB_PATH" default:"./data/sentry.db" description:"SQLite database file"`
	RegistryFile string `long:"registry" env:"REGISTRY_FILE" default:"./config/registry.yml" description:"YAML file with sources, keywords and crawl tasks"`
	RedisAddr    string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for the seen-URL cache (optional)"`

	// HTTP API
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Scheduling
	WorkerCount  int `long:"worker-count" env:"WORKER_COUNT" default:"4" description:"Number of crawl workers"`
	TickInterval int `long:"tick-interval" env:"TICK_INTERVAL" default:"60" description:"Scheduler tick interval in seconds"`

	// Fetching
	FetchTimeout     int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"12" description:"Per-request network timeout in seconds"`
	PolitenessDelay  int    `long:"politeness-delay" env:"POLITENESS_DELAY_MS" default:"700" description:"Pause before each full article fetch in milliseconds"`
	NoFullText       bool   `long:"no-full-text" env:"NO_FULL_TEXT" description:"Disable the full article fallback pass"`
	RespectRobots    bool   `long:"respect-robots" env:"RESPECT_ROBOTS" description:"Consult robots.txt before fetching full articles"`
	UserAgent        string `long:"user-agent" env:"USER_AGENT" default:"SecurityNewsCrawler/1.0" description:"User agent string for HTTP requests"`

	// Social search
	SocialBearerToken string `long:"social-bearer-token" env:"TWITTER_BEARER_TOKEN" description:"Bearer token for the social search API"`
	SocialSearchURL   string `long:"social-search-url" env:"SOCIAL_SEARCH_URL" default:"https://api.twitter.com/2/tweets/search/recent" description:"Social search endpoint"`
	SocialMaxTerms    int    `long:"social-max-terms" env:"SOCIAL_MAX_TERMS" default:"10" description:"Maximum keyword terms OR-joined into one social query"`
	SocialMaxResults  int    `long:"social-max-results" env:"SOCIAL_MAX_RESULTS" default:"50" description:"Maximum posts requested per social query"`

	// Application metadata
	LogFormat string `long:"log-format" env:"LOG_FORMAT" default:"text" choice:"text" choice:"json" description:"Log output format"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load parses command-line flags and environment. It returns nil, nil when help was requested.
func Load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		RegistryFile:      raw.RegistryFile,
		RedisAddr:         raw.RedisAddr,
		Port:              raw.Port,
		APIAccessKey:      raw.APIAccessKey,
		WorkerCount:       raw.WorkerCount,
		TickInterval:      time.Duration(raw.TickInterval) * time.Second,
		FetchTimeout:      time.Duration(raw.FetchTimeout) * time.Second,
		PolitenessDelay:   time.Duration(raw.PolitenessDelay) * time.Millisecond,
		FullTextFallback:  !raw.NoFullText,
		RespectRobots:     raw.RespectRobots,
		UserAgent:         raw.UserAgent,
		SocialBearerToken: raw.SocialBearerToken,
		SocialSearchURL:   raw.SocialSearchURL,
		SocialMaxTerms:    raw.SocialMaxTerms,
		SocialMaxResults:  raw.SocialMaxResults,
		LogFormat:         raw.LogFormat,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Cfg) validate() error {
	positive := map[string]int64{
		"worker count":  int64(c.WorkerCount),
		"tick interval": int64(c.TickInterval),
		"fetch timeout": int64(c.FetchTimeout),
	}

	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.PolitenessDelay < 0 {
		return fmt.Errorf("politeness delay must be non-negative")
	}
	if c.SocialMaxTerms <= 0 {
		return fmt.Errorf("social max terms must be positive")
	}

	return nil
}
