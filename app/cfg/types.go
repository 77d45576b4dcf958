package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath       string
	RegistryFile string
	RedisAddr    string

	// HTTP API
	Port         string
	APIAccessKey string

	// Scheduling
	WorkerCount  int
	TickInterval time.Duration

	// Fetching
	FetchTimeout     time.Duration
	PolitenessDelay  time.Duration
	FullTextFallback bool
	RespectRobots    bool
	UserAgent        string

	// Social search
	SocialBearerToken string
	SocialSearchURL   string
	SocialMaxTerms    int
	SocialMaxResults  int

	// Application metadata
	LogFormat string
	Debug     bool
	Version   string
}
