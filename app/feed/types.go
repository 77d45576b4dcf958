package feed

import (
	"time"
)

// CandidateItem is one entry parsed from a source feed, before dedup and matching.
type CandidateItem struct {
	Title       string
	Summary     string
	Link        string
	Author      string
	PublishedAt time.Time
}

type ParseResult struct {
	Title string
	Items []CandidateItem

	// Recovered is set when the raw document failed to parse and the items
	// come from a sanitized copy.
	Recovered bool
}

// Registry file types

type RegistryFile struct {
	Sources  []SourceConfig  `yaml:"sources"`
	Keywords []KeywordConfig `yaml:"keywords"`
	Tasks    []TaskConfig    `yaml:"tasks"`
}

type SourceConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Kind   string `yaml:"kind"`   // feed or api
	Active *bool  `yaml:"active"` // defaults to true
}

type KeywordConfig struct {
	Term     string `yaml:"term"`
	Pattern  string `yaml:"pattern"`
	Language string `yaml:"language"`
	Active   *bool  `yaml:"active"`
}

type TaskConfig struct {
	Name       string `yaml:"name"`
	Source     string `yaml:"source"`
	AllSources bool   `yaml:"all_sources"`
	Recurrence string `yaml:"recurrence"` // hourly, daily or weekly
	Active     *bool  `yaml:"active"`
}
