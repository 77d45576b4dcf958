package matcher

// Rule is one keyword rule as the matcher sees it. Term is the canonical keyword
// used for tagging; Pattern is the word-family expression used by the relevance gate.
type Rule struct {
	ID       int64
	Term     string
	Pattern  string
	Language string
}
