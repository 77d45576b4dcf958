package matcher

import "sync"

// Cache keeps the most recently compiled matcher and rebuilds it only when the rule set changes.
type Cache struct {
	mu      sync.Mutex
	current *Matcher
}

func NewCache() *Cache {
	return &Cache{}
}

// Get returns a matcher for rules, reusing the cached one when the fingerprint is unchanged.
// The bool reports whether a recompilation happened.
func (c *Cache) Get(rules []Rule) (*Matcher, bool, error) {
	fp := Fingerprint(rules)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.fingerprint == fp {
		return c.current, false, nil
	}

	m, err := Compile(rules)
	if err != nil {
		return nil, false, err
	}
	c.current = m
	return m, true, nil
}
