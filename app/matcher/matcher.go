package matcher

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

type compiledRule struct {
	id         int64
	re         *regexp.Regexp
	foldedTerm string
}

// Matcher holds a precompiled rule set. It is immutable once built and safe for concurrent use.
type Matcher struct {
	rules       []compiledRule
	fingerprint string
}

// Compile builds a matcher from rules. A rule without a pattern matches its term as a whole word.
// Matching is case-insensitive.
func Compile(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, 0, len(rules))
	fold := cases.Fold()

	for _, rule := range rules {
		term := strings.TrimSpace(rule.Term)
		pattern := strings.TrimSpace(rule.Pattern)
		if pattern == "" {
			if term == "" {
				continue
			}
			pattern = `\b` + regexp.QuoteMeta(term) + `\b`
		}

		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern for keyword %q: %w", rule.Term, err)
		}

		compiled = append(compiled, compiledRule{
			id:         rule.ID,
			re:         re,
			foldedTerm: fold.String(term),
		})
	}

	return &Matcher{rules: compiled, fingerprint: Fingerprint(rules)}, nil
}

// MustCompile is like Compile but panics on an invalid pattern.
func MustCompile(rules []Rule) *Matcher {
	m, err := Compile(rules)
	if err != nil {
		panic(err)
	}
	return m
}

// Match evaluates every pattern against text and returns the IDs of all rules that matched,
// in ascending order. Blank text matches nothing.
func (m *Matcher) Match(text string) []int64 {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var ids []int64
	for _, rule := range m.rules {
		if rule.re.MatchString(text) {
			ids = append(ids, rule.id)
		}
	}
	return sortedUnique(ids)
}

// Matches is the relevance gate: true when at least one pattern matches text.
func (m *Matcher) Matches(text string) bool {
	return len(m.Match(text)) > 0
}

// Tag returns the IDs of rules whose canonical term occurs anywhere in text, ignoring case.
// Unlike Match it is plain containment, so "attack" tags "attackers" too.
func (m *Matcher) Tag(text string) []int64 {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	folded := cases.Fold().String(text)

	var ids []int64
	for _, rule := range m.rules {
		if rule.foldedTerm != "" && strings.Contains(folded, rule.foldedTerm) {
			ids = append(ids, rule.id)
		}
	}
	return sortedUnique(ids)
}

// Terms returns the canonical terms in rule order, case-folded.
func (m *Matcher) Terms() []string {
	terms := make([]string, 0, len(m.rules))
	for _, rule := range m.rules {
		if rule.foldedTerm != "" {
			terms = append(terms, rule.foldedTerm)
		}
	}
	return terms
}

func (m *Matcher) Len() int {
	return len(m.rules)
}

func (m *Matcher) Fingerprint() string {
	return m.fingerprint
}

// Fingerprint identifies a rule set by content, independent of slice order.
func Fingerprint(rules []Rule) string {
	keys := make([]string, 0, len(rules))
	for _, rule := range rules {
		keys = append(keys, strconv.FormatInt(rule.ID, 10)+"\x00"+rule.Term+"\x00"+rule.Pattern)
	}
	sort.Strings(keys)

	h := sha1.New()
	for _, key := range keys {
		h.Write([]byte(key))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedUnique(ids []int64) []int64 {
	if len(ids) < 2 {
		return ids
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
