// Package filter implements the title matching engine.
package filter

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"rss_watch/internal/model"
)

// InvalidPatternError is returned when a filter pattern does not compile.
type InvalidPatternError struct {
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid regex %q: %v", e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// Engine evaluates entry titles against filter rules.
// Compiled patterns are cached, so an Engine should be reused across cycles.
type Engine struct {
	log *slog.Logger

	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

// New creates an Engine that reports broken patterns to log.
func New(log *slog.Logger) *Engine {
	return &Engine{
		log:   log,
		cache: make(map[string]*regexp.Regexp),
	}
}

// Match returns the first enabled rule whose pattern matches title.
// Rules are OR-ed. Disabled rules and rules that fail to compile are skipped,
// so an empty or fully disabled rule set never matches.
func (e *Engine) Match(title string, rules []model.FilterRule) (model.FilterRule, bool) {
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		re, err := e.compile(r.Pattern)
		if err != nil {
			e.log.Warn("skip invalid filter", "filter", r.Name, "pattern", r.Pattern, "error", err)
			continue
		}
		if re.MatchString(title) {
			return r, true
		}
	}
	return model.FilterRule{}, false
}

// Matches reports whether title matches any enabled rule.
func (e *Engine) Matches(title string, rules []model.FilterRule) bool {
	_, ok := e.Match(title, rules)
	return ok
}

func (e *Engine) compile(pattern string) (*regexp.Regexp, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if re, ok := e.cache[pattern]; ok {
		return re, nil
	}
	re, err := Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.cache[pattern] = re
	return re, nil
}

// Compile compiles pattern as a case-insensitive regular expression.
func Compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, &InvalidPatternError{Pattern: pattern, Err: err}
	}
	return re, nil
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	if pattern == "" {
		return &InvalidPatternError{Pattern: pattern, Err: fmt.Errorf("empty pattern")}
	}
	_, err := Compile(pattern)
	return err
}
