// Package filter implements the news item matching engine.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"news_dispatch/internal/model"
)

type rule struct {
	filter model.Filter
	value  string
	re     *regexp.Regexp
}

// Engine holds a compiled rule set. A nil or empty Engine passes every item.
type Engine struct {
	rules []rule
}

// New compiles filters into an Engine. Unknown kinds or scopes and invalid
// regular expressions are configuration errors.
func New(filters []model.Filter) (*Engine, error) {
	e := &Engine{rules: make([]rule, 0, len(filters))}
	for i, f := range filters {
		if f.Scope == "" {
			f.Scope = model.ScopeAll
		}
		switch f.Scope {
		case model.ScopeTitle, model.ScopeContent, model.ScopeAll:
		default:
			return nil, fmt.Errorf("%w: filter %d: unknown scope %q", model.ErrConfiguration, i, f.Scope)
		}

		r := rule{filter: f}
		switch f.Kind {
		case model.FilterInclude, model.FilterExclude:
			r.value = strings.ToLower(f.Value)
		case model.FilterIncludeRe, model.FilterExcludeRe:
			re, err := regexp.Compile("(?i)" + f.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: filter %d: invalid regex: %w", model.ErrConfiguration, i, err)
			}
			r.re = re
		default:
			return nil, fmt.Errorf("%w: filter %d: unknown kind %q", model.ErrConfiguration, i, f.Kind)
		}
		e.rules = append(e.rules, r)
	}
	return e, nil
}

// Match checks whether an item passes the rule set.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
func (e *Engine) Match(item model.NewsItem) bool {
	if e == nil || len(e.rules) == 0 {
		return true
	}

	hasIncludes := false
	anyIncludeMatched := false

	for _, r := range e.rules {
		switch r.filter.Kind {
		case model.FilterInclude, model.FilterIncludeRe:
			hasIncludes = true
			if r.matches(item) {
				anyIncludeMatched = true
			}
		case model.FilterExclude, model.FilterExcludeRe:
			if r.matches(item) {
				return false
			}
		}
	}

	return !hasIncludes || anyIncludeMatched
}

// Apply returns the items that pass the rule set, preserving order.
func (e *Engine) Apply(items []model.NewsItem) []model.NewsItem {
	if e == nil || len(e.rules) == 0 {
		return items
	}
	out := make([]model.NewsItem, 0, len(items))
	for _, it := range items {
		if e.Match(it) {
			out = append(out, it)
		}
	}
	return out
}

// Len returns the number of rules.
func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

func (r rule) matches(item model.NewsItem) bool {
	text := textForScope(item, r.filter.Scope)
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, r.value)
}

func textForScope(item model.NewsItem, scope model.FilterScope) string {
	switch scope {
	case model.ScopeTitle:
		return strings.ToLower(item.Title)
	case model.ScopeContent:
		return strings.ToLower(item.Body)
	default:
		return strings.ToLower(item.Title + " " + item.Body + " " + item.Category)
	}
}
