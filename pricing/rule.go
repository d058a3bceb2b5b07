// Package pricing turns extracted price text into integer amounts and holds
// the price-change arithmetic shared by the crawler and the ledger.
package pricing

import (
	"regexp"
	"strings"
)

// RuleKind tags the variant held by a Rule.
type RuleKind int

const (
	Literal RuleKind = iota
	Pattern
)

// Rule is a shop rule string compiled once at catalog load: either a literal
// string or a regular expression. The zero value is an empty literal.
type Rule struct {
	Kind    RuleKind
	Literal string
	Pattern *regexp.Regexp
}

// CompileRule parses a rule string. "/expr/" and "/expr/i" compile to a
// Pattern; anything else, including an expression that fails to compile,
// is kept as a Literal.
func CompileRule(s string) Rule {
	if len(s) >= 2 && s[0] == '/' {
		body, flags := s[1:], ""
		if i := strings.LastIndexByte(body, '/'); i >= 0 {
			body, flags = body[:i], body[i+1:]
			if flags == "" || flags == "i" {
				expr := body
				if flags == "i" {
					expr = "(?i)" + body
				}
				if re, err := regexp.Compile(expr); err == nil && body != "" {
					return Rule{Kind: Pattern, Pattern: re}
				}
			}
		}
	}
	return Rule{Kind: Literal, Literal: s}
}

// IsZero reports whether the rule matches nothing.
func (r Rule) IsZero() bool {
	return r.Kind == Literal && r.Literal == ""
}

// Strip removes what the rule designates from text. A Literal strips every
// rune it lists; a Pattern removes every match.
func (r Rule) Strip(text string) string {
	switch r.Kind {
	case Pattern:
		return r.Pattern.ReplaceAllString(text, "")
	default:
		if r.Literal == "" {
			return text
		}
		return strings.Map(func(c rune) rune {
			if strings.ContainsRune(r.Literal, c) {
				return -1
			}
			return c
		}, text)
	}
}

// Match reports whether text satisfies the rule. A Literal matches as a
// substring; a Pattern matches anywhere.
func (r Rule) Match(text string) bool {
	switch r.Kind {
	case Pattern:
		return r.Pattern.MatchString(text)
	default:
		if r.Literal == "" {
			return false
		}
		return strings.Contains(text, r.Literal)
	}
}

// String returns the rule back in its source form.
func (r Rule) String() string {
	if r.Kind == Pattern {
		return "/" + r.Pattern.String() + "/"
	}
	return r.Literal
}
