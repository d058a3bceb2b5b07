package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrNotNumeric is returned when located price text does not parse as a
// number once the shop rules are applied. It signals a locator or format
// mismatch, not a transient failure.
var ErrNotNumeric = errors.New("pricing: price text is not numeric")

// MinorUnits is the number of decimal places kept in an amount. Amounts are
// stored as integers in the currency's minor unit (cents).
const MinorUnits = 2

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// RulesInput is the raw, per-shop normalisation configuration.
type RulesInput struct {
	Currency          string
	ThousandSeparator string
	DecimalSeparator  string
	RemoveChars       string
	UnavailableText   string
}

// Rules is the compiled, immutable form of RulesInput. Safe for concurrent use.
type Rules struct {
	currency    string
	thousand    string
	decimal     string
	remove      Rule
	unavailable Rule
}

// CompileRules validates and compiles a shop's normalisation rules.
func CompileRules(in RulesInput) (*Rules, error) {
	if in.DecimalSeparator == "" {
		return nil, fmt.Errorf("pricing: decimal separator is required")
	}
	if in.ThousandSeparator == in.DecimalSeparator {
		return nil, fmt.Errorf("pricing: thousand and decimal separators must differ (%q)", in.DecimalSeparator)
	}
	return &Rules{
		currency:    in.Currency,
		thousand:    in.ThousandSeparator,
		decimal:     in.DecimalSeparator,
		remove:      CompileRule(in.RemoveChars),
		unavailable: CompileRule(in.UnavailableText),
	}, nil
}

// Unavailable reports whether text is the shop's "currently unavailable" wording.
func (r *Rules) Unavailable(text string) bool {
	return r.unavailable.Match(text)
}

// HasUnavailableText reports whether an unavailable wording is configured.
func (r *Rules) HasUnavailableText() bool {
	return !r.unavailable.IsZero()
}

// Normalize turns raw element text such as "1.299,95 €" into an amount in
// minor units (129995).
func (r *Rules) Normalize(text string) (int64, error) {
	s := r.remove.Strip(text)
	if r.currency != "" {
		s = strings.ReplaceAll(s, r.currency, "")
	}
	// unicode.IsSpace covers NBSP and narrow NBSP used as thousand grouping.
	s = strings.Map(func(c rune) rune {
		if unicode.IsSpace(c) {
			return -1
		}
		return c
	}, s)
	if r.thousand != "" {
		s = strings.ReplaceAll(s, r.thousand, "")
	}
	if r.decimal != "." {
		if strings.Contains(s, ".") {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, text)
		}
		s = strings.ReplaceAll(s, r.decimal, ".")
	}
	if s == "" {
		return 0, fmt.Errorf("%w: %q", ErrNotNumeric, text)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNotNumeric, text)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative price %q", ErrNotNumeric, text)
	}
	minor := d.Shift(MinorUnits).Round(0)
	if minor.GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: out of range %q", ErrNotNumeric, text)
	}
	return minor.IntPart(), nil
}
