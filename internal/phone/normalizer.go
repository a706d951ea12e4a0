// Package phone rewrites raw subscriber numbers into one canonical form:
// country code followed by the national significant number, digits only.
// Every boundary that touches a number (directory writes, gateway calls)
// goes through the same Normalizer so the stored and dialed forms agree.
package phone

import (
	"fmt"
	"strings"
)

// E.164 caps numbers at 15 digits; anything under 8 is not a subscriber.
const (
	DefaultMinDigits = 8
	DefaultMaxDigits = 15
)

// InvalidNumberError reports input that cannot be brought into canonical form.
type InvalidNumberError struct {
	Raw    string
	Reason string
}

func (e *InvalidNumberError) Error() string {
	return fmt.Sprintf("invalid phone number %q: %s", e.Raw, e.Reason)
}

// Normalizer holds the dialing plan a deployment runs under. Build one with
// NewBuilder and share it; it is immutable and safe for concurrent use.
type Normalizer struct {
	countryCode string
	trunkPrefix string
	minDigits   int
	maxDigits   int
}

// Builder assembles a Normalizer. Zero values fall back to the Ghanaian
// dialing plan the network launched on.
type Builder struct {
	countryCode string
	trunkPrefix string
	minDigits   int
	maxDigits   int
}

func NewBuilder() *Builder {
	return &Builder{
		countryCode: "233",
		trunkPrefix: "0",
		minDigits:   DefaultMinDigits,
		maxDigits:   DefaultMaxDigits,
	}
}

// CountryCode sets the digits prepended to national-format input.
func (b *Builder) CountryCode(cc string) *Builder {
	b.countryCode = cc
	return b
}

// TrunkPrefix sets the national dialing prefix stripped before the country
// code is applied. Pass "" for plans without one.
func (b *Builder) TrunkPrefix(p string) *Builder {
	b.trunkPrefix = p
	return b
}

// DigitBounds sets the accepted length range of the canonical form.
func (b *Builder) DigitBounds(min, max int) *Builder {
	b.minDigits = min
	b.maxDigits = max
	return b
}

func (b *Builder) Build() (*Normalizer, error) {
	if b.countryCode == "" || !digitsOnly(b.countryCode) {
		return nil, fmt.Errorf("country code %q must be one or more digits", b.countryCode)
	}
	if b.trunkPrefix != "" && !digitsOnly(b.trunkPrefix) {
		return nil, fmt.Errorf("trunk prefix %q must be digits", b.trunkPrefix)
	}
	if b.minDigits <= 0 || b.maxDigits < b.minDigits {
		return nil, fmt.Errorf("digit bounds [%d, %d] are not a valid range", b.minDigits, b.maxDigits)
	}
	return &Normalizer{
		countryCode: b.countryCode,
		trunkPrefix: b.trunkPrefix,
		minDigits:   b.minDigits,
		maxDigits:   b.maxDigits,
	}, nil
}

// Normalize returns the canonical form of raw, or an *InvalidNumberError.
//
// Accepted inputs, in order of recognition: "+<cc><nsn>", "00<cc><nsn>",
// "<trunk><nsn>", "<cc><nsn>" and bare "<nsn>". Separator characters
// (spaces, dots, dashes, parentheses) are ignored. A bare number that
// happens to start with the country code is taken as already international;
// that ambiguity is inherent to digit-only input and resolving it the same
// way everywhere is the point of this package.
func (n *Normalizer) Normalize(raw string) (string, error) {
	digits := stripSeparators(raw)
	if digits == "" {
		return "", &InvalidNumberError{Raw: raw, Reason: "empty"}
	}

	international := false
	switch {
	case strings.HasPrefix(digits, "+"):
		digits = digits[1:]
		international = true
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
		international = true
	}

	if !digitsOnly(digits) {
		return "", &InvalidNumberError{Raw: raw, Reason: "contains non-digit characters"}
	}

	if !international {
		switch {
		case n.trunkPrefix != "" && strings.HasPrefix(digits, n.trunkPrefix):
			digits = n.countryCode + digits[len(n.trunkPrefix):]
		case strings.HasPrefix(digits, n.countryCode):
			// already canonical
		default:
			digits = n.countryCode + digits
		}
	}

	if len(digits) < n.minDigits {
		return "", &InvalidNumberError{Raw: raw, Reason: "too short"}
	}
	if len(digits) > n.maxDigits {
		return "", &InvalidNumberError{Raw: raw, Reason: "too long"}
	}
	return digits, nil
}

func stripSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '-', '.', '(', ')':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
