package detector

import (
	"regexp"
	"unicode"
	"unicode/utf8"

	"github.com/hfi/pii-vault/pkg/token"
)

// Validator decides whether a raw regex match is really PII
type Validator func(match string) bool

// PatternDetector detects PII with a single regex and an optional validator.
// Matches glued to surrounding word characters are ignored.
type PatternDetector struct {
	BaseDetector
	name      string
	piiType   token.Type
	pattern   *regexp.Regexp
	validator Validator
}

// NewPatternDetector creates a strict-tier regex detector
func NewPatternDetector(name string, piiType token.Type, pattern *regexp.Regexp, validator Validator) *PatternDetector {
	return &PatternDetector{
		BaseDetector: BaseDetector{enabled: true, tier: TierStrict},
		name:         name,
		piiType:      piiType,
		pattern:      pattern,
		validator:    validator,
	}
}

// Apostrophes are allowed inside the local part ("o'brien@") but not at its
// edges, so quoted addresses keep their quotes outside the match.
var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+(?:'[A-Za-z0-9._%+\-]+)*@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// Phone candidates: optional country code, optional area code in parentheses,
// then digit groups joined by space, dot or dash. The validator does the rest.
var phonePattern = regexp.MustCompile(`(?:\+\d{1,3}[ .\-]?)?(?:\(\d{1,4}\)[ .\-]?)?\d{2,4}(?:[ .\-]?\d{2,5}){1,5}`)

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// NewEmailDetector creates the email detector. Email syntax is a strong
// enough signal that every match is accepted.
func NewEmailDetector() *PatternDetector {
	return NewPatternDetector("email", token.TypeEmail, emailPattern, nil)
}

// NewPhoneDetector creates the phone detector: broad pattern, digit-count validation
func NewPhoneDetector() *PatternDetector {
	return NewPatternDetector("phone", token.TypePhone, phonePattern, ValidPhone)
}

// ValidPhone accepts candidates holding between 7 and 15 digits
func ValidPhone(candidate string) bool {
	digits := 0
	for _, r := range candidate {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= minPhoneDigits && digits <= maxPhoneDigits
}

// Name returns the detector name
func (p *PatternDetector) Name() string {
	return p.name
}

// Type returns the PII type
func (p *PatternDetector) Type() token.Type {
	return p.piiType
}

// Detect finds all validated matches
func (p *PatternDetector) Detect(text string) []Span {
	var spans []Span

	for _, loc := range p.pattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if !isBoundary(text, start, end) {
			continue
		}

		value := text[start:end]
		if p.validator != nil && !p.validator(value) {
			continue
		}

		spans = append(spans, Span{
			Value: value,
			Start: start,
			End:   end,
			Type:  p.piiType,
		})
	}

	return spans
}

// isBoundary reports whether text[start:end] is not glued to a word character
// on either side
func isBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
