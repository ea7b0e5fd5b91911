package detector

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hfi/pii-vault/pkg/token"
)

const trailingPunct = `.,;:!?)"'»`

// LowercasePairDetector is the broad lenient fallback: any two adjacent
// lowercase words that survive the stopword, common-word and invalid-first-word
// filters are taken as a name.
type LowercasePairDetector struct {
	BaseDetector
}

// NewLowercasePairDetector creates the lenient fallback name detector
func NewLowercasePairDetector() *LowercasePairDetector {
	return &LowercasePairDetector{
		BaseDetector: BaseDetector{enabled: true, tier: TierLenient},
	}
}

// Name returns the detector name
func (d *LowercasePairDetector) Name() string {
	return "lowercase_pair_name"
}

// Type returns the PII type
func (d *LowercasePairDetector) Type() token.Type {
	return token.TypeName
}

// Detect scans adjacent word pairs. Once a pair is taken its second word is
// not reused as the first word of the next pair.
func (d *LowercasePairDetector) Detect(text string) []Span {
	var spans []Span

	fields := wordPattern.FindAllStringIndex(text, -1)
	for i := 0; i+1 < len(fields); i++ {
		a, b := fields[i], fields[i+1]

		if strings.Trim(text[a[1]:b[0]], " \t") != "" {
			continue
		}

		first := text[a[0]:a[1]]
		second := strings.TrimRight(text[b[0]:b[1]], trailingPunct)
		if !lowercaseWord(first) || !lowercaseWord(second) {
			continue
		}
		if isStopword(first) || isCommonWord(first) || isInvalidFirstWord(first) {
			continue
		}
		if isStopword(second) || isCommonWord(second) {
			continue
		}

		spans = append(spans, Span{
			Value: text[a[0] : b[0]+len(second)],
			Start: a[0],
			End:   b[0] + len(second),
			Type:  token.TypeName,
		})
		i++
	}

	return spans
}

// lowercaseWord reports whether w is at least two lowercase letters and nothing else
func lowercaseWord(w string) bool {
	if utf8.RuneCountInString(w) < 2 {
		return false
	}
	for _, r := range w {
		if !unicode.IsLower(r) {
			return false
		}
	}
	return true
}
