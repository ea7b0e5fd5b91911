package detector

import (
	"regexp"
	"unicode/utf8"

	"github.com/hfi/pii-vault/pkg/token"
)

// Introducer phrases in Spanish and English, longest first, followed by one
// or two words of any case.
var indicatorPattern = regexp.MustCompile(
	`(?i)(?:^|[^\p{L}\p{N}_])` +
		`(whose name is|cuyo nombre es|my name is|mi nombre es|his name is|her name is|su nombre es|the name is|name is|named|called|de nombre|nombre:|name:|llamad[oa]|se llama|me llamo)` +
		`[ \t]+(\p{L}+)(?:[ \t]+(\p{L}+))?`,
)

// IndicatorNameDetector finds names anchored by an introducer phrase, such
// as "cuyo nombre es maria garcia" or "a client called john doe"
type IndicatorNameDetector struct {
	BaseDetector
}

// NewIndicatorNameDetector creates the lenient indicator-based name detector
func NewIndicatorNameDetector() *IndicatorNameDetector {
	return &IndicatorNameDetector{
		BaseDetector: BaseDetector{enabled: true, tier: TierLenient},
	}
}

// Name returns the detector name
func (d *IndicatorNameDetector) Name() string {
	return "indicator_name"
}

// Type returns the PII type
func (d *IndicatorNameDetector) Type() token.Type {
	return token.TypeName
}

// Detect returns the word or word pair following each introducer phrase
func (d *IndicatorNameDetector) Detect(text string) []Span {
	var spans []Span

	for _, m := range indicatorPattern.FindAllStringSubmatchIndex(text, -1) {
		// m[4:6] first word, m[6:8] optional second word
		first := text[m[4]:m[5]]
		if isStopword(first) || isInvalidFirstWord(first) || isCommonWord(first) {
			continue
		}

		start, end := m[4], m[5]
		if m[6] >= 0 {
			second := text[m[6]:m[7]]
			if !isStopword(second) && !isCommonWord(second) {
				end = m[7]
			}
		}

		if end == m[5] && utf8.RuneCountInString(first) < minNameRunes {
			continue
		}
		if !isBoundary(text, start, end) {
			continue
		}

		spans = append(spans, Span{
			Value: text[start:end],
			Start: start,
			End:   end,
			Type:  token.TypeName,
		})
	}

	return spans
}
