package detector

import (
	"regexp"
	"unicode/utf8"

	"github.com/hfi/pii-vault/pkg/token"
)

const minNameRunes = 3

// A name word starts with a capital and may carry an elided prefix
// ("O'Neil", "D'Angelo"), inner capitals ("McDonald", "DeLuca") and
// hyphenated parts ("Ana-María").
const (
	namePart = `\p{Lu}(?:'\p{Lu})?\p{Ll}+(?:\p{Lu}\p{Ll}+)*`
	nameWord = namePart + `(?:-` + namePart + `)*`
)

// One or more name words separated by spaces or tabs
var capitalizedNamePattern = regexp.MustCompile(nameWord + `(?:[ \t]+` + nameWord + `)*`)

var wordPattern = regexp.MustCompile(`\S+`)

// CapitalizedNameDetector finds runs of capitalized words
type CapitalizedNameDetector struct {
	BaseDetector
}

// NewCapitalizedNameDetector creates the strict name detector
func NewCapitalizedNameDetector() *CapitalizedNameDetector {
	return &CapitalizedNameDetector{
		BaseDetector: BaseDetector{enabled: true, tier: TierStrict},
	}
}

// Name returns the detector name
func (d *CapitalizedNameDetector) Name() string {
	return "capitalized_name"
}

// Type returns the PII type
func (d *CapitalizedNameDetector) Type() token.Type {
	return token.TypeName
}

// Detect finds capitalized word runs. A word cut off by the match edge
// ("eBay", "McDONALD") is dropped, and so are stopwords at either edge
// ("Hello John Smith" yields "John Smith"). What remains must be several
// words, or one word that is long enough and not a common word.
func (d *CapitalizedNameDetector) Detect(text string) []Span {
	var spans []Span

	for _, loc := range capitalizedNamePattern.FindAllStringIndex(text, -1) {
		words := wordPattern.FindAllStringIndex(text[loc[0]:loc[1]], -1)
		if !isBoundary(text, loc[0], len(text)) && len(words) > 0 {
			words = words[1:]
		}
		if !isBoundary(text, 0, loc[1]) && len(words) > 0 {
			words = words[:len(words)-1]
		}
		for len(words) > 0 && isStopword(text[loc[0]+words[0][0]:loc[0]+words[0][1]]) {
			words = words[1:]
		}
		for len(words) > 0 && isStopword(text[loc[0]+words[len(words)-1][0]:loc[0]+words[len(words)-1][1]]) {
			words = words[:len(words)-1]
		}
		if len(words) == 0 {
			continue
		}

		start := loc[0] + words[0][0]
		end := loc[0] + words[len(words)-1][1]
		value := text[start:end]

		if len(words) == 1 && !validSingleName(value) {
			continue
		}

		spans = append(spans, Span{
			Value: value,
			Start: start,
			End:   end,
			Type:  token.TypeName,
		})
	}

	return spans
}

func validSingleName(word string) bool {
	if utf8.RuneCountInString(word) < minNameRunes {
		return false
	}
	return !isStopword(word) && !isCommonWord(word)
}
