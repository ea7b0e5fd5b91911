// Package token derives the deterministic tokens that stand in for PII values
// and recognizes them again inside free text.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Type classifies a detected PII value
type Type string

// Supported PII types. The set is closed: a new type needs a detector and a tag.
const (
	TypeName  Type = "NAME"
	TypeEmail Type = "EMAIL"
	TypePhone Type = "PHONE"
)

// Types lists every supported type in wire order
var Types = []Type{TypeName, TypeEmail, TypePhone}

// Valid reports whether t is one of the supported types
func (t Type) Valid() bool {
	switch t {
	case TypeName, TypeEmail, TypePhone:
		return true
	}
	return false
}

// ParseType converts a wire tag back into a Type
func ParseType(s string) (Type, bool) {
	t := Type(s)
	return t, t.Valid()
}

const (
	// DefaultLength is the number of hex characters kept from the digest
	DefaultLength = 8
	// MinLength is the shortest token length accepted by NewCodec
	MinLength = 4
	// MaxLength is the full hex length of a SHA-256 digest
	MaxLength = sha256.Size * 2
)

// Parsed is a formatted token split into its parts
type Parsed struct {
	Type  Type
	Token string
}

// Codec computes, formats and recognizes tokens of a fixed length
type Codec struct {
	length int
	exact  *regexp.Regexp
	search *regexp.Regexp
}

// NewCodec creates a codec producing tokens of the given length.
// Lengths outside [MinLength, MaxLength] fall back to DefaultLength.
func NewCodec(length int) *Codec {
	if length < MinLength || length > MaxLength {
		length = DefaultLength
	}

	body := fmt.Sprintf(`(NAME|EMAIL|PHONE)_([a-f0-9]{%d})`, length)

	return &Codec{
		length: length,
		exact:  regexp.MustCompile(`^` + body + `$`),
		search: regexp.MustCompile(`\b` + body + `\b`),
	}
}

// Length returns the number of hex characters in a token body
func (c *Codec) Length() int {
	return c.length
}

// Compute derives the token body for an already normalized value
func (c *Codec) Compute(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:c.length]
}

// Format renders the external form TYPE_token
func (c *Codec) Format(t Type, tok string) string {
	return string(t) + "_" + tok
}

// Generate computes and formats the token for a normalized value in one step
func (c *Codec) Generate(t Type, normalized string) string {
	return c.Format(t, c.Compute(normalized))
}

// Parse splits a formatted token. Malformed input yields false, never an error,
// so callers can treat it as ordinary text.
func (c *Codec) Parse(formatted string) (Parsed, bool) {
	m := c.exact.FindStringSubmatch(formatted)
	if m == nil {
		return Parsed{}, false
	}
	return Parsed{Type: Type(m[1]), Token: m[2]}, true
}

// IsToken reports whether s is exactly one formatted token
func (c *Codec) IsToken(s string) bool {
	return c.exact.MatchString(s)
}

// FindAll returns every formatted token in text, in order of appearance
func (c *Codec) FindAll(text string) []string {
	return c.search.FindAllString(text, -1)
}

// FindAllIndex returns the byte ranges of every formatted token in text
func (c *Codec) FindAllIndex(text string) [][]int {
	return c.search.FindAllStringIndex(text, -1)
}

// Normalize returns the canonical mapping key for a raw value: trimmed,
// NFC-composed and lowercased. Inner whitespace is kept as is.
func Normalize(value string) string {
	value = strings.TrimSpace(value)
	value = norm.NFC.String(value)
	// cases.Caser keeps state between calls and is not safe to share
	return cases.Lower(language.Und).String(value)
}
