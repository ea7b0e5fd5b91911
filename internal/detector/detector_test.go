package detector

import (
	"reflect"
	"testing"

	"github.com/hfi/pii-vault/pkg/token"
)

func values(spans []Span) []string {
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, s.Value)
	}
	return out
}

func TestEmailDetector_Detect(t *testing.T) {
	d := NewEmailDetector()

	testCases := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple", "contact john.smith@company.com now", []string{"john.smith@company.com"}},
		{"trailing dot", "write to dborda@gmail.com.", []string{"dborda@gmail.com"}},
		{"two emails", "a@b.io and c.d+tag@mail.example.org", []string{"a@b.io", "c.d+tag@mail.example.org"}},
		{"no email", "this is not an email: foo@bar", []string{}},
		{"apostrophe in local part", "mail o'brien@x.com today", []string{"o'brien@x.com"}},
		{"single quoted", "use 'ana@x.com' please", []string{"ana@x.com"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := values(d.Detect(tc.input))
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Detect(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestPhoneDetector_Detect(t *testing.T) {
	d := NewPhoneDetector()

	testCases := []struct {
		name  string
		input string
		want  []string
	}{
		{"dashes", "call 555-123-4567 today", []string{"555-123-4567"}},
		{"country code", "mi móvil es +34 612 345 678", []string{"+34 612 345 678"}},
		{"area code", "office (555) 123-4567", []string{"(555) 123-4567"}},
		{"too short", "order 12345 shipped", []string{}},
		{"year", "back in 2024", []string{}},
		{"too long", "id 1234567890123456789", []string{}},
		{"glued to word", "ref abc5551234567", []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := values(d.Detect(tc.input))
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Detect(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestValidPhone(t *testing.T) {
	testCases := []struct {
		input string
		want  bool
	}{
		{"555-1234", true},
		{"123456", false},
		{"+1 (555) 123-4567", true},
		{"1234 5678 9012 3456", false},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := ValidPhone(tc.input); got != tc.want {
				t.Errorf("ValidPhone(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestCapitalizedNameDetector_Detect(t *testing.T) {
	d := NewCapitalizedNameDetector()

	testCases := []struct {
		name  string
		input string
		want  []string
	}{
		{"two words", "contact John Smith at home", []string{"John Smith"}},
		{"leading stopword trimmed", "Hello John Smith", []string{"John Smith"}},
		{"accented", "with José Pérez tomorrow", []string{"José Pérez"}},
		{"hyphenated", "ask Ana-María López", []string{"Ana-María López"}},
		{"single name", "ask Maria about it", []string{"Maria"}},
		{"short single", "I met Bo", []string{}},
		{"sentence start stopword", "This message contains no personal information.", []string{}},
		{"spanish possessive", "Su email es EMAIL_f660ab91", []string{}},
		{"common word", "Email EMAIL_8004719c again", []string{}},
		{"elided prefix", "ask Sean O'Neil", []string{"Sean O'Neil"}},
		{"inner capital", "please email John McDonald today", []string{"John McDonald"}},
		{"inner capital single", "DeLuca signed", []string{"DeLuca"}},
		{"elided prefix with inner capital", "from Maria D'Angelo-McKay", []string{"Maria D'Angelo-McKay"}},
		{"word cut at end", "met John McDONALD", []string{"John"}},
		{"word cut at start", "eBay Smith", []string{"Smith"}},
		{"possessive", "Sean's car", []string{"Sean"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := values(d.Detect(tc.input))
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Detect(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestCapitalizedNameDetector_Offsets(t *testing.T) {
	d := NewCapitalizedNameDetector()

	text := "Hello John Smith"
	spans := d.Detect(text)
	if len(spans) != 1 {
		t.Fatalf("Detect() found %d spans, want 1", len(spans))
	}
	if text[spans[0].Start:spans[0].End] != spans[0].Value {
		t.Errorf("span offsets [%d:%d] do not match value %q", spans[0].Start, spans[0].End, spans[0].Value)
	}
	if spans[0].Type != token.TypeName {
		t.Errorf("Type = %s, want NAME", spans[0].Type)
	}
}

func TestIndicatorNameDetector_Detect(t *testing.T) {
	d := NewIndicatorNameDetector()

	testCases := []struct {
		name  string
		input string
		want  []string
	}{
		{"spanish", "cuyo nombre es maria garcia", []string{"maria garcia"}},
		{"english called", "a client called john doe", []string{"john doe"}},
		{"single word", "my name is bob", []string{"bob"}},
		{"second word stopword", "se llama pedro y vive aqui", []string{"pedro"}},
		{"colon", "nombre: lucia fernandez", []string{"lucia fernandez"}},
		{"stopword after phrase", "he called me yesterday", []string{}},
		{"short single", "she is named al", []string{}},
		{"inside word", "renamed file", []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := values(d.Detect(tc.input))
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Detect(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestLowercasePairDetector_Detect(t *testing.T) {
	d := NewLowercasePairDetector()

	testCases := []struct {
		name  string
		input string
		want  []string
	}{
		{"spanish", "cuyo nombre es maria garcia", []string{"maria garcia"}},
		{"trailing punctuation", "please forward to juan perez.", []string{"juan perez"}},
		{"no names", "This message contains no personal information.", []string{}},
		{"tokens ignored", "Su email es EMAIL_f660ab91", []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := values(d.Detect(tc.input))
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Detect(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestPipeline_Stages(t *testing.T) {
	p := NewDefaultPipeline()

	names := func(ds []Detector) []string {
		out := make([]string, len(ds))
		for i, d := range ds {
			out[i] = d.Name()
		}
		return out
	}

	strict := names(p.Stages(false))
	wantStrict := []string{"email", "phone", "capitalized_name"}
	if !reflect.DeepEqual(strict, wantStrict) {
		t.Errorf("Stages(false) = %v, want %v", strict, wantStrict)
	}

	lenient := names(p.Stages(true))
	if !reflect.DeepEqual(lenient, p.List()) {
		t.Errorf("Stages(true) = %v, want %v", lenient, p.List())
	}

	if err := p.SetEnabled("phone", false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	if got := names(p.Stages(false)); !reflect.DeepEqual(got, []string{"email", "capitalized_name"}) {
		t.Errorf("Stages(false) after disabling phone = %v", got)
	}

	if err := p.SetEnabled("ssn", false); err == nil {
		t.Error("SetEnabled() on unknown detector should fail")
	}
}

func TestPipeline_RunSkipsProtected(t *testing.T) {
	p := NewDefaultPipeline()
	d := p.Get("capitalized_name")

	text := "ask John Smith and Maria"
	protected := [][]int{{4, 14}}

	got := p.Run(d, text, protected)
	if len(got) != 1 || got[0].Value != "Maria" {
		t.Fatalf("Run() = %+v, want only Maria", got)
	}
	if got[0].Source != "capitalized_name" {
		t.Errorf("Source = %q", got[0].Source)
	}
}

func TestResolveOverlaps(t *testing.T) {
	spans := []Span{
		{Value: "b", Start: 10, End: 12},
		{Value: "a", Start: 0, End: 5},
		{Value: "long", Start: 3, End: 9},
	}

	got := resolveOverlaps(spans)
	if len(got) != 2 {
		t.Fatalf("resolveOverlaps() returned %d spans, want 2", len(got))
	}
	if got[0].Value != "long" || got[1].Value != "b" {
		t.Errorf("resolveOverlaps() = %+v", got)
	}
}
