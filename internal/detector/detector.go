// Package detector finds candidate PII spans in free text.
//
// Each detection tier is a Detector. The Pipeline keeps them in a fixed order
// (email, phone, capitalized names, indicator names, lowercase-pair names) so the
// anonymizer can substitute one tier before the next one scans the text.
package detector

import (
	"fmt"
	"sort"

	"github.com/hfi/pii-vault/pkg/token"
)

// Span is a candidate PII value found in a text
type Span struct {
	// Value is the literal text of the span
	Value string
	// Start is the byte offset where the span starts
	Start int
	// End is the byte offset just past the span
	End int
	// Type is the PII type guess
	Type token.Type
	// Source is the name of the detector that produced the span
	Source string
}

// Tier groups detectors by precision
type Tier int

const (
	// TierStrict detectors always run
	TierStrict Tier = iota
	// TierLenient detectors only run when lenient name mode is requested
	TierLenient
)

func (t Tier) String() string {
	if t == TierLenient {
		return "lenient"
	}
	return "strict"
}

// Detector is one detection strategy
type Detector interface {
	// Name returns the detector name for logging/metrics
	Name() string

	// Type returns the PII type this detector yields
	Type() token.Type

	// Tier returns the precision tier of the detector
	Tier() Tier

	// Detect scans text and returns validated spans in text order
	Detect(text string) []Span

	// IsEnabled returns whether the detector is enabled
	IsEnabled() bool

	// SetEnabled enables or disables the detector
	SetEnabled(enabled bool)
}

// BaseDetector provides common functionality for detectors
type BaseDetector struct {
	enabled bool
	tier    Tier
}

// IsEnabled returns whether the detector is enabled
func (b *BaseDetector) IsEnabled() bool {
	return b.enabled
}

// SetEnabled enables or disables the detector
func (b *BaseDetector) SetEnabled(enabled bool) {
	b.enabled = enabled
}

// Tier returns the precision tier
func (b *BaseDetector) Tier() Tier {
	return b.tier
}

// Pipeline runs detectors in registration order
type Pipeline struct {
	detectors []Detector
}

// NewPipeline creates an empty pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{
		detectors: make([]Detector, 0),
	}
}

// NewDefaultPipeline creates the standard ordered pipeline:
// email, phone, capitalized names, indicator names, lowercase-pair names.
func NewDefaultPipeline() *Pipeline {
	p := NewPipeline()
	p.Register(NewEmailDetector())
	p.Register(NewPhoneDetector())
	p.Register(NewCapitalizedNameDetector())
	p.Register(NewIndicatorNameDetector())
	p.Register(NewLowercasePairDetector())
	return p
}

// Register appends a detector to the pipeline
func (p *Pipeline) Register(d Detector) {
	p.detectors = append(p.detectors, d)
}

// Get returns a detector by name
func (p *Pipeline) Get(name string) Detector {
	for _, d := range p.detectors {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// List returns all registered detector names in order
func (p *Pipeline) List() []string {
	names := make([]string, len(p.detectors))
	for i, d := range p.detectors {
		names[i] = d.Name()
	}
	return names
}

// SetEnabled toggles a detector by name
func (p *Pipeline) SetEnabled(name string, enabled bool) error {
	d := p.Get(name)
	if d == nil {
		return fmt.Errorf("unknown detector: %s", name)
	}
	d.SetEnabled(enabled)
	return nil
}

// Stages returns the enabled detectors to run, in order. Lenient tier
// detectors are included only when lenient is true.
func (p *Pipeline) Stages(lenient bool) []Detector {
	stages := make([]Detector, 0, len(p.detectors))
	for _, d := range p.detectors {
		if !d.IsEnabled() {
			continue
		}
		if d.Tier() == TierLenient && !lenient {
			continue
		}
		stages = append(stages, d)
	}
	return stages
}

// Run executes a single detector over text. Spans touching any protected
// range (already substituted tokens) are dropped and overlaps are resolved
// in favor of the longer span.
func (p *Pipeline) Run(d Detector, text string, protected [][]int) []Span {
	spans := d.Detect(text)
	if len(spans) == 0 {
		return nil
	}

	kept := spans[:0]
	for _, s := range spans {
		if overlapsAny(s, protected) {
			continue
		}
		s.Source = d.Name()
		kept = append(kept, s)
	}

	return resolveOverlaps(kept)
}

func overlapsAny(s Span, ranges [][]int) bool {
	for _, r := range ranges {
		if s.Start < r[1] && r[0] < s.End {
			return true
		}
	}
	return false
}

// resolveOverlaps removes overlapping spans, keeping the longer one
func resolveOverlaps(spans []Span) []Span {
	if len(spans) <= 1 {
		return spans
	}

	sort.Slice(spans, func(i, j int) bool {
		return spans[i].Start < spans[j].Start
	})

	final := []Span{spans[0]}
	for i := 1; i < len(spans); i++ {
		current := spans[i]
		last := &final[len(final)-1]

		if current.Start < last.End {
			if current.End-current.Start > last.End-last.Start {
				final[len(final)-1] = current
			}
		} else {
			final = append(final, current)
		}
	}

	return final
}
