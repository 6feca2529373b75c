package consensus

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// Policy defaults. Every number here is a tunable, not a constant of
// the algorithm.
const (
	DefaultMinAgreeing     = 2
	DefaultConfidenceFloor = 0.85
)

// SeverityBand maps an aggregate-confidence interval to a severity.
// Min is inclusive; Max is exclusive except on the last band of a
// policy, where it is inclusive so 1.0 has a home.
type SeverityBand struct {
	Min      float64            `json:"min" yaml:"min"`
	Max      float64            `json:"max" yaml:"max"`
	Severity contracts.Severity `json:"severity" yaml:"severity"`
}

// Policy holds the consensus thresholds. The zero value is not usable;
// build one with NewPolicy or DefaultPolicy.
type Policy struct {
	// MinAgreeing is the minimum number of detecting evaluators for a
	// confirmed verdict.
	MinAgreeing int

	// ConfidenceFloor is the aggregate confidence a confirmed verdict
	// must strictly exceed.
	ConfidenceFloor float64

	// Bands grade confirmed verdicts by aggregate confidence, ordered
	// ascending by Min.
	Bands []SeverityBand

	// ConfirmRule optionally replaces the agreeing/confidence
	// comparison with a CEL expression over the variables `agreeing`
	// (int), `total` (int) and `confidence` (double). The two-judgment
	// floor still applies: no rule can confirm a verdict built from a
	// single judgment.
	ConfirmRule string

	program cel.Program
}

// DefaultBands returns the standard severity grading.
func DefaultBands() []SeverityBand {
	return []SeverityBand{
		{Min: 0.85, Max: 0.90, Severity: contracts.SeverityLow},
		{Min: 0.90, Max: 0.95, Severity: contracts.SeverityMedium},
		{Min: 0.95, Max: 0.99, Severity: contracts.SeverityHigh},
		{Min: 0.99, Max: 1.0, Severity: contracts.SeverityCritical},
	}
}

// DefaultPolicy returns the stock policy: at least two agreeing
// evaluators, aggregate confidence strictly above 0.85, standard bands.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultMinAgreeing, DefaultConfidenceFloor, DefaultBands(), "")
	if err != nil {
		// Unreachable: the defaults carry no CEL rule.
		panic(err)
	}
	return p
}

// NewPolicy validates thresholds and compiles the optional confirm
// rule once, so Evaluate stays allocation-light and deterministic.
func NewPolicy(minAgreeing int, confidenceFloor float64, bands []SeverityBand, confirmRule string) (*Policy, error) {
	if minAgreeing < 1 {
		return nil, fmt.Errorf("min agreeing must be >= 1, got %d", minAgreeing)
	}
	if confidenceFloor < 0 || confidenceFloor >= 1 {
		return nil, fmt.Errorf("confidence floor %v outside [0,1)", confidenceFloor)
	}
	if len(bands) == 0 {
		return nil, fmt.Errorf("at least one severity band is required")
	}
	for i := range bands {
		if bands[i].Min >= bands[i].Max {
			return nil, fmt.Errorf("band %d: min %v not below max %v", i, bands[i].Min, bands[i].Max)
		}
		if i > 0 && bands[i].Min < bands[i-1].Max {
			return nil, fmt.Errorf("band %d overlaps band %d", i, i-1)
		}
	}

	p := &Policy{
		MinAgreeing:     minAgreeing,
		ConfidenceFloor: confidenceFloor,
		Bands:           bands,
		ConfirmRule:     confirmRule,
	}
	if confirmRule != "" {
		prg, err := compileConfirmRule(confirmRule)
		if err != nil {
			return nil, fmt.Errorf("compile confirm rule: %w", err)
		}
		p.program = prg
	}
	return p, nil
}

func compileConfirmRule(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("agreeing", cel.IntType),
		cel.Variable("total", cel.IntType),
		cel.Variable("confidence", cel.DoubleType),
	)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("confirm rule must evaluate to bool, got %s", ast.OutputType())
	}
	return env.Program(ast)
}

// severityFor grades an aggregate confidence. Confidences below the
// lowest band (possible under a permissive confirm rule) clamp to the
// lowest severity.
func (p *Policy) severityFor(confidence float64) contracts.Severity {
	for i, b := range p.Bands {
		last := i == len(p.Bands)-1
		if confidence >= b.Min && (confidence < b.Max || (last && confidence <= b.Max)) {
			return b.Severity
		}
	}
	if confidence < p.Bands[0].Min {
		return p.Bands[0].Severity
	}
	return p.Bands[len(p.Bands)-1].Severity
}
