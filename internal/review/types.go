// Package review runs the independent reviewer tool against an issue branch
// and evaluates its verdict. The tool's own pass/fail claim is never trusted:
// the verdict is recomputed locally from the dimension scores and findings.
package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Finding severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// CategorySecurity marks findings that force the security score down.
const CategorySecurity = "security"

// passThreshold is the minimum every dimension score must reach for the
// verdict to pass.
const passThreshold = 0.7

// lowSecurityCeiling is the score a high-severity security finding caps the
// security dimension at. Kept below passThreshold so such a verdict can
// never pass.
const lowSecurityCeiling = 0.2

var (
	// ErrNoVerdict means the reviewer output contained no JSON verdict.
	ErrNoVerdict = errors.New("reviewer output contained no verdict")
	// ErrReviewerUnavailable means the reviewer tool could not be started.
	ErrReviewerUnavailable = errors.New("reviewer tool unavailable")
)

// Finding is a single reviewer observation.
type Finding struct {
	Severity   string `json:"severity"`
	Category   string `json:"category"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
	Finding    string `json:"finding"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Location returns "file:line", "file", or "" depending on what the finding
// carries.
func (f *Finding) Location() string {
	if f.File == "" {
		return ""
	}
	if f.Line > 0 {
		return fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return f.File
}

// IsHighSeverity reports whether the finding is high severity, tolerating
// case variance in tool output.
func (f *Finding) IsHighSeverity() bool {
	return strings.EqualFold(f.Severity, SeverityHigh)
}

// Verdict is the reviewer tool's structured output. Seven dimensions are
// scored in [0,1]; Passed is recomputed by Recompute and overrides whatever
// the tool claimed.
type Verdict struct {
	Passed               bool      `json:"passed"`
	Summary              string    `json:"summary"`
	SpecComplianceScore  float64   `json:"specComplianceScore"`
	CorrectnessScore     float64   `json:"correctnessScore"`
	CodeQualityScore     float64   `json:"codeQualityScore"`
	TestCoverageScore    float64   `json:"testCoverageScore"`
	ArchitectureFitScore float64   `json:"architectureFitScore"`
	RegressionsScore     float64   `json:"regressionsScore"`
	SecurityScore        float64   `json:"securityScore"`
	Findings             []Finding `json:"findings"`
	Advice               string    `json:"advice,omitempty"`
}

// Scores returns the seven dimension scores in a stable order.
func (v *Verdict) Scores() []float64 {
	return []float64{
		v.SpecComplianceScore,
		v.CorrectnessScore,
		v.CodeQualityScore,
		v.TestCoverageScore,
		v.ArchitectureFitScore,
		v.RegressionsScore,
		v.SecurityScore,
	}
}

// dimensionNames parallels Scores.
var dimensionNames = []string{
	"spec compliance",
	"correctness",
	"code quality",
	"test coverage",
	"architecture fit",
	"regressions",
	"security",
}

// FailingDimensions returns a "name (score)" entry for every dimension below
// the pass threshold, in Scores order.
func (v *Verdict) FailingDimensions() []string {
	var out []string
	for i, s := range v.Scores() {
		if s < passThreshold {
			out = append(out, fmt.Sprintf("%s (%.2f)", dimensionNames[i], s))
		}
	}
	return out
}

// HighSeverityFindings returns the high-severity findings, preserving tool
// order.
func (v *Verdict) HighSeverityFindings() []Finding {
	var out []Finding
	for _, f := range v.Findings {
		if f.IsHighSeverity() {
			out = append(out, f)
		}
	}
	return out
}

// hasHighSecurityFinding reports whether any finding is both high severity
// and security-categorized.
func (v *Verdict) hasHighSecurityFinding() bool {
	for _, f := range v.Findings {
		if f.IsHighSeverity() && strings.EqualFold(f.Category, CategorySecurity) {
			return true
		}
	}
	return false
}

// Recompute derives Passed from the scores and findings: every dimension
// must reach passThreshold and no high-severity finding may remain. A
// high-severity security finding additionally caps SecurityScore below the
// threshold, so a later reader of the stored verdict sees a failing score.
func (v *Verdict) Recompute() {
	if v.hasHighSecurityFinding() && v.SecurityScore > lowSecurityCeiling {
		v.SecurityScore = lowSecurityCeiling
	}

	passed := len(v.HighSeverityFindings()) == 0
	for _, s := range v.Scores() {
		if s < passThreshold {
			passed = false
			break
		}
	}
	v.Passed = passed
}

// ParseVerdict decodes a verdict JSON object and recomputes its outcome.
func ParseVerdict(data []byte) (*Verdict, error) {
	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse review verdict: %w", err)
	}
	v.Recompute()
	return &v, nil
}
