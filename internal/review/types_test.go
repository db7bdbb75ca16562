package review

import (
	"strings"
	"testing"
)

func passingVerdict() *Verdict {
	return &Verdict{
		Summary:              "Looks solid",
		SpecComplianceScore:  0.9,
		CorrectnessScore:     0.9,
		CodeQualityScore:     0.8,
		TestCoverageScore:    0.8,
		ArchitectureFitScore: 0.9,
		RegressionsScore:     0.9,
		SecurityScore:        0.9,
	}
}

func TestRecompute(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Verdict)
		want   bool
	}{
		{"all scores above threshold", func(v *Verdict) {}, true},
		{"one score below threshold", func(v *Verdict) { v.TestCoverageScore = 0.69 }, false},
		{"score exactly at threshold", func(v *Verdict) { v.CorrectnessScore = 0.7 }, true},
		{"medium and low findings pass", func(v *Verdict) {
			v.Findings = []Finding{
				{Severity: SeverityMedium, Category: "style", Finding: "long function"},
				{Severity: SeverityLow, Category: "docs", Finding: "missing comment"},
			}
		}, true},
		{"high finding fails", func(v *Verdict) {
			v.Findings = []Finding{{Severity: SeverityHigh, Category: "correctness", Finding: "off-by-one"}}
		}, false},
		{"high severity is case-insensitive", func(v *Verdict) {
			v.Findings = []Finding{{Severity: "HIGH", Category: "correctness", Finding: "off-by-one"}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := passingVerdict()
			v.Passed = false // tool claim must not leak through
			tt.mutate(v)
			v.Recompute()
			if v.Passed != tt.want {
				t.Errorf("Recompute: passed = %v, want %v", v.Passed, tt.want)
			}
		})
	}
}

func TestRecomputeHighSecurityFindingCapsScore(t *testing.T) {
	v := passingVerdict()
	v.Findings = []Finding{{Severity: SeverityHigh, Category: CategorySecurity, Finding: "SQL injection"}}
	v.Recompute()

	if v.Passed {
		t.Error("expected verdict to fail with a high security finding")
	}
	if v.SecurityScore >= 0.3 {
		t.Errorf("expected security score below 0.3, got %v", v.SecurityScore)
	}
}

func TestRecomputeHighNonSecurityFindingKeepsScore(t *testing.T) {
	v := passingVerdict()
	v.Findings = []Finding{{Severity: SeverityHigh, Category: "correctness", Finding: "off-by-one"}}
	v.Recompute()

	if v.Passed {
		t.Error("expected verdict to fail")
	}
	if v.SecurityScore != 0.9 {
		t.Errorf("expected security score untouched, got %v", v.SecurityScore)
	}
}

func TestParseVerdictOverridesToolClaim(t *testing.T) {
	data := `{
		"passed": true,
		"summary": "ship it",
		"specComplianceScore": 0.9,
		"correctnessScore": 0.5,
		"codeQualityScore": 0.9,
		"testCoverageScore": 0.9,
		"architectureFitScore": 0.9,
		"regressionsScore": 0.9,
		"securityScore": 0.9
	}`
	v, err := ParseVerdict([]byte(data))
	if err != nil {
		t.Fatalf("ParseVerdict failed: %v", err)
	}
	if v.Passed {
		t.Error("expected recomputed verdict to fail on low correctness score")
	}
}

func TestParseVerdictRejectsInvalidJSON(t *testing.T) {
	if _, err := ParseVerdict([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	} else if !strings.Contains(err.Error(), "failed to parse review verdict") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestFindingLocation(t *testing.T) {
	tests := []struct {
		finding Finding
		want    string
	}{
		{Finding{File: "db/query.go", Line: 42}, "db/query.go:42"},
		{Finding{File: "db/query.go"}, "db/query.go"},
		{Finding{Line: 42}, ""},
		{Finding{}, ""},
	}
	for _, tt := range tests {
		if got := tt.finding.Location(); got != tt.want {
			t.Errorf("Location() = %q, want %q", got, tt.want)
		}
	}
}
