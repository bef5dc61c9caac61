package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
	"github.com/aegisgrc/aegis-oss/pkg/validation"
)

// Color helpers, one sprint function per role.
var (
	cBold   = color.New(color.Bold).SprintFunc()
	cGreen  = color.New(color.FgGreen).SprintFunc()
	cRed    = color.New(color.FgRed).SprintFunc()
	cYellow = color.New(color.FgYellow).SprintFunc()
	cCyan   = color.New(color.FgCyan).SprintFunc()
	cDim    = color.New(color.Faint).SprintFunc()
)

// reporter writes a colored, human-readable compliance report.
type reporter struct {
	w io.Writer
}

func newReporter(w io.Writer) *reporter {
	return &reporter{w: w}
}

// result prints one resource validation outcome with its violations.
func (r *reporter) result(res *domain.ValidationResult) {
	verdict := cGreen("COMPLIANT")
	if !res.Compliant {
		verdict = cRed("NON-COMPLIANT")
	}
	fmt.Fprintf(r.w, "%s  %s (%s)  score=%d\n",
		verdict, cBold(res.ResourceID), res.ResourceType, res.Score)

	for _, v := range res.Violations {
		fmt.Fprintf(r.w, "    %s  %s\n", severityBadge(v.Severity), v.Title)
		if v.Description != "" {
			fmt.Fprintf(r.w, "        %s\n", cDim(v.Description))
		}
		for _, step := range v.RemediationSteps {
			fmt.Fprintf(r.w, "        %s %s\n", cCyan("fix:"), step)
		}
	}
}

// evaluation prints one policy evaluation outcome.
func (r *reporter) evaluation(p *domain.Policy, result *domain.PolicyEvaluationResult) {
	name := result.PolicyID
	if p != nil {
		name = p.Name
	}
	verdict := cGreen("PASS")
	if !result.Passed {
		verdict = cRed("FAIL")
	}
	fmt.Fprintf(r.w, "%s  %s  score=%d  violations=%d  (%dms)\n",
		verdict, cBold(name), result.Score, len(result.Violations), result.EvaluationTimeMs)

	for _, v := range result.Violations {
		fmt.Fprintf(r.w, "    %s  %s\n", severityBadge(v.Severity), v.Title)
	}
}

// summary prints aggregate statistics after a validation run.
func (r *reporter) summary(stats validation.Statistics) {
	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "%s  resources=%d  compliant=%d  avg_score=%.1f\n",
		cBold("Summary"), stats.TotalValidations, stats.CompliantCount, stats.AverageScore)

	for _, s := range []domain.Severity{domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow, domain.SeverityInfo} {
		if count := stats.ViolationsBySeverity[s]; count > 0 {
			fmt.Fprintf(r.w, "  %s %d\n", severityBadge(s), count)
		}
	}
}

func severityBadge(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return cRed("[CRIT]")
	case domain.SeverityHigh:
		return cRed("[HIGH]")
	case domain.SeverityMedium:
		return cYellow("[MED] ")
	case domain.SeverityLow:
		return cYellow("[LOW] ")
	default:
		return cDim("[INFO]")
	}
}
