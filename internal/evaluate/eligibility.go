package evaluate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CriterionResult is the outcome of checking one eligibility criterion.
type CriterionResult struct {
	Criterion string `json:"criterion"`
	Met       bool   `json:"met"`
	Answer    string `json:"answer"`
}

// EligibilityResult aggregates per-criterion checks for a project.
type EligibilityResult struct {
	Project   string            `json:"project"`
	Eligible  bool              `json:"eligible"`
	Criteria  []CriterionResult `json:"criteria"`
	Summary   string            `json:"summary"`
	CheckedAt time.Time         `json:"checked_at"`
}

// CheckEligibility asks one question per criterion and judges the
// project eligible only when every criterion is met. A criterion
// counts as met when the generated answer begins with "yes".
func (e *Evaluator) CheckEligibility(ctx context.Context, project string, criteria []string) (*EligibilityResult, error) {
	result := &EligibilityResult{
		Project:   project,
		Eligible:  true,
		CheckedAt: time.Now().UTC(),
	}

	var failed []string
	for _, criterion := range criteria {
		question := fmt.Sprintf(
			"Based on the project documents, does this project meet the following criterion: %q? "+
				"Start your answer with 'Yes' or 'No', then explain briefly with evidence from the documents.",
			criterion)

		answer, err := e.Ask(ctx, project, question)
		if err != nil {
			return nil, fmt.Errorf("check criterion %q: %w", criterion, err)
		}

		met := strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer.Answer)), "yes")
		if !met {
			result.Eligible = false
			failed = append(failed, criterion)
		}
		result.Criteria = append(result.Criteria, CriterionResult{
			Criterion: criterion,
			Met:       met,
			Answer:    answer.Answer,
		})
	}

	if result.Eligible {
		result.Summary = fmt.Sprintf("Project meets all %d eligibility criteria.", len(criteria))
	} else {
		result.Summary = fmt.Sprintf("Project fails %d of %d criteria: %s.",
			len(failed), len(criteria), strings.Join(failed, "; "))
	}
	return result, nil
}
