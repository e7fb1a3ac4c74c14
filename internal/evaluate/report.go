package evaluate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Decision classifies a funding recommendation.
type Decision string

const (
	DecisionFund          Decision = "Fund"
	DecisionDoNotFund     Decision = "Do Not Fund"
	DecisionPartiallyFund Decision = "Partially Fund"
	DecisionUnknown       Decision = "Unknown"
)

// defaultReportQuestions cover the standard due-diligence sections of a
// grant review.
var defaultReportQuestions = []struct {
	Section  string
	Question string
}{
	{"Project Overview", "What is the project about? Summarize its goals and approach."},
	{"Budget", "What is the total budget and how is it allocated across major cost categories?"},
	{"Timeline", "What is the project timeline, including key milestones and deliverables?"},
	{"Team", "Who is the team behind the project and what relevant experience do they have?"},
	{"Impact", "What impact does the project expect to have, and how will it be measured?"},
	{"Risks", "What are the main risks to the project and how does the team plan to mitigate them?"},
}

// ReportSection is one answered section of a detailed report.
type ReportSection struct {
	Section string   `json:"section"`
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Report is a full due-diligence report over a project's documents.
type Report struct {
	Project     string          `json:"project"`
	Sections    []ReportSection `json:"sections"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Recommendation is a funding recommendation with its rationale.
type Recommendation struct {
	Project     string    `json:"project"`
	Decision    Decision  `json:"decision"`
	Rationale   string    `json:"rationale"`
	Sources     []string  `json:"sources"`
	GeneratedAt time.Time `json:"generated_at"`
}

// DetailedReport answers the standard due-diligence questions and
// assembles the results into a sectioned report. Sections whose
// questions fail are reported as errors in place of an answer rather
// than aborting the whole report.
func (e *Evaluator) DetailedReport(ctx context.Context, project string) (*Report, error) {
	report := &Report{
		Project:     project,
		GeneratedAt: time.Now().UTC(),
	}

	for _, q := range defaultReportQuestions {
		answer, err := e.Ask(ctx, project, q.Question)
		if err != nil {
			e.logger.Warn("Report section failed", "project", project, "section", q.Section, "error", err)
			report.Sections = append(report.Sections, ReportSection{
				Section: q.Section,
				Answer:  fmt.Sprintf("Could not generate this section: %v", err),
			})
			continue
		}
		report.Sections = append(report.Sections, ReportSection{
			Section: q.Section,
			Answer:  answer.Answer,
			Sources: answer.Sources,
		})
	}
	return report, nil
}

// Recommend asks for a funding decision framed for the given donor
// priorities and parses the leading DECISION line.
func (e *Evaluator) Recommend(ctx context.Context, project, donorPriorities string) (*Recommendation, error) {
	question := fmt.Sprintf(
		"Acting as a grant advisor for a donor whose priorities are: %s. "+
			"Based on the project documents, should this project be funded? "+
			"Start your response with exactly one line in the form 'DECISION: Fund', "+
			"'DECISION: Do Not Fund', or 'DECISION: Partially Fund', "+
			"then justify the decision with evidence from the documents.",
		donorPriorities)

	answer, err := e.Ask(ctx, project, question)
	if err != nil {
		return nil, fmt.Errorf("generate recommendation: %w", err)
	}

	decision, rationale := parseDecision(answer.Answer)
	return &Recommendation{
		Project:     project,
		Decision:    decision,
		Rationale:   rationale,
		Sources:     answer.Sources,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// parseDecision splits a response into its DECISION line and the rest.
// Responses without a recognizable decision come back as
// DecisionUnknown with the full text as rationale.
func parseDecision(text string) (Decision, string) {
	trimmed := strings.TrimSpace(text)
	line, rest, _ := strings.Cut(trimmed, "\n")
	value, ok := strings.CutPrefix(strings.TrimSpace(line), "DECISION:")
	if !ok {
		return DecisionUnknown, trimmed
	}

	rationale := strings.TrimSpace(rest)
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "fund":
		return DecisionFund, rationale
	case "do not fund":
		return DecisionDoNotFund, rationale
	case "partially fund":
		return DecisionPartiallyFund, rationale
	default:
		return DecisionUnknown, trimmed
	}
}
