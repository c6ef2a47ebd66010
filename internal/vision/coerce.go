package vision

import (
	"encoding/json"
	"fmt"
	"strings"

	"agentic/internal/types"
)

// rawAnalysis accepts the shapes models actually emit. Violations show up
// under three different keys depending on how the model read the prompt.
type rawAnalysis struct {
	OverallScore       *int                  `json:"overallScore"`
	Score              *int                  `json:"score"`
	Dimensions         types.DimensionScores `json:"dimensionScores"`
	Violations         []rawViolation        `json:"violations"`
	CriticalViolations []rawViolation        `json:"criticalViolations"`
	CriticalIssues     []rawViolation        `json:"criticalIssues"`
	ExecutionOrder     []string              `json:"executionOrder"`
	EstimatedGain      *int                  `json:"estimatedGain"`
}

type rawViolation struct {
	Severity            string            `json:"severity"`
	Location            string            `json:"location"`
	Evidence            string            `json:"evidence"`
	Description         string            `json:"description"`
	RecommendedEndpoint string            `json:"recommendedEndpoint"`
	Endpoint            string            `json:"endpoint"`
	Parameters          map[string]string `json:"parameters"`
	Confidence          *float64          `json:"confidence"`
}

// parseAnalysis decodes a model response leniently: markdown fences are
// stripped, scores clamped, severities normalized, and violations
// gathered from the alias keys.
func parseAnalysis(raw string) (*types.VisualAnalysis, error) {
	text := stripFences(raw)
	if text == "" {
		return nil, fmt.Errorf("empty response")
	}

	var r rawAnalysis
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		// Some models wrap the object in prose; try the outermost braces.
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("decode analysis: %w", err)
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
			return nil, fmt.Errorf("decode analysis: %w", err)
		}
	}

	out := &types.VisualAnalysis{
		OverallScore:   clampScore(intOr(r.OverallScore, intOr(r.Score, 0))),
		ExecutionOrder: r.ExecutionOrder,
		EstimatedGain:  clampScore(intOr(r.EstimatedGain, 0)),
	}
	out.Dimensions = types.DimensionScores{
		Hierarchy:     clampScore(r.Dimensions.Hierarchy),
		Typography:    clampScore(r.Dimensions.Typography),
		Spacing:       clampScore(r.Dimensions.Spacing),
		Color:         clampScore(r.Dimensions.Color),
		Accessibility: clampScore(r.Dimensions.Accessibility),
		Brand:         clampScore(r.Dimensions.Brand),
	}

	for _, group := range [][]rawViolation{r.Violations, r.CriticalViolations, r.CriticalIssues} {
		for _, v := range group {
			out.Violations = append(out.Violations, coerceViolation(v))
		}
	}
	return out, nil
}

func coerceViolation(v rawViolation) types.Violation {
	sev := types.Severity(strings.ToLower(strings.TrimSpace(v.Severity)))
	switch sev {
	case types.SeverityCritical, types.SeverityHigh, types.SeverityMedium, types.SeverityLow:
	default:
		sev = types.SeverityMedium
	}

	evidence := v.Evidence
	if evidence == "" {
		evidence = v.Description
	}
	endpoint := v.RecommendedEndpoint
	if endpoint == "" {
		endpoint = v.Endpoint
	}
	if endpoint == "" {
		endpoint = "enhance"
	}

	conf := 50
	if v.Confidence != nil {
		c := *v.Confidence
		// Models answer 0..1 or 0..100 interchangeably.
		if c > 0 && c <= 1 {
			c *= 100
		}
		conf = clampScore(int(c + 0.5))
	}

	return types.Violation{
		Severity:            sev,
		Location:            v.Location,
		Evidence:            evidence,
		RecommendedEndpoint: endpoint,
		Parameters:          v.Parameters,
		Confidence:          conf,
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}
