package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentic/internal/config"
	"agentic/internal/transform"
	"agentic/internal/types"
)

func testRouter() *Router {
	return New(config.Default().Router)
}

func violation(sev types.Severity, conf int, location, evidence string) types.Violation {
	return types.Violation{
		Severity:            sev,
		Confidence:          conf,
		Location:            location,
		Evidence:            evidence,
		RecommendedEndpoint: "enhance",
	}
}

func TestBuildPlan_OrdersBySeverityThenConfidence(t *testing.T) {
	r := testRouter()
	a := &types.VisualAnalysis{Violations: []types.Violation{
		violation(types.SeverityLow, 90, ".low", "margin off"),
		violation(types.SeverityCritical, 60, ".crit-b", "contrast fails"),
		violation(types.SeverityHigh, 80, ".high", "font wrong"),
		violation(types.SeverityCritical, 95, ".crit-a", "color off-brand"),
	}}

	plan := r.BuildPlan(a)
	require.Len(t, plan.Fixes, 4)
	assert.Equal(t, ".crit-a", plan.Fixes[0].Violation.Location, "higher confidence wins within a severity")
	assert.Equal(t, ".crit-b", plan.Fixes[1].Violation.Location)
	assert.Equal(t, ".high", plan.Fixes[2].Violation.Location)
	assert.Equal(t, ".low", plan.Fixes[3].Violation.Location)
}

func TestBuildPlan_CapsAndReportsSkipped(t *testing.T) {
	r := testRouter() // cap 10
	a := &types.VisualAnalysis{}
	for i := 0; i < 13; i++ {
		a.Violations = append(a.Violations, violation(types.SeverityMedium, 50+i, ".v", "padding off"))
	}

	plan := r.BuildPlan(a)
	assert.Len(t, plan.Fixes, 10)
	assert.Len(t, plan.Skipped, 3)
}

func endpointViolation(endpoint string, sev types.Severity, conf int, location, evidence string) types.Violation {
	v := violation(sev, conf, location, evidence)
	v.RecommendedEndpoint = endpoint
	return v
}

func TestBuildPlan_PartitionsByEndpoint(t *testing.T) {
	r := testRouter()
	a := &types.VisualAnalysis{Violations: []types.Violation{
		endpointViolation("enhance-typography", types.SeverityMedium, 70, "h1", "h1 is 18px"),
		endpointViolation("analyze-accessibility", types.SeverityCritical, 90, ".cta", "contrast 2.1:1"),
		endpointViolation("spacing-optimization", types.SeverityHigh, 80, ".card", "padding 13px"),
		endpointViolation("analyze-accessibility", types.SeverityHigh, 60, ".nav", "contrast 3.9:1"),
	}}

	plan := r.BuildPlan(a)
	require.Len(t, plan.Fixes, 4)

	endpoints := make([]string, len(plan.Fixes))
	for i, f := range plan.Fixes {
		endpoints[i] = f.Endpoint
	}
	assert.Equal(t, []string{
		"analyze-accessibility", "analyze-accessibility",
		"spacing-optimization", "enhance-typography",
	}, endpoints, "groups stay contiguous, ordered by most urgent member")
	assert.Equal(t, ".cta", plan.Fixes[0].Violation.Location)
	assert.Equal(t, ".nav", plan.Fixes[1].Violation.Location)
}

func TestBuildPlan_MissingEndpointRoutesToEnhance(t *testing.T) {
	v := violation(types.SeverityHigh, 80, ".btn", "padding off")
	v.RecommendedEndpoint = ""
	plan := testRouter().BuildPlan(&types.VisualAnalysis{Violations: []types.Violation{v}})
	require.Len(t, plan.Fixes, 1)
	assert.Equal(t, "enhance", plan.Fixes[0].Endpoint)
}

func TestStagesFor_EndpointStageSets(t *testing.T) {
	v := types.Violation{Severity: types.SeverityHigh, Evidence: "looks dated"}
	assert.Equal(t, []string{transform.StageTypography}, stagesFor(v, "enhance-typography"))
	assert.Equal(t, []string{transform.StageSpacing}, stagesFor(v, "spacing-optimization"))
	assert.Equal(t, []string{transform.StageColors, transform.StageTypography}, stagesFor(v, "analyze-accessibility"))
}

func TestBuildPlan_Empty(t *testing.T) {
	assert.Empty(t, testRouter().BuildPlan(nil).Fixes)
	assert.Empty(t, testRouter().BuildPlan(&types.VisualAnalysis{}).Fixes)
}

func TestStagesFor_NarrowsFromEvidence(t *testing.T) {
	tests := []struct {
		name string
		v    types.Violation
		want []string
	}{
		{
			name: "spacing keywords",
			v:    violation(types.SeverityHigh, 80, ".btn", "padding is 13px, margin uneven"),
			want: []string{transform.StageSpacing},
		},
		{
			name: "color and typography",
			v:    violation(types.SeverityHigh, 80, ".hero", "heading font off, color not on palette"),
			want: []string{transform.StageColors, transform.StageTypography},
		},
		{
			name: "explicit stage parameter wins",
			v: types.Violation{
				Severity:   types.SeverityHigh,
				Evidence:   "padding off",
				Parameters: map[string]string{"stage": "radius"},
			},
			want: []string{transform.StageRadius},
		},
		{
			name: "unrecognized runs everything",
			v:    violation(types.SeverityMedium, 50, ".x", "looks dated"),
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stagesFor(tt.v, "enhance"))
		})
	}
}

func TestExecute_SequentialAndFaultTolerant(t *testing.T) {
	r := testRouter()
	plan := Plan{Fixes: []Fix{
		{Violation: violation(types.SeverityHigh, 90, ".a", "padding"), Stages: []string{transform.StageSpacing}},
		{Violation: violation(types.SeverityHigh, 80, ".b", "color"), Stages: []string{transform.StageColors}},
		{Violation: violation(types.SeverityLow, 70, ".c", "shadow"), Stages: []string{transform.StageElevation}},
	}}

	var seen [][]string
	apply := func(_ context.Context, frag types.Fragment, stages []string) (types.Fragment, types.ChangeLog, error) {
		seen = append(seen, stages)
		if len(stages) == 1 && stages[0] == transform.StageColors {
			return frag, types.ChangeLog{}, errors.New("engine hiccup")
		}
		out := frag
		out.Bytes = append(append([]byte{}, frag.Bytes...), '+')
		return out, types.ChangeLog{}, nil
	}

	final, results, err := r.Execute(context.Background(), types.Fragment{CodeType: types.CodeCSS, Bytes: []byte("x")}, plan, apply)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Empty(t, results[0].Err)
	assert.NotEmpty(t, results[1].Err, "failed fix is recorded")
	assert.Empty(t, results[2].Err)
	assert.Equal(t, "x++", string(final.Bytes), "failed fix does not advance the fragment")
	assert.Len(t, seen, 3)
}

func TestExecute_StopsOnCancelledContext(t *testing.T) {
	r := testRouter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan := Plan{Fixes: []Fix{{Violation: violation(types.SeverityHigh, 90, ".a", "padding")}}}
	_, results, err := r.Execute(ctx, types.Fragment{}, plan, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func analysisWithScore(score int, dims types.DimensionScores) *types.VisualAnalysis {
	return &types.VisualAnalysis{OverallScore: score, Dimensions: dims}
}

func TestValidate_Verdicts(t *testing.T) {
	r := testRouter() // accept threshold 10

	t.Run("accept", func(t *testing.T) {
		v := r.Validate(
			analysisWithScore(60, types.DimensionScores{Spacing: 50}),
			analysisWithScore(75, types.DimensionScores{Spacing: 80}),
		)
		assert.Equal(t, VerdictAccept, v.Verdict)
		assert.Equal(t, 15, v.ScoreDelta)
		assert.Equal(t, 30, v.DimensionDeltas["spacing"])
	})

	t.Run("review", func(t *testing.T) {
		v := r.Validate(analysisWithScore(60, types.DimensionScores{}), analysisWithScore(65, types.DimensionScores{}))
		assert.Equal(t, VerdictReview, v.Verdict)
	})

	t.Run("reject on zero delta", func(t *testing.T) {
		v := r.Validate(analysisWithScore(60, types.DimensionScores{}), analysisWithScore(60, types.DimensionScores{}))
		assert.Equal(t, VerdictReject, v.Verdict)
	})

	t.Run("reject on regression", func(t *testing.T) {
		v := r.Validate(analysisWithScore(60, types.DimensionScores{}), analysisWithScore(40, types.DimensionScores{}))
		assert.Equal(t, VerdictReject, v.Verdict)
		assert.Equal(t, -20, v.ScoreDelta)
	})

	t.Run("missing analysis rejects", func(t *testing.T) {
		assert.Equal(t, VerdictReject, r.Validate(nil, analysisWithScore(80, types.DimensionScores{})).Verdict)
	})
}
