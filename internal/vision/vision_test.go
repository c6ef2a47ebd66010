package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentic/internal/config"
	"agentic/internal/types"
)

const goodResponse = `{
  "overallScore": 72,
  "dimensionScores": {"hierarchy":80,"typography":60,"spacing":70,"color":75,"accessibility":65,"brand":82},
  "violations": [
    {"severity":"HIGH","location":".btn","evidence":"padding 13px, token is 16px","recommendedEndpoint":"enhance","confidence":88}
  ],
  "executionOrder": ["spacing"],
  "estimatedGain": 12
}`

type fakeProvider struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeProvider) critique(context.Context, string, []byte) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func testCritic(p provider) *Critic {
	return &Critic{cfg: config.Default().Vision, provider: p, backoffBase: time.Millisecond}
}

func testRequest() Request {
	return Request{
		ImagePNG:      []byte("png-bytes"),
		ScreenshotRef: "shot-1.png",
		Viewport:      types.Viewport{Width: 1280, Height: 800},
		Code:          ".btn { padding: 13px; }",
	}
}

func TestAnalyze_Success(t *testing.T) {
	c := testCritic(&fakeProvider{responses: []string{goodResponse}})

	a, err := c.Analyze(context.Background(), testRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, a.AnalysisID)
	assert.Equal(t, "shot-1.png", a.ScreenshotRef)
	assert.Equal(t, 72, a.OverallScore)
	assert.Equal(t, 60, a.Dimensions.Typography)
	assert.Equal(t, 1280, a.ViewportW)
	require.Len(t, a.Violations, 1)
	assert.Equal(t, types.SeverityHigh, a.Violations[0].Severity, "severity is case-normalized")
	assert.Equal(t, 88, a.Violations[0].Confidence)
}

func TestAnalyze_RetriesTransientFailures(t *testing.T) {
	p := &fakeProvider{
		errs:      []error{errors.New("503"), errors.New("timeout")},
		responses: []string{"", "", goodResponse},
	}
	c := testCritic(p)

	a, err := c.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, 72, a.OverallScore)
}

func TestAnalyze_UnavailableAfterRetries(t *testing.T) {
	p := &fakeProvider{errs: []error{errors.New("down"), errors.New("down"), errors.New("down")}}
	c := testCritic(p)
	c.cfg.RetryAttempts = 3

	_, err := c.Analyze(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, p.calls)
}

func TestAnalyze_EmptyScreenshot(t *testing.T) {
	c := testCritic(&fakeProvider{responses: []string{goodResponse}})
	_, err := c.Analyze(context.Background(), Request{})
	assert.Error(t, err)
}

func TestNew_MissingKeyIsUnavailable(t *testing.T) {
	cfg := config.Default().Vision
	cfg.APIKey = ""
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnavailable)

	cfg.Provider = "openai"
	_, err = New(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnavailable)

	cfg.Provider = "watercolor"
	cfg.APIKey = "k"
	_, err = New(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestParseAnalysis_Lenient(t *testing.T) {
	t.Run("markdown fences", func(t *testing.T) {
		a, err := parseAnalysis("```json\n" + goodResponse + "\n```")
		require.NoError(t, err)
		assert.Equal(t, 72, a.OverallScore)
	})

	t.Run("prose wrapped", func(t *testing.T) {
		a, err := parseAnalysis("Here is my analysis:\n" + goodResponse + "\nHope that helps!")
		require.NoError(t, err)
		assert.Equal(t, 72, a.OverallScore)
	})

	t.Run("criticalViolations alias", func(t *testing.T) {
		a, err := parseAnalysis(`{"overallScore":40,"criticalViolations":[{"severity":"critical","description":"text unreadable"}]}`)
		require.NoError(t, err)
		require.Len(t, a.Violations, 1)
		assert.Equal(t, types.SeverityCritical, a.Violations[0].Severity)
		assert.Equal(t, "text unreadable", a.Violations[0].Evidence, "description doubles as evidence")
		assert.Equal(t, "enhance", a.Violations[0].RecommendedEndpoint, "endpoint defaults")
	})

	t.Run("fractional confidence scales", func(t *testing.T) {
		a, err := parseAnalysis(`{"violations":[{"severity":"low","confidence":0.85}]}`)
		require.NoError(t, err)
		require.Len(t, a.Violations, 1)
		assert.Equal(t, 85, a.Violations[0].Confidence)
	})

	t.Run("unknown severity becomes medium", func(t *testing.T) {
		a, err := parseAnalysis(`{"violations":[{"severity":"catastrophic"}]}`)
		require.NoError(t, err)
		assert.Equal(t, types.SeverityMedium, a.Violations[0].Severity)
	})

	t.Run("scores clamp", func(t *testing.T) {
		a, err := parseAnalysis(`{"overallScore":250,"dimensionScores":{"hierarchy":-5},"estimatedGain":101}`)
		require.NoError(t, err)
		assert.Equal(t, 100, a.OverallScore)
		assert.Equal(t, 0, a.Dimensions.Hierarchy)
		assert.Equal(t, 100, a.EstimatedGain)
	})

	t.Run("garbage fails", func(t *testing.T) {
		_, err := parseAnalysis("I could not analyze this image.")
		assert.Error(t, err)
	})
}

func TestOpenAIProvider_RequestShape(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, goodResponse)
	}))
	defer srv.Close()

	cfg := config.Default().Vision
	cfg.Provider = "openai"
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL + "/v1"
	cfg.Model = "gpt-4o"

	p, err := newOpenAIProvider(cfg)
	require.NoError(t, err)

	raw, err := p.critique(context.Background(), "judge this", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	assert.Contains(t, raw, `"overallScore": 72`)

	assert.Equal(t, "gpt-4o", captured["model"])
	msgs := captured["messages"].([]interface{})
	require.Len(t, msgs, 1)
	content := msgs[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, content, 2)
	img := content[1].(map[string]interface{})["image_url"].(map[string]interface{})
	assert.True(t, strings.HasPrefix(img["url"].(string), "data:image/png;base64,"), "image travels as a data URL")
}

func TestBuildPrompt_IncludesContext(t *testing.T) {
	req := testRequest()
	req.TokensSummary = "spacing-md = 16px"
	p := buildPrompt(req)

	assert.Contains(t, p, "PASS 1")
	assert.Contains(t, p, "PASS 2")
	assert.Contains(t, p, "PASS 3")
	assert.Contains(t, p, "spacing-md = 16px")
	assert.Contains(t, p, ".btn { padding: 13px; }")
	assert.Contains(t, p, "1280x800")
}

func TestBuildPrompt_ThresholdsAndEndpoints(t *testing.T) {
	p := buildPrompt(testRequest())

	assert.Contains(t, p, "body text at least 16px")
	assert.Contains(t, p, "H1 at least 24px")
	assert.Contains(t, p, "contrast at least 4.5:1")
	assert.Contains(t, p, "touch targets at least 44px")
	assert.Contains(t, p, "line-height at least 1.4")

	assert.Contains(t, p, "enhance-typography")
	assert.Contains(t, p, "spacing-optimization")
	assert.Contains(t, p, "analyze-accessibility")
	assert.Contains(t, p, "never praise")
}

func TestAnalyze_ShedsWhenSaturated(t *testing.T) {
	p := &fakeProvider{responses: []string{goodResponse}}
	c := testCritic(p)
	c.cfg.PoolSize = 1
	c.cfg.QueueSize = 1

	c.mu.Lock()
	c.inflight = 2 // pool + queue already taken
	c.mu.Unlock()

	_, err := c.Analyze(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrBackpressure)
	assert.Zero(t, p.calls, "a shed request never reaches the provider")

	c.mu.Lock()
	c.inflight = 0
	c.mu.Unlock()

	a, err := c.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 72, a.OverallScore)
}
