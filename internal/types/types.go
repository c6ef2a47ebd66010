// Package types provides shared type definitions used across agentic packages.
// This package exists to break import cycles between the parsers, the transform
// engine, and the orchestrator. Types in this package should be foundational
// data structures with no complex dependencies.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// FRAGMENTS
// =============================================================================

// CodeType identifies the syntax of a fragment.
type CodeType string

const (
	CodeCSS  CodeType = "css"
	CodeHTML CodeType = "html"
	CodeJSX  CodeType = "jsx"
	CodeTSX  CodeType = "tsx"
	CodeJS   CodeType = "js"
)

// ValidCodeType reports whether s names a supported code type.
func ValidCodeType(s string) bool {
	switch CodeType(s) {
	case CodeCSS, CodeHTML, CodeJSX, CodeTSX, CodeJS:
		return true
	}
	return false
}

// Fragment is a parseable chunk of source presented to the engine.
// Bytes are UTF-8. FilePathHint is advisory and drives vendor exclusion.
type Fragment struct {
	CodeType     CodeType `json:"codeType"`
	Bytes        []byte   `json:"bytes"`
	FilePathHint string   `json:"filePath,omitempty"`
}

// String returns the fragment source as a string.
func (f Fragment) String() string { return string(f.Bytes) }

// =============================================================================
// EDITS
// =============================================================================

// EditKind classifies a proposed edit by the rule class that produced it.
type EditKind string

const (
	EditColorToken     EditKind = "color-token"
	EditSpacingToken   EditKind = "spacing-token"
	EditRadiusToken    EditKind = "radius-token"
	EditElevationToken EditKind = "elevation-token"
	EditTypography     EditKind = "typography"
	EditAnimationToken EditKind = "animation-token"
	EditGradientToken  EditKind = "gradient-token"
	EditStateVariant   EditKind = "state-variant"
	EditOptimization   EditKind = "optimization"
	EditClassMapping   EditKind = "class-mapping"
)

// Edit is a single proposed replacement inside a fragment snapshot.
// Start/End are byte offsets into the fragment the EditList was built from.
// Anchor is a semantic location ("selector/property") for humans and logs.
type Edit struct {
	Kind       EditKind `json:"kind"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Anchor     string   `json:"anchor"`
	Before     string   `json:"before"`
	After      string   `json:"after"`
	Confidence float64  `json:"confidence"`
	RuleID     string   `json:"ruleId"`
	AutoSafe   bool     `json:"autoSafe"`
}

// EditList is an ordered sequence of edits relative to one fragment snapshot.
type EditList struct {
	Fragment Fragment `json:"-"`
	Edits    []Edit   `json:"edits"`
}

// AppliedEdit records an edit that made it into the output.
type AppliedEdit struct {
	Edit
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

// ChangeLog is the subset of an EditList that was actually applied, plus
// the reasons anything was dropped or demoted.
type ChangeLog struct {
	Applied  []AppliedEdit `json:"applied"`
	Advisory []AppliedEdit `json:"advisory"`
	Rejected []AppliedEdit `json:"rejected"`
}

// Empty reports whether nothing was applied.
func (c ChangeLog) Empty() bool { return len(c.Applied) == 0 }

// =============================================================================
// BRAND TOKENS
// =============================================================================

// TokenCategory is the design dimension a token belongs to.
type TokenCategory string

const (
	CatColor      TokenCategory = "color"
	CatSpacing    TokenCategory = "spacing"
	CatRadius     TokenCategory = "radius"
	CatElevation  TokenCategory = "elevation"
	CatFontSize   TokenCategory = "font-size"
	CatFontFamily TokenCategory = "font-family"
	CatDuration   TokenCategory = "duration"
	CatEasing     TokenCategory = "easing"
	CatGradient   TokenCategory = "gradient"
)

// BrandToken binds a symbolic name to a concrete design value.
// Raw is the matching form (normalized); Reference is the symbolic
// substitute written into output, e.g. "var(--color-primary)".
type BrandToken struct {
	Category  TokenCategory     `json:"category"`
	Name      string            `json:"name"`
	Raw       string            `json:"raw"`
	Reference string            `json:"reference"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// GradientStop is one stop of a structured gradient token value.
type GradientStop struct {
	Color    string  `json:"color"`
	Position float64 `json:"position"` // 0..1
}

// BrandPack is an immutable versioned bundle of tokens. The transform engine
// only accepts a pack resolved to a specific version, never a range.
type BrandPack struct {
	ID            string       `json:"id"`
	Version       string       `json:"version"`
	Tokens        []BrandToken `json:"tokens"`
	OverridesHash string       `json:"overridesHash,omitempty"`
}

// ContextSource tags the discovery precedence level that won resolution.
type ContextSource string

const (
	SourceEnv      ContextSource = "env"
	SourceConfig   ContextSource = "config"
	SourceManifest ContextSource = "manifest"
	SourceMarker   ContextSource = "marker"
	SourceMapping  ContextSource = "mapping"
	SourceAutoBind ContextSource = "auto-bind"
	SourceDegraded ContextSource = "degraded"
	SourceLock     ContextSource = "lock"
)

// ProjectContext is the resolved brand binding for a request.
type ProjectContext struct {
	ProjectID    string            `json:"projectId"`
	RootHash     string            `json:"rootHash,omitempty"`
	BrandPackID  string            `json:"brandPackId"`
	BrandVersion string            `json:"brandVersion"`
	Overrides    map[string]string `json:"overrides,omitempty"`
	Source       ContextSource     `json:"source"`
	Degraded     bool              `json:"degraded,omitempty"`
}

// OverridesHash returns a stable digest of the override map for use in
// cache signatures. Empty overrides hash to the empty string.
func (p ProjectContext) OverridesHash() string {
	if len(p.Overrides) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p.Overrides))
	for k := range p.Overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(p.Overrides[k]))
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// DiagnosticKind is the error taxonomy. Kinds, not Go error types: every
// sub-component maps its native failures into one of these before the
// orchestrator sees them.
type DiagnosticKind string

const (
	DiagInvalidInput       DiagnosticKind = "invalid-input"
	DiagParseError         DiagnosticKind = "parse-error"
	DiagUnresolvedBrand    DiagnosticKind = "unresolved-brand"
	DiagBackpressure       DiagnosticKind = "backpressure"
	DiagTimeout            DiagnosticKind = "timeout"
	DiagDependencyDown     DiagnosticKind = "dependency-unavailable"
	DiagGuardrailViolation DiagnosticKind = "guardrail-violation"
	DiagVisionUnavailable  DiagnosticKind = "vision-unavailable"
	DiagInternal           DiagnosticKind = "internal"
)

// Diagnostic is a structured, non-fatal finding attached to a response.
type Diagnostic struct {
	Kind      DiagnosticKind `json:"kind"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Component string         `json:"component,omitempty"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// HasKind reports whether any diagnostic in the list carries the kind.
func HasKind(diags []Diagnostic, kind DiagnosticKind) bool {
	for _, d := range diags {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// =============================================================================
// VISUAL ANALYSIS
// =============================================================================

// Severity ranks a violation. Rank() is used for fix ordering.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank maps severities onto a sortable scale (critical highest).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Violation is one finding of the vision critic.
type Violation struct {
	Severity            Severity          `json:"severity"`
	Location            string            `json:"location"`
	Evidence            string            `json:"evidence"`
	RecommendedEndpoint string            `json:"recommendedEndpoint"`
	Parameters          map[string]string `json:"parameters,omitempty"`
	Confidence          int               `json:"confidence"` // 0..100
}

// DimensionScores are the six weighted critique dimensions, 0..100 each.
type DimensionScores struct {
	Hierarchy     int `json:"hierarchy"`
	Typography    int `json:"typography"`
	Spacing       int `json:"spacing"`
	Color         int `json:"color"`
	Accessibility int `json:"accessibility"`
	Brand         int `json:"brand"`
}

// VisualAnalysis is the structured critique of one screenshot.
type VisualAnalysis struct {
	AnalysisID      string          `json:"analysisId"`
	ScreenshotRef   string          `json:"screenshotRef"`
	OverallScore    int             `json:"overallScore"` // 0..100
	Dimensions      DimensionScores `json:"dimensionScores"`
	Violations      []Violation     `json:"violations"`
	ExecutionOrder  []string        `json:"executionOrder"`
	EstimatedGain   int             `json:"estimatedGain"`
	ViewportW       int             `json:"viewportWidth,omitempty"`
	ViewportH       int             `json:"viewportHeight,omitempty"`
	CapturedAtMilli int64           `json:"capturedAt,omitempty"`
}

// Viewport is a render size in CSS pixels.
type Viewport struct {
	Width  int `json:"w"`
	Height int `json:"h"`
}

// DefaultViewport is used when the caller does not specify one.
var DefaultViewport = Viewport{Width: 1280, Height: 800}

// =============================================================================
// PATTERNS
// =============================================================================

// Pattern is a learned per-project preference with decaying confidence.
type Pattern struct {
	ProjectID     string    `json:"projectId"`
	ComponentType string    `json:"componentType"`
	RuleID        string    `json:"ruleId"`
	TokenChosen   string    `json:"tokenChosen"`
	Confidence    float64   `json:"confidence"` // 0..1
	SampleCount   int       `json:"sampleCount"`
	HalfLifeDays  float64   `json:"halfLifeDays"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// =============================================================================
// RESPONSE ENVELOPE
// =============================================================================

// Metadata is the bookkeeping block of every response envelope.
type Metadata struct {
	DurationMs      int64         `json:"durationMs"`
	CorrelationID   string        `json:"correlationId"`
	CacheHit        *bool         `json:"cacheHit,omitempty"`
	BrandPackID     string        `json:"brandPackId,omitempty"`
	BrandVersion    string        `json:"brandVersion,omitempty"`
	BrandPackSource ContextSource `json:"brandPackSource,omitempty"`
}

// Envelope is the common response shape shared by every entry point.
type Envelope struct {
	Success     bool         `json:"success"`
	Code        string       `json:"code,omitempty"`
	ChangeLog   *ChangeLog   `json:"changeLog,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Metadata    Metadata     `json:"metadata"`
}

// VendorPathPatterns are source path fragments that mark third-party code.
// Fragments from these paths are parsed but never transformed.
var VendorPathPatterns = []string{
	"node_modules/",
	"vendor/",
	"bower_components/",
	".min.css",
	".min.js",
	"dist/",
}

// IsVendorPath reports whether a file path hint matches the vendor set.
func IsVendorPath(path string) bool {
	if path == "" {
		return false
	}
	p := strings.ReplaceAll(path, "\\", "/")
	for _, pat := range VendorPathPatterns {
		if strings.Contains(p, pat) {
			return true
		}
	}
	return false
}
