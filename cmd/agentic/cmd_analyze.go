package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"agentic/internal/orchestrator"
	"agentic/internal/router"
	"agentic/internal/transform"
	"agentic/internal/types"
)

var (
	flagFix       bool
	flagValidate  bool
	flagApplyMode string
	flagViewports []string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Render the fragment and critique it with the vision model",
	Long: `Captures a headless render of the fragment and asks the configured
vision model for a six-dimension design critique. With --fix the planned
repairs run back through the enhancement pipeline; --validate re-renders
and re-critiques the result to score the improvement.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

var responsiveCmd = &cobra.Command{
	Use:   "responsive [file]",
	Short: "Critique the fragment across several viewports",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runResponsive,
}

var validateCmd = &cobra.Command{
	Use:   "validate <before-file> <after-file>",
	Short: "Score the visual delta between two fragment versions",
	Args:  cobra.ExactArgs(2),
	RunE:  runValidate,
}

func init() {
	analyzeCmd.Flags().BoolVar(&flagFix, "fix", false, "execute the planned fixes")
	analyzeCmd.Flags().BoolVar(&flagValidate, "validate", false, "re-critique after fixing (implies --fix)")
	analyzeCmd.Flags().StringVar(&flagApplyMode, "auto-apply", "", "apply mode: safe, off or all (default safe when fixing)")
	responsiveCmd.Flags().StringSliceVar(&flagViewports, "viewports", nil, "viewports as WxH (default 1280x800,768x1024,375x667)")
	rootCmd.AddCommand(analyzeCmd, responsiveCmd, validateCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	code, path, err := readFragment(args)
	if err != nil {
		return err
	}
	ct, err := codeTypeFor(path)
	if err != nil {
		return err
	}

	svc, _, err := newService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	mode := flagApplyMode
	if mode == "" {
		if flagFix || flagValidate {
			mode = transform.ApplySafe
		} else {
			mode = transform.ApplyOff
		}
	}
	switch mode {
	case transform.ApplySafe, transform.ApplyOff, transform.ApplyAll:
	default:
		return fmt.Errorf("unknown --auto-apply mode %q (want safe, off or all)", mode)
	}

	req := orchestrator.Request{Code: code, CodeType: ct, FilePath: path, AutoApply: true}
	resp := svc.AnalyzeAndFix(cmd.Context(), req, orchestrator.FixOptions{
		AutoApply:        mode,
		ValidateAfterFix: flagValidate,
	})

	return emit(resp, func(r *orchestrator.Response) {
		printAnalysis(r.Analysis)
		if r.Plan != nil && len(r.Plan.Fixes) > 0 {
			fmt.Println(headingStyle.Render("Plan"))
			fmt.Println(r.Plan.Describe())
		}
		if r.Validation != nil {
			printValidation(r.Validation)
		}
		printDiagnostics(r.Diagnostics)
		if flagFix || flagValidate {
			fmt.Print(r.Code)
		}
	})
}

func runResponsive(cmd *cobra.Command, args []string) error {
	code, path, err := readFragment(args)
	if err != nil {
		return err
	}
	ct, err := codeTypeFor(path)
	if err != nil {
		return err
	}
	viewports, err := parseViewports(flagViewports)
	if err != nil {
		return err
	}

	svc, _, err := newService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	resp := svc.AnalyzeResponsive(cmd.Context(),
		orchestrator.Request{Code: code, CodeType: ct, FilePath: path}, viewports)

	return emit(resp, func(r *orchestrator.Response) {
		if r.Responsive == nil {
			printDiagnostics(r.Diagnostics)
			return
		}
		for _, va := range r.Responsive.Viewports {
			label := fmt.Sprintf("%dx%d", va.Viewport.Width, va.Viewport.Height)
			if va.Analysis == nil {
				fmt.Printf("%s  %s\n", label, errorStyle.Render("no analysis"))
				continue
			}
			fmt.Printf("%s  score %s  violations %d\n", label,
				scoreColor(va.Analysis.OverallScore).Render(strconv.Itoa(va.Analysis.OverallScore)),
				len(va.Analysis.Violations))
		}
		if len(r.Responsive.ConsistencyFindings) > 0 {
			fmt.Println(headingStyle.Render("Consistency"))
			for _, f := range r.Responsive.ConsistencyFindings {
				fmt.Println(warnStyle.Render("  ! ") + f)
			}
		}
		printDiagnostics(r.Diagnostics)
	})
}

func runValidate(cmd *cobra.Command, args []string) error {
	beforeCode, beforePath, err := readFragment(args[:1])
	if err != nil {
		return err
	}
	afterCode, afterPath, err := readFragment(args[1:])
	if err != nil {
		return err
	}
	beforeType, err := codeTypeFor(beforePath)
	if err != nil {
		return err
	}
	afterType, err := codeTypeFor(afterPath)
	if err != nil {
		return err
	}

	svc, _, err := newService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	resp := svc.ValidateImprovements(cmd.Context(),
		orchestrator.Request{Code: beforeCode, CodeType: beforeType, FilePath: beforePath},
		orchestrator.Request{Code: afterCode, CodeType: afterType, FilePath: afterPath})

	return emit(resp, func(r *orchestrator.Response) {
		if r.Validation != nil {
			printValidation(r.Validation)
		}
		printDiagnostics(r.Diagnostics)
	})
}

func printAnalysis(a *types.VisualAnalysis) {
	if a == nil {
		return
	}
	fmt.Printf("%s %s\n", headingStyle.Render("Overall"),
		scoreColor(a.OverallScore).Render(strconv.Itoa(a.OverallScore)))
	d := a.Dimensions
	fmt.Printf("  hierarchy %d  typography %d  spacing %d  color %d  accessibility %d  brand %d\n",
		d.Hierarchy, d.Typography, d.Spacing, d.Color, d.Accessibility, d.Brand)
	for _, v := range a.Violations {
		fmt.Printf("%s [%s] %s: %s\n", warnStyle.Render("  !"), v.Severity, v.Location, v.Evidence)
	}
}

func printValidation(v *router.Validation) {
	style := errorStyle
	switch v.Verdict {
	case router.VerdictAccept:
		style = successStyle
	case router.VerdictReview:
		style = warnStyle
	}
	fmt.Printf("%s %s (score %+d)\n", headingStyle.Render("Verdict"),
		style.Render(string(v.Verdict)), v.ScoreDelta)
	for dim, delta := range v.DimensionDeltas {
		if delta != 0 {
			fmt.Printf("  %s %+d\n", dim, delta)
		}
	}
}

func parseViewports(specs []string) ([]types.Viewport, error) {
	var out []types.Viewport
	for _, s := range specs {
		w, h, ok := strings.Cut(strings.TrimSpace(s), "x")
		if !ok {
			return nil, fmt.Errorf("viewport %q is not WxH", s)
		}
		width, err := strconv.Atoi(w)
		if err != nil {
			return nil, fmt.Errorf("viewport %q: %w", s, err)
		}
		height, err := strconv.Atoi(h)
		if err != nil {
			return nil, fmt.Errorf("viewport %q: %w", s, err)
		}
		out = append(out, types.Viewport{Width: width, Height: height})
	}
	return out, nil
}
