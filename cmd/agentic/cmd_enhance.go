package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"agentic/internal/orchestrator"
)

var (
	flagAutoApply  bool
	flagMaxChanges int
	flagStages     []string
	flagOptimize   int
	flagCached     bool
	flagWrite      bool
)

var enhanceCmd = &cobra.Command{
	Use:   "enhance [file]",
	Short: "Substitute brand tokens into a style fragment",
	Long: `Parses the fragment, matches hard-coded values against the bound brand
pack, and applies the safe substitutions. Reads stdin when no file is
given. With --cached, identical requests reuse the response cache.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEnhance,
}

func init() {
	enhanceCmd.Flags().BoolVar(&flagAutoApply, "auto-apply", true, "apply high-confidence edits (off = advisory only)")
	enhanceCmd.Flags().IntVar(&flagMaxChanges, "max-changes", 0, "cap on auto-applied edits (0 = default cap)")
	enhanceCmd.Flags().StringSliceVar(&flagStages, "stages", nil, "run only these stages (e.g. colors,spacing)")
	enhanceCmd.Flags().IntVar(&flagOptimize, "optimize", 0, "CSS optimization level: 1 compact, 2 restructure")
	enhanceCmd.Flags().BoolVar(&flagCached, "cached", false, "use the response cache")
	enhanceCmd.Flags().BoolVar(&flagWrite, "write", false, "rewrite the input file in place")
	rootCmd.AddCommand(enhanceCmd)
}

func runEnhance(cmd *cobra.Command, args []string) error {
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

	req := orchestrator.Request{
		Code:              code,
		CodeType:          ct,
		FilePath:          path,
		AutoApply:         flagAutoApply,
		MaxChanges:        flagMaxChanges,
		Stages:            flagStages,
		OptimizationLevel: flagOptimize,
	}

	var resp *orchestrator.Response
	if flagCached {
		resp = svc.EnhanceCached(cmd.Context(), req)
	} else {
		resp = svc.Enhance(cmd.Context(), req)
	}

	if flagWrite && path != "" && resp.Success && resp.Code != code {
		if err := os.WriteFile(path, []byte(resp.Code), 0o644); err != nil {
			return fmt.Errorf("rewrite %s: %w", path, err)
		}
	}

	return emit(resp, func(r *orchestrator.Response) {
		if r.Metadata.CacheHit != nil && *r.Metadata.CacheHit {
			fmt.Println(subtleStyle.Render("(cache hit)"))
		}
		printChangeLog(r.ChangeLog)
		printDiagnostics(r.Diagnostics)
		if !flagWrite {
			fmt.Print(r.Code)
			if len(r.Code) > 0 && r.Code[len(r.Code)-1] != '\n' {
				fmt.Println()
			}
		}
	})
}
