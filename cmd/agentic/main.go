// Package main implements the agentic CLI: deterministic brand
// enhancement of style fragments plus the AI-assisted analysis loop.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"agentic/internal/config"
	"agentic/internal/discovery"
	"agentic/internal/logging"
	"agentic/internal/orchestrator"
	"agentic/internal/types"
)

var (
	flagWorkspace string
	flagJSON      bool
	flagCodeType  string
)

var rootCmd = &cobra.Command{
	Use:   "agentic",
	Short: "Brand-aware design enhancement for CSS, HTML and JSX fragments",
	Long: `agentic substitutes hard-coded design values with brand pack tokens,
renders the result headlessly, and can critique the render with a
multimodal model to plan further fixes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", ".", "project workspace root")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit raw JSON envelopes")
	rootCmd.PersistentFlags().StringVarP(&flagCodeType, "type", "t", "", "code type (css, html, jsx, tsx); inferred from the file extension when omitted")
}

// newService loads config and composes the orchestrator for one command
// invocation.
func newService(ctx context.Context) (*orchestrator.Service, *config.Config, error) {
	cfg, err := config.Load(flagWorkspace)
	if err != nil {
		return nil, nil, err
	}
	if err := logging.Initialize(flagWorkspace); err != nil {
		fmt.Fprintln(os.Stderr, "logging init:", err)
	}

	store := discovery.NewDirStore(filepath.Join(flagWorkspace, ".agentic", "packs"))
	return orchestrator.New(ctx, flagWorkspace, cfg, store), cfg, nil
}

// readFragment reads the positional file argument, or stdin when the
// argument is "-" or absent.
func readFragment(args []string) (string, string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), "", nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", err
	}
	return string(data), args[0], nil
}

// codeTypeFor resolves the fragment type from the flag or the file
// extension.
func codeTypeFor(path string) (types.CodeType, error) {
	if flagCodeType != "" {
		switch ct := types.CodeType(strings.ToLower(flagCodeType)); ct {
		case types.CodeCSS, types.CodeHTML, types.CodeJSX, types.CodeTSX, types.CodeJS:
			return ct, nil
		default:
			return "", fmt.Errorf("unsupported code type %q", flagCodeType)
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".css":
		return types.CodeCSS, nil
	case ".html", ".htm":
		return types.CodeHTML, nil
	case ".jsx":
		return types.CodeJSX, nil
	case ".tsx":
		return types.CodeTSX, nil
	case ".js":
		return types.CodeJS, nil
	case "":
		return types.CodeCSS, nil // stdin defaults to CSS
	default:
		return "", fmt.Errorf("cannot infer code type from %q, pass --type", path)
	}
}

// emit prints a response either as styled text or as the raw envelope.
func emit(resp *orchestrator.Response, render func(*orchestrator.Response)) error {
	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	render(resp)
	if !resp.Success {
		return fmt.Errorf("request rejected")
	}
	return nil
}

func printDiagnostics(diags []types.Diagnostic) {
	for _, d := range diags {
		fmt.Println(warnStyle.Render("  ! ") + string(d.Kind) + ": " + d.Message)
	}
}

func printChangeLog(log *types.ChangeLog) {
	if log == nil {
		return
	}
	for _, e := range log.Applied {
		fmt.Printf("%s %s: %s -> %s (%.2f)\n",
			successStyle.Render("  ✓"), e.Anchor, e.Before, e.After, e.Confidence)
	}
	for _, e := range log.Advisory {
		fmt.Printf("%s %s: %s -> %s (%s)\n",
			subtleStyle.Render("  ~"), e.Anchor, e.Before, e.After, e.Reason)
	}
	for _, e := range log.Rejected {
		fmt.Printf("%s %s: %s (%s)\n",
			errorStyle.Render("  ✗"), e.Anchor, e.Before, e.Reason)
	}
}
