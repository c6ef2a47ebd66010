package main

import (
	"fmt"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that every component of the pipeline can run",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ok := func(label, detail string) {
		fmt.Printf("%s %-14s %s\n", successStyle.Render("✓"), label, detail)
	}
	warn := func(label, detail string) {
		fmt.Printf("%s %-14s %s\n", warnStyle.Render("!"), label, detail)
	}

	svc, cfg, err := newService(cmd.Context())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer svc.Close()
	ok("config", "loaded")

	if res, err := svc.ResolveBrand(cmd.Context()); err != nil {
		warn("brand", err.Error())
	} else if res.Context.Degraded {
		warn("brand", "no pack bound (degraded, advisory-only)")
	} else {
		ok("brand", fmt.Sprintf("%s@%s via %s", res.Context.BrandPackID, res.Context.BrandVersion, res.Context.Source))
	}

	stats := svc.CacheStats()
	if stats.PrimaryAvailable {
		ok("cache", fmt.Sprintf("%d entries", stats.PrimaryEntries))
	} else {
		warn("cache", "sqlite tier unavailable, memory only")
	}

	chrome := cfg.Capture.ChromeBin
	if chrome == "" {
		if found, has := launcher.LookPath(); has {
			chrome = found
		}
	}
	if chrome != "" {
		ok("chrome", chrome)
	} else {
		warn("chrome", "no browser found; capture and analysis will fail")
	}

	if svc.VisionAvailable() {
		ok("vision", fmt.Sprintf("%s (%s)", cfg.Vision.Provider, cfg.Vision.Model))
	} else {
		warn("vision", "critic not configured; analyze/validate degraded")
	}
	return nil
}
