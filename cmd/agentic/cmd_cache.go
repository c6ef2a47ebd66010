package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache hit rates and store size",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, _, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		s := svc.CacheStats()
		total := s.Hits + s.Misses
		rate := 0.0
		if total > 0 {
			rate = float64(s.Hits) / float64(total) * 100
		}
		fmt.Println(headingStyle.Render("Response cache"))
		fmt.Printf("  hits       %d\n", s.Hits)
		fmt.Printf("  misses     %d\n", s.Misses)
		fmt.Printf("  hit rate   %.1f%%\n", rate)
		fmt.Printf("  evictions  %d\n", s.Evictions)
		fmt.Printf("  entries    %d (sqlite)\n", s.PrimaryEntries)
		if !s.PrimaryAvailable {
			fmt.Println(warnStyle.Render("  primary store unavailable, memory tier only"))
		}
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop every cached response",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, _, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.PurgeCache(cmd.Context()); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("cache purged"))
		return nil
	},
}

var cacheMaintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Evict entries past the TTL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, _, err := newService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		removed, err := svc.CacheMaintenance(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s %d expired entries removed\n", successStyle.Render("✓"), removed)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cachePurgeCmd, cacheMaintainCmd)
	rootCmd.AddCommand(cacheCmd)
}
