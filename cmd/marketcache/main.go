// Package main provides the marketcache maintenance CLI. It operates on the
// same storage location the desktop application uses, for inspecting and
// adjusting cache state during development and support.
package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quotedeck/marketcache"
)

var (
	// Version as provided by goreleaser.
	Version = ""

	cacheDir string

	rootCmd = &cobra.Command{
		Use:          "marketcache",
		Short:        "Inspect and maintain the QuoteDeck market cache",
		SilenceUsage: true,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			m, err := openManager()
			if err != nil {
				return err
			}

			stats := m.Stats()
			fmt.Printf("entries:    %d\n", stats.Entries)
			fmt.Printf("size:       %s\n", humanize.Bytes(uint64(stats.SizeBytes)))
			fmt.Printf("hits:       %d\n", stats.Hits)
			fmt.Printf("misses:     %d\n", stats.Misses)
			fmt.Printf("hit rate:   %.1f%%\n", stats.HitRate*100)
			fmt.Printf("evictions:  %d\n", stats.Evictions)
			fmt.Printf("disk hits:  %d\n", stats.DiskHits)
			fmt.Printf("disk drops: %d\n", stats.DiskMisses)
			if !stats.LastWarmed.IsZero() {
				fmt.Printf("last warm:  %s (%d keys)\n",
					humanize.Time(stats.LastWarmed), stats.WarmLoads)
			}

			categories := make([]string, 0, len(stats.PerCategory))
			for name := range stats.PerCategory {
				categories = append(categories, name)
			}
			sort.Strings(categories)
			for _, name := range categories {
				cs := stats.PerCategory[name]
				fmt.Printf("  %-14s %d entries, %s, %.1f%% hit rate\n",
					name, cs.Entries, humanize.Bytes(uint64(cs.SizeBytes)), cs.HitRate*100)
			}

			return nil
		},
	}

	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "List cached keys",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			m, err := openManager()
			if err != nil {
				return err
			}

			keys := m.Keys()
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Println(key)
			}

			return nil
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached entries, in memory and on disk",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			m, err := openManager()
			if err != nil {
				return err
			}
			if err := m.Clear(); err != nil {
				return err
			}

			fmt.Println("cache cleared")
			return nil
		},
	}

	policyCmd = &cobra.Command{
		Use:   "policy",
		Short: "Manage the per-category TTL policy",
	}

	policyShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Show the active TTL policy",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			m, err := openManager()
			if err != nil {
				return err
			}

			printPolicy(m.Policy())
			return nil
		},
	}

	policyTTLs = struct {
		prices   time.Duration
		metadata time.Duration
		history  time.Duration
	}{}

	policySetCmd = &cobra.Command{
		Use:   "set",
		Short: "Update TTL policy fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openManager()
			if err != nil {
				return err
			}

			policy := m.Policy()
			if cmd.Flags().Changed("prices") {
				policy.Prices = policyTTLs.prices
			}
			if cmd.Flags().Changed("metadata") {
				policy.Metadata = policyTTLs.metadata
			}
			if cmd.Flags().Changed("history") {
				policy.History = policyTTLs.history
			}

			if err := m.UpdatePolicy(policy); err != nil {
				return err
			}

			printPolicy(policy)
			return nil
		},
	}

	policyResetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Restore the default TTL policy",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			m, err := openManager()
			if err != nil {
				return err
			}

			policy, err := m.ResetPolicy()
			if err != nil {
				return err
			}

			printPolicy(policy)
			return nil
		},
	}
)

// openManager constructs a Manager against the configured storage location.
func openManager() (*marketcache.Manager, error) {
	cfg, err := marketcache.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if dir := viper.GetString("dir"); dir != "" {
		cfg.Dir = dir
	}

	return marketcache.New(cfg)
}

func printPolicy(policy marketcache.TTLPolicy) {
	fmt.Printf("prices:   %s\n", policy.Prices)
	fmt.Printf("metadata: %s\n", policy.Metadata)
	fmt.Printf("history:  %s\n", policy.History)
}

func init() {
	if len(Version) == 0 {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&cacheDir, "dir", "", "cache storage directory")
	_ = viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))

	viper.SetEnvPrefix("marketcache")
	viper.AutomaticEnv()

	policySetCmd.Flags().DurationVar(&policyTTLs.prices, "prices", 0, "TTL for price data")
	policySetCmd.Flags().DurationVar(&policyTTLs.metadata, "metadata", 0, "TTL for metadata")
	policySetCmd.Flags().DurationVar(&policyTTLs.history, "history", 0, "TTL for history data")

	policyCmd.AddCommand(policyShowCmd, policySetCmd, policyResetCmd)
	rootCmd.AddCommand(statsCmd, keysCmd, clearCmd, policyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
