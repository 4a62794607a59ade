package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/redis/go-redis/v9"
	"github.com/samsaffron/enrich/internal/config"
	"github.com/samsaffron/enrich/internal/semcache"
	"github.com/spf13/cobra"
)

var (
	cacheRedisAddr string
	cacheYes       bool
	cacheJSON      bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the semantic answer cache",
	Long: `Inspect the Redis cache of SQL agent answers.

The Redis address comes from --redis or REDIS_HOST and REDIS_PORT.

Examples:
  enrich cache stats
  enrich cache keys 'llmcache:*'
  enrich cache history --json
  enrich cache clear --yes`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the number of cached answers",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheKeysCmd = &cobra.Command{
	Use:   "keys [pattern]",
	Short: "List keys matching a pattern (default *)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCacheKeys,
}

var cacheSizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Print the number of keys in the Redis database",
	Args:  cobra.NoArgs,
	RunE:  runCacheSize,
}

var cacheHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List cached questions and answers",
	Args:  cobra.NoArgs,
	RunE:  runCacheHistory,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached answer",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheRedisAddr, "redis", "", "Redis host:port (default: REDIS_HOST:REDIS_PORT)")
	cacheHistoryCmd.Flags().BoolVar(&cacheJSON, "json", false, "Print entries as JSON")
	cacheClearCmd.Flags().BoolVarP(&cacheYes, "yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheKeysCmd)
	cacheCmd.AddCommand(cacheSizeCmd)
	cacheCmd.AddCommand(cacheHistoryCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

// openCache connects to Redis. The cache has no embedder, so it can only
// be inspected and cleared.
func openCache(ctx context.Context) (*semcache.Cache, func(), error) {
	addr := cacheRedisAddr
	if addr == "" {
		var env config.ServerEnv
		if err := config.ParseEnv(&env); err != nil {
			return nil, nil, err
		}
		addr = env.RedisAddr()
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	cache := semcache.New(rdb, nil, 0, logger)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return cache, func() { _ = rdb.Close() }, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cache, closeFn, err := openCache(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	keys, err := cache.Keys(ctx, semcache.KeyPrefix+":*")
	if err != nil {
		return err
	}
	size, err := cache.Size(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cached answers: %d\n", len(keys))
	fmt.Fprintf(out, "Database keys:  %d\n", size)
	return nil
}

func runCacheKeys(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cache, closeFn, err := openCache(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	pattern := ""
	if len(args) == 1 {
		pattern = args[0]
	}
	keys, err := cache.Keys(ctx, pattern)
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), key)
	}
	return nil
}

func runCacheSize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cache, closeFn, err := openCache(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	size, err := cache.Size(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), size)
	return nil
}

func runCacheHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cache, closeFn, err := openCache(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	entries, err := cache.History(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if cacheJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No cached answers.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\n", nodeStyle.Render(e.Key))
		fmt.Fprintf(out, "  Q: %s\n", e.Prompt)
		fmt.Fprintf(out, "  A: %s\n", e.Response)
		fmt.Fprintf(out, "  %s\n\n", mutedStyle.Render(e.LLMString))
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	if !cacheYes {
		if !stdinIsTTY() {
			return errors.New("refusing to clear the cache without --yes")
		}
		confirmed := false
		err := huh.NewConfirm().
			Title("Delete every cached answer?").
			Affirmative("Delete").
			Negative("Cancel").
			Value(&confirmed).
			Run()
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
	}

	ctx := cmd.Context()
	cache, closeFn, err := openCache(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := cache.Clear(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d cached answers.\n", n)
	return nil
}
