package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/olaradio/olaradio/internal/artwork"
	"github.com/olaradio/olaradio/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the local track cache",
	RunE:  runCacheList,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached tracks",
	RunE:  runCacheList,
}

var cachePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the cache directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(false)
		if e == nil {
			return err
		}
		defer e.Close()
		fmt.Fprintln(cmd.OutOrStdout(), e.cfg.Cache.Dir)
		return nil
	},
}

var artworkClear bool

var cacheArtworkCmd = &cobra.Command{
	Use:   "artwork",
	Short: "Show or clear the rendered cover art cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(false)
		if e == nil {
			return err
		}
		defer e.Close()
		c, err := artwork.NewCache("", 0)
		if err != nil {
			return err
		}
		if artworkClear {
			if err := c.Clear(); err != nil {
				return fmt.Errorf("clear artwork: %w", err)
			}
			e.logger.Info("artwork cache cleared", slog.String("dir", c.Dir()))
		}
		size, err := c.Size()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s in %s\n", humanize.Bytes(uint64(size)), c.Dir())
		return nil
	},
}

func init() {
	cacheArtworkCmd.Flags().BoolVar(&artworkClear, "clear", false, "remove all cached covers")
	cacheCmd.AddCommand(cacheListCmd, cachePathCmd, cacheArtworkCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheList(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(false)
	if e == nil {
		return err
	}
	defer e.Close()

	store, err := cache.New(e.cfg.Cache.Dir, nil, cache.Options{Logger: e.logger})
	if err != nil {
		return err
	}
	entries, err := store.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	var total int64
	for _, en := range entries {
		total += en.Size
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", en.Artist, en.Title, humanize.Bytes(uint64(en.Size)), humanize.Time(en.ModTime))
	}
	tw.Flush()
	fmt.Fprintf(out, "%d tracks, %s in %s\n", len(entries), humanize.Bytes(uint64(total)), store.Dir())
	return nil
}
