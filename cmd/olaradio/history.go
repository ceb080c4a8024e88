package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/olaradio/olaradio/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently played tracks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(e *env, h *history.Store) error {
			plays, err := h.Recent(cmd.Context(), historyLimit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, p := range plays {
				fmt.Fprintf(tw, "%s\t%s - %s\t%s\t%s/%s\t%s\n",
					humanize.Time(p.StartedAt), p.Artist, p.Title, p.Outcome,
					clock(p.Played), clock(p.Duration), p.StationID)
			}
			return tw.Flush()
		})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget listening history and resume points",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(e *env, h *history.Store) error {
			if err := h.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
			return nil
		})
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of plays to show")
	historyCmd.AddCommand(historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func withHistory(fn func(*env, *history.Store) error) error {
	e, err := loadEnv(false)
	if e == nil {
		return err
	}
	defer e.Close()
	h, err := history.Open(e.historyPath())
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(e, h)
}
