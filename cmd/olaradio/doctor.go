package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/olaradio/olaradio/internal/config"
	"github.com/olaradio/olaradio/internal/history"
	"github.com/olaradio/olaradio/internal/player"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, mpv, the cache directory and the account",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	e, cfgErr := loadEnv(false)
	if e == nil {
		return cfgErr
	}
	defer e.Close()
	out := cmd.OutOrStdout()
	cfg := e.cfg

	fmt.Fprintln(out, "olaradio doctor")
	fmt.Fprintf(out, "Config file: %s\n", e.cfgPath)
	failed := false
	check := func(name string, err error, ok string) {
		if err != nil {
			failed = true
			fmt.Fprintf(out, "%s: FAIL (%v)\n", name, err)
			return
		}
		fmt.Fprintf(out, "%s: OK %s\n", name, ok)
	}

	switch {
	case errors.Is(cfgErr, config.ErrMissingToken):
		check("Token", fmt.Errorf("set account.token or %s", config.EnvToken), "")
	case cfgErr != nil:
		check("Config", cfgErr, "")
	default:
		check("Token", nil, "(configured)")
	}

	mpvPath, err := cfg.CheckPlayer()
	check("mpv", err, "("+mpvPath+")")
	check("Cache dir", writableDir(cfg.Cache.Dir), "("+cfg.Cache.Dir+")")
	fmt.Fprintf(out, "Station: %s\n", cfg.Station.ID)

	if cfg.Feedback.History {
		hist, err := history.Open(e.historyPath())
		if err == nil {
			hist.Close()
		}
		check("History", err, "("+e.historyPath()+")")
	}

	if cfg.Account.Token != "" {
		ctx, cancel := cfg.DeadlineContext()
		defer cancel()
		acct, err := e.remoteClient().Account(ctx)
		if err != nil {
			check("Account", errors.New(player.Describe(err)), "")
		} else {
			check("Account", nil, fmt.Sprintf("(%s, uid %d)", acct.Login, acct.UID))
		}
	}

	e.logger.Info("doctor complete")
	if failed {
		return errors.New("doctor found problems")
	}
	return nil
}

func writableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

