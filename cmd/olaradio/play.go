package main

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/olaradio/olaradio/internal/app"
	"github.com/olaradio/olaradio/internal/artwork"
	"github.com/olaradio/olaradio/internal/ui"
)

var playFlags stationFlags

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Open the now-playing screen and start the station",
	RunE:  runPlay,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, playCmd} {
		c.Flags().StringVar(&playFlags.stationID, "station", "", "station id, e.g. user:onyourwave or genre:rock")
		c.Flags().BoolVar(&playFlags.noResume, "no-resume", false, "start fresh instead of continuing after the last played track")
	}
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(true)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, e, playFlags)
	if err != nil {
		return err
	}
	defer sess.Close()

	noColor := os.Getenv("NO_COLOR") != ""
	var art app.Artwork
	if e.cfg.UI.Artwork && !noColor {
		svc, err := artwork.New(artwork.Options{Logger: e.logger})
		if err != nil {
			e.logger.Warn("artwork disabled", slog.Any("err", err))
		} else {
			art = svc
		}
	}
	model := app.New(sess.ctrl, app.Options{
		StationID:   e.cfg.Station.ID,
		Theme:       ui.GetTheme(e.cfg.UI.Theme, noColor),
		Glyphs:      ui.GetGlyphs(e.cfg.UI.NoEmoji),
		VolumeStep:  e.cfg.Player.VolumeStep,
		SeekSeconds: e.cfg.Player.SeekSeconds,
		Autoplay:    true,
		Artwork:     art,
	})
	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
