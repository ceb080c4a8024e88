package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/olaradio/olaradio/internal/player"
)

var (
	consoleFlags  stationFlags
	consoleLyrics bool
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Play the station with line commands on stdin",
	Long: `console plays the station without the full-screen interface. Type a
command and press enter:

  p  pause      u  resume     n  next
  l  like       d  dislike    y  lyrics
  +  louder     -  quieter    i  info
  s  stop       q  quit`,
	RunE: runConsole,
}

func init() {
	consoleCmd.Flags().StringVar(&consoleFlags.stationID, "station", "", "station id")
	consoleCmd.Flags().BoolVar(&consoleFlags.noResume, "no-resume", false, "start fresh instead of resuming")
	consoleCmd.Flags().BoolVar(&consoleLyrics, "lyrics", false, "print lyrics when a track starts")
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(true)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, e, consoleFlags)
	if err != nil {
		return err
	}
	defer sess.Close()

	out := cmd.OutOrStdout()
	go printUpdates(ctx, out, sess.ctrl, consoleLyrics)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	step := float64(e.cfg.Player.VolumeStep)
	if err := sess.ctrl.Play(ctx); err != nil {
		fmt.Fprintln(out, "!", player.Describe(err))
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := runConsoleCommand(ctx, out, sess, strings.TrimSpace(line), step); quit {
				return nil
			}
		}
	}
}

func runConsoleCommand(ctx context.Context, out io.Writer, sess *session, line string, step float64) bool {
	ctrl := sess.ctrl
	var err error
	switch line {
	case "":
		return false
	case "q", "quit", "s", "stop":
		return true
	case "p", "pause":
		err = ctrl.Pause()
	case "u", "resume", "play":
		err = ctrl.Play(ctx)
	case "n", "next", "skip":
		err = ctrl.Skip(ctx)
	case "l", "like":
		err = ctrl.Like(ctx)
	case "d", "dislike":
		err = ctrl.Dislike(ctx)
	case "+":
		err = ctrl.SetVolume(step)
	case "-":
		err = ctrl.SetVolume(-step)
	case "y", "lyrics":
		var text string
		text, err = ctrl.Lyrics(ctx)
		if err == nil {
			fmt.Fprintln(out, text)
		}
	case "i", "info":
		printStatus(out, sess)
	default:
		fmt.Fprintf(out, "unknown command %q (p u n l d y + - i s q)\n", line)
	}
	if err != nil {
		fmt.Fprintln(out, "!", player.Describe(err))
	}
	return false
}

func printStatus(out io.Writer, sess *session) {
	ctrl := sess.ctrl
	fmt.Fprintf(out, "state: %s  volume: %.0f  batch: %s\n", ctrl.State(), ctrl.Volume(), sess.station.BatchID())
	if tr := ctrl.CurrentTrack(); tr != nil {
		liked := ""
		if tr.Liked() {
			liked = " (liked)"
		}
		fmt.Fprintf(out, "now:  %s%s  %s / %s\n", tr.Name(), liked, clock(ctrl.Position()), clock(tr.DurationSeconds()))
	} else if last := sess.station.Current(); last != nil {
		fmt.Fprintf(out, "last: %s\n", last.Name())
	}
	if next := sess.station.UpNext(); next != nil {
		fmt.Fprintf(out, "next: %s\n", next.Name())
	}
}

// printUpdates prints a line whenever a new track starts or a message arrives.
func printUpdates(ctx context.Context, out io.Writer, ctrl *player.Controller, withLyrics bool) {
	updates := ctrl.Updates()
	var lastPlay, lastMsg string
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Track != nil && u.Track.PlayID != lastPlay {
				lastPlay = u.Track.PlayID
				fmt.Fprintf(out, "> %s - %s [%s]\n", u.Track.Artist, u.Track.Title, clock(u.Track.Duration))
				if withLyrics && u.Track.HasLyrics {
					if text, err := ctrl.Lyrics(ctx); err == nil {
						fmt.Fprintln(out, text)
					}
				}
			}
			if u.Message != "" && u.Message != lastMsg {
				fmt.Fprintln(out, "*", u.Message)
			}
			lastMsg = u.Message
		}
	}
}

func clock(sec int) string {
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}
