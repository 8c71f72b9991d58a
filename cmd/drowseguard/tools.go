package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/drowseguard/drowseguard/internal/alerts"
	"github.com/drowseguard/drowseguard/internal/auth"
	"github.com/drowseguard/drowseguard/internal/config"
	"github.com/drowseguard/drowseguard/internal/history"
	"github.com/drowseguard/drowseguard/internal/scrape"
	"github.com/drowseguard/drowseguard/internal/session"
)

func runValidate(_ context.Context, args []string, stdout io.Writer) error {
	fset := flag.NewFlagSet("validate", flag.ContinueOnError)
	configPath := fset.String("config", "drowseguard.yaml", "path to config file")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := alerts.Validate(cfg.Alerts); err != nil {
		return err
	}

	s := cfg.Detector.Settings()
	rules := len(cfg.Alerts.Rules)
	if rules == 0 {
		rules = len(alerts.DefaultRules())
	}
	fmt.Fprintf(stdout, "%s: ok\n", *configPath)
	fmt.Fprintf(stdout, "  detector: %s, low_threshold=%.2f required_frames=%d\n",
		cfg.Detector.Classifier, s.LowThreshold, s.RequiredFrames)
	fmt.Fprintf(stdout, "  alerts: %d rules, %d webhooks\n", rules, len(cfg.Alerts.Webhooks))
	fmt.Fprintf(stdout, "  storage: %s\n", cfg.Storage.Backend)
	return nil
}

func runStats(ctx context.Context, args []string, stdout io.Writer) error {
	fset := flag.NewFlagSet("stats", flag.ContinueOnError)
	addr := fset.String("addr", "http://localhost:8080", "server base URL")
	keyEnv := fset.String("key-env", "", "environment variable holding the API key")
	header := fset.String("header", config.DefaultAuthHeader, "API key header")
	watch := fset.Duration("watch", 0, "repeat every interval until interrupted")
	top := fset.Int("top", 5, "streams listed by alert transitions")
	if err := fset.Parse(args); err != nil {
		return err
	}

	key := ""
	if *keyEnv != "" {
		key = os.Getenv(*keyEnv)
	}
	client := scrape.New(*addr, *header, key)

	for {
		s, err := client.Fetch(ctx)
		if err != nil {
			return err
		}
		printStats(stdout, s, *top)

		if *watch <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(*watch):
		}
	}
}

func printStats(w io.Writer, s *scrape.Summary, top int) {
	fmt.Fprintf(w, "streams %s  active sessions %s  alerting %s\n",
		humanize.Comma(int64(s.Streams)), humanize.Comma(int64(s.ActiveSessions)), humanize.Comma(int64(s.AlertingStreams)))
	fmt.Fprintf(w, "frames %s (full %s, partial %s, none %s)  mean openness %.2f\n",
		humanize.Comma(int64(s.TotalFrames())),
		humanize.Comma(int64(s.Frames["full"])),
		humanize.Comma(int64(s.Frames["partial"])),
		humanize.Comma(int64(s.Frames["none"])),
		s.MeanOpenness)
	if s.SessionsEnded > 0 {
		mean := time.Duration(s.MeanSessionSeconds * float64(time.Second))
		fmt.Fprintf(w, "sessions ended %s  mean length %s\n",
			humanize.Comma(int64(s.SessionsEnded)), session.FormatElapsed(mean))
	}
	if s.HistoryDropped > 0 {
		fmt.Fprintf(w, "history records dropped %s\n", humanize.Comma(int64(s.HistoryDropped)))
	}
	for _, id := range s.TopStreams(top) {
		fmt.Fprintf(w, "  %-20s %s alerts\n", id, humanize.Comma(int64(s.AlertTransitions[id])))
	}
}

func runSessions(ctx context.Context, args []string, stdout io.Writer) error {
	fset := flag.NewFlagSet("sessions", flag.ContinueOnError)
	configPath := fset.String("config", "drowseguard.yaml", "path to config file")
	stream := fset.String("stream", "", "only sessions of this stream")
	limit := fset.Int("limit", 20, "maximum sessions listed")
	episodes := fset.Bool("episodes", false, "list alert episodes under each session")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.Storage.Backend == "none" {
		return errors.New("sessions: storage.backend is none, no history recorded")
	}

	store, err := history.Open(ctx, cfg.Storage.Backend, cfg.Storage.DSN())
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.RecentSessions(ctx, *stream, *limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(stdout, "no sessions recorded")
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STREAM\tENDED\tLENGTH\tALERTS\tFRAMES\tSESSION")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.StreamID, humanize.Time(r.EndedAt), session.FormatElapsed(r.Elapsed),
			r.AlertTransitions, humanize.Comma(r.Frames), r.ID)
		if !*episodes {
			continue
		}
		eps, err := store.Episodes(ctx, r.ID)
		if err != nil {
			return err
		}
		for _, e := range eps {
			fmt.Fprintf(tw, "\t%s\t+%s\tlow_frames=%d\topenness=%.2f\t\n",
				humanize.Time(e.StartedAt), session.FormatElapsed(e.StartedAt.Sub(r.StartedAt)),
				e.LowFrames, e.Openness)
		}
	}
	return tw.Flush()
}

func runHashKey(_ context.Context, args []string, stdout io.Writer) error {
	fset := flag.NewFlagSet("hashkey", flag.ContinueOnError)
	if err := fset.Parse(args); err != nil {
		return err
	}

	key := fset.Arg(0)
	if key == "" || key == "-" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("hashkey: read stdin: %w", err)
		}
		key = strings.TrimSpace(line)
	}

	hash, err := auth.HashKey(key)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}
