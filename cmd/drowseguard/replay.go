package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/drowseguard/drowseguard/internal/config"
	"github.com/drowseguard/drowseguard/internal/debounce"
	"github.com/drowseguard/drowseguard/internal/engine"
	"github.com/drowseguard/drowseguard/internal/monitor"
	"github.com/drowseguard/drowseguard/internal/ocular"
	"github.com/drowseguard/drowseguard/internal/receiver"
	"github.com/drowseguard/drowseguard/internal/session"
	"github.com/drowseguard/drowseguard/internal/shipper"
)

const maxLine = 1 << 20

type replayOptions struct {
	in         string
	stream     string
	classifier string
	fixed      float64
	settings   debounce.Settings
	grpcAddr   string
	tls        bool
	keyEnv     string
	header     string
	timeout    time.Duration
}

func runReplay(ctx context.Context, args []string, stdout io.Writer) error {
	def := debounce.DefaultSettings()
	var o replayOptions
	fset := flag.NewFlagSet("replay", flag.ContinueOnError)
	fset.StringVar(&o.in, "in", "-", "JSONL frame file, - for stdin")
	fset.StringVar(&o.stream, "stream", "replay", "stream id")
	fset.StringVar(&o.classifier, "classifier", config.DefaultClassifier, "classifier for raw detections: landmark|cascade|fixed")
	fset.Float64Var(&o.fixed, "fixed-openness", ocular.DefaultFixedOpenness, "openness reported by the fixed classifier")
	fset.Float64Var(&o.settings.LowThreshold, "threshold", def.LowThreshold, "low openness threshold")
	fset.IntVar(&o.settings.RequiredFrames, "frames", def.RequiredFrames, "consecutive low frames before alerting")
	fset.StringVar(&o.grpcAddr, "grpc", "", "forward frames to a server's gRPC endpoint instead of a local engine")
	fset.BoolVar(&o.tls, "tls", false, "use TLS for -grpc")
	fset.StringVar(&o.keyEnv, "key-env", "", "environment variable holding the API key for -grpc")
	fset.StringVar(&o.header, "header", config.DefaultAuthHeader, "API key metadata header for -grpc")
	fset.DurationVar(&o.timeout, "timeout", time.Minute, "time allowed for -grpc delivery")
	if err := fset.Parse(args); err != nil {
		return err
	}

	frames, err := readFrames(o.in)
	if err != nil {
		return err
	}
	if o.grpcAddr != "" {
		return replayRemote(ctx, o, frames, stdout)
	}
	return replayLocal(ctx, o, frames, stdout)
}

// readFrames parses one monitor.FrameInput per non-empty line.
func readFrames(path string) ([]monitor.FrameInput, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		defer f.Close()
		r = f
	}

	var frames []monitor.FrameInput
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 || b[0] == '#' {
			continue
		}
		var in monitor.FrameInput
		if err := json.Unmarshal(b, &in); err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		frames = append(frames, in)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("replay: read: %w", err)
	}
	if len(frames) == 0 {
		return nil, errors.New("replay: no frames in input")
	}
	return frames, nil
}

func replayLocal(ctx context.Context, o replayOptions, frames []monitor.FrameInput, stdout io.Writer) error {
	reg := monitor.New(time.Hour, o.settings, func() ocular.Classifier {
		return ocular.NewClassifier(o.classifier, o.fixed)
	})
	if _, _, err := reg.Start(o.stream); err != nil {
		return err
	}
	for _, in := range frames {
		res, err := reg.Submit(ctx, o.stream, in)
		if err != nil {
			return err
		}
		printTransition(stdout, res)
	}
	final, err := reg.Stop(o.stream)
	if err != nil {
		return err
	}
	printSummary(stdout, final)
	return nil
}

func replayRemote(ctx context.Context, o replayOptions, frames []monitor.FrameInput, stdout io.Writer) error {
	opts := shipper.Options{
		Endpoint:   o.grpcAddr,
		TLS:        o.tls,
		Header:     o.header,
		BufferSize: len(frames),
	}
	if o.keyEnv != "" {
		opts.APIKey = os.Getenv(o.keyEnv)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	conn, err := shipper.Dial(ctx, opts)
	if err != nil {
		return err
	}
	defer conn.Close()
	client := receiver.NewClient(conn)

	req := &receiver.SessionRequest{StreamID: o.stream}
	if _, err := client.StartSession(shipper.WithAPIKey(ctx, opts), req); err != nil {
		return fmt.Errorf("replay: start session: %w", err)
	}

	s := shipper.New(opts, func(rep *receiver.FrameReply) { printTransition(stdout, rep.Result) })
	runCtx, stopRun := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		s.Run(runCtx)
		close(done)
	}()

	for _, in := range frames {
		s.Ship(&receiver.FrameRequest{StreamID: o.stream, FrameInput: in})
	}
	flushErr := s.Flush(ctx)
	stopRun()
	<-done
	if flushErr != nil {
		return flushErr
	}

	reply, err := client.StopSession(shipper.WithAPIKey(ctx, opts), req)
	if err != nil {
		return fmt.Errorf("replay: stop session: %w", err)
	}
	if st := s.Stats(); st.Discarded > 0 {
		fmt.Fprintf(stdout, "discarded %d of %d frames\n", st.Discarded, st.Shipped)
	}
	printSummary(stdout, reply.Stats)
	return nil
}

func printTransition(w io.Writer, res engine.FrameResult) {
	switch {
	case res.AlertStarted:
		fmt.Fprintf(w, "frame %d: ALERT low_frames=%d openness=%.2f confidence=%s\n",
			res.Frame, res.LowFrames, res.Openness, res.Confidence)
	case res.AlertCleared:
		fmt.Fprintf(w, "frame %d: clear openness=%.2f\n", res.Frame, res.Openness)
	}
}

func printSummary(w io.Writer, st session.Stats) {
	fmt.Fprintf(w, "frames=%d alert_frames=%d transitions=%d elapsed=%s\n",
		st.Frames, st.AlertFrames, st.AlertTransitions, session.FormatElapsed(st.Elapsed))
}
