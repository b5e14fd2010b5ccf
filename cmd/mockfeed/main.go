// Command mockfeed replays a fixture of feed lines over TCP so the matcher can
// run locally without network access. Each client gets the login prompt, a
// greeting once it sends its callsign, then the fixture lines with their HHMM
// timestamps rewritten to the current time.
//
// Usage:
//
//	go run ./cmd/mockfeed -addr :7300 -file testdata/sota.log
//	go run ./cmd/mockfeed -addr :7000 -file testdata/rbn.log -interval 200ms -loop
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

// hhmmRe matches the trailing UTC time on a spot line.
var hhmmRe = regexp.MustCompile(`\b\d{4}Z\s*$`)

type replayer struct {
	lines    []string
	interval time.Duration
	loop     bool
	logger   *slog.Logger
}

func main() {
	if err := run(); err != nil {
		slog.Error("mockfeed failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", ":7300", "listen address")
	file := flag.String("file", "", "fixture file of feed lines")
	interval := flag.Duration("interval", time.Second, "delay between lines")
	loop := flag.Bool("loop", false, "replay the fixture forever")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		return errors.New("missing required flag: -file")
	}

	logger := sharedobs.NewLogger("info", "text")

	data, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	r := &replayer{lines: fixtureLines(string(data)), interval: *interval, loop: *loop, logger: logger}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		return err
	}
	logger.Info("mock feed listening", "addr", ln.Addr().String(), "lines", len(r.lines))
	return r.serve(ctx, ln)
}

// serve accepts clients until ctx is cancelled.
func (r *replayer) serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.handle(ctx, conn)
		}()
	}
}

func (r *replayer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()
	if _, err := fmt.Fprint(conn, "Please enter your call: "); err != nil {
		return
	}
	call, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		r.logger.Warn("client left before login", "remote", remote, "error", err)
		return
	}
	call = strings.ToUpper(strings.TrimSpace(call))
	if _, err := fmt.Fprintf(conn, "Hello %s, this is the mock feed\r\n", call); err != nil {
		return
	}
	r.logger.Info("client logged in", "remote", remote, "callsign", call)

	for {
		for _, line := range r.lines {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.interval):
			}
			if _, err := fmt.Fprintf(conn, "%s\r\n", restamp(line, time.Now().UTC())); err != nil {
				r.logger.Info("client disconnected", "remote", remote)
				return
			}
		}
		if !r.loop {
			return
		}
	}
}

// fixtureLines splits a fixture, dropping blank lines and # comments.
func fixtureLines(data string) []string {
	var out []string
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// restamp replaces a spot line's trailing HHMMZ with now. Other lines pass
// through unchanged.
func restamp(line string, now time.Time) string {
	return hhmmRe.ReplaceAllString(line, now.Format("1504")+"Z")
}
