// Command spotcheck parses a captured feed log offline and reports how many
// lines each feed format accepts or rejects. Lines are read from -file or
// standard input.
//
// Usage:
//
//	go run ./cmd/spotcheck -feed reception -file rbn.log
//	nc telnet.reversebeacon.net 7000 | go run ./cmd/spotcheck -at 2024-06-01T15:00:00Z
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	"github.com/couchcryptid/sota-rbn-matcher/internal/feed"
	"github.com/jonboulle/clockwork"
)

// formatReport tallies one format's results over a log.
type formatReport struct {
	feed      domain.Feed
	parsed    int
	malformed int
	examples  []string
}

type report struct {
	lines   int
	blank   int
	formats []*formatReport
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	feedName := flag.String("feed", "", "feed format to check: activation or reception (default both)")
	file := flag.String("file", "", "log file to read (default stdin)")
	at := flag.String("at", "", "RFC 3339 time the log was captured, used to date HHMM timestamps")
	examples := flag.Int("examples", 5, "malformed lines to print per format")
	flag.Parse()

	formats := []feed.Format{feed.Activation, feed.Reception}
	if *feedName != "" {
		f, ok := feed.FormatFor(domain.Feed(*feedName))
		if !ok {
			return fmt.Errorf("unknown feed %q: want activation or reception", *feedName)
		}
		formats = []feed.Format{f}
	}

	if *at != "" {
		ts, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			return fmt.Errorf("parse -at: %w", err)
		}
		domain.SetClock(clockwork.NewFakeClockAt(ts))
		defer domain.SetClock(nil)
	}

	var in io.Reader = os.Stdin
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	rep, err := check(in, formats, *examples)
	if err != nil {
		return err
	}
	printReport(os.Stdout, rep)
	return nil
}

// check runs every non-blank line through each format, keeping up to
// maxExamples rejected lines per format.
func check(r io.Reader, formats []feed.Format, maxExamples int) (*report, error) {
	rep := &report{}
	for _, f := range formats {
		rep.formats = append(rep.formats, &formatReport{feed: f.Feed()})
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		rep.lines++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			rep.blank++
			continue
		}
		for i, f := range formats {
			fr := rep.formats[i]
			if _, err := f.ParseLine(line); err != nil {
				fr.malformed++
				if len(fr.examples) < maxExamples {
					fr.examples = append(fr.examples, line)
				}
				continue
			}
			fr.parsed++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return rep, nil
}

func printReport(w io.Writer, rep *report) {
	fmt.Fprintf(w, "lines: %d (blank %d)\n", rep.lines, rep.blank)
	for _, fr := range rep.formats {
		total := fr.parsed + fr.malformed
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(fr.parsed) / float64(total)
		}
		fmt.Fprintf(w, "\n%s: parsed %d, malformed %d (%.1f%% accepted)\n", fr.feed, fr.parsed, fr.malformed, pct)
		for _, ex := range fr.examples {
			fmt.Fprintf(w, "  ! %s\n", ex)
		}
	}
}
