// Package main provides the searchlog command-line client.
// It talks to a running worker and prints history in a terminal-friendly form.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/thebtf/searchlog/internal/config"
	"github.com/thebtf/searchlog/pkg/client"
	"github.com/thebtf/searchlog/pkg/models"
)

// ANSI color codes
const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[90m"
	colorRed   = "\033[31m"
)

const usage = `usage: searchlog [flags] <command> [args]

commands:
  status                 worker health and version
  record <query>         record a search for --user
  recent                 newest searches for --user
  suggest <prefix>       past searches for --user starting with prefix
  popular                most searched queries across users
  delete <id>            delete one entry for --user
  clear                  delete all entries for --user

flags:
`

type painter struct {
	enabled bool
}

func newPainter() painter {
	enabled := os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
	switch os.Getenv("SEARCHLOG_COLORS") {
	case "false":
		enabled = false
	case "true":
		enabled = true
	}
	return painter{enabled: enabled}
}

func (p painter) paint(color, s string) string {
	if !p.enabled {
		return s
	}
	return color + s + colorReset
}

func main() {
	fs := flag.NewFlagSet("searchlog", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	port := fs.Int("port", config.GetWorkerPort(), "Worker port")
	user := fs.String("user", os.Getenv("USER"), "User ID")
	limit := fs.Int("limit", 0, "Maximum results (0 uses the worker default)")
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, os.Stdout, client.ForPort(*port), newPainter(), *user, *limit, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "searchlog: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, c *client.Client, p painter, user string, limit int, args []string) error {
	cmd, rest := args[0], args[1:]

	if cmd != "status" && cmd != "popular" && user == "" {
		return fmt.Errorf("%s: --user is required", cmd)
	}

	switch cmd {
	case "status":
		if !c.IsRunning(ctx) {
			fmt.Fprintf(out, "%s %s\n", p.paint(colorRed, "○"), "worker offline")
			return nil
		}
		fmt.Fprintf(out, "%s worker %s\n", p.paint(colorGreen, "●"), c.Version(ctx))
		return nil

	case "record":
		query := strings.Join(rest, " ")
		if strings.TrimSpace(query) == "" {
			return fmt.Errorf("record: query is required")
		}
		return c.Record(ctx, user, query, nil, nil)

	case "recent":
		entries, err := c.Recent(ctx, user, limit)
		if err != nil {
			return err
		}
		printEntries(out, p, entries)
		return nil

	case "suggest":
		suggestions, err := c.Suggestions(ctx, user, strings.Join(rest, " "))
		if err != nil {
			return err
		}
		for _, s := range suggestions {
			fmt.Fprintln(out, s)
		}
		return nil

	case "popular":
		popular, err := c.Popular(ctx, limit)
		if err != nil {
			return err
		}
		printPopular(out, p, popular)
		return nil

	case "delete":
		if len(rest) != 1 {
			return fmt.Errorf("delete: exactly one id is required")
		}
		id, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("delete: invalid id %q", rest[0])
		}
		ok, err := c.Delete(ctx, user, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("delete: entry %d not found", id)
		}
		return nil

	case "clear":
		return c.Clear(ctx, user)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printEntries(out io.Writer, p painter, entries []models.HistoryEntry) {
	for _, e := range entries {
		when := time.UnixMilli(e.CreatedAtEpoch).Local().Format("2006-01-02 15:04")
		line := fmt.Sprintf("%s  %s  %s", p.paint(colorGray, fmt.Sprintf("%6d", e.ID)), p.paint(colorGray, when), e.Query)
		if len(e.Filters) > 0 {
			line += "  " + p.paint(colorCyan, formatFilters(e.Filters))
		}
		fmt.Fprintln(out, line)
	}
}

func printPopular(out io.Writer, p painter, popular []models.PopularQuery) {
	for i, q := range popular {
		fmt.Fprintf(out, "%2d. %s %s\n", i+1, q.Query, p.paint(colorGray, fmt.Sprintf("(%d)", q.Count)))
	}
}

func formatFilters(f models.Filters) string {
	keys := f.Keys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+f[k])
	}
	return "[" + strings.Join(parts, " ") + "]"
}
