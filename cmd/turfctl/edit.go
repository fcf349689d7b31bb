package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"turfboard.app/internal/editor"
	"turfboard.app/internal/stats"
)

type slugList []string

func (s *slugList) String() string { return strings.Join(*s, ",") }

func (s *slugList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// editLoop applies one "slug on off" edit per line. "list" prints every row,
// "quit" or end of input flushes pending saves and returns.
func editLoop(ctx context.Context, co *editor.Coordinator, in io.Reader, out io.Writer) error {
	printRows(out, co)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return flush(ctx, co)
		case "list":
			printRows(out, co)
			continue
		}
		if len(fields) != 3 {
			fmt.Fprintln(out, `expected "slug on off"`)
			continue
		}
		row, agg, err := co.Edit(fields[0], editor.ParseCount(fields[1]), editor.ParseCount(fields[2]))
		if err != nil {
			fmt.Fprintf(out, "%v\n", err)
			continue
		}
		printRow(out, row)
		printTotals(out, agg)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return flush(ctx, co)
}

func flush(ctx context.Context, co *editor.Coordinator) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return co.Flush(ctx)
}

func printRows(out io.Writer, co *editor.Coordinator) {
	for _, r := range co.Rows() {
		printRow(out, r)
	}
	printTotals(out, co.Totals())
}

func printRow(out io.Writer, r editor.Row) {
	mark := ""
	if r.Pending {
		mark = " *"
	}
	fmt.Fprintf(out, "%-24s %-28s on=%-6d off=%-6d %s%s\n",
		r.DisplayName, r.Slug, r.OnCount, r.OffCount, formatStats(r.Stats), mark)
}

func printTotals(out io.Writer, agg stats.Aggregate) {
	fmt.Fprintf(out, "%-24s %-28s on=%-6d off=%-6d %s\n",
		"TOTAL", fmt.Sprintf("%d rows", agg.Rows), agg.OnCount, agg.OffCount, formatStats(agg.Stats))
}

func formatStats(s stats.Stats) string {
	return fmt.Sprintf("total=%d off=%.1f%% gap=%d %s", s.Total, s.PercentOff, s.GapToTarget, s.Tier)
}
