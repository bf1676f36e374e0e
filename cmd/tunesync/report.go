package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tunebox/tunesync/internal/client/sync"
)

// printStates writes the per-state counts, skipping states with no paths
func printStates(w io.Writer, report *sync.Report) {
	counts := report.Counts()
	total := 0
	for _, state := range sync.AllStates {
		n := counts[state]
		if n == 0 {
			continue
		}
		total += n

		label := string(state)
		switch {
		case state == sync.StateSame:
			label = green(label)
		case state.IsConflict(), state == sync.StateError:
			label = red(label)
		default:
			label = cyan(label)
		}
		fmt.Fprintf(w, "  %-28s %d\n", label, n)
	}
	if total == 0 {
		fmt.Fprintln(w, "  no files")
	}
}

func printSummary(w io.Writer, title string, report *sync.Report) {
	fmt.Fprintf(w, "%s %d dirs, %s transferred in %s\n",
		cyan(title), report.Dirs(), humanize.Bytes(uint64(report.Bytes())), report.Duration().Round(time.Millisecond))

	printStates(w, report)

	actions := report.Actions()
	for _, a := range []sync.Action{sync.ActionUpload, sync.ActionDownload, sync.ActionDeleteRemote, sync.ActionDeleteLocal, sync.ActionDropRecord} {
		if n := actions[a]; n > 0 {
			fmt.Fprintf(w, "  %-20s %d\n", a, n)
		}
	}
	if n := report.Pruned(); n > 0 {
		fmt.Fprintf(w, "  %-20s %d\n", "pruned records", n)
	}

	for _, o := range report.Conflicts() {
		fmt.Fprintf(w, "%s %s (%s)\n", red("conflict"), o.Path, o.State)
	}
	for _, o := range report.Errors() {
		fmt.Fprintf(w, "%s %s: %v\n", red("failed"), o.Path, o.Err)
	}
	if err := report.Paused(); err != nil {
		fmt.Fprintf(w, "%s %v\n", red("paused"), err)
	}
}
