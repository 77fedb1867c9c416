package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ZebulonRouseFrantzich/mansync/internal/engine"
	"github.com/ZebulonRouseFrantzich/mansync/internal/extract"
)

var stateMessages = map[engine.State]string{
	engine.StateReconcilingRenames:   "Applying renames...",
	engine.StateDiffing:              "Checking installed files...",
	engine.StateDownloading:          "Downloading updates...",
	engine.StateExtracting:           "Extracting archives...",
	engine.StateReconcilingDeletions: "Removing obsolete files...",
}

// progressReporter prints one line per finished file instead of a live
// progress bar, so its output stays readable in logs.
type progressReporter struct {
	out      io.Writer
	lastLine string
	finished map[string]bool
}

func newProgressReporter(out io.Writer) *progressReporter {
	return &progressReporter{out: out, finished: make(map[string]bool)}
}

func (r *progressReporter) println(line string) {
	// Archives re-enter some states; skip exact repeats.
	if line == r.lastLine {
		return
	}
	r.lastLine = line
	fmt.Fprintln(r.out, line)
}

func (r *progressReporter) StateChanged(s engine.State) {
	if msg, ok := stateMessages[s]; ok {
		r.println(msg)
	}
}

func (r *progressReporter) Checking(done, total int, path string) {
	if done == total {
		r.println(fmt.Sprintf("  checked %d entries", total))
	}
}

func (r *progressReporter) Downloading(name string, fileWritten, fileTotal, passWritten, passTotal int64) {
	if fileTotal <= 0 || fileWritten < fileTotal || r.finished[name] {
		return
	}
	r.finished[name] = true
	line := fmt.Sprintf("  %s (%s)", name, humanize.IBytes(uint64(fileTotal)))
	if passTotal > 0 {
		pct := passWritten * 100 / passTotal
		line += fmt.Sprintf(" [%s / %s, %d%%]", humanize.IBytes(uint64(passWritten)), humanize.IBytes(uint64(passTotal)), pct)
	}
	r.println(line)
}

func (r *progressReporter) Retrying(name string, attempt int, err error, wait time.Duration) {
	delete(r.finished, name)
	r.println(fmt.Sprintf("  retrying %s in %s (attempt %d failed: %v)", name, wait.Round(time.Millisecond), attempt, err))
}

func (r *progressReporter) Extracting(archive string, done, total int, m extract.Member) {
	if done == total {
		r.println(fmt.Sprintf("  %s: %d members in place", archive, total))
	}
}

var _ engine.Reporter = (*progressReporter)(nil)
