package engine

import (
	"time"

	"github.com/ZebulonRouseFrantzich/mansync/internal/extract"
)

// Reporter receives progress of a pass. Calls happen on the goroutine
// running the pass.
type Reporter interface {
	// StateChanged is called on every transition.
	StateChanged(s State)
	// Checking is called once per file or archive member compared.
	Checking(done, total int, path string)
	// Downloading reports bytes of the current file and of the whole pass.
	Downloading(name string, fileWritten, fileTotal, passWritten, passTotal int64)
	// Retrying is called before waiting for another attempt.
	Retrying(name string, attempt int, err error, wait time.Duration)
	// Extracting is called once per archive member processed.
	Extracting(archive string, done, total int, m extract.Member)
}

// NopReporter discards all progress.
type NopReporter struct{}

func (NopReporter) StateChanged(State) {}
func (NopReporter) Checking(int, int, string) {}
func (NopReporter) Downloading(string, int64, int64, int64, int64) {}
func (NopReporter) Retrying(string, int, error, time.Duration) {}
func (NopReporter) Extracting(string, int, int, extract.Member) {}
