// Package reconcile applies the structural fixes a manifest asks for:
// moving legacy files to their new location and removing obsolete ones.
package reconcile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ZebulonRouseFrantzich/mansync/internal/manifest"
	"github.com/ZebulonRouseFrantzich/mansync/internal/syncerr"
)

// RenameOutcome describes what happened to one rename.
type RenameOutcome int

const (
	Renamed RenameOutcome = iota
	SourceMissing
	TargetExists
	Failed
)

func (o RenameOutcome) String() string {
	switch o {
	case Renamed:
		return "renamed"
	case SourceMissing:
		return "source_missing"
	case TargetExists:
		return "target_exists"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ApplyRenames moves each From to To under root. A rename runs only when the
// source exists and the target does not; otherwise it is logged and skipped
// so the differ can decide on the target. Failures are collected and
// returned together after every rename was attempted.
func ApplyRenames(root string, renames []manifest.Rename, logger *zap.Logger) ([]RenameOutcome, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	outcomes := make([]RenameOutcome, len(renames))
	var errs error
	for i, r := range renames {
		from, err := manifest.LocalPath(root, r.From)
		if err != nil {
			outcomes[i] = Failed
			errs = multierr.Append(errs, syncerr.Parse("resolve rename source", r.From, err))
			continue
		}
		to, err := manifest.LocalPath(root, r.To)
		if err != nil {
			outcomes[i] = Failed
			errs = multierr.Append(errs, syncerr.Parse("resolve rename target", r.To, err))
			continue
		}

		if _, err := os.Lstat(from); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				outcomes[i] = SourceMissing
				logger.Debug("rename source missing", zap.String("from", r.From))
				continue
			}
			outcomes[i] = Failed
			errs = multierr.Append(errs, syncerr.FileSystem("stat", from, err))
			continue
		}

		if _, err := os.Lstat(to); err == nil {
			outcomes[i] = TargetExists
			logger.Info("rename target already present, keeping it",
				zap.String("from", r.From), zap.String("to", r.To))
			continue
		}

		if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
			outcomes[i] = Failed
			errs = multierr.Append(errs, syncerr.FileSystem("create directory", filepath.Dir(to), err))
			continue
		}
		if err := os.Rename(from, to); err != nil {
			outcomes[i] = Failed
			errs = multierr.Append(errs, syncerr.FileSystem("rename", from, err))
			continue
		}

		outcomes[i] = Renamed
		logger.Info("renamed", zap.String("from", r.From), zap.String("to", r.To))
	}

	return outcomes, errs
}

// ApplyDeletions removes each path under root, directories included.
// Missing paths are not errors. Every deletion is attempted; failures are
// combined into the returned error.
func ApplyDeletions(root string, paths []string, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	removed := 0
	var errs error
	for _, rel := range paths {
		target, err := manifest.LocalPath(root, rel)
		if err != nil {
			errs = multierr.Append(errs, syncerr.Parse("resolve deletion", rel, err))
			continue
		}
		if filepath.Clean(target) == filepath.Clean(root) {
			errs = multierr.Append(errs, syncerr.Parse("resolve deletion", rel, errors.New("refusing to delete install root")))
			continue
		}

		if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			errs = multierr.Append(errs, syncerr.FileSystem("delete", target, err))
			continue
		}
		removed++
		logger.Info("deleted obsolete path", zap.String("path", rel))
	}

	return removed, errs
}
