// Package rounds derives capture round numbers from artifact filenames.
package rounds

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/gofrs/flock"
)

// LockFile is created inside a target's artifact directory while a capture
// holds it. It never matches the artifact pattern.
const LockFile = ".capture.lock"

var artifactPattern = regexp.MustCompile(`^ROUND(\d{2})_\d{2}\.[A-Za-z0-9]+$`)

// NextRound returns one past the highest round found in dir, or 1 when dir is
// absent or holds no artifacts.
//
// A listing error also yields 1. Callers cannot tell that apart from a fresh
// directory, so a transient I/O failure may lead to round 1 being
// overwritten; the error is logged.
func NextRound(dir string, log *slog.Logger) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) && log != nil {
			log.Error("listing artifact directory failed, assuming round 1", "dir", dir, "error", err)
		}
		return 1
	}
	highest := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := artifactPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		highest = max(highest, n)
	}
	return highest + 1
}

// ArtifactName formats the file name for one workflow step.
func ArtifactName(round, step int, ext string) string {
	return fmt.Sprintf("ROUND%02d_%02d.%s", round, step, ext)
}

// ArtifactPath joins dir and ArtifactName.
func ArtifactPath(dir string, round, step int, ext string) string {
	return filepath.Join(dir, ArtifactName(round, step, ext))
}

// Lock takes an exclusive advisory lock on dir so round allocation and the
// capture that uses it happen as one step per target. It blocks until the
// lock is acquired.
func Lock(dir string) (unlock func(), err error) {
	fl := flock.New(filepath.Join(dir, LockFile))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	return func() { _ = fl.Unlock() }, nil
}

// TryLock is the non-blocking form of Lock. ok is false when another holder
// has the lock.
func TryLock(dir string) (unlock func(), ok bool, err error) {
	fl := flock.New(filepath.Join(dir, LockFile))
	ok, err = fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", dir, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() { _ = fl.Unlock() }, true, nil
}
