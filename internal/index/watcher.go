package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/treeapp/internal/checksum"
)

// ChangeCallback is called when the store document changed outside this
// process. sum is the new checksum, "" when the file was removed.
type ChangeCallback func(sum string)

const settleDelay = 200 * time.Millisecond

// WatchDocument starts an fsnotify watcher on the directory holding path and
// processes events for that file until ctx is cancelled. Events are debounced;
// once they settle the file is hashed and cb (if non-nil) is called when the
// digest differs both from ownSum(), the digest of this process's last write,
// and from the last digest already reported.
//
// The directory is watched rather than the file because atomic writes
// replace the file's inode.
func WatchDocument(ctx context.Context, path string, ownSum func() string, logger *slog.Logger, cb ChangeCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	lastSeen := currentSum(abs, logger)
	logger.Info("watcher: started", slog.String("path", abs))

	// settleTimer debounces bursts of events for the same write.
	var settleTimer *time.Timer
	var settleCh <-chan time.Time

	schedule := func() {
		if settleTimer == nil {
			settleTimer = time.NewTimer(settleDelay)
			settleCh = settleTimer.C
		} else {
			settleTimer.Reset(settleDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-settleCh:
			sum := currentSum(abs, logger)
			if sum == lastSeen || sum == ownSum() {
				lastSeen = sum
				continue
			}
			lastSeen = sum
			logger.Warn("watcher: store document changed outside this process",
				slog.String("path", abs),
				slog.String("checksum", sum))
			if cb != nil {
				cb(sum)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Debug("watcher: event", slog.String("op", ev.Op.String()))
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// currentSum hashes the file, returning "" when it does not exist or cannot be read.
func currentSum(path string, logger *slog.Logger) string {
	sum, err := checksum.File(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("watcher: hash failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return ""
	}
	return sum
}
