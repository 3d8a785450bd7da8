package seeder

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	dErrors "relaypool/pkg/domain-errors"
)

// debounceWindow collapses the burst of filesystem events a single save
// produces into one re-seed.
const debounceWindow = 500 * time.Millisecond

// Watch blocks until ctx is cancelled, re-applying the seed file after
// each change. The parent directory is watched rather than the file
// itself, because editors and config reloaders typically replace the file
// by rename, which would silently detach a file-level watch.
func (s *Seeder) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "start seed watcher")
	}
	defer watcher.Close()

	target := filepath.Clean(s.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "watch seed directory")
	}

	s.logger.InfoContext(ctx, "watching seed file", "path", s.path)

	var debounce *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("seed watcher stopping", "reason", ctx.Err())
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write | fsnotify.Create | fsnotify.Rename) {
				continue
			}
			// A fresh timer per event sidesteps the drained-Reset race.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(debounceWindow)
			pending = debounce.C

		case <-pending:
			debounce = nil
			pending = nil
			if _, err := s.Run(ctx); err != nil {
				s.logger.ErrorContext(ctx, "re-seed after file change failed",
					"path", s.path,
					"error", err,
				)
				continue
			}
			s.invalidateList()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WarnContext(ctx, "seed watcher error", "error", err)
		}
	}
}

func (s *Seeder) invalidateList() {
	if s.invalidator != nil {
		s.invalidator.InvalidateAccountList()
	}
}
