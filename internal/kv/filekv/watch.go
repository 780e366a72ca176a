package filekv

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/roach88/kprefs/internal/logging"
)

// settleDelay is how long the file must stay quiet before it is re-read.
// os.WriteFile truncates before writing, so reading on the first event
// would see an empty document.
const settleDelay = 50 * time.Millisecond

// Watch implements kv.Watcher. The parent directory is watched rather than
// the file itself so atomic replacements by editors are not lost. Bursts of
// events are coalesced into one reload once the file has settled.
func (b *Backend) Watch(ctx context.Context, notify func(keys ...string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(b.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	logger := logging.Named("filekv")

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != b.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			settle.Reset(settleDelay)

		case <-settle.C:
			keys, err := b.reload()
			if err != nil {
				// Unparseable: keep the last good state until the next edit.
				logger.Warn("reload prefs file", zap.String("path", b.path), zap.Error(err))
				continue
			}
			if len(keys) > 0 {
				notify(keys...)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		}
	}
}
