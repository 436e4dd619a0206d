package index

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/p2tas-community/p2tas-dev-tools/internal/logger"
	"github.com/p2tas-community/p2tas-dev-tools/internal/schema"
)

// settle is how long a burst of file events is coalesced before rescanning.
const settle = 200 * time.Millisecond

// Watch rescans rootPath whenever a script below it changes and passes every
// fresh result to onScan. It runs until ctx is cancelled.
func Watch(ctx context.Context, rootPath string, catalog *schema.Catalog, onScan func([]ScriptSummary)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addTree(w, rootPath); err != nil {
		return err
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !isHidden(info.Name()) {
					if err := addTree(w, ev.Name); err != nil {
						logger.Printf("watch %s: %v", ev.Name, err)
					}
				}
			}
			if !strings.HasSuffix(ev.Name, Extension) {
				continue
			}
			logger.Debugf("watch: %s", ev)
			if timer == nil {
				timer = time.NewTimer(settle)
			} else {
				timer.Reset(settle)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			summaries, err := ScanDirectory(rootPath, catalog)
			if err != nil {
				logger.Printf("rescan failed: %v", err)
				continue
			}
			onScan(summaries)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Printf("watch error: %v", err)
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
