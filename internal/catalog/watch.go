package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watch follows binDir for newly created or removed frameserver binaries,
// invoking onChange with the freshly re-scanned catalog each time — the
// hot-add path SPEC_FULL's domain stack wires fsnotify to, grounded on
// petervdpas-goop2's internal/lua engine using fsnotify.NewWatcher over a
// scripts directory. Runs until ctx is done.
func Watch(ctx context.Context, binDir string, onChange func(*Catalog)) error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("catalog: creating %s: %w", binDir, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: new watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(binDir); err != nil {
		return fmt.Errorf("catalog: watching %s: %w", binDir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("catalog: watch error: %w", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			c, err := Scan(binDir)
			if err != nil {
				continue
			}
			onChange(c)
		}
	}
}
