package grab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/button"
)

// InboxSuffix marks a file in the inbox directory as one handoff token.
const InboxSuffix = ".grab"

// Handler receives every token found in the inbox, parsed or rejected.
type Handler func(ctx context.Context, b button.Button, err error)

// WatchInbox processes token files dropped into dir until ctx is done. Files
// already present are handled first. Each file is removed once handled.
func WatchInbox(ctx context.Context, dir string, logger *logrus.Logger, handle Handler) error {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create grab inbox: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch grab inbox: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch grab inbox %s: %w", dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read grab inbox: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), InboxSuffix) {
			consume(ctx, filepath.Join(dir, e.Name()), logger, handle)
		}
	}

	logger.WithField("dir", dir).Info("Watching grab inbox")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !strings.HasSuffix(ev.Name, InboxSuffix) {
				continue
			}
			consume(ctx, ev.Name, logger, handle)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.WithField("error", err).Warn("Grab inbox watcher error")
		}
	}
}

func consume(ctx context.Context, path string, logger *logrus.Logger, handle Handler) {
	data, err := os.ReadFile(path)
	if err != nil {
		// A Write event may follow a Create for a file already consumed.
		if !os.IsNotExist(err) {
			logger.WithFields(logrus.Fields{"file": path, "error": err}).Warn("Failed to read grab token")
		}
		return
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		// Still being written.
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WithFields(logrus.Fields{"file": path, "error": err}).Warn("Failed to remove grab token")
	}

	b, err := ParseToken(string(data))
	if err != nil {
		logger.WithFields(logrus.Fields{"file": path, "error": err}).Warn("Rejected grab token")
	}
	handle(ctx, b, err)
}
