package devserver

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/magicjsdev/ark/internal/config"
)

// envWatcher reports changes to the project's env files, debounced so an
// editor's write-rename sequence yields one notification.
type envWatcher struct {
	watcher     *fsnotify.Watcher
	files       map[string]bool
	debounceDur time.Duration
	onChange    func()
	logger      *zap.Logger
}

func newEnvWatcher(cfg config.Config, logger *zap.Logger, onChange func()) (*envWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	files := map[string]bool{}
	dirs := map[string]bool{}
	for _, name := range cfg.DevServer.EnvFiles {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Root, name)
		}
		files[filepath.Clean(path)] = true
		dirs[filepath.Dir(path)] = true
	}
	// Files may not exist yet, so watch their directories.
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	return &envWatcher{
		watcher:     watcher,
		files:       files,
		debounceDur: 300 * time.Millisecond,
		onChange:    onChange,
		logger:      logger.Named("envwatch"),
	}, nil
}

func (w *envWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("env file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			pending = time.After(w.debounceDur)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-pending:
			pending = nil
			w.onChange()
		}
	}
}
