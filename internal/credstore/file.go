package credstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/oauth2"

	"github.com/jobvault/jobvault/internal/tokenfile"
)

// FileStore keeps the credential pair in a single JSON file written through
// tokenfile. Without a watcher every Load reads the file. With a watcher the
// last read is cached until fsnotify reports a change to the file.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	cached  *oauth2.Token
	fresh   bool // cached reflects the file; only ever true while watching
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileStore returns a FileStore for path. The file is not touched until
// the first Load or Save.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &FileStore{path: path, logger: logger}
}

// Path returns the credential file path.
func (s *FileStore) Path() string {
	return s.path
}

// Watch starts watching the credential file's directory. The directory is
// watched rather than the file because Save replaces the file by rename.
func (s *FileStore) Watch() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, tokenfile.DirPerms); err != nil {
		return fmt.Errorf("credstore: creating directory %s: %w", dir, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("credstore: creating watcher: %w", err)
	}

	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("credstore: watching %s: %w", dir, err)
	}

	s.mu.Lock()
	s.watcher = w
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.watchLoop(w, s.done)

	s.logger.Debug("watching credential file", slog.String("path", s.path))

	return nil
}

func (s *FileStore) watchLoop(w *fsnotify.Watcher, done chan<- struct{}) {
	defer close(done)

	name := filepath.Base(s.path)

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}

			if filepath.Base(ev.Name) != name {
				continue
			}

			s.mu.Lock()
			s.fresh = false
			s.cached = nil
			s.mu.Unlock()

			s.logger.Debug("credential file changed on disk",
				slog.String("path", s.path),
				slog.String("op", ev.Op.String()),
			)
		case werr, ok := <-w.Errors:
			if !ok {
				return
			}

			s.logger.Warn("credential watcher error", slog.String("error", werr.Error()))
		}
	}
}

func (s *FileStore) Load(_ context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fresh {
		return cloneToken(s.cached), nil
	}

	tok, err := tokenfile.Load(s.path)
	if err != nil {
		return nil, fmt.Errorf("credstore: %w", err)
	}

	if s.watcher != nil {
		s.cached = cloneToken(tok)
		s.fresh = true
	}

	return tok, nil
}

func (s *FileStore) Save(_ context.Context, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := tokenfile.Save(s.path, tok); err != nil {
		return fmt.Errorf("credstore: %w", err)
	}

	if s.watcher != nil {
		s.cached = cloneToken(tok)
		s.fresh = true
	}

	s.logger.Debug("credentials written", slog.String("path", s.path))

	return nil
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := tokenfile.Remove(s.path); err != nil {
		return fmt.Errorf("credstore: %w", err)
	}

	if s.watcher != nil {
		s.cached = nil
		s.fresh = true
	}

	s.logger.Debug("credentials cleared", slog.String("path", s.path))

	return nil
}

// Close stops the watcher, if any, and waits for its goroutine to exit.
func (s *FileStore) Close() error {
	s.mu.Lock()
	w, done := s.watcher, s.done
	s.watcher = nil
	s.fresh = false
	s.mu.Unlock()

	if w == nil {
		return nil
	}

	err := w.Close()
	<-done

	return err
}
