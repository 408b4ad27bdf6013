// Package resume manages the lifecycle of the account's resume files:
// validation, upload, listing, visibility, download, and deletion.
//
// Every call goes through the authenticated transport, so an expired access
// credential is renewed transparently and a failed renewal surfaces as
// session.ErrSessionExpired.
package resume

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/jobvault/jobvault/internal/api"
)

// Backend is the subset of the API the manager calls. *api.Client satisfies it.
type Backend interface {
	UploadResume(ctx context.Context, filename, contentType string, content []byte, isPublic bool) (*api.ResumeRecord, error)
	ListResumes(ctx context.Context) ([]api.ResumeRecord, error)
	ToggleResumeVisibility(ctx context.Context, id int64) (*api.ResumeRecord, error)
	DownloadResume(ctx context.Context, id int64) (*api.Download, error)
	DeleteResume(ctx context.Context, id int64) error
}

// Manager holds the records it has seen so callers can render without
// another round trip. The server is always authoritative: every mutation
// replaces the cached record with what the server returned.
type Manager struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	records map[int64]api.ResumeRecord
}

// NewManager creates a Manager.
func NewManager(backend Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{backend: backend, logger: logger, records: make(map[int64]api.ResumeRecord)}
}

// Upload sends a validated candidate and returns the new record's id.
// Failures are returned unmodified and never retried here.
func (m *Manager) Upload(ctx context.Context, c *Candidate, isPublic bool) (int64, error) {
	if c == nil || !c.validated {
		return 0, ErrNotValidated
	}

	content, err := readCandidate(c)
	if err != nil {
		return 0, err
	}

	name := norm.NFC.String(c.file.Name)

	rec, err := m.backend.UploadResume(ctx, name, c.mediaType, content, isPublic)
	if err != nil {
		return 0, err
	}

	m.checkSize(rec)
	m.remember(*rec)

	return rec.ID, nil
}

// readCandidate reads at most MaxSize bytes. A file that grew past MaxSize
// since validation is rejected.
func readCandidate(c *Candidate) ([]byte, error) {
	rc, err := c.file.Open()
	if err != nil {
		return nil, fmt.Errorf("resume: opening %s: %w", c.file.Name, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("resume: reading %s: %w", c.file.Name, err)
	}

	if int64(len(content)) > MaxSize {
		return nil, fmt.Errorf("%w (%s changed since validation)", ErrTooLarge, c.file.Name)
	}

	return content, nil
}

// checkSize logs records the server should never have accepted.
func (m *Manager) checkSize(rec *api.ResumeRecord) {
	if rec.FileSize > MaxSize {
		m.logger.Error("server reported resume larger than the upload limit",
			slog.Int64("id", rec.ID),
			slog.Int64("file_size", rec.FileSize),
			slog.Int64("limit", MaxSize),
		)
	}
}

// List returns the account's resumes in the order the server sent them and
// replaces the cache.
func (m *Manager) List(ctx context.Context) ([]api.ResumeRecord, error) {
	records, err := m.backend.ListResumes(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.records = make(map[int64]api.ResumeRecord, len(records))

	for i := range records {
		m.records[records[i].ID] = records[i]
	}
	m.mu.Unlock()

	for i := range records {
		m.checkSize(&records[i])
	}

	return records, nil
}

// ToggleVisibility flips a resume between public and private. The returned
// record is the server's; no local value is computed.
func (m *Manager) ToggleVisibility(ctx context.Context, id int64) (*api.ResumeRecord, error) {
	rec, err := m.backend.ToggleResumeVisibility(ctx, id)
	if err != nil {
		return nil, err
	}

	m.remember(*rec)

	m.logger.Info("resume visibility changed",
		slog.Int64("id", rec.ID),
		slog.Bool("is_public", rec.IsPublic),
	)

	return rec, nil
}

// Download opens the resume content. The caller must close the body.
func (m *Manager) Download(ctx context.Context, id int64) (*api.Download, error) {
	return m.backend.DownloadResume(ctx, id)
}

// DownloadToFile writes the resume to targetPath through a .partial file
// that is renamed into place once complete. It returns the bytes written.
func (m *Manager) DownloadToFile(ctx context.Context, id int64, targetPath string) (int64, error) {
	if targetPath == "" {
		return 0, fmt.Errorf("resume: target path must not be empty")
	}

	dl, err := m.backend.DownloadResume(ctx, id)
	if err != nil {
		return 0, err
	}
	defer dl.Body.Close()

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o700); err != nil { //nolint:mnd // owner-only dir perms
		return 0, fmt.Errorf("resume: creating parent dir for %s: %w", targetPath, err)
	}

	partialPath := targetPath + ".partial"

	f, err := os.OpenFile(partialPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:mnd // owner-only file perms
	if err != nil {
		return 0, fmt.Errorf("resume: creating partial file %s: %w", partialPath, err)
	}

	n, err := io.Copy(f, dl.Body)
	if err != nil {
		f.Close()
		os.Remove(partialPath)

		return 0, fmt.Errorf("resume: downloading %d: %w", id, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(partialPath)
		return 0, fmt.Errorf("resume: closing %s: %w", partialPath, err)
	}

	if dl.Size > 0 && n != dl.Size {
		m.logger.Warn("download size mismatch",
			slog.Int64("id", id),
			slog.Int64("written", n),
			slog.Int64("content_length", dl.Size),
		)
	}

	if err := os.Rename(partialPath, targetPath); err != nil {
		return 0, fmt.Errorf("resume: renaming partial to %s: %w", targetPath, err)
	}

	m.logger.Debug("resume downloaded", slog.Int64("id", id), slog.String("target", targetPath))

	return n, nil
}

// Delete permanently removes a resume.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	if err := m.backend.DeleteResume(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()

	return nil
}

// Cached returns the last record seen for id.
func (m *Manager) Cached(id int64) (api.ResumeRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]

	return rec, ok
}

func (m *Manager) remember(rec api.ResumeRecord) {
	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()
}
