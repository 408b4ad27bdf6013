package resume

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobvault/jobvault/internal/api"
)

// MaxSize is the largest resume the server accepts, in bytes (10 MiB).
const MaxSize int64 = 10 * 1024 * 1024

// Accepted media types.
const (
	TypePDF  = "application/pdf"
	TypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var (
	ErrUnsupportedType = fmt.Errorf("resume: only PDF and DOCX files are allowed: %w", api.ErrValidation)
	ErrTooLarge        = fmt.Errorf("resume: file size must be less than 10MB: %w", api.ErrValidation)

	// ErrNotValidated is returned by Upload for a Candidate that did not
	// come from ValidateCandidate.
	ErrNotValidated = fmt.Errorf("resume: candidate was not validated: %w", api.ErrValidation)
)

// extensionTypes maps file extensions to the media type a browser declares
// for them. Only LocalCandidate consults it.
var extensionTypes = map[string]string{
	".pdf":  TypePDF,
	".docx": TypeDOCX,
}

// File describes a file the user picked for upload. Open is called once per
// upload attempt.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// Candidate is a File that passed validation. The zero value is not valid.
type Candidate struct {
	file      File
	mediaType string
	validated bool
}

// Name returns the candidate's filename.
func (c *Candidate) Name() string { return c.file.Name }

// Size returns the declared size in bytes.
func (c *Candidate) Size() int64 { return c.file.Size }

// MediaType returns the declared media type without parameters.
func (c *Candidate) MediaType() string { return c.mediaType }

// ValidateCandidate checks the declared media type and size. The file name
// and its extension are not consulted.
func ValidateCandidate(f File) (*Candidate, error) {
	mediaType, _, err := mime.ParseMediaType(f.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w (got %q)", ErrUnsupportedType, f.ContentType)
	}

	if mediaType != TypePDF && mediaType != TypeDOCX {
		return nil, fmt.Errorf("%w (got %q)", ErrUnsupportedType, mediaType)
	}

	if f.Size > MaxSize {
		return nil, fmt.Errorf("%w (got %d bytes)", ErrTooLarge, f.Size)
	}

	if f.Open == nil {
		return nil, errors.New("resume: file has no content")
	}

	return &Candidate{file: f, mediaType: mediaType, validated: true}, nil
}

// LocalCandidate describes a local file. The media type comes from the
// extension unless contentType is non-empty. The result still has to pass
// ValidateCandidate.
func LocalCandidate(path, contentType string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("resume: %w", err)
	}

	if info.IsDir() {
		return File{}, fmt.Errorf("resume: %s is a directory", path)
	}

	if contentType == "" {
		contentType = extensionTypes[strings.ToLower(filepath.Ext(path))]
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return File{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}
