package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

// resumeResponse mirrors a resume record in API responses.
type resumeResponse struct {
	ID               int64   `json:"id"`
	OriginalFilename string  `json:"original_filename"`
	FileSize         int64   `json:"file_size"`
	FileType         string  `json:"file_type"`
	IsPublic         bool    `json:"is_public"`
	DownloadCount    int64   `json:"download_count"`
	UploadedAt       string  `json:"uploaded_at"`
	LastAccessed     *string `json:"last_accessed"`
}

func (r *resumeResponse) toRecord(logger *slog.Logger) ResumeRecord {
	return ResumeRecord{
		ID:               r.ID,
		OriginalFilename: r.OriginalFilename,
		FileSize:         r.FileSize,
		FileType:         r.FileType,
		IsPublic:         r.IsPublic,
		DownloadCount:    r.DownloadCount,
		UploadedAt:       parseTimestamp(r.UploadedAt, logger),
		LastAccessed:     parseTimestamp(deref(r.LastAccessed), logger),
	}
}

// resumeListResponse wraps the resumes array from GET /resume/list.
type resumeListResponse struct {
	Resumes []resumeResponse `json:"resumes"`
	Total   int              `json:"total"`
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeResumeForm builds the multipart body for an upload: one part named
// "file" carrying the declared media type.
func encodeResumeForm(filename, contentType string, content []byte) ([]byte, string, error) {
	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("api: creating multipart part: %w", err)
	}

	if _, err := part.Write(content); err != nil {
		return nil, "", fmt.Errorf("api: writing multipart content: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("api: closing multipart body: %w", err)
	}

	return buf.Bytes(), mw.FormDataContentType(), nil
}

// UploadResume uploads content as a new resume and returns the stored record.
// It is never retried locally except for the single replay after renewal.
func (c *Client) UploadResume(
	ctx context.Context, filename, contentType string, content []byte, isPublic bool,
) (*ResumeRecord, error) {
	c.logger.Info("uploading resume",
		slog.String("filename", filename),
		slog.Int("size", len(content)),
		slog.Bool("is_public", isPublic),
	)

	body, formType, err := encodeResumeForm(filename, contentType, content)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("is_public", strconv.FormatBool(isPublic))

	req := Request{
		Method:      http.MethodPost,
		Path:        "/resume/upload",
		Query:       q,
		Body:        body,
		ContentType: formType,
	}

	var rr resumeResponse
	if err := c.doJSON(ctx, req, &rr); err != nil {
		return nil, err
	}

	rec := rr.toRecord(c.logger)

	c.logger.Debug("resume uploaded",
		slog.Int64("id", rec.ID),
		slog.Int64("file_size", rec.FileSize),
	)

	return &rec, nil
}

// ListResumes returns the account's resumes in the order the server sent them.
// Both the {"resumes": [...]} envelope and a bare array are accepted.
func (c *Client) ListResumes(ctx context.Context) ([]ResumeRecord, error) {
	c.logger.Info("listing resumes")

	var raw json.RawMessage
	if err := c.doJSON(ctx, Request{Method: http.MethodGet, Path: "/resume/list"}, &raw); err != nil {
		return nil, err
	}

	var items []resumeResponse

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("api: decoding resume list: %w", err)
		}
	} else {
		var lr resumeListResponse
		if err := json.Unmarshal(trimmed, &lr); err != nil {
			return nil, fmt.Errorf("api: decoding resume list: %w", err)
		}

		items = lr.Resumes
	}

	records := make([]ResumeRecord, 0, len(items))
	for i := range items {
		records = append(records, items[i].toRecord(c.logger))
	}

	c.logger.Info("listed resumes", slog.Int("count", len(records)))

	return records, nil
}

// ToggleResumeVisibility asks the server to flip a resume's visibility and
// returns the record as the server now holds it. No target value is sent.
func (c *Client) ToggleResumeVisibility(ctx context.Context, id int64) (*ResumeRecord, error) {
	c.logger.Info("toggling resume visibility", slog.Int64("id", id))

	req := Request{Method: http.MethodPatch, Path: fmt.Sprintf("/resume/%d/visibility", id)}

	var rr resumeResponse
	if err := c.doJSON(ctx, req, &rr); err != nil {
		return nil, err
	}

	rec := rr.toRecord(c.logger)

	return &rec, nil
}

// DownloadResume opens the resume content as an opaque stream. The caller
// must close Download.Body.
func (c *Client) DownloadResume(ctx context.Context, id int64) (*Download, error) {
	c.logger.Info("downloading resume", slog.Int64("id", id))

	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: fmt.Sprintf("/resume/download/%d", id)})
	if err != nil {
		return nil, err
	}

	dl := &Download{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}

	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, perr := mime.ParseMediaType(cd); perr == nil {
			dl.Filename = params["filename"]
		} else {
			c.logger.Warn("unparseable Content-Disposition",
				slog.String("value", cd),
				slog.String("error", perr.Error()),
			)
		}
	}

	return dl, nil
}

// DeleteResume permanently removes a resume.
func (c *Client) DeleteResume(ctx context.Context, id int64) error {
	c.logger.Info("deleting resume", slog.Int64("id", id))

	return c.doJSON(ctx, Request{Method: http.MethodDelete, Path: fmt.Sprintf("/resume/%d", id)}, nil)
}
