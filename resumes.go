package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jobvault/jobvault/internal/api"
	"github.com/jobvault/jobvault/internal/resume"
)

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "resume",
		Aliases: []string{"resumes"},
		Short:   "Upload, list, download, and delete resumes",
	}

	upload := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a PDF or DOCX resume (10 MiB max)",
		Args:  cobra.ExactArgs(1),
		RunE:  runResumeUpload,
	}
	upload.Flags().Bool("public", false, "make the resume visible to recruiters")
	upload.Flags().String("type", "", "declared media type (default: from the file extension)")

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List your resumes",
		Args:  cobra.NoArgs,
		RunE:  runResumeList,
	}

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Download a resume",
		Args:  cobra.ExactArgs(1),
		RunE:  runResumeGet,
	}
	get.Flags().StringP("output", "o", "", "output path (default: the original filename)")

	rm := &cobra.Command{
		Use:   "rm ID",
		Short: "Delete a resume permanently",
		Args:  cobra.ExactArgs(1),
		RunE:  runResumeDelete,
	}
	rm.Flags().BoolP("yes", "y", false, "delete without asking for confirmation")

	visibility := &cobra.Command{
		Use:   "visibility ID",
		Short: "Toggle a resume between public and private",
		Args:  cobra.ExactArgs(1),
		RunE:  runResumeVisibility,
	}

	cmd.AddCommand(upload, ls, get, rm, visibility)

	return cmd
}

func parseResumeID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid resume ID %q", arg)
	}

	return id, nil
}

// resumeJSON is the JSON schema for resume output.
type resumeJSON struct {
	ID            int64  `json:"id"`
	Filename      string `json:"original_filename"`
	Size          int64  `json:"file_size"`
	Type          string `json:"file_type"`
	Public        bool   `json:"is_public"`
	DownloadCount int64  `json:"download_count"`
	UploadedAt    string `json:"uploaded_at"`
}

func toResumeJSON(r *api.ResumeRecord) resumeJSON {
	return resumeJSON{
		ID:            r.ID,
		Filename:      r.OriginalFilename,
		Size:          r.FileSize,
		Type:          r.FileType,
		Public:        r.IsPublic,
		DownloadCount: r.DownloadCount,
		UploadedAt:    r.UploadedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func visibilityLabel(public bool) string {
	if public {
		return "public"
	}

	return "private"
}

func runResumeUpload(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := cc.interruptible(cmd.Context())
	defer stop()

	public, err := cmd.Flags().GetBool("public")
	if err != nil {
		return err
	}

	declared, err := cmd.Flags().GetString("type")
	if err != nil {
		return err
	}

	file, err := resume.LocalCandidate(args[0], declared)
	if err != nil {
		return err
	}

	// Validation happens before any credentials are touched.
	candidate, err := resume.ValidateCandidate(file)
	if err != nil {
		return err
	}

	return withApp(ctx, cc, func(app *App) error {
		id, err := app.Resumes.Upload(ctx, candidate, public)
		if err != nil {
			return err
		}

		rec, _ := app.Resumes.Cached(id)

		if cc.Flags.JSON {
			return printJSON(cc.Out, toResumeJSON(&rec))
		}

		cc.Statusf("Uploaded %s (%s) as resume %d, %s.\n",
			rec.OriginalFilename, formatSize(rec.FileSize), id, visibilityLabel(rec.IsPublic))

		return nil
	})
}

func runResumeList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	return withApp(ctx, cc, func(app *App) error {
		records, err := app.Resumes.List(ctx)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			out := make([]resumeJSON, 0, len(records))
			for i := range records {
				out = append(out, toResumeJSON(&records[i]))
			}

			return printJSON(cc.Out, out)
		}

		if len(records) == 0 {
			cc.Statusf("No resumes uploaded yet.\n")
			return nil
		}

		table := make([][]string, 0, len(records))
		for i := range records {
			r := &records[i]
			table = append(table, []string{
				strconv.FormatInt(r.ID, 10),
				r.OriginalFilename,
				formatSize(r.FileSize),
				visibilityLabel(r.IsPublic),
				strconv.FormatInt(r.DownloadCount, 10),
				formatTime(r.UploadedAt),
			})
		}

		printTable(cc.Out, []string{"ID", "NAME", "SIZE", "VISIBILITY", "DOWNLOADS", "UPLOADED"}, table)

		return nil
	})
}

func runResumeGet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := cc.interruptible(cmd.Context())
	defer stop()

	id, err := parseResumeID(args[0])
	if err != nil {
		return err
	}

	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	return withApp(ctx, cc, func(app *App) error {
		if output == "" {
			output, err = defaultDownloadName(ctx, app, id)
			if err != nil {
				return err
			}
		}

		n, err := app.Resumes.DownloadToFile(ctx, id, output)
		if err != nil {
			return err
		}

		cc.Statusf("Downloaded %s (%s).\n", output, formatSize(n))

		return nil
	})
}

// defaultDownloadName looks up the original filename of resume id. Only the
// base name is used so a hostile name cannot escape the working directory.
func defaultDownloadName(ctx context.Context, app *App, id int64) (string, error) {
	records, err := app.Resumes.List(ctx)
	if err != nil {
		return "", err
	}

	for i := range records {
		if records[i].ID == id && records[i].OriginalFilename != "" {
			name := filepath.Base(records[i].OriginalFilename)
			if name != "." && name != string(filepath.Separator) {
				return name, nil
			}
		}
	}

	return fmt.Sprintf("resume-%d", id), nil
}

func runResumeDelete(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	id, err := parseResumeID(args[0])
	if err != nil {
		return err
	}

	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return err
	}

	if !yes {
		if err := confirmDelete(cc, id); err != nil {
			return err
		}
	}

	return withApp(ctx, cc, func(app *App) error {
		if err := app.Resumes.Delete(ctx, id); err != nil {
			return err
		}

		cc.Statusf("Deleted resume %d.\n", id)

		return nil
	})
}

// errDeleteNotConfirmed is returned when a deletion was not confirmed.
var errDeleteNotConfirmed = errors.New("deletion not confirmed; pass --yes to delete without a prompt")

// confirmDelete asks before a permanent deletion. Without a terminal there
// is nobody to ask, so --yes is required.
func confirmDelete(cc *CLIContext, id int64) error {
	if !stdinIsTerminal() {
		return errDeleteNotConfirmed
	}

	answer, err := cc.promptLine(fmt.Sprintf("Delete resume %d permanently? [y/N] ", id))
	if err != nil {
		return err
	}

	switch strings.ToLower(answer) {
	case "y", "yes":
		return nil
	default:
		return errDeleteNotConfirmed
	}
}

func runResumeVisibility(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	id, err := parseResumeID(args[0])
	if err != nil {
		return err
	}

	return withApp(ctx, cc, func(app *App) error {
		rec, err := app.Resumes.ToggleVisibility(ctx, id)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printJSON(cc.Out, toResumeJSON(rec))
		}

		cc.Statusf("Resume %d is now %s.\n", rec.ID, visibilityLabel(rec.IsPublic))

		return nil
	})
}
