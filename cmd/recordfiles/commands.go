package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tendant/record-files/pkg/recordfiles"
	"github.com/tendant/record-files/pkg/recordfiles/artifactkey"
	"github.com/tendant/record-files/pkg/recordfiles/config"
)

type connectFunc func(cmd *cobra.Command) (recordfiles.Service, error)

var identity = recordfiles.SystemIdentity()

func parseRecordID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid record id %q: %w", arg, err)
	}
	return id, nil
}

func toMetadata(in map[string]string) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// NewRecordCommand creates the record command group
func NewRecordCommand(connect connectFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Create, show and delete records",
	}

	var metadata map[string]string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an empty record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := connect(cmd)
			if err != nil {
				return err
			}
			record, err := svc.CreateRecord(cmd.Context(), identity, recordfiles.CreateRecordRequest{Metadata: toMetadata(metadata)}, nil)
			if err != nil {
				return fmt.Errorf("create record failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), record.ID)
			return nil
		},
	}
	create.Flags().StringToStringVarP(&metadata, "meta", "m", nil, "record metadata (key=value)")

	show := &cobra.Command{
		Use:   "show <record-id>",
		Short: "Show a record and its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			svc, err := connect(cmd)
			if err != nil {
				return err
			}
			record, err := svc.GetRecord(cmd.Context(), identity, id, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:      %s\n", record.ID)
			fmt.Fprintf(out, "Created: %s\n", record.CreatedAt.Format("2006-01-02 15:04:05"))
			for k, v := range record.Metadata {
				fmt.Fprintf(out, "  %s: %v\n", k, v)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "rm <record-id>",
		Short: "Delete a record with all of its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			svc, err := connect(cmd)
			if err != nil {
				return err
			}
			return svc.DeleteRecord(cmd.Context(), identity, id, nil)
		},
	}

	cmd.AddCommand(create, show, remove)
	return cmd
}

// NewUploadCommand creates the upload command
func NewUploadCommand(connect connectFunc) *cobra.Command {
	var key string
	var metadata map[string]string

	cmd := &cobra.Command{
		Use:   "upload <record-id> <file>",
		Short: "Upload and commit a file into a record",
		Long: `Upload a local file into a record and commit it. Supported images and
PDFs get their thumbnail and fulltext artifacts in the same commit.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordID, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			if key == "" {
				key = filepath.Base(args[1])
			}

			svc, err := connect(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var committed *recordfiles.File
			var artifacts []*recordfiles.File
			err = svc.WithUnitOfWork(ctx, func(uow *recordfiles.UnitOfWork) error {
				req := recordfiles.InitFileRequest{Key: key, Metadata: toMetadata(metadata)}
				if _, err := svc.InitFiles(ctx, identity, recordID, []recordfiles.InitFileRequest{req}, uow); err != nil {
					return err
				}
				if _, err := svc.SetContent(ctx, identity, recordID, key, f, uow); err != nil {
					return err
				}
				if committed, err = svc.CommitFile(ctx, identity, recordID, key, uow); err != nil {
					return err
				}
				files, err := svc.ListFiles(ctx, identity, recordID, uow)
				if err != nil {
					return err
				}
				for _, file := range files {
					if file.IsDerived() && file.SourceKey() == key {
						artifacts = append(artifacts, file)
					}
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Committed %s (%s, %d bytes, %s)\n", committed.Key, committed.MimeType, committed.Size, committed.Checksum)
			for _, a := range artifacts {
				fmt.Fprintf(out, "  %s: %s\n", a.Kind(), a.Key)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "file key inside the record (default: file name)")
	cmd.Flags().StringToStringVarP(&metadata, "meta", "m", nil, "file metadata (key=value)")

	return cmd
}

// NewListCommand creates the ls command
func NewListCommand(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <record-id>",
		Short: "List the files of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordID, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			svc, err := connect(cmd)
			if err != nil {
				return err
			}
			files, err := svc.ListFiles(cmd.Context(), identity, recordID, nil)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSTATUS\tSIZE\tMIMETYPE\tKIND\tSOURCE")
			for _, f := range files {
				kind := string(f.Kind())
				if kind == "" {
					kind = "-"
				}
				source := f.SourceKey()
				if source == "" {
					source = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", f.Key, f.Status, f.Size, f.MimeType, kind, source)
			}
			return w.Flush()
		},
	}
}

// NewCatCommand creates the cat command
func NewCatCommand(connect connectFunc) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "cat <record-id> <key>",
		Short: "Write the content of a committed file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordID, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			svc, err := connect(cmd)
			if err != nil {
				return err
			}
			rc, err := svc.OpenContent(cmd.Context(), identity, recordID, args[1], nil)
			if err != nil {
				return err
			}
			defer rc.Close()

			var out io.Writer = cmd.OutOrStdout()
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}
			_, err = io.Copy(out, rc)
			return err
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: stdout)")

	return cmd
}

// NewRemoveCommand creates the rm command
func NewRemoveCommand(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <record-id> <key>",
		Short: "Delete a file and the artifacts derived from it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordID, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			svc, err := connect(cmd)
			if err != nil {
				return err
			}
			deleted, err := svc.DeleteFile(cmd.Context(), identity, recordID, args[1], nil)
			if err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", deleted.Key)
			return nil
		},
	}
}

// NewDeriveKeyCommand creates the derive-key command
func NewDeriveKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "derive-key <key> [ext...]",
		Short: "Print the artifact keys a primary key maps to",
		Example: `  recordfiles derive-key report.pdf          # report-pdf.jpg, report-pdf.txt
  recordfiles derive-key scans/page.png webp  # scans/page-png.webp`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exts := args[1:]
			if len(exts) == 0 {
				exts = []string{artifactkey.ThumbnailExt, artifactkey.FulltextExt}
			}
			for _, ext := range exts {
				key, err := artifactkey.DeriveKey(args[0], ext)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
}

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres schema and tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.WithEnv(""))
			if err != nil {
				return err
			}
			if cfg.DatabaseType != "postgres" {
				return fmt.Errorf("migrate requires a postgres DATABASE_URL, got %q", cfg.DatabaseType)
			}
			if err := config.MigratePostgres(cmd.Context(), cfg.DatabaseURL, cfg.DBSchema); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema %s is up to date\n", cfg.DBSchema)
			return nil
		},
	}
}
