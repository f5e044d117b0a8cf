package main

import (
	"fmt"
	"os"

	"formvault/api/internal/export"
	"formvault/api/internal/forms"

	"github.com/spf13/cobra"
)

func newExportCmd(env *cliEnv) *cobra.Command {
	var format, status, out string
	cmd := &cobra.Command{
		Use:   "export FORMID",
		Short: "Write a report of a form's submissions (pdf, html or docx)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := export.ParseFormat(format)
			if err != nil {
				return fmt.Errorf("%w: %q", err, format)
			}
			docs, err := env.docs(ctx)
			if err != nil {
				return err
			}
			source := forms.NewService(docs, forms.Config{DataDir: env.cfg.DataDir, Logger: env.logger})
			exporter := export.NewService(source, export.Options{
				ChromePath: env.cfg.ChromePath,
				Timeout:    env.cfg.ExportTimeout,
				Logger:     env.logger,
			})
			result, err := exporter.Export(ctx, export.Request{FormID: args[0], Format: f, Status: status})
			if err != nil {
				return err
			}
			if out == "" {
				out = result.Filename
			}
			if out == "-" {
				_, err = cmd.OutOrStdout().Write(result.Data)
				return err
			}
			if err := os.WriteFile(out, result.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(result.Data))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", string(export.FormatPDF), "Report format: pdf, html or docx")
	cmd.Flags().StringVar(&status, "status", "", "Only include submissions in this review state")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file, - for stdout (default: derived from the form title)")
	return cmd
}
