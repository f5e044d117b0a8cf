package main

import (
	"fmt"
	"io"
	"os"

	"formvault/api/internal/docstore"

	"github.com/spf13/cobra"
)

// readInput returns the contents of file, or stdin when file is "" or "-".
func readInput(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(file)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := docstore.Marshal(v)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func newReadCmd(env *cliEnv) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "read PATH",
		Short: "Print a document, merging chunks when PATH is stored split",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			docs, err := env.docs(ctx)
			if err != nil {
				return err
			}
			snapshot, found, err := docs.Read(ctx, args[0])
			if err != nil {
				return err
			}
			if found {
				_, err = cmd.OutOrStdout().Write(snapshot.Content)
				return err
			}
			coll, found, err := docs.LoadCollection(ctx, args[0], key)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%s: %w", args[0], docstore.ErrNotFound)
			}
			return printJSON(cmd, coll)
		},
	}
	cmd.Flags().StringVar(&key, "key", docstore.DefaultItemsKey, "Records key of a chunked collection")
	return cmd
}

func newWriteCmd(env *cliEnv) *cobra.Command {
	var file, message string
	cmd := &cobra.Command{
		Use:   "write PATH",
		Short: "Replace a document with JSON from --file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			raw, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			var doc any
			if err := docstore.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("input is not JSON: %w", err)
			}
			docs, err := env.docs(ctx)
			if err != nil {
				return err
			}
			snapshot, _, err := docs.Read(ctx, args[0])
			if err != nil {
				return err
			}
			token, err := docs.Write(ctx, args[0], doc, orDefault(message, "Update "+args[0]), snapshot.Token)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", args[0], token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file to write (default stdin)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message")
	return cmd
}

func newAddCmd(env *cliEnv) *cobra.Command {
	var file, message string
	cmd := &cobra.Command{
		Use:   "add PATH",
		Short: "Append a record read from --file or stdin to a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			entry, err := readEntry(cmd, file)
			if err != nil {
				return err
			}
			docs, err := env.docs(ctx)
			if err != nil {
				return err
			}
			if _, err := docs.AddEntry(ctx, args[0], entry, orDefault(message, "Add record to "+args[0])); err != nil {
				return err
			}
			return printJSON(cmd, entry)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON object to append (default stdin)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message")
	return cmd
}

func newUpdateCmd(env *cliEnv) *cobra.Command {
	var file, message, idField string
	cmd := &cobra.Command{
		Use:   "update PATH ID",
		Short: "Merge the fields of a JSON object into the record with ID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			patch, err := readEntry(cmd, file)
			if err != nil {
				return err
			}
			docs, err := env.docs(ctx)
			if err != nil {
				return err
			}
			updated, err := docs.UpdateEntry(ctx, args[0], args[1], idField, func(entry docstore.Entry) (docstore.Entry, error) {
				for field, value := range patch {
					if field == idField {
						continue
					}
					entry[field] = value
				}
				return entry, nil
			}, orDefault(message, fmt.Sprintf("Update %s in %s", args[1], args[0])))
			if err != nil {
				return err
			}
			return printJSON(cmd, updated)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON object with the fields to set (default stdin)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message")
	cmd.Flags().StringVar(&idField, "id-field", "id", "Field that identifies records")
	return cmd
}

func newRemoveCmd(env *cliEnv) *cobra.Command {
	var message, idField string
	cmd := &cobra.Command{
		Use:   "remove PATH ID",
		Short: "Delete the record with ID from a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			docs, err := env.docs(ctx)
			if err != nil {
				return err
			}
			if err := docs.RemoveEntry(ctx, args[0], args[1], idField, orDefault(message, fmt.Sprintf("Remove %s from %s", args[1], args[0]))); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %s\n", args[1], args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message")
	cmd.Flags().StringVar(&idField, "id-field", "id", "Field that identifies records")
	return cmd
}

func newSplitCmd(env *cliEnv) *cobra.Command {
	var file, message, key string
	cmd := &cobra.Command{
		Use:   "split PATH",
		Short: "Store a local JSON document at PATH, as chunks when it is too large for one file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			raw, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			docs, err := env.docs(ctx)
			if err != nil {
				return err
			}
			plan, err := docs.SaveDocument(ctx, args[0], key, raw, orDefault(message, "Import "+args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !plan.Chunked {
				fmt.Fprintf(out, "%s stored as one file (%d bytes)\n", args[0], plan.Size)
				return nil
			}
			fmt.Fprintf(out, "%s stored as %d chunks (%d bytes)\n", args[0], len(plan.Files), plan.Size)
			for _, chunk := range plan.Files {
				fmt.Fprintf(out, "  %s\t%d records\n", chunk.Path, len(chunk.Doc.Items))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON document to store (default stdin)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message")
	cmd.Flags().StringVar(&key, "key", docstore.DefaultItemsKey, "Records key to split on")
	return cmd
}

func newMergeCmd(env *cliEnv) *cobra.Command {
	var out, key string
	cmd := &cobra.Command{
		Use:   "merge PATH",
		Short: "Reassemble a chunked collection into one JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			docs, err := env.docs(ctx)
			if err != nil {
				return err
			}
			coll, found, err := docs.LoadCollection(ctx, args[0], key)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%s: %w", args[0], docstore.ErrNotFound)
			}
			if out == "" || out == "-" {
				return printJSON(cmd, coll)
			}
			data, err := docstore.Marshal(coll)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s\n", len(coll.Items), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Local file to write (default stdout)")
	cmd.Flags().StringVar(&key, "key", docstore.DefaultItemsKey, "Records key of the collection")
	return cmd
}

func readEntry(cmd *cobra.Command, file string) (docstore.Entry, error) {
	raw, err := readInput(cmd, file)
	if err != nil {
		return nil, err
	}
	var entry docstore.Entry
	if err := docstore.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("input is not a JSON object: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("input is not a JSON object")
	}
	return entry, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
