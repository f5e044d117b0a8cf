package main

import (
	"fmt"

	"formvault/api/internal/app"
	"formvault/api/internal/archive"
	"formvault/api/internal/docstore"

	"github.com/spf13/cobra"
)

func (e *cliEnv) archiver(cmd *cobra.Command) (*archive.Archiver, error) {
	ctx := cmd.Context()
	if e.objects == nil && e.cfg.S3Endpoint == "" {
		return nil, fmt.Errorf("snapshots need S3_ENDPOINT")
	}
	docs, err := e.docs(ctx)
	if err != nil {
		return nil, err
	}
	objects := e.objects
	if objects == nil {
		store, err := app.OpenObjectStore(ctx, e.cfg)
		if err != nil {
			return nil, err
		}
		objects = store
	}
	return archive.New(docs, objects, archive.Options{Logger: e.logger}), nil
}

func newSnapshotCmd(env *cliEnv) *cobra.Command {
	var key string
	var list bool
	cmd := &cobra.Command{
		Use:   "snapshot PATH",
		Short: "Copy a collection to the snapshot bucket, or list its snapshots with --list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archiver, err := env.archiver(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if list {
				keys, err := archiver.Snapshots(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Fprintln(out, k)
				}
				return nil
			}
			objectKey, err := archiver.Snapshot(cmd.Context(), args[0], key)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, objectKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", docstore.DefaultItemsKey, "Records key of the collection")
	cmd.Flags().BoolVar(&list, "list", false, "List existing snapshots, newest first")
	return cmd
}

func newRestoreCmd(env *cliEnv) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "restore OBJECTKEY PATH",
		Short: "Write a snapshot back to PATH",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			archiver, err := env.archiver(cmd)
			if err != nil {
				return err
			}
			items, err := archiver.Restore(cmd.Context(), args[0], args[1], key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d records to %s\n", items, args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", docstore.DefaultItemsKey, "Records key of the collection")
	return cmd
}
