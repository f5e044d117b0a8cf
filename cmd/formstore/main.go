// Command formstore works on the document store directly. It reads and
// writes collections, splits and merges chunk sets, and manages snapshots,
// user accounts, submission reports and database migrations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"formvault/api/internal/app"
	"formvault/api/internal/archive"
	"formvault/api/internal/authpw"
	"formvault/api/internal/config"
	"formvault/api/internal/docstore"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := &cliEnv{}
	rootCmd := newRootCommand(env)
	err := rootCmd.ExecuteContext(ctx)
	env.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "formstore: %v\n", err)
		os.Exit(1)
	}
}

// cliEnv is shared by every subcommand. The backend is opened on first use
// so that commands like migrate never touch the document host.
type cliEnv struct {
	cfg     config.Config
	logger  *slog.Logger
	backend string
	dataDir string
	verbose bool

	host    docstore.Host
	objects archive.ObjectStore
	closers []func() error
}

func (e *cliEnv) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if e.backend != "" {
		cfg.StoreBackend = e.backend
	}
	if e.dataDir != "" {
		cfg.DataDir = e.dataDir
	}
	e.cfg = cfg

	level := slog.LevelWarn
	if e.verbose {
		level = slog.LevelDebug
	}
	e.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

func (e *cliEnv) openHost(ctx context.Context) (docstore.Host, error) {
	if e.host != nil {
		return e.host, nil
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	backend, err := app.OpenBackend(ctx, e.cfg, e.logger)
	if err != nil {
		return nil, err
	}
	e.host = backend.Host
	e.closers = append(e.closers, backend.Close)
	return e.host, nil
}

func (e *cliEnv) docs(ctx context.Context) (*docstore.Client, error) {
	host, err := e.openHost(ctx)
	if err != nil {
		return nil, err
	}
	return docstore.NewClient(host, docstore.Options{
		MaxAttempts: e.cfg.WriteMaxAttempts,
		RetryDelay:  e.cfg.WriteRetryDelay,
		Logger:      e.logger,
	}), nil
}

func (e *cliEnv) auth(ctx context.Context) (*authpw.Service, error) {
	docs, err := e.docs(ctx)
	if err != nil {
		return nil, err
	}
	return authpw.NewService(docs, authpw.Config{
		DataDir:     e.cfg.DataDir,
		TokenSecret: []byte(e.cfg.JWTSecret),
		TokenTTL:    e.cfg.TokenTTL,
		BcryptCost:  e.cfg.BcryptCost,
		Logger:      e.logger,
	}), nil
}

func (e *cliEnv) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
}

func newRootCommand(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "formstore",
		Short: "Formvault document store tool",
		Long: `formstore reads and writes the JSON documents formvault keeps in its
document store. The store is selected with STORE_BACKEND and the other
settings the API uses (see FORMVAULT_CONFIG).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return env.setup(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&env.backend, "backend", "", "Override STORE_BACKEND (github, git, postgres, memory)")
	cmd.PersistentFlags().StringVar(&env.dataDir, "data-dir", "", "Override DATA_DIR for user commands")
	cmd.PersistentFlags().BoolVarP(&env.verbose, "verbose", "v", false, "Log store requests to stderr")
	cmd.AddCommand(
		newReadCmd(env),
		newWriteCmd(env),
		newAddCmd(env),
		newUpdateCmd(env),
		newRemoveCmd(env),
		newSplitCmd(env),
		newMergeCmd(env),
		newSnapshotCmd(env),
		newRestoreCmd(env),
		newUserCmd(env),
		newMigrateCmd(env),
		newExportCmd(env),
	)
	return cmd
}
