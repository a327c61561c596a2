// Package main is the entry point for docsession.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/dshills/docsession/internal/app"
	"github.com/dshills/docsession/internal/config"
	"github.com/dshills/docsession/internal/logging"
	"github.com/dshills/docsession/internal/state"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type flags struct {
	configPath  string
	root        string
	logLevel    string
	metricsAddr string
	console     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:   "docsession [files...]",
		Short: "Document session manager with debounced autosave",
		Long: `docsession keeps a set of documents open over a workspace directory,
saves edits one second after they stop, follows changes made on disk and
restores the open documents and pane arrangement on the next start.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, args)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "config file (.toml or .yaml; default docsession.toml in the workspace)")
	pf.StringVarP(&f.root, "root", "w", "", "workspace directory")
	pf.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	root.Flags().BoolVar(&f.console, "console", false, "read commands from stdin")

	root.AddCommand(newStateCmd(&f), newVersionCmd())
	return root
}

// loadConfig layers the config file, DOCSESSION_* variables and flags.
func loadConfig(f flags) (*config.Config, error) {
	path := f.configPath
	if path == "" {
		dir := f.root
		if dir == "" {
			dir = "."
		}
		path = dir + "/docsession.toml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if f.root != "" {
		cfg.Workspace.Root = f.root
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, f flags, files []string) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	application, err := app.New(cfg, app.Options{
		Files:  files,
		Output: cmd.OutOrStdout(),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !f.console {
		return application.Run(ctx)
	}

	if err := application.Start(ctx); err != nil {
		return err
	}
	serveErr := application.Console().Serve(ctx, cmd.InOrStdin())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()
	shutdownErr := application.Shutdown(shutdownCtx)

	if errors.Is(serveErr, app.ErrQuit) || errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}
	return errors.Join(serveErr, shutdownErr)
}

func newStateCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "state [KEY]",
		Short: "Print the saved session state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*f)
			if err != nil {
				return err
			}
			st, err := state.New(afero.NewOsFs(), cfg.StatePath())
			if err != nil {
				return err
			}
			if err := st.Load(cmd.Context()); err != nil {
				return err
			}

			var raw []byte
			if len(args) == 1 {
				v, ok := st.Get(args[0])
				if !ok {
					return fmt.Errorf("no value for %q", args[0])
				}
				raw = v
			} else {
				raw, err = st.Serialize()
				if err != nil {
					return err
				}
			}
			return writePretty(cmd.OutOrStdout(), raw)
		},
	}
}

func writePretty(w io.Writer, raw []byte) error {
	_, err := w.Write(pretty.Pretty(raw))
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "docsession %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}
