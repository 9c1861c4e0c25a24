package root

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docker/agentcall/pkg/logging"
	"github.com/docker/agentcall/pkg/paths"
	"github.com/docker/agentcall/pkg/telemetry"
	"github.com/docker/agentcall/pkg/version"
)

const AppName = "agentcall"

type rootFlags struct {
	enableOtel  bool
	debugMode   bool
	logFilePath string
	logFormat   string
	logFile     io.Closer

	otelShutdown func(context.Context) error
}

func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "agentcall",
		Short: "agentcall - tool call dispatcher",
		Long:  "agentcall runs the function calls of a model turn against api, mcp and a2a toolsets",
		Example: `  agentcall tools ./agent.yaml
  agentcall dispatch ./agent.yaml --input calls.json
  agentcall auth url ./agent.yaml get_forecast`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.setupLogging(cmd.ErrOrStderr()); err != nil {
				// If logging setup fails, fall back to stderr so we still get logs
				slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
					Level: flags.level(),
				})))
				slog.Warn("Failed to set up the debug log", "error", err)
			}

			if flags.enableOtel {
				shutdown, err := telemetry.SetupOTel(cmd.Context(), AppName, version.Version)
				if err != nil {
					slog.Warn("Failed to initialize OpenTelemetry SDK", "error", err)
				} else {
					flags.otelShutdown = shutdown
					slog.Debug("OpenTelemetry SDK initialized successfully")
				}
			}

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if flags.otelShutdown != nil {
				if err := flags.otelShutdown(context.WithoutCancel(cmd.Context())); err != nil {
					slog.Warn("Failed to flush traces", "error", err)
				}
			}
			if flags.logFile != nil {
				if err := flags.logFile.Close(); err != nil {
					slog.Error("Failed to close log file", "error", err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.debugMode, "debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.enableOtel, "otel", "o", false, "Enable OpenTelemetry tracing")
	cmd.PersistentFlags().StringVar(&flags.logFilePath, "log-file", "", "Path to debug log file (default: ~/.agentcall/agentcall.debug.log; only used with --debug)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", logging.FormatText, "Format of the debug log (text or json)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newToolsCmd())
	cmd.AddCommand(newDispatchCmd())
	cmd.AddCommand(newAuthCmd())

	return cmd
}

func Execute(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args ...string) error {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	setContextRecursive(ctx, rootCmd)

	if err := rootCmd.Execute(); err != nil {
		return processErr(ctx, err, stderr, rootCmd)
	}
	return nil
}

func setContextRecursive(ctx context.Context, cmd *cobra.Command) {
	cmd.SetContext(ctx)
	for _, child := range cmd.Commands() {
		setContextRecursive(ctx, child)
	}
}

func processErr(ctx context.Context, err error, stderr io.Writer, rootCmd *cobra.Command) error {
	if ctx.Err() != nil {
		return ctx.Err()
	} else if _, ok := errors.AsType[RuntimeError](err); ok {
		// Runtime errors have already been printed by the command itself
	} else {
		fmt.Fprintln(stderr, err)
		fmt.Fprintln(stderr)
		if strings.HasPrefix(err.Error(), "unknown command ") || strings.HasPrefix(err.Error(), "accepts ") {
			_ = rootCmd.Usage()
		}
	}

	return err
}

func (f *rootFlags) level() slog.Level {
	if f.debugMode {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// setupLogging configures slog logging behavior.
// Without --debug only warnings and errors reach stderr. With it, everything
// goes to a rotating file <dataDir>/agentcall.debug.log, or to the file given
// by --log-file.
func (f *rootFlags) setupLogging(stderr io.Writer) error {
	if !f.debugMode {
		h, err := logging.NewHandler(stderr, f.logFormat, slog.LevelWarn)
		if err != nil {
			return err
		}
		slog.SetDefault(slog.New(h))
		return nil
	}

	path := cmp.Or(strings.TrimSpace(f.logFilePath), filepath.Join(paths.GetDataDir(), AppName+".debug.log"))

	logFile, err := logging.NewRotatingFile(path)
	if err != nil {
		return err
	}

	h, err := logging.NewHandler(logFile, f.logFormat, slog.LevelDebug)
	if err != nil {
		_ = logFile.Close()
		return err
	}
	f.logFile = logFile
	slog.SetDefault(slog.New(h))

	return nil
}

// RuntimeError wraps runtime errors to distinguish them from usage errors
type RuntimeError struct {
	Err error
}

func (e RuntimeError) Error() string {
	return e.Err.Error()
}

func (e RuntimeError) Unwrap() error {
	return e.Err
}
