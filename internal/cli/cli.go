package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/vk/plugboard/internal/app"
	"github.com/vk/plugboard/internal/ctxlog"
	"github.com/vk/plugboard/internal/lifecycle"
	"github.com/vk/plugboard/internal/notify"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

const usageText = `Plugboard - extension host for forum deployments.

Usage:
  plugboard <command> [options]

Commands:
  serve        Run the extension host (default).
  install      Install a packaged extension from a zip file.
  preview      Validate a package without installing it.
  enable       Enable an installed extension.
  disable      Disable an enabled extension.
  uninstall    Remove a disabled extension.
  retry        Clear an extension's error state.
  reload       Hot reload an enabled extension from disk.
  list         List installed extensions.
  follow       Stream lifecycle events from a running host.

Environment:
  PLUGBOARD_EXTENSIONS_DIR, PLUGBOARD_DB, PLUGBOARD_PORT, PLUGBOARD_DEV,
  PLUGBOARD_LOG_LEVEL, PLUGBOARD_LOG_FORMAT, PLUGBOARD_STRICT_COMPAT

Run 'plugboard <command> -h' for command options.
`

// Run dispatches a CLI invocation. Output meant for the user goes to outW;
// exit codes travel via ExitError.
func Run(ctx context.Context, outW io.Writer, args []string) error {
	cfg, err := app.FromEnv()
	if err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}

	cmd := "serve"
	rest := args
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		rest = args[1:]
	}

	switch cmd {
	case "serve":
		return runServe(ctx, outW, cfg, rest)
	case "install":
		return runInstall(ctx, outW, cfg, rest)
	case "preview":
		return runPreview(ctx, outW, cfg, rest)
	case "enable", "disable", "uninstall", "retry", "reload":
		return runTransition(ctx, outW, cfg, cmd, rest)
	case "list":
		return runList(ctx, outW, cfg, rest)
	case "follow":
		return runFollow(ctx, outW, rest)
	case "help", "-h", "--help":
		fmt.Fprint(outW, usageText)
		return nil
	default:
		return &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q\n\n%s", cmd, usageText)}
	}
}

// newFlagSet builds a flag set wired to outW with common config overrides.
func newFlagSet(name string, outW io.Writer, cfg *app.Config) *flag.FlagSet {
	fs := flag.NewFlagSet("plugboard "+name, flag.ContinueOnError)
	fs.SetOutput(outW)
	fs.StringVar(&cfg.ExtensionsDir, "extensions", cfg.ExtensionsDir, "Directory installed extensions live in.")
	fs.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "Path to the extension record database.")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Logging level: debug, info, warn, or error.")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log output format: text or json.")
	fs.BoolVar(&cfg.StrictCompatibility, "strict-compat", cfg.StrictCompatibility, "Treat host range mismatches as errors.")
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return &ExitError{Code: 2, Message: err.Error()}
	}
	return nil
}

func runServe(ctx context.Context, outW io.Writer, cfg *app.Config, args []string) error {
	fs := newFlagSet("serve", outW, cfg)
	fs.IntVar(&cfg.HTTPPort, "port", cfg.HTTPPort, "HTTP port for health and event stream. 0 disables.")
	fs.BoolVar(&cfg.DevMode, "dev", cfg.DevMode, "Enable the hot reload watcher.")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := app.NewApp(outW, cfg)
	if err != nil {
		return &ExitError{Code: 1, Message: err.Error()}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

// oneShot builds an App for a single command and hands its service to fn.
func oneShot(ctx context.Context, outW io.Writer, cfg *app.Config, fn func(context.Context, *app.App) error) error {
	a, err := app.NewApp(outW, cfg)
	if err != nil {
		return &ExitError{Code: 1, Message: err.Error()}
	}
	defer a.Close()
	ctx = ctxlog.WithLogger(ctx, a.Logger())
	return fn(ctx, a)
}

func runInstall(ctx context.Context, outW io.Writer, cfg *app.Config, args []string) error {
	req := lifecycle.InstallRequest{}
	fs := newFlagSet("install", outW, cfg)
	fs.BoolVar(&req.AutoEnable, "enable", false, "Enable the extension after installing.")
	fs.BoolVar(&req.OverrideExisting, "override", false, "Replace an existing installation of the same id.")
	fs.StringVar(&req.ExtensionType, "type", "", "Require the package to declare this type (plugin or theme).")
	fs.StringVar(&req.InstallNote, "note", "", "Free-form note stored with the installation.")
	fs.StringVar(&req.UploadedBy, "by", "", "Who uploaded this package.")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return &ExitError{Code: 2, Message: "install requires exactly one package path"}
	}
	req.Archive = fs.Arg(0)

	return oneShot(ctx, outW, cfg, func(ctx context.Context, a *app.App) error {
		res, err := a.Service().Install(ctx, req)
		printWarnings(outW, res.Warnings)
		if err != nil {
			return &ExitError{Code: 1, Message: err.Error()}
		}
		state := "installed"
		if res.Enabled {
			state = "installed and enabled"
		}
		fmt.Fprintf(outW, "%s %s %s (%s)\n", res.ExtensionID, res.Version, state, res.InstallPath)
		return nil
	})
}

func runPreview(ctx context.Context, outW io.Writer, cfg *app.Config, args []string) error {
	fs := newFlagSet("preview", outW, cfg)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return &ExitError{Code: 2, Message: "preview requires exactly one package path"}
	}

	return oneShot(ctx, outW, cfg, func(ctx context.Context, a *app.App) error {
		res, err := a.Service().Preview(ctx, fs.Arg(0))
		if err != nil {
			return &ExitError{Code: 1, Message: err.Error()}
		}
		printWarnings(outW, res.Warnings)
		for _, msg := range res.Errors {
			fmt.Fprintf(outW, "error: %s\n", msg)
		}
		if !res.IsValid {
			return &ExitError{Code: 1, Message: "package is not installable"}
		}
		fmt.Fprintf(outW, "%s %s is installable\n", res.Manifest.ID, res.Manifest.Version)
		if res.Exists {
			fmt.Fprintf(outW, "would replace installed version %s\n", res.ExistingVersion)
		}
		return nil
	})
}

func runTransition(ctx context.Context, outW io.Writer, cfg *app.Config, cmd string, args []string) error {
	fs := newFlagSet(cmd, outW, cfg)
	var cascade bool
	if cmd == "disable" {
		fs.BoolVar(&cascade, "cascade", false, "Also disable extensions that depend on this one.")
	}
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return &ExitError{Code: 2, Message: cmd + " requires exactly one extension id"}
	}
	id := fs.Arg(0)

	return oneShot(ctx, outW, cfg, func(ctx context.Context, a *app.App) error {
		svc := a.Service()
		var err error
		switch cmd {
		case "enable":
			err = svc.Enable(ctx, id)
		case "disable":
			err = svc.Disable(ctx, id, cascade)
		case "uninstall":
			err = svc.Uninstall(ctx, id)
		case "retry":
			err = svc.Retry(ctx, id)
		case "reload":
			err = svc.Reload(ctx, id)
		}
		if err != nil {
			return &ExitError{Code: 1, Message: err.Error()}
		}
		fmt.Fprintf(outW, "%s: %s\n", cmd, id)
		return nil
	})
}

func runList(ctx context.Context, outW io.Writer, cfg *app.Config, args []string) error {
	fs := newFlagSet("list", outW, cfg)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	return oneShot(ctx, outW, cfg, func(ctx context.Context, a *app.App) error {
		records, err := a.Store().List(ctx)
		if err != nil {
			return &ExitError{Code: 1, Message: err.Error()}
		}
		tw := tabwriter.NewWriter(outW, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tVERSION\tTYPE\tSTATUS\tNAME")
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rec.ID, rec.Version, rec.Type, rec.Status, rec.Name)
		}
		return tw.Flush()
	})
}

func runFollow(ctx context.Context, outW io.Writer, args []string) error {
	fs := flag.NewFlagSet("plugboard follow", flag.ContinueOnError)
	fs.SetOutput(outW)
	url := fs.String("url", "http://localhost:8080/socket.io", "Socket.io endpoint of the running host.")
	insecure := fs.Bool("insecure", false, "Skip TLS certificate verification.")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return &ExitError{Code: 2, Message: err.Error()}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := notify.Follow(ctx, outW, notify.FollowOptions{URL: *url, InsecureSkipVerify: *insecure}); err != nil {
		return &ExitError{Code: 1, Message: err.Error()}
	}
	return nil
}

func printWarnings(outW io.Writer, warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(outW, "warning: %s\n", w)
	}
}
