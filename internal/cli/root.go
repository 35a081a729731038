// Package cli implements the sitewatch command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sitewatch-go/internal/app"
	"sitewatch-go/internal/auth"
	"sitewatch-go/internal/config"
	"sitewatch-go/internal/logger"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates no usable login is stored.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the login or refresh flow failed.
	ExitCodeAuthFailed = 3
	// ExitCodeNetwork indicates the provider could not be reached.
	ExitCodeNetwork = 4
)

// Options configures the command tree.
type Options struct {
	Out    io.Writer
	Err    io.Writer
	Logger *zap.Logger
	// AppOptions are passed to every Application the commands build.
	AppOptions []app.Option
}

type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// runner carries the root flags into the subcommands.
type runner struct {
	flags rootFlags
	opts  Options
}

// NewRootCommand builds the sitewatch command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	r := &runner{opts: opts}

	root := &cobra.Command{
		Use:   config.AppName,
		Short: "Watch websites, some of them behind a Microsoft sign-in",
		Long: `sitewatch signs in to a Microsoft identity platform account with the
authorization code flow and PKCE, keeps the token fresh in the background
and checks a list of websites, notifying when one goes down or comes back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)

	pf := root.PersistentFlags()
	pf.StringVar(&r.flags.configPath, "config", "", "config file (default is "+config.DefaultPath()+")")
	pf.StringVar(&r.flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&r.flags.logFormat, "log-format", "", "log format: console or json")

	root.AddCommand(
		r.newLoginCmd(),
		r.newLogoutCmd(),
		r.newWhoAmICmd(),
		r.newTokenCmd(),
		r.newFetchCmd(),
		r.newPhotoCmd(),
		r.newSitesCmd(),
		r.newCheckCmd(),
		r.newRunCmd(),
		r.newKeygenCmd(),
		r.newBackupCmd(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	root := NewRootCommand(Options{})
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return ExitCode(err)
	}
	return ExitCodeSuccess
}

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, auth.ErrNoStoredToken), errors.Is(err, auth.ErrMissingRefreshToken):
		return ExitCodeAuthRequired
	case errors.Is(err, auth.ErrAuthTimeout), errors.Is(err, auth.ErrBrowserLaunch), errors.Is(err, auth.ErrProvider):
		return ExitCodeAuthFailed
	case errors.Is(err, auth.ErrNetwork):
		return ExitCodeNetwork
	default:
		return ExitCodeError
	}
}

// loadConfig reads the config file and applies the logging flags.
func (r *runner) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(r.flags.configPath)
	if err != nil {
		return nil, err
	}
	if r.flags.logLevel != "" {
		cfg.Log.Level = r.flags.logLevel
	}
	if r.flags.logFormat != "" {
		cfg.Log.Format = r.flags.logFormat
	}
	return cfg, nil
}

func (r *runner) newLogger(cfg *config.Config) (*zap.Logger, error) {
	if r.opts.Logger != nil {
		return r.opts.Logger, nil
	}
	return logger.New(cfg.Log.Level, cfg.Log.Format)
}

// withApp builds an Application for one command and closes it afterwards.
func (r *runner) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.Application) error) error {
	cfg, err := r.loadConfig()
	if err != nil {
		return err
	}
	log, err := r.newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, log, r.opts.AppOptions...)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
