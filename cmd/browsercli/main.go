// Command browsercli drives a headless Chrome through a small command
// vocabulary, one command at a time or over a long-lived session.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tomyan/browsercli/internal/console"
	"github.com/tomyan/browsercli/internal/dispatch"
	"github.com/tomyan/browsercli/internal/fault"
	"github.com/tomyan/browsercli/internal/log"
	"github.com/tomyan/browsercli/internal/session"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitError       = 1
	ExitConnFailed  = 2
	ExitTimeout     = 3
	ExitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], DefaultConfig())
	stop()
	os.Exit(code)
}

// exitCode maps a failure kind to the process exit status.
func exitCode(kind fault.Kind) int {
	switch kind {
	case "":
		return ExitSuccess
	case fault.TransportUnavailable, fault.LaunchTimeout, fault.ProtocolVersionMismatch:
		return ExitConnFailed
	case fault.CommandTimeout:
		return ExitTimeout
	case fault.Interrupted:
		return ExitInterrupted
	}
	return ExitError
}

type rootCommand struct {
	cfg    *Config
	logger *logrus.Logger
	cmd    *cobra.Command
	code   int
}

func run(ctx context.Context, args []string, cfg *Config) int {
	c := newRootCommand(cfg)
	c.cmd.SetArgs(args)
	if err := c.cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(cfg.Stderr, "error: %v\n", err)
		if c.code == ExitSuccess {
			return ExitError
		}
	}
	return c.code
}

func newRootCommand(cfg *Config) *rootCommand {
	c := &rootCommand{cfg: cfg}
	c.cmd = &cobra.Command{
		Use:   "browsercli [flags] <command> [args...]",
		Short: "Drive a headless Chrome from the command line",
		Long: `browsercli runs browser commands against a Chrome session.

A single command launches Chrome, runs, and closes it again. Use
"browsercli console" to keep one session open across many commands, or
"browsercli serve --socket PATH" to share one between processes.`,
		Example: `  browsercli navigate example.com
  browsercli -o json title
  echo "navigate example.com\nscreenshot" | browsercli console`,
		Args:              cobra.ArbitraryArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
		RunE:              c.oneShot,
	}
	// Everything after the command name belongs to the command, including
	// negative numbers and --name=value arguments.
	c.cmd.Flags().SetInterspersed(false)
	registerFlags(c.cmd.PersistentFlags(), cfg)

	c.cmd.SetIn(cfg.Stdin)
	c.cmd.SetOut(cfg.Stdout)
	c.cmd.SetErr(cfg.Stderr)
	c.cmd.SetHelpCommand(c.helpCommand())
	c.cmd.AddCommand(c.consoleCommand(), c.serveCommand())
	return c
}

func (c *rootCommand) persistentPreRunE(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")
	if err := loadConfigFile(c.cfg, configPath); err != nil {
		return err
	}
	dotenv, err := loadDotEnv(c.cfg.Fs)
	if err != nil {
		return err
	}
	if err := applyEnvVars(c.cfg, dotenv); err != nil {
		return err
	}
	if err := applyFlags(c.cfg, flags); err != nil {
		return err
	}
	if err := validate(c.cfg); err != nil {
		return err
	}

	c.logger, err = log.New(c.cfg.Stderr, c.cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

func (c *rootCommand) newSession() *session.Session {
	opts := []session.Option{session.WithLogger(c.logger), session.WithFs(c.cfg.Fs)}
	if c.cfg.Backend != nil {
		opts = append(opts, session.WithBackend(c.cfg.Backend))
	}
	return session.New(c.cfg.Session, opts...)
}

// report renders rep and records its exit code. Text failures go to stderr.
func (c *rootCommand) report(rep dispatch.Report) error {
	w := c.cfg.Stdout
	if !rep.OK && c.cfg.Output != dispatch.FormatJSON {
		w = c.cfg.Stderr
	}
	c.code = exitCode(rep.Kind)
	return rep.Render(w, c.cfg.Output)
}

func (c *rootCommand) oneShot(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		c.code = ExitError
		fmt.Fprint(c.cfg.Stderr, cmd.UsageString())
		return nil
	}
	ctx := cmd.Context()

	if c.cfg.Socket != "" {
		rep, err := console.Send(ctx, c.cfg.Socket, args)
		if err != nil {
			c.code = exitCode(fault.KindOf(err))
			return err
		}
		return c.report(rep)
	}

	sess := c.newSession()
	defer sess.Close()
	return c.report(dispatch.New(sess, c.logger).DispatchArgs(ctx, args))
}

func (c *rootCommand) consoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "console",
		Aliases: []string{"repl", "shell"},
		Short:   "Run commands from stdin against one browser session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess := c.newSession()
			defer sess.Close()

			loop := &console.Loop{
				Dispatcher: dispatch.New(sess, c.logger),
				In:         c.cfg.Stdin,
				Out:        c.cfg.Stdout,
				Err:        c.cfg.Stderr,
				Format:     c.cfg.Output,
				Logger:     c.logger,
			}
			if isTerminal(c.cfg.Stdin) {
				loop.Prompt = console.DefaultPrompt
			}

			err := loop.Run(cmd.Context())
			switch {
			case err == nil:
				c.code = ExitSuccess
			case fault.Is(err, fault.Interrupted):
				c.code = ExitInterrupted
			default:
				c.code = ExitError
				return err
			}
			return nil
		},
	}
}

func (c *rootCommand) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve --socket PATH",
		Short: "Keep one browser session open for commands sent with --socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.Socket == "" {
				c.code = ExitError
				return errors.New("serve needs --socket PATH")
			}
			ln, err := listen(c.cfg.Socket)
			if err != nil {
				c.code = ExitConnFailed
				return err
			}
			defer os.Remove(c.cfg.Socket)

			sess := c.newSession()
			defer sess.Close()

			ctx := cmd.Context()
			c.logger.WithField("socket", c.cfg.Socket).Info("serving")
			srv := &console.Server{Dispatcher: dispatch.New(sess, c.logger), Logger: c.logger}
			if err := srv.Serve(ctx, ln); err != nil {
				c.code = ExitError
				return err
			}
			if ctx.Err() != nil {
				c.code = ExitInterrupted
			}
			return nil
		},
	}
}

// listen binds the unix socket at path, clearing a stale socket file left by
// a server that is no longer running.
func listen(path string) (net.Listener, error) {
	if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
		conn.Close()
		return nil, fmt.Errorf("a server is already listening on %s", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	return ln, nil
}

func (c *rootCommand) helpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "help [command]",
		Short: "List the browser commands, or describe one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			text, err := dispatch.Describe(name)
			if err != nil {
				c.code = ExitError
				return err
			}
			out := c.cfg.Stdout
			fmt.Fprintln(out, text)
			if name == "" {
				fmt.Fprintf(out, "\nUsage:\n  %s\n  browsercli console\n  browsercli serve --socket PATH\n", c.cmd.Use)
				fmt.Fprintf(out, "\nFlags:\n%s", c.cmd.PersistentFlags().FlagUsages())
			}
			return nil
		},
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
