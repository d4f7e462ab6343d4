package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"pkt.systems/psi"
	"pkt.systems/pslog"
)

// Version is set at build time via ldflags
var version = "dev"

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("remote-shell command failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "remote-shell",
		Short:         "Attach this terminal to a remote shell session",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetVersionTemplate("remote-shell v{{.Version}}\n")

	root.AddCommand(newAttachCmd())
	root.AddCommand(newLoginCmd())
	root.AddCommand(newProjectsCmd())
	root.AddCommand(newSessionsCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newThemesCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// commandConfig loads the configuration with the command's flags bound
// on top of file and environment values.
func commandConfig(cmd *cobra.Command, keys ...string) (Config, error) {
	v, err := newConfigViper()
	if err != nil {
		return Config{}, err
	}
	if err := bindFlags(v, cmd, keys...); err != nil {
		return Config{}, err
	}
	return loadConfig(v)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, keys ...string) error {
	for _, key := range keys {
		flag := cmd.Flags().Lookup(key)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", key, err)
		}
	}
	return nil
}

func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "server base URL (http or https)")
	cmd.Flags().String("token", "", "authentication token")
}

func newAttachCmd() *cobra.Command {
	var projectID string
	var raw bool
	cmd := &cobra.Command{
		Use:   "attach [session]",
		Short: "Attach to a session by handle or start one for a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := commandConfig(cmd, "server", "token", "theme", "toolbar")
			if err != nil {
				return err
			}

			logger, closer, err := newLogger(cfg.LogFile, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer closer.Close()
			ctx := pslog.ContextWithLogger(cmd.Context(), logger)

			themes := themeCatalog(cfg.Themes)
			theme, ok := findTheme(themes, cfg.Theme)
			if !ok {
				theme = defaultTheme
				logger.Warn("unknown theme, using default", "theme", cfg.Theme, "default", theme.ID)
			}

			var registry *RegistryClient
			handle := ""
			if len(args) == 1 {
				handle = args[0]
			}
			if projectID != "" {
				registry, err = NewRegistryClient(cfg.Server, cfg.Token)
				if err != nil {
					return err
				}
				if handle == "" {
					handle, err = registry.StartSession(ctx, projectID)
					if err != nil {
						return err
					}
				}
			}
			if handle == "" {
				return errors.New("a session handle or --project is required")
			}

			var clipboard ClipboardProvider
			if cc := newCommandClipboard(); cc != nil {
				clipboard = cc
			}

			if raw {
				url, err := ChannelURL(cfg.Server, handle, cfg.Token)
				if err != nil {
					return err
				}
				return RunRaw(ctx, RawOptions{
					URL:       url,
					Theme:     theme,
					Clipboard: clipboard,
					Log:       logger.With("session", handle),
				})
			}

			screen, err := tcell.NewScreen()
			if err != nil {
				return fmt.Errorf("create screen: %w", err)
			}
			app := NewApp(AppOptions{
				Screen:       screen,
				Server:       cfg.Server,
				Token:        cfg.Token,
				Theme:        theme,
				Themes:       themes,
				Toolbar:      cfg.Toolbar,
				ToolbarWidth: cfg.ToolbarWidth,
				Scrollback:   cfg.Scrollback,
				TouchRowPx:   cfg.TouchRowPx,
				Clipboard:    clipboard,
				Log:          logger,
				Registry:     registry,
				ProjectID:    projectID,
			})
			return app.Run(ctx, handle)
		},
	}
	addServerFlags(cmd)
	cmd.Flags().StringVar(&projectID, "project", "", "start a session for this project id")
	cmd.Flags().String("theme", "", "color theme (see 'themes'); Ctrl+F12 cycles themes while attached")
	cmd.Flags().String("toolbar", "", "on-screen key toolbar: auto, always or never")
	cmd.Flags().BoolVar(&raw, "raw", false, "pass the host terminal through in raw mode instead of the full-screen UI")
	return cmd
}

func newLoginCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := commandConfig(cmd, "server")
			if err != nil {
				return err
			}
			if username == "" {
				return errors.New("--username is required")
			}
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			registry, err := NewRegistryClient(cfg.Server, "")
			if err != nil {
				return err
			}
			token, err := registry.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}

			cfg.Token = token
			if err := saveConfig(cfg); err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("logged in", "server", cfg.Server, "user", username)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s as %s\n", cfg.Server, username)
			return err
		},
	}
	cmd.Flags().String("server", "", "server base URL (http or https)")
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	return cmd
}

// readPassword prompts without echo on a terminal and reads one line
// otherwise.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		password, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(password), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func registryFromCommand(cmd *cobra.Command) (*RegistryClient, error) {
	cfg, err := commandConfig(cmd, "server", "token")
	if err != nil {
		return nil, err
	}
	return NewRegistryClient(cfg.Server, cfg.Token)
}

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := registryFromCommand(cmd)
			if err != nil {
				return err
			}
			projects, err := registry.Projects(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPATH\tSESSION")
			for _, p := range projects {
				session := "-"
				if p.SessionID != nil {
					session = *p.SessionID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Path, session)
			}
			return tw.Flush()
		},
	}
	addServerFlags(cmd)
	return cmd
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List live sessions on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := registryFromCommand(cmd)
			if err != nil {
				return err
			}
			sessions, err := registry.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tPROJECT\tDIRECTORY")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.SessionID, s.ProjectID, s.Directory)
			}
			return tw.Flush()
		},
	}
	addServerFlags(cmd)
	return cmd
}

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <project>",
		Short: "Stop the session of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := registryFromCommand(cmd)
			if err != nil {
				return err
			}
			if err := registry.StopSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Stopped session of %s\n", args[0])
			return err
		},
	}
	addServerFlags(cmd)
	return cmd
}

func newThemesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "themes",
		Short: "List color themes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := commandConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, theme := range themeCatalog(cfg.Themes) {
				if _, err := fmt.Fprintf(out, "%-18s %s\n", theme.ID, theme.Name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "remote-shell v%s\n", version)
			return err
		},
	}
}
