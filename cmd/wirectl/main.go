package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danmuck/wirectl/internal/auth"
	"github.com/danmuck/wirectl/internal/client"
	"github.com/danmuck/wirectl/internal/config"
	"github.com/danmuck/wirectl/internal/observability"
	"github.com/danmuck/wirectl/internal/protocol/codec"
	"github.com/danmuck/wirectl/internal/server"
	"github.com/danmuck/wirectl/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wirectl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wirectl",
		Short:         "framed request/response protocol server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newPingCmd(), newConfigCmd(), newVersionCmd())
	return root
}

type serveFlags struct {
	configPath string
	addr       string
	adminAddr  string
	executor   string
	token      string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the protocol and admin listeners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "server config file (toml)")
	f.StringVar(&flags.addr, "addr", "", "protocol listen address")
	f.StringVar(&flags.adminAddr, "admin-addr", "", "admin listen address")
	f.StringVar(&flags.executor, "executor", "", "executor variant: deferred or inline")
	f.StringVar(&flags.token, "token", os.Getenv("WIRECTL_TOKEN"), "shared token accepted for any principal when no users file is set")
	return cmd
}

func resolveServeConfig(flags serveFlags) (server.Config, error) {
	cfg := server.DefaultConfig()
	if path := strings.TrimSpace(flags.configPath); path != "" {
		loaded, err := loadServerConfig(path)
		if err != nil {
			return server.Config{}, err
		}
		cfg = loaded
	}
	if v := strings.TrimSpace(flags.addr); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(flags.adminAddr); v != "" {
		cfg.AdminAddr = v
	}
	if v := strings.TrimSpace(flags.executor); v != "" {
		cfg.Executor = strings.ToLower(v)
	}
	return cfg, cfg.Validate()
}

// resolveAuthenticator prefers the users file. Without one, a shared token
// is accepted for any principal; with neither, every HELLO is refused.
func resolveAuthenticator(cfg server.Config, token string) (auth.Authenticator, *auth.UserTable, error) {
	if cfg.UsersFile != "" {
		users, err := config.LoadUsers(cfg.UsersFile)
		if err != nil {
			return nil, nil, err
		}
		table := users.Table()
		return table, table, nil
	}
	if strings.TrimSpace(token) != "" {
		return auth.AnyPrincipal{Validator: auth.StaticToken{Token: token}}, nil, nil
	}
	return auth.AnyPrincipal{}, nil, nil
}

func runServe(parent context.Context, flags serveFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := observability.InitLogger("wirectl")

	cfg, err := resolveServeConfig(flags)
	if err != nil {
		return err
	}
	authn, table, err := resolveAuthenticator(cfg, flags.token)
	if err != nil {
		return err
	}
	if table == nil && strings.TrimSpace(flags.token) == "" {
		logger.Warn().Msg("no users file or token configured; every HELLO will be refused")
	}

	srv, err := server.New(cfg, server.WithAuthenticator(authn), server.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if table != nil {
		go reloadUsersOnHangup(ctx, logger, cfg.UsersFile, table)
	}

	logger.Info().Str("name", cfg.Name).Msg("wirectl starting")
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("wirectl stopped")
	return nil
}

func reloadUsersOnHangup(ctx context.Context, logger zerolog.Logger, path string, table *auth.UserTable) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			users, err := config.LoadUsers(path)
			if err != nil {
				logger.Error().Err(err).Str("path", path).Msg("users reload failed")
				continue
			}
			table.Replace(users.Map())
			logger.Info().Int("users", table.Len()).Msg("users reloaded")
		}
	}
}

type pingFlags struct {
	addr      string
	user      string
	token     string
	statement string
	timeout   time.Duration
	security  transport.Security
}

func newPingCmd() *cobra.Command {
	flags := pingFlags{security: transport.Security{Mode: transport.SecurityModeDevelopment}}
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "connect, authenticate and run one statement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runPing(ctx, cmd.OutOrStdout(), flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.addr, "addr", "127.0.0.1:7687", "server address")
	f.StringVar(&flags.user, "user", "neo", "principal")
	f.StringVar(&flags.token, "token", os.Getenv("WIRECTL_TOKEN"), "credentials")
	f.StringVar(&flags.statement, "statement", "RETURN 1", "statement to run")
	f.DurationVar(&flags.timeout, "timeout", 5*time.Second, "dial and request timeout")
	f.BoolVar(&flags.security.TLS.Enabled, "tls", false, "dial with TLS")
	f.StringVar(&flags.security.TLS.CAFile, "tls-ca", "", "CA bundle for server verification")
	f.StringVar(&flags.security.TLS.CertFile, "tls-cert", "", "client certificate for mutual TLS")
	f.StringVar(&flags.security.TLS.KeyFile, "tls-key", "", "client key for mutual TLS")
	f.StringVar(&flags.security.TLS.ServerName, "tls-server-name", "", "expected server name")
	return cmd
}

func runPing(ctx context.Context, out io.Writer, flags pingFlags) error {
	sec := flags.security
	sec.TLS.Mutual = sec.TLS.CertFile != "" || sec.TLS.KeyFile != ""
	if err := sec.ValidateClient(); err != nil {
		return err
	}

	c, err := client.Dial(ctx, flags.addr, client.Options{Security: sec, Timeout: flags.timeout})
	if err != nil {
		return fmt.Errorf("dial %s: %w", flags.addr, err)
	}
	defer c.Close()

	connID, err := c.Hello("wirectl-ping/"+server.Version, flags.user, flags.token)
	if err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	fmt.Fprintf(out, "connected version=%d conn_id=%s\n", c.Version(), connID)

	summary, err := c.Run(flags.statement, nil)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	fmt.Fprintln(out, summary)
	return c.Goodbye()
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "write or check config files",
	}

	var kind, out string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "write a config template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				out = kind + ".toml"
			}
			if err := config.WriteTemplate(out, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", kind, out)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "server", "template kind: server or users")
	initCmd.Flags().StringVarP(&out, "out", "o", "", "output path (default <kind>.toml)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	var checkKind string
	checkCmd := &cobra.Command{
		Use:   "check <path>",
		Short: "validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch strings.ToLower(strings.TrimSpace(checkKind)) {
			case "server":
				cfg, err := loadServerConfig(args[0])
				if err != nil {
					return err
				}
				if err := cfg.Validate(); err != nil {
					return err
				}
			case "users":
				if _, err := config.LoadUsers(args[0]); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown config kind: %s", checkKind)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok\n", args[0])
			return nil
		},
	}
	checkCmd.Flags().StringVar(&checkKind, "kind", "server", "config kind: server or users")

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the build version and supported protocol versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "wirectl %s protocol=%v\n", server.Version, codec.Versions())
			return nil
		},
	}
}
