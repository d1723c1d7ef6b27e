// Package cli implements the authkeeper command: a terminal front end for
// the school-manager session lifecycle.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Rare-Specie/authkeeper"
	"github.com/Rare-Specie/authkeeper/apiclient"
	"github.com/Rare-Specie/authkeeper/internal/logging"
	"github.com/Rare-Specie/authkeeper/notice"
	"github.com/Rare-Specie/authkeeper/transport"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	server     string
	storage    string
	stateDir   string
	redisAddr  string
	logLevel   string
	logFormat  string
	debug      bool
}

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	f := &rootFlags{}

	root := &cobra.Command{
		Use:          "authkeeper",
		Short:        "Session lifecycle manager for the school-manager API",
		Long:         "authkeeper logs in to the school-manager backend, keeps the session alive and answers navigation questions from the stored session.",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", envString("AUTHKEEPER_CONFIG", ""), "YAML config file (or AUTHKEEPER_CONFIG env)")
	pf.StringVar(&f.server, "server", "", "backend API base URL (or AUTHKEEPER_SERVER env)")
	pf.StringVar(&f.storage, "storage", "", "credential storage: file, sqlite, redis, memory")
	pf.StringVar(&f.stateDir, "state-dir", "", "directory for file and sqlite storage")
	pf.StringVar(&f.redisAddr, "redis", "", `redis address for redis storage ("mini" runs one in-process)`)
	pf.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&f.logFormat, "log-format", "", "log format (text, json)")
	pf.BoolVar(&f.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newLoginCmd(f),
		newLogoutCmd(f),
		newStatusCmd(f),
		newRefreshCmd(f),
		newPasswdCmd(f),
		newNavigateCmd(f),
		newWatchCmd(f),
	)
	return root
}

// resolve loads the config file and layers the flags that were set on top.
func (f *rootFlags) resolve(cmd *cobra.Command) (Config, error) {
	cfg, err := LoadConfig(f.configPath)
	if err != nil {
		return Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Server = f.server
	}
	if flags.Changed("storage") {
		cfg.Storage.Kind = f.storage
	}
	if flags.Changed("state-dir") {
		cfg.Storage.Dir = f.stateDir
	}
	if flags.Changed("redis") {
		cfg.Storage.RedisAddr = f.redisAddr
		if !flags.Changed("storage") {
			cfg.Storage.Kind = StorageRedis
		}
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if f.debug {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

// session is everything one command invocation works with.
type session struct {
	cfg    Config
	logger *slog.Logger
	ctrl   *authkeeper.Controller
	out    io.Writer
}

// withSession builds a controller over the configured storage, runs fn and
// tears everything down again.
func (f *rootFlags) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	cfg, err := f.resolve(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger := logging.NewLoggerWithWriter(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, cmd.ErrOrStderr())
	st, err := openStores(ctx, cfg.Storage, cfg.Controller().Snapshot.TTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("authkeeper: storage close failed", "error", err)
		}
	}()

	api, err := apiclient.New(cfg.Server, apiclient.WithLogger(logger))
	if err != nil {
		return err
	}

	errOut := cmd.ErrOrStderr()
	ctrl, err := authkeeper.New().
		WithConfig(cfg.Controller()).
		WithBackend(api).
		WithDurableStorage(st.durable).
		WithSessionStorage(st.session).
		WithLogger(logger).
		WithEventSink(authkeeper.SlogSink{Logger: logger, Level: slog.LevelDebug}).
		WithNotifier(notice.NotifierFunc(func(n notice.Notice) {
			fmt.Fprintf(errOut, "[%s] %s\n", n.Level, n.Message)
		})).
		Build(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	api.SetHTTPClient(transport.NewClient(ctrl, nil))

	return fn(ctx, &session{cfg: cfg, logger: logger, ctrl: ctrl, out: cmd.OutOrStdout()})
}
