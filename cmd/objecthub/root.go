package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/objecthub/bus"
	"github.com/vinayprograms/objecthub/config"
	"github.com/vinayprograms/objecthub/hub"
	"github.com/vinayprograms/objecthub/logging"
	"github.com/vinayprograms/objecthub/server"
	"github.com/vinayprograms/objecthub/shutdown"
	"github.com/vinayprograms/objecthub/telemetry"
	"github.com/vinayprograms/objecthub/transport"
)

// options holds flag values. They override the config file only when set.
type options struct {
	configPath  string
	readOnly    bool
	persist     string
	basePort    int
	any         bool
	logLevel    string
	natsURL     string
	queryWindow time.Duration
}

func newRootCmd() *cobra.Command {
	cmd, _ := newCommand()
	return cmd
}

// newCommand builds the root command and the options its flags bind to.
func newCommand() (*cobra.Command, *options) {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "objecthub",
		Short: "Shared-state object hub",
		Long: `objecthub stores named objects (metadata plus an optional binary payload)
and pushes a notification to every connected client whenever one changes.

The request API listens on the base port and the websocket push channel on
the port above it.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	defaults := config.Default()
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "TOML config file")
	f.BoolVar(&opts.readOnly, "read-only", false, "reject every mutation")
	f.StringVar(&opts.persist, "persist", "", "directory to persist objects in (default transient)")
	f.IntVar(&opts.basePort, "base-port", defaults.Server.BasePort, "request API port; websocket uses the next port")
	f.BoolVar(&opts.any, "any", false, "listen on every interface instead of localhost")
	f.StringVar(&opts.logLevel, "log-level", defaults.Logging.Level, "debug, info, warn or error")
	f.StringVar(&opts.natsURL, "nats-url", "", "mirror notifications to this NATS server")
	f.DurationVar(&opts.queryWindow, "query-window", defaults.Query.Window.Duration, "how long a query collects replies")

	return cmd, opts
}

// resolveConfig loads the config file, if any, and applies the flags the
// user set explicitly.
func resolveConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("read-only") {
		cfg.Store.ReadOnly = opts.readOnly
	}
	if changed("persist") {
		cfg.Store.Persist = opts.persist
	}
	if changed("base-port") {
		cfg.Server.BasePort = opts.basePort
	}
	if changed("any") {
		cfg.Server.Any = opts.any
	}
	if changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if changed("nats-url") {
		cfg.Mirror.NATSURL = opts.natsURL
	}
	if changed("query-window") {
		cfg.Query.Window = config.Duration{Duration: opts.queryWindow}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func webSocketConfig(cfg *config.Config) transport.WebSocketConfig {
	ws := transport.DefaultWebSocketConfig()
	ws.SendBufferSize = cfg.Transport.SendBuffer
	ws.PingInterval = cfg.Transport.PingInterval.Duration
	ws.WriteTimeout = cfg.Transport.WriteTimeout.Duration
	ws.MaxMessageSize = cfg.Transport.MaxMessageSize
	return ws
}

func natsConfig(cfg *config.Config) bus.NATSConfig {
	nc := bus.DefaultNATSConfig()
	nc.URL = cfg.Mirror.NATSURL
	return nc
}

// openMirrors connects the configured notification mirrors. It returns nil
// when none is configured.
func openMirrors(cfg *config.Config, log *logging.Logger) (bus.Mirror, error) {
	var mirrors bus.Tee
	if cfg.Mirror.NATSURL != "" {
		nm, err := bus.NewNATSMirror(natsConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("connecting notification mirror: %w", err)
		}
		mirrors = append(mirrors, nm)
		log.Info("mirroring notifications to NATS", map[string]interface{}{
			"url":    cfg.Mirror.NATSURL,
			"prefix": cfg.Mirror.SubjectPrefix,
		})
	}
	if cfg.Mirror.Journal != "" {
		jm, err := bus.NewJournalMirror(cfg.Mirror.Journal)
		if err != nil {
			mirrors.Close()
			return nil, err
		}
		mirrors = append(mirrors, jm)
		log.Info("journaling notifications", map[string]interface{}{
			"path": cfg.Mirror.Journal,
		})
	}

	switch len(mirrors) {
	case 0:
		return nil, nil
	case 1:
		return mirrors[0], nil
	default:
		return mirrors, nil
	}
}

// run starts the hub and blocks until a signal arrives or ctx is done.
func run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log := logging.New()
	level, _ := logging.ParseLevel(cfg.Logging.Level)
	log.SetLevel(level)
	log = log.WithComponent("objecthub")

	provider, err := telemetry.Setup(ctx, telemetry.ProviderConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		Debug:       cfg.Telemetry.Debug,
	})
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}

	mirror, err := openMirrors(cfg, log)
	if err != nil {
		provider.Shutdown(ctx)
		return err
	}

	m, _ := hub.Open(ctx, hub.Config{
		Store:         hub.OpenStore(cfg.Store.Persist, log),
		ReadOnly:      cfg.Store.ReadOnly,
		QueryWindow:   cfg.Query.Window.Duration,
		Mirror:        mirror,
		SubjectPrefix: cfg.Mirror.SubjectPrefix,
		Logger:        log,
	})
	if !m.Persistent() {
		log.Warn("running in transient mode: objects will not survive a restart")
	}

	srv := server.New(m, server.Config{
		Addr:      cfg.Addr(),
		WSAddr:    cfg.WSAddr(),
		WebSocket: webSocketConfig(cfg),
	}, log.WithComponent("server"))
	if err := srv.Start(); err != nil {
		m.Close()
		provider.Shutdown(ctx)
		return err
	}

	coord := shutdown.NewCoordinator(shutdown.DefaultConfig(), log.WithComponent("shutdown"))
	coord.RegisterFunc("server", shutdown.PhaseListeners, srv.Shutdown)
	coord.RegisterFunc("connections", shutdown.PhaseConnections, srv.CloseConnections)
	coord.RegisterFunc("mirror", shutdown.PhaseMirror, func(context.Context) error {
		return m.Close()
	})
	coord.RegisterFunc("telemetry", shutdown.PhaseTelemetry, provider.Shutdown)
	coord.HandleSignals()

	select {
	case <-coord.Done():
	case <-ctx.Done():
		coord.ShutdownWithTimeout(0)
	}
	return coord.Err()
}
