// Package servecmder provides the serve command running the proxy server.
package servecmder

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flowscribe/flowscribe/pkg/config"
	"github.com/flowscribe/flowscribe/pkg/logger"
	"github.com/flowscribe/flowscribe/pkg/record"
	"github.com/flowscribe/flowscribe/pkg/record/inmemory"
	"github.com/flowscribe/flowscribe/pkg/record/jsonl"
	"github.com/flowscribe/flowscribe/pkg/record/sqlite"
	"github.com/flowscribe/flowscribe/proxy"
)

type serveCommander struct {
	listen         string
	upstream       string
	identityHeader string
	timeoutSecs    int
	statusSecs     int
	sink           string
	logPath        string
	workers        uint
	queueSize      uint
	debug          bool

	logger *zap.Logger
}

const serveLongDesc string = `Run the proxy server.

The proxy accepts OpenAI-style chat completion requests, forwards them to the
configured upstream backend and relays the response unchanged, buffered or
streamed. Every request produces one log record in the configured sink.

Supported sinks: jsonl (append-only file), sqlite, memory`

const serveShortDesc string = "Run the flowscribe proxy server"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg, err := config.LoadConfig(v)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if !cmd.Flags().Changed("listen") {
				cmder.listen = cfg.Proxy.Listen
			}
			if !cmd.Flags().Changed("upstream") {
				cmder.upstream = cfg.Proxy.Upstream
			}
			if !cmd.Flags().Changed("identity-header") {
				cmder.identityHeader = cfg.Proxy.IdentityHeader
			}
			if !cmd.Flags().Changed("timeout") {
				cmder.timeoutSecs = cfg.Proxy.TimeoutSeconds
			}
			if !cmd.Flags().Changed("status-interval") {
				cmder.statusSecs = cfg.Proxy.StatusIntervalSeconds
			}
			if !cmd.Flags().Changed("sink") {
				cmder.sink = cfg.Log.Sink
			}
			if !cmd.Flags().Changed("log-path") {
				cmder.logPath = cfg.Log.Path
			}
			if !cmd.Flags().Changed("workers") {
				cmder.workers = cfg.Worker.Count
			}
			if !cmd.Flags().Changed("queue-size") {
				cmder.queueSize = cfg.Worker.QueueSize
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", defaults.Proxy.Listen, "Address for proxy to listen on")
	cmd.Flags().StringVarP(&cmder.upstream, "upstream", "u", defaults.Proxy.Upstream, "Upstream inference backend URL")
	cmd.Flags().StringVar(&cmder.identityHeader, "identity-header", defaults.Proxy.IdentityHeader, "Request header carrying the caller identity")
	cmd.Flags().IntVar(&cmder.timeoutSecs, "timeout", defaults.Proxy.TimeoutSeconds, "Upstream timeout in seconds")
	cmd.Flags().IntVar(&cmder.statusSecs, "status-interval", defaults.Proxy.StatusIntervalSeconds, "Seconds between traffic status log lines (0 disables)")
	cmd.Flags().StringVarP(&cmder.sink, "sink", "s", defaults.Log.Sink, "Record sink: jsonl, sqlite or memory")
	cmd.Flags().StringVar(&cmder.logPath, "log-path", defaults.Log.Path, "Record file or database path")
	cmd.Flags().UintVar(&cmder.workers, "workers", defaults.Worker.Count, "Number of async record append workers")
	cmd.Flags().UintVar(&cmder.queueSize, "queue-size", defaults.Worker.QueueSize, "Capacity of the record append queue")

	return cmd
}

func (c *serveCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	store, err := c.newRecordStore()
	if err != nil {
		return err
	}
	defer store.Close()

	p, err := proxy.New(proxy.Config{
		ListenAddr:      c.listen,
		UpstreamURL:     c.upstream,
		IdentityHeader:  c.identityHeader,
		UpstreamTimeout: time.Duration(c.timeoutSecs) * time.Second,
		StatusInterval:  time.Duration(c.statusSecs) * time.Second,
		NumWorkers:      c.workers,
		QueueSize:       c.queueSize,
	}, store, c.logger)
	if err != nil {
		return fmt.Errorf("creating proxy: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := p.Run(); err != nil {
			errChan <- fmt.Errorf("proxy error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		p.Close()
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		// Close drains the append queue so no finalized record is lost.
		return p.Close()
	}
}

// newRecordStore builds the record sink named by the sink flag.
func (c *serveCommander) newRecordStore() (record.Store, error) {
	switch c.sink {
	case config.SinkJSONL:
		store, err := jsonl.NewStore(c.logPath)
		if err != nil {
			return nil, fmt.Errorf("opening jsonl store: %w", err)
		}
		c.logger.Info("using jsonl record store", zap.String("path", c.logPath))
		return store, nil

	case config.SinkSQLite:
		store, err := sqlite.NewStore(c.logPath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		c.logger.Info("using sqlite record store", zap.String("path", c.logPath))
		return store, nil

	case config.SinkMemory:
		c.logger.Info("using in-memory record store")
		return inmemory.NewStore(), nil

	default:
		return nil, fmt.Errorf("unknown record sink %q", c.sink)
	}
}
