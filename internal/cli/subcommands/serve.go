package subcommands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"OpenSampler/internal/runtime"
	"OpenSampler/server"
)

const serveLongDesc string = `Start the sampling session server.

Each TCP connection owns one sampler chain built from the sampling config.
A side HTTP server exposes /health, /metrics and POST /v1/sample.

Protocol (one request per line):
  SAMPLE <base64 JSON logits>   -> TOKN <id> | ERR <base64>
  ACCEPT <id>                   -> ACK
  RESET                         -> ACK
  PERF                          -> RESP <base64 JSON>`

const serveShortDesc string = "Start the sampling session server"

type serveCommander struct {
	env         *Env
	host        string
	port        int
	metricsPort int
}

func NewServeCmd(env *Env) *cobra.Command {
	cmder := &serveCommander{env: env}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.host, "host", "", "Server host address (overrides config)")
	cmd.Flags().IntVar(&cmder.port, "port", 0, "TCP port (overrides config)")
	cmd.Flags().IntVar(&cmder.metricsPort, "metrics-port", 0, "HTTP port for health and metrics (overrides config, -1 disables)")

	return cmd
}

func (c *serveCommander) run(cmd *cobra.Command) error {
	cfg := c.env.Config
	if !cfg.ServerEnabled() {
		return errors.New("server disabled by configuration")
	}
	logger := c.env.logger()

	host := cfg.Server.Host
	if c.host != "" {
		host = c.host
	}
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Server.Port
	if c.port > 0 {
		port = c.port
	}
	metricsPort := cfg.Server.MetricsPort
	if c.metricsPort != 0 {
		metricsPort = c.metricsPort
	}

	vocab := runtime.VocabFromConfig(cfg.Sampling.Vocab)

	tcp := server.NewTCPServer(host, strconv.Itoa(port), cfg.Sampling, vocab, logger)
	if err := tcp.Start(); err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	defer tcp.Stop()

	if metricsPort > 0 {
		httpSrv := server.NewHTTPServer(host, strconv.Itoa(metricsPort), cfg.Sampling, vocab, tcp.Sessions, logger)
		if err := httpSrv.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		defer httpSrv.Stop()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Serving sampling sessions on %s:%d (vocab %d)\n", host, port, vocab.Size)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down", zap.Int("sessions", tcp.Sessions()))
	return nil
}
