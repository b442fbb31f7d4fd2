// Command rabiad runs one Rabia consensus node: it wires configuration,
// logging, transport, the engine, topology manager, router, the admin HTTP
// server and a metrics endpoint together. It does not construct a leader
// manager, so the admin server's GET /leader always reports no leader.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jabolina/rabia/pkg/config"
	"github.com/jabolina/rabia/pkg/rabia/adminhttp"
	"github.com/jabolina/rabia/pkg/rabia/engine"
	"github.com/jabolina/rabia/pkg/rabia/router"
	"github.com/jabolina/rabia/pkg/rabia/topology"
	"github.com/jabolina/rabia/pkg/rabia/transport/tcp"
	"github.com/jabolina/rabia/pkg/rabia/types"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var configFile string
	v := viper.New()

	root := &cobra.Command{
		Use:   "rabiad",
		Short: "Run one node of a Rabia consensus cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile, v)
		},
	}
	root.Flags().StringVar(&configFile, "config", "", "path to a YAML/TOML/JSON config file")
	root.Flags().String("node-id", "", "this node's identifier (default: a fresh UUID)")
	root.Flags().String("listen-address", "", "address to bind the protocol TCP transport on")
	_ = v.BindPFlag("node_id", root.Flags().Lookup("node-id"))
	_ = v.BindPFlag("listen_address", root.Flags().Lookup("listen-address"))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configFile string, v *viper.Viper) error {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	v.SetDefault("node_id", uuid.NewString())
	cfg, err := config.Load(configFile, v)
	if err != nil {
		return err
	}
	log = log.With().Str("node_id", cfg.NodeId).Logger()

	self := types.NodeId(cfg.NodeId)
	bus := router.New()
	defer bus.Close()

	peers := cfg.Peers()
	initialMembers := make([]types.NodeId, 0, len(peers)+1)
	for id := range peers {
		initialMembers = append(initialMembers, id)
	}
	topo := topology.New(self, initialMembers, bus)

	trans, err := tcp.New(self, cfg.ListenAddress, peers, tcp.DefaultConfig(), log)
	if err != nil {
		return err
	}
	defer trans.Close()

	sm := &noopStateMachine{}
	eng := engine.New(self, sm, trans, topo, bus, cfg.EngineTunables(), log)
	topo.Bootstrap()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go eng.Run(ctx)

	admin := adminhttp.New(cfg.AdminAddress, eng, topo, nil, log)
	go func() {
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin server stopped")
		}
	}()

	reg := prometheus.NewRegistry()
	for _, c := range eng.MetricsCollectors() {
		reg.MustRegister(c)
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().Str("listen", cfg.ListenAddress).Str("admin", cfg.AdminAddress).Msg("rabiad started")
	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = admin.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	return nil
}

// noopStateMachine is the default host application for a bare rabiad
// process: it accepts commands without interpreting them, useful for
// exercising the consensus core on its own. A real deployment supplies its
// own types.StateMachine in place of this.
type noopStateMachine struct{}

func (n *noopStateMachine) Process(commands []types.Command) ([]types.CommandResult, error) {
	results := make([]types.CommandResult, len(commands))
	for i := range commands {
		results[i] = types.CommandResult{}
	}
	return results, nil
}

func (n *noopStateMachine) MakeSnapshot() ([]byte, error)        { return nil, nil }
func (n *noopStateMachine) RestoreSnapshot(snapshot []byte) error { return nil }
func (n *noopStateMachine) Reset()                                {}
