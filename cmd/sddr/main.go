// Command sddr runs one encounter detection node.
//
// Radio options come from an optional YAML file, flags override them:
//
//	radio:
//	  version: bt4
//	  confirm: {type: passive, threshold: 0.05}
//	  epoch_interval: 15m
//	hysteresis:
//	  scheme: standard
//	advertised: [00112233...]
//	listen: [00112233...]
//
// The node talks to other nodes over UDP. Peers are given statically with
// -peers, or found through etcd with -etcd. With -medium=memory it instead
// runs -sim-peers extra nodes in process, which is handy for demos.
//
// Usage:
//
//	go run ./cmd/sddr -config node.yaml -udp :7400 -peers 10.0.0.2:7400
//	go run ./cmd/sddr -version bt2 -medium memory -sim-peers 3 -link 0011aabb
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hrissan/sddr/clock"
	"github.com/hrissan/sddr/controller"
	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/linkvalue"
	"github.com/hrissan/sddr/medium"
	"github.com/hrissan/sddr/options"
	"github.com/hrissan/sddr/peers"
	"github.com/hrissan/sddr/radio"
	"github.com/hrissan/sddr/sddrrand"
	"github.com/hrissan/sddr/stats"
	"github.com/hrissan/sddr/telemetry"
	"github.com/hrissan/sddr/udpmedium"
)

type flags struct {
	configPath string
	version    string
	confirm    string
	links      string
	churn      bool
	bench      int
	verbose    bool

	id         string
	httpAddr   string
	mediumKind string
	udpAddr    string
	peerList   string
	etcd       string
	leaseTTL   int64
	simPeers   int
	keepRecent int
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML options file")
	flag.StringVar(&f.version, "version", "", "Radio version: bt2, bt2nr, bt2psi, bt4, bt4ar")
	flag.StringVar(&f.confirm, "confirm", "", "Confirmation scheme, e.g. passive:0.05")
	flag.StringVar(&f.links, "link", "", "Comma separated hex link values, both advertised and listened for")
	flag.BoolVar(&f.churn, "churn", false, "Memoryless mode for measuring address churn")
	flag.IntVar(&f.bench, "bench", 0, "Replace link values with this many random ones")
	flag.BoolVar(&f.verbose, "verbose", false, "Log adverts and devices")

	flag.StringVar(&f.id, "id", "", "Node id in the peer registry (random if empty)")
	flag.StringVar(&f.httpAddr, "http", ":8090", "HTTP listen address for /metrics, /healthz and /encounters")
	flag.StringVar(&f.mediumKind, "medium", "udp", "Radio medium: udp or memory")
	flag.StringVar(&f.udpAddr, "udp", "0.0.0.0:7400", "UDP listen address")
	flag.StringVar(&f.peerList, "peers", "", "Comma separated static peer addresses host:port")
	flag.StringVar(&f.etcd, "etcd", "", "Comma separated etcd endpoints for peer discovery")
	flag.Int64Var(&f.leaseTTL, "lease-ttl", 10, "Registry lease TTL in seconds")
	flag.IntVar(&f.simPeers, "sim-peers", 2, "Extra in-process nodes with -medium=memory")
	flag.IntVar(&f.keepRecent, "keep", 256, "Number of recent encounter events served over HTTP")
	flag.Parse()
	return f
}

func (f *flags) apply(opts *options.Options) error {
	if f.configPath != "" {
		if err := opts.LoadFile(f.configPath); err != nil {
			return err
		}
	}
	if f.version != "" {
		v, err := options.ParseVersion(f.version)
		if err != nil {
			return err
		}
		opts.Radio.Version = v
	}
	if f.confirm != "" {
		c, err := options.ParseConfirmScheme(f.confirm)
		if err != nil {
			return err
		}
		opts.Radio.Confirm = &c
	}
	if f.links != "" {
		var values []linkvalue.LinkValue
		for _, s := range strings.Split(f.links, ",") {
			var v linkvalue.LinkValue
			if err := v.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
				return err
			}
			values = append(values, v)
		}
		opts.Advertised = values
		opts.Listen = append([]linkvalue.LinkValue(nil), values...)
	}
	if f.bench > 0 {
		opts.ApplyBench(f.bench, 32)
	}
	if f.churn {
		opts.ApplyChurn()
	}
	return opts.Validate()
}

func main() {
	f := parseFlags()

	logger, err := newLogger(f.verbose)
	if err != nil {
		fmt.Printf("Logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if err := run(f, logger); err != nil {
		logger.Fatal("sddr failed", zap.Error(err))
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(f flags, logger *zap.Logger) error {
	if f.id == "" {
		f.id = uuid.NewString()
	}
	logger = logger.With(zap.String("node", f.id))

	metrics := telemetry.NewMetrics()
	var statsLog *stats.StatsLog
	if f.verbose {
		statsLog = stats.NewStatsLogVerbose(logger)
	} else {
		statsLog = stats.NewStatsLog(logger)
	}
	st := telemetry.NewStatsMetrics(statsLog, metrics)

	opts := options.DefaultOptions(sddrrand.CryptoRand(), st, clock.Real())
	if err := f.apply(opts); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	shown := *opts // link values stay out of logs
	shown.Advertised, shown.Listen = nil, nil
	if effective, err := yaml.Marshal(&shown); err == nil {
		logger.Info("effective options", zap.String("yaml", string(effective)),
			zap.Int("advertised", len(opts.Advertised)), zap.Int("listen", len(opts.Listen)))
	}
	metrics.SetBuildInfo("dev", opts.Radio.Version.String())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel() // runs before wg.Wait

	adapter, err := openMedium(ctx, &wg, f, opts, logger)
	if err != nil {
		return err
	}

	r, err := radio.New(opts, adapter)
	if err != nil {
		return fmt.Errorf("radio: %w", err)
	}
	defer func() { _ = r.Close() }()

	recent := newEncounterLog(f.keepRecent)
	ctrl := controller.New(r, opts)
	ctrl.SetCallback(func(ev *events.EncounterEvent) {
		recent.add(ev)
		st.Encounter(ev)
	})

	httpServer := &http.Server{
		Addr:         f.httpAddr,
		Handler:      newRouter(metrics, recent, ctrl),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("http listening", zap.String("addr", f.httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
			cancel()
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	err = ctrl.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	return err
}

// openMedium returns the local radio adapter. Background work it starts
// stops when ctx is done.
func openMedium(ctx context.Context, wg *sync.WaitGroup, f flags, opts *options.Options, logger *zap.Logger) (radio.Adapter, error) {
	switch f.mediumKind {
	case "memory":
		m := medium.New(opts.Clock)
		for i := 0; i < f.simPeers; i++ {
			if err := startSimPeer(ctx, wg, m, i, opts, logger); err != nil {
				return nil, err
			}
		}
		return m.NewNode(f.id), nil
	case "udp":
		node, err := udpmedium.Open(f.udpAddr, udpmedium.DefaultOptions(), opts.Stats, opts.Clock)
		if err != nil {
			return nil, err
		}
		static, err := parsePeers(f.peerList)
		if err != nil {
			_ = node.Close()
			return nil, err
		}
		node.SetPeers(static)
		if f.etcd != "" {
			if err := watchRegistry(ctx, wg, f, node, static, logger); err != nil {
				_ = node.Close()
				return nil, err
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			_ = node.Close()
		}()
		return node, nil
	}
	return nil, fmt.Errorf("unknown medium %q", f.mediumKind)
}

func parsePeers(list string) ([]netip.AddrPort, error) {
	var result []netip.AddrPort
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		ap, err := netip.ParseAddrPort(s)
		if err != nil {
			return nil, fmt.Errorf("peer %q: %w", s, err)
		}
		result = append(result, ap)
	}
	return result, nil
}

func watchRegistry(ctx context.Context, wg *sync.WaitGroup, f flags, node *udpmedium.Node, static []netip.AddrPort, logger *zap.Logger) error {
	cli, err := peers.NewClient(strings.Split(f.etcd, ","), 5*time.Second)
	if err != nil {
		return fmt.Errorf("etcd: %w", err)
	}
	registry := peers.New(logger, cli)
	unregister, err := registry.Register(ctx, f.id, node.LocalAddr().String(), f.leaseTTL)
	if err != nil {
		_ = cli.Close()
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { _ = cli.Close() }()
		err := registry.WatchPeers(ctx, func(all map[string]string) {
			found, errs := peers.Addresses(all, f.id)
			for _, err := range errs {
				logger.Warn("bad peer address", zap.Error(err))
			}
			node.SetPeers(append(found, static...))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("peer watch stopped", zap.Error(err))
		}
		revokeCtx, revokeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer revokeCancel()
		_ = unregister(revokeCtx)
	}()
	return nil
}

// startSimPeer runs a node sharing the link values of opts, with its own
// randomness and quieter logging.
func startSimPeer(ctx context.Context, wg *sync.WaitGroup, m *medium.Medium, i int, opts *options.Options, logger *zap.Logger) error {
	peerOpts := *opts
	peerOpts.Rnd = sddrrand.CryptoRand()
	peerOpts.Stats = stats.NewStatsLog(logger.With(zap.Int("sim_peer", i)))
	r, err := radio.New(&peerOpts, m.NewNode(fmt.Sprintf("sim-%d", i)))
	if err != nil {
		return err
	}
	ctrl := controller.New(r, &peerOpts)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { _ = r.Close() }()
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sim peer stopped", zap.Int("sim_peer", i), zap.Error(err))
		}
	}()
	return nil
}
