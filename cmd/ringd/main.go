package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/ryandielhenn/ringd/internal/config"
	"github.com/ryandielhenn/ringd/internal/telemetry"
	"github.com/ryandielhenn/ringd/pkg/admin"
	"github.com/ryandielhenn/ringd/pkg/gossip"
	"github.com/ryandielhenn/ringd/pkg/node"
	"github.com/ryandielhenn/ringd/pkg/registry"
)

// Set with -ldflags "-X main.version=... -X main.gitSHA=...".
var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("ringd", flag.ContinueOnError)
	cfgPath := fs.String("config", os.Getenv("RINGD_CONFIG"), "YAML or TOML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// 1. Configuration: defaults, file, environment, then argument 1
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if !cfg.ApplyArgs(fs.Args()) && cfg.SelfID == 0 {
		host, _ := os.Hostname()
		id, err := registry.IDFromHostname(cfg.Resolver.HostFormat, host)
		if err != nil {
			fmt.Fprintf(os.Stderr, "no node id given and none derivable from host name: %v\n", err)
			return 1
		}
		cfg.SelfID = id
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer log.Sync()

	bootID := uuid.NewString()
	log = log.With(zap.String("boot_id", bootID))
	log.Info("starting ringd",
		zap.Uint32("id", uint32(cfg.SelfID)),
		zap.Uint32("recruiter", uint32(cfg.RecruiterID)),
		zap.String("version", version))
	telemetry.SetBuildInfo(version, gitSHA)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Address resolution
	resolver, closeResolver, err := buildResolver(ctx, cfg, log)
	if err != nil {
		log.Error("resolver setup failed", zap.Error(err))
		return 1
	}
	defer closeResolver()

	// 3. Transport and protocol engine
	hbAddr := net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.HeartbeatPort))
	tr, err := gossip.ListenUDP(gossip.UDPConfig{
		HeartbeatAddr: hbAddr,
		BackpropAddr:  net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.HeartbeatPort+1)),
		Resolver:      resolver,
	}, log)
	if err != nil {
		log.Error("transport setup failed", zap.Error(err))
		return 1
	}
	defer tr.Close()

	d := gossip.New(cfg.SelfID, cfg.Gossip(), tr, log)
	defer d.Stop()

	// 4. Admin surfaces
	n := node.NewNode(d, cfg.Admin.HTTPAddr, bootID)
	httpSrv := serveHTTP(cfg.Admin.HTTPAddr, n, log)
	defer shutdownHTTP(httpSrv)
	if cfg.Admin.GRPCAddr != "" {
		gs, err := serveGRPC(cfg.Admin.GRPCAddr, admin.NewInspector(d, bootID), log)
		if err != nil {
			log.Error("grpc setup failed", zap.Error(err))
			return 1
		}
		defer gs.Stop()
	}

	// 5. Join and hand control to the operator
	// The daemon outlives the signal context so a signal can still leave
	// gracefully.
	if err := d.Start(context.Background()); err != nil {
		log.Error("join failed", zap.Error(err))
		return 1
	}

	done := make(chan int, 1)
	go func() { done <- repl(ctx, os.Stdin, os.Stdout, d, log) }()
	select {
	case code := <-done:
		return code
	case <-ctx.Done():
		if d.Phase() != gossip.PhaseJoined {
			log.Info("signal received before joining, stopping")
			d.Kill()
			return 0
		}
		log.Info("signal received, leaving")
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.Leave(leaveCtx); err != nil {
			log.Error("leave failed", zap.Error(err))
			return 1
		}
		return 0
	}
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		lvl, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = lvl
	}
	return zc.Build()
}

// buildResolver returns the resolver named by the config and a func that
// releases whatever it holds.
func buildResolver(ctx context.Context, cfg config.Config, log *zap.Logger) (gossip.Resolver, func(), error) {
	switch cfg.Resolver.Kind {
	case config.ResolverStatic:
		peers, err := config.ParsePeers(cfg.Resolver.Peers)
		if err != nil {
			return nil, nil, err
		}
		return registry.StaticResolver{Peers: peers, DefaultPort: cfg.HeartbeatPort}, func() {}, nil
	case config.ResolverEtcd:
		return etcdResolver(ctx, cfg, log)
	default:
		return registry.TemplateResolver{Format: cfg.Resolver.HostFormat, Port: cfg.HeartbeatPort}, func() {}, nil
	}
}

func etcdResolver(ctx context.Context, cfg config.Config, log *zap.Logger) (gossip.Resolver, func(), error) {
	log.Info("creating etcd client", zap.Strings("endpoints", cfg.Etcd.Endpoints))
	cli, err := registry.NewClient(cfg.Etcd.Endpoints)
	if err != nil {
		return nil, nil, fmt.Errorf("etcd client: %w", err)
	}
	reg := registry.NewEtcdRegistry(cli, cfg.Etcd.Prefix, cfg.HeartbeatPort, log)

	// Bootstrap the peer cache, then keep it fresh
	if err := reg.Load(ctx); err != nil {
		cli.Close()
		return nil, nil, err
	}
	watchCtx, stopWatch := context.WithCancel(ctx)
	go reg.Watch(watchCtx)

	advertise := cfg.Etcd.Advertise
	if advertise == "" {
		host, _ := os.Hostname()
		advertise = net.JoinHostPort(host, strconv.Itoa(cfg.HeartbeatPort))
	}
	leaseID, cancelLease, err := reg.Register(ctx, cfg.SelfID, advertise, cfg.Etcd.LeaseTTL)
	if err != nil {
		stopWatch()
		cli.Close()
		return nil, nil, err
	}
	return reg, func() {
		cancelLease()
		stopWatch()
		revokeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = cli.Revoke(revokeCtx, leaseID)
		cli.Close()
	}, nil
}

func serveHTTP(addr string, n *node.Node, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("/members", telemetry.Instrument("members", http.HandlerFunc(n.Members)))
	mux.Handle("/metrics", telemetry.MetricsHandler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("admin http listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("admin http stopped", zap.Error(err))
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func serveGRPC(addr string, ins *admin.Inspector, log *zap.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	s := grpc.NewServer()
	admin.Register(s, ins)
	go func() {
		log.Info("admin grpc listening", zap.Stringer("addr", lis.Addr()))
		if err := s.Serve(lis); err != nil {
			log.Warn("admin grpc stopped", zap.Error(err))
		}
	}()
	return s, nil
}
