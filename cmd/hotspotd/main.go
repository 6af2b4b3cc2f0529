// hotspotd - concurrent WiFi hotspot daemon
//
// hotspotd owns the hotspot session on this machine. It shares the WiFi
// connection an interface is already using by creating a virtual access
// point on the same radio, and keeps the session alive across short uplink
// drops. The hotspot CLI talks to it over a Unix socket.
//
// Usage:
//
//	hotspotd [--config FILE] [--env-file FILE] [-v] [--log-format json]
//	hotspotd version
//
// Configuration layers, later ones winning: built-in defaults, the YAML
// file, HOTSPOT_* variables (optionally loaded from the env file).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/davytheprogrammer/hotspot-manager/pkg/apsvc"
	"github.com/davytheprogrammer/hotspot-manager/pkg/audit"
	"github.com/davytheprogrammer/hotspot-manager/pkg/auth"
	"github.com/davytheprogrammer/hotspot-manager/pkg/config"
	"github.com/davytheprogrammer/hotspot-manager/pkg/control"
	"github.com/davytheprogrammer/hotspot-manager/pkg/devices"
	"github.com/davytheprogrammer/hotspot-manager/pkg/engine"
	"github.com/davytheprogrammer/hotspot-manager/pkg/events"
	"github.com/davytheprogrammer/hotspot-manager/pkg/host"
	"github.com/davytheprogrammer/hotspot-manager/pkg/link"
	"github.com/davytheprogrammer/hotspot-manager/pkg/metrics"
	"github.com/davytheprogrammer/hotspot-manager/pkg/nat"
	"github.com/davytheprogrammer/hotspot-manager/pkg/probe"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
	"github.com/davytheprogrammer/hotspot-manager/pkg/version"
)

var (
	configPath string
	envFile    string
	verbose    bool
	logFormat  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hotspotd: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "hotspotd",
	Short:             "Concurrent WiFi hotspot daemon",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Args:              cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFile(envFile); err != nil {
			return err
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := setupLogging(cfg); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hotspotd %s\n", version.Info())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.Flags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "Environment file with HOTSPOT_* overrides")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "", "Log format: text or json (overrides config)")
	rootCmd.AddCommand(versionCmd)
}

func setupLogging(cfg *config.Config) error {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	if err := util.SetLogLevel(level); err != nil {
		return err
	}
	format := cfg.Log.Format
	if logFormat != "" {
		format = logFormat
	}
	switch format {
	case "json":
		util.SetJSONFormat()
	case "text":
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	log := util.WithField("version", version.Version)
	log.Info("hotspotd starting")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	runner := host.LocalRunner{}
	prober := probe.New(runner)
	if missing := prober.Tools(ctx).Missing(); len(missing) > 0 {
		log.Warnf("missing tools: %v; sessions will fail until they are installed", missing)
	}

	natMgr, err := nat.NewSystem()
	if err != nil {
		return err
	}

	var linkOpts []link.Option
	linkOpts = append(linkOpts, link.WithInterval(cfg.PollInterval), link.WithMetrics(m))
	if cfg.Netlink {
		linkOpts = append(linkOpts, link.WithNotifier(link.NetlinkNotifier{}))
	}

	var observers []engine.Observer
	var history audit.Logger
	if cfg.History != "" {
		fl, err := audit.NewFileLogger(cfg.History, audit.RotationConfig{MaxSize: 10 * 1024 * 1024, MaxBackups: 5})
		if err != nil {
			log.Warnf("session history disabled: %v", err)
		} else {
			defer fl.Close()
			history = fl
			observers = append(observers, fl)
		}
	}

	var publisher *events.Publisher
	if cfg.Redis.Addr != "" {
		publisher = events.NewPublisher(cfg.Redis.Addr, cfg.Redis.Channel)
		defer publisher.Close()
		if err := publisher.Connect(ctx); err != nil {
			log.Warnf("%v; transitions will be published once redis is reachable", err)
		}
		observers = append(observers, publisher)
	}

	eng := engine.New(engine.Deps{
		Prober: prober,
		AP: engine.Supervisor(apsvc.New(apsvc.IWLinks{Runner: runner}, host.ExecLauncher{}, apsvc.Options{
			StateDir:    cfg.StateDir,
			HostapdPath: cfg.HostapdPath,
			DnsmasqPath: cfg.DnsmasqPath,
		})),
		NAT:  natMgr,
		Link: link.New(link.NMQuerier{Runner: runner}, linkOpts...),
		Devices: devices.New(devices.NetlinkSweeper{}, devices.DNSResolver{}, devices.Options{
			Window:  cfg.DeviceSilence,
			Metrics: m,
		}),
	}, engine.Options{
		GracePeriod:    cfg.GracePeriod,
		Subnet:         cfg.SubnetPrefix(),
		PoolStart:      cfg.PoolStart,
		PoolEnd:        cfg.PoolEnd,
		LeaseTime:      cfg.LeaseTime,
		CountryCode:    cfg.CountryCode,
		StartupTimeout: cfg.StartupTimeout,
		Interface:      cfg.Interface,
		Metrics:        m,
		Observers:      observers,
	})

	// The publisher outlives the engine so the final stopping -> idle
	// transitions are still delivered.
	pubCtx, stopPublisher := context.WithCancel(context.Background())
	defer stopPublisher()
	pubDone := make(chan struct{})
	if publisher != nil {
		go func() {
			defer close(pubDone)
			publisher.Run(pubCtx)
		}()
	} else {
		close(pubDone)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return control.NewServer(eng, control.Options{
			Metrics: m,
			History: history,
			Access:  auth.NewChecker(cfg.Access),
		}).Serve(gctx, cfg.Socket)
	})
	if cfg.MetricsListen != "" {
		g.Go(func() error {
			return control.ServeMetrics(gctx, cfg.MetricsListen, m)
		})
	}

	err = g.Wait()
	stopPublisher()
	<-pubDone

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("hotspotd stopped")
	return nil
}
