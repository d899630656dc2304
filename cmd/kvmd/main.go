package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanternops/kvmd/internal/adminws"
	"github.com/lanternops/kvmd/internal/audit"
	"github.com/lanternops/kvmd/internal/config"
	"github.com/lanternops/kvmd/internal/hoststat"
	"github.com/lanternops/kvmd/internal/logging"
	"github.com/lanternops/kvmd/internal/platform"
	"github.com/lanternops/kvmd/internal/server"
)

var (
	version = "0.1.0"

	cfgFile     string
	address     string
	screenName  string
	debug       bool
	daemon      bool
	noDaemon    bool
	restart     bool
	noRestart   bool
)

var log = logging.L("main")

// Exit codes per the CLI surface: 0 clean, 2 bad arguments, 3 config
// error, 4 fatal startup failure (e.g. the listen address is already in
// use; the bind is not retried).
const (
	exitOK          = 0
	exitBadArgs     = 2
	exitConfigError = 3
	exitFatal       = 4
)

var rootCmd = &cobra.Command{
	Use:   "kvmd",
	Short: "Keyboard, mouse, and clipboard sharing server",
	Long:  "kvmd shares one keyboard and mouse across multiple screens arranged in a configured topology, and replicates the system clipboard between them.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kvmd v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the configured topology and exit",
	Run: func(cmd *cobra.Command, args []string) {
		printStatus()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/kvmd/kvmd.yaml)")
	rootCmd.PersistentFlags().StringVar(&address, "address", "", "listen address, e.g. :24800")
	rootCmd.PersistentFlags().StringVar(&screenName, "name", "", "this machine's screen name (defaults to the first configured screen, or the hostname when none are configured)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	runCmd.Flags().BoolVar(&daemon, "daemon", false, "accepted for compatibility; kvmd always runs in the foreground")
	runCmd.Flags().BoolVar(&noDaemon, "no-daemon", false, "accepted for compatibility; kvmd always runs in the foreground")
	runCmd.Flags().BoolVar(&restart, "restart", false, "accepted for compatibility; kvmd does not restart itself")
	runCmd.Flags().BoolVar(&noRestart, "no-restart", false, "accepted for compatibility; kvmd does not restart itself")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitBadArgs)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if address != "" {
		cfg.Address = address
	}
	if screenName != "" {
		cfg.Name = screenName
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")

	if cfg.CollectorURL != "" {
		logging.InitShipper(logging.ShipperConfig{
			CollectorURL:  cfg.CollectorURL,
			ServerName:    cfg.Name,
			AuthToken:     cfg.CollectorAuth,
			ServerVersion: version,
		})
	}
}

func dataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "kvmd")
	case "darwin":
		return "/Library/Application Support/kvmd"
	default:
		return "/var/lib/kvmd"
	}
}

func runServer() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(exitConfigError)
	}
	initLogging(cfg)
	defer logging.StopShipper()

	topo, err := config.NewTopology(cfg)
	if err != nil {
		log.Error("invalid topology", "error", err)
		os.Exit(exitConfigError)
	}

	auditLog, err := audit.NewLogger(cfg, dataDir())
	if err != nil {
		log.Warn("audit logging disabled", "error", err)
		auditLog = nil
	}
	defer auditLog.Close()

	primary := platform.NewLocalScreen(platform.Rect{X: 0, Y: 0, W: 1920, H: 1080}, 4)
	srv, err := server.New(cfg, topo, primary, auditLog)
	if err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(exitFatal)
	}

	log.Info("kvmd starting", "version", version, "address", srv.Addr(), "screens", len(cfg.Screens))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notified := append([]os.Signal{}, shutdownSignals...)
	if haveReloadSignal {
		notified = append(notified, reloadSignal)
	}
	signal.Notify(sigChan, notified...)

	if cfg.AdminWSEnabled {
		hub := adminws.NewHub()
		srv.SetEventSink(hub)
		adminSrv, err := adminws.Serve(cfg.AdminWSAddress, hub, srv, topo)
		if err != nil {
			log.Error("admin websocket feed disabled", "error", err)
		} else {
			defer adminSrv.Close()
			log.Info("admin websocket feed listening", "address", cfg.AdminWSAddress)
		}
	}

	watcher, err := config.NewWatcher(cfgFile, func(newCfg *config.Config) {
		newTopo, err := config.NewTopology(newCfg)
		if err != nil {
			log.Error("live reload failed, invalid topology", "error", err)
			return
		}
		srv.Reload(newCfg, newTopo)
	})
	if err != nil {
		log.Warn("config file watch disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	for {
		select {
		case sig := <-sigChan:
			if haveReloadSignal && sig == reloadSignal {
				log.Info("received SIGHUP, reloading configuration")
				newCfg, err := loadConfig()
				if err != nil {
					log.Error("reload failed, keeping current configuration", "error", err)
					continue
				}
				newTopo, err := config.NewTopology(newCfg)
				if err != nil {
					log.Error("reload failed, invalid topology", "error", err)
					continue
				}
				srv.Reload(newCfg, newTopo)
				continue
			}
			log.Info("shutting down", "signal", sig)
			cancel()
			<-errCh
			return
		case err := <-errCh:
			if err != nil {
				log.Error("server exited", "error", err)
				os.Exit(exitFatal)
			}
			return
		}
	}
}

func printStatus() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(exitConfigError)
	}
	topo, err := config.NewTopology(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid topology: %v\n", err)
		os.Exit(exitConfigError)
	}
	fmt.Printf("primary screen: %s\n", topo.PrimaryName())
	fmt.Printf("listen address: %s\n", topo.Address())
	if facts, err := hoststat.Collect(); err != nil {
		fmt.Printf("host: unavailable (%v)\n", err)
	} else {
		fmt.Printf("host: up %s, load %.2f, mem %.0f%% used\n", facts.Uptime.Round(time.Second), facts.Load1, facts.MemUsedPercent)
	}
	for _, s := range cfg.Screens {
		fmt.Printf("  screen %q", s.Name)
		if len(s.Aliases) > 0 {
			fmt.Printf(" (aliases: %v)", s.Aliases)
		}
		fmt.Println()
	}
}
