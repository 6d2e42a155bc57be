package cmd

import (
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/cacherouter/cachemap"
	"github.com/inference-sim/cacherouter/config"
	"github.com/inference-sim/cacherouter/httpapi"
	"github.com/inference-sim/cacherouter/protocol"
	"github.com/inference-sim/cacherouter/router"
)

var (
	routerEnvPath   string
	routerYAMLPath  string
	routerListen    string
	routerStrategy  string
	routerProxyMode bool
)

var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Run the cache-aware router dispatcher",
	Run:   runRouter,
}

func init() {
	routerCmd.Flags().StringVar(&routerEnvPath, "env", "", "optional .env file path")
	routerCmd.Flags().StringVar(&routerYAMLPath, "config", "", "optional YAML config file path")
	routerCmd.Flags().StringVar(&routerListen, "listen", "", "override listen_addr (e.g. :8080)")
	routerCmd.Flags().StringVar(&routerStrategy, "strategy", "", "override strategy (cache_aware|round_robin|least_loaded)")
	routerCmd.Flags().BoolVar(&routerProxyMode, "proxy-mode", false, "override proxy_mode")
}

func runRouter(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadRouterConfig(routerEnvPath, routerYAMLPath)
	if err != nil {
		logrus.Fatalf("router: config load failed: %v", err)
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = routerListen
	}
	if cmd.Flags().Changed("strategy") {
		cfg.Strategy = config.Strategy(routerStrategy)
	}
	if cmd.Flags().Changed("proxy-mode") {
		cfg.ProxyMode = routerProxyMode
	}
	setLogLevel(cfg.LogLevel)

	now := func() int64 { return time.Now().UnixMilli() }

	m := cachemap.New()
	reg := router.NewRegistry(cfg.StaleWorkerTimeoutMS, cfg.SpeculativeLoadTTLMS)
	dispatcher := &router.Dispatcher{
		Strategy:              router.Strategy(cfg.Strategy),
		Map:                   m,
		Registry:              reg,
		BlockSize:             cfg.BlockSizeTokens,
		SpeculativeLoadAddend: cfg.SpeculativeLoadAddend,
	}
	protoHandler := protocol.NewHandler(m, reg, now)
	server := httpapi.NewRouterServer(dispatcher, reg, protoHandler, cfg.ProxyMode, now)

	ctx, stop := notifyContext()
	defer stop()

	var wg sync.WaitGroup
	runLoop(ctx, &wg, cfg.StaleWindow(), func() {
		for _, id := range reg.ReapStale(time.Now().UnixMilli()) {
			logrus.WithField("worker_id", id).Warn("router: reaped stale worker")
		}
	})

	logrus.WithFields(logrus.Fields{
		"listen_addr": cfg.ListenAddr,
		"strategy":    cfg.Strategy,
		"proxy_mode":  cfg.ProxyMode,
	}).Info("router: listening")

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server.Routes()}
	runServerUntil(ctx, "router", httpServer)
	wg.Wait()
	logrus.Info("router: background loops joined, exiting")
}
