package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/cacherouter/blockhash"
	"github.com/inference-sim/cacherouter/config"
	"github.com/inference-sim/cacherouter/httpapi"
	"github.com/inference-sim/cacherouter/metrics"
	"github.com/inference-sim/cacherouter/protocol"
	"github.com/inference-sim/cacherouter/scheduler"
	"github.com/inference-sim/cacherouter/workercache"
)

var (
	workerEnvPath   string
	workerYAMLPath  string
	workerListen    string
	workerRouterURL string
	workerNBlocks   int
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker's block cache, scheduler, and admission API",
	Run:   runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerEnvPath, "env", "", "optional .env file path")
	workerCmd.Flags().StringVar(&workerYAMLPath, "config", "", "optional YAML config file path")
	workerCmd.Flags().StringVar(&workerListen, "listen", "", "override listen_addr (e.g. :9090)")
	workerCmd.Flags().StringVar(&workerRouterURL, "router-url", "", "override router_url")
	workerCmd.Flags().IntVar(&workerNBlocks, "n-blocks", 0, "override capacity_blocks")
}

func runWorker(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadWorkerConfig(workerEnvPath, workerYAMLPath)
	if err != nil {
		logrus.Fatalf("worker: config load failed: %v", err)
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = workerListen
	}
	if cmd.Flags().Changed("router-url") {
		cfg.RouterURL = workerRouterURL
	}
	if cmd.Flags().Changed("n-blocks") {
		cfg.CapacityBlocks = workerNBlocks
	}
	setLogLevel(cfg.LogLevel)

	now := func() int64 { return time.Now().UnixMilli() }

	cache := workercache.New(cfg.CapacityBlocks)
	client := &workerRouterClient{baseURL: cfg.RouterURL, httpClient: &http.Client{Timeout: 2 * time.Second}}
	cache.OnEvict = func(hash blockhash.Hash) {
		metrics.EvictionsTotal.Inc()
		client.reportEviction(cfg.WorkerID, hash)
	}

	latency := scheduler.LatencyConfig{
		PrefillBaseMS:     cfg.PrefillBaseMS,
		PrefillPerBlockMS: cfg.PrefillPerBlockMS,
		DecodePerTokenMS:  cfg.DecodePerTokenMS,
	}
	sched := scheduler.New(cache, latency)
	server := httpapi.NewWorkerServer(sched, cfg.BlockSizeTokens, now)

	ctx, stop := notifyContext()
	defer stop()

	var wg sync.WaitGroup
	runLoop(ctx, &wg, time.Duration(cfg.HeartbeatPeriodMS)*time.Millisecond, func() {
		client.reportHeartbeat(protocol.Heartbeat{
			WorkerID:    cfg.WorkerID,
			CurrentLoad: sched.CurrentLoad(now()),
			WorkerURL:   "http://" + cfg.ListenAddr,
		})
	})
	runLoop(ctx, &wg, time.Duration(cfg.SyncPeriodMS)*time.Millisecond, func() {
		client.reportSync(protocol.Sync{
			WorkerID:     cfg.WorkerID,
			CachedHashes: cache.CachedHashes(),
			Sequences:    cache.Sequences(),
		})
	})

	logrus.WithFields(logrus.Fields{
		"listen_addr": cfg.ListenAddr,
		"worker_id":   cfg.WorkerID,
		"capacity":    cfg.CapacityBlocks,
	}).Info("worker: listening")

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server.Routes()}
	runServerUntil(ctx, "worker", httpServer)
	wg.Wait()
	logrus.Info("worker: background loops joined, exiting")
}

// workerRouterClient is a thin best-effort client for the three protocol
// messages a worker pushes to the router (spec.md §4.6). Transient failures
// are logged and dropped: the next periodic cycle carries current state
// (spec.md §7).
type workerRouterClient struct {
	baseURL    string
	httpClient *http.Client
}

func (c *workerRouterClient) reportHeartbeat(msg protocol.Heartbeat) {
	c.post("/internal/heartbeat", msg)
}

func (c *workerRouterClient) reportEviction(workerID string, hash blockhash.Hash) {
	c.post("/internal/evict", protocol.Eviction{WorkerID: workerID, BlockHash: hash})
}

func (c *workerRouterClient) reportSync(msg protocol.Sync) {
	c.post("/internal/sync", msg)
}

func (c *workerRouterClient) post(path string, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		logrus.WithError(err).Warn("worker: failed to marshal protocol message")
		return
	}
	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		logrus.WithError(err).WithField("path", path).Warn("worker: protocol message failed in transit")
		return
	}
	resp.Body.Close()
}
