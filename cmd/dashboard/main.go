package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/sentinel/internal/dashboard"
	"github.com/betbot/sentinel/internal/feeds"
	"github.com/betbot/sentinel/internal/journal"
	"github.com/betbot/sentinel/internal/snapshot"
	"github.com/betbot/sentinel/internal/state"
	"github.com/betbot/sentinel/internal/statusserver"
	"github.com/betbot/sentinel/pkg/config"
	"github.com/betbot/sentinel/pkg/logger"
	"github.com/betbot/sentinel/pkg/persistence"
	"github.com/betbot/sentinel/pkg/realtime"
	"github.com/betbot/sentinel/pkg/sdk/api"
	"github.com/betbot/sentinel/pkg/shutdown"
)

// 消息日志保留时间
const journalRetention = 7 * 24 * time.Hour

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	statusAddr := flag.String("status", "", "本地状态接口监听地址，覆盖配置文件")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *statusAddr != "" {
		cfg.StatusAddr = *statusAddr
	}

	// 终端界面占用 stdout，日志只写文件
	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/dashboard.log"
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: logFile,
		MaxSize:    50,
		MaxBackups: 3,
		MaxAge:     7,
		Quiet:      true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := run(cfg); err != nil {
		logger.Errorf("[dashboard] 退出: %v", err)
		fmt.Fprintf(os.Stderr, "运行失败: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := shutdown.NewManager()
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("[dashboard] 关闭时出错: %v", err)
		}
	}()

	proxyURL := ""
	if cfg.Proxy != nil {
		proxyURL = cfg.Proxy.URL()
	}

	apiClient := api.NewClientWithConfig(api.Config{
		BaseURL:        cfg.API.BaseURL,
		Timeout:        cfg.API.Timeout,
		MarketCacheTTL: cfg.API.MarketCacheTTL,
		ProxyURL:       proxyURL,
	})
	mgr.OnShutdown("api", func(context.Context) error {
		apiClient.Close()
		return nil
	})

	transport, err := feeds.NewTransport(cfg.Realtime, proxyURL)
	if err != nil {
		return err
	}
	rt := realtime.NewClientWithConfig(transport, feeds.ClientConfig(cfg.Realtime))

	store := state.NewStore()
	loader := feeds.NewLoader(apiClient, store)

	if cfg.Storage.SnapshotDir != "" {
		if err := startSnapshot(ctx, mgr, cfg.Storage, store); err != nil {
			return err
		}
	}

	var bridgeOpts []feeds.BridgeOption
	deps := statusserver.Deps{Realtime: rt, Store: store, Acknowledger: loader, Debug: true}
	if cfg.Storage.JournalPath != "" {
		j, err := journal.Open(cfg.Storage.JournalPath)
		if err != nil {
			return fmt.Errorf("打开消息日志失败: %w", err)
		}
		mgr.OnShutdown("journal", func(context.Context) error { return j.Close() })
		if n, err := j.Prune(ctx, time.Now().Add(-journalRetention)); err != nil {
			logger.Warnf("[dashboard] 清理消息日志失败: %v", err)
		} else if n > 0 {
			logger.Infof("[dashboard] 清理了 %d 条过期消息", n)
		}
		bridgeOpts = append(bridgeOpts, feeds.WithRecorder(j))
		deps.Journal = j
	}

	bridge := feeds.NewBridge(rt, store, bridgeOpts...)
	// 首次连接前已经加载过 REST 数据，之后每次重连补拉一次
	var connectedOnce atomic.Bool
	bridge.OnConnected = func() {
		if connectedOnce.Swap(true) {
			go loadAll(ctx, loader)
		}
	}
	bridge.Start()
	mgr.OnShutdown("realtime", func(context.Context) error {
		bridge.Stop()
		return nil
	})

	go loadAll(ctx, loader)
	go loader.RunMarketRefresh(ctx, cfg.MarketRefreshInterval)

	if cfg.StatusAddr != "" {
		srv := statusserver.New(deps)
		if _, err := srv.Start(ctx, cfg.StatusAddr); err != nil {
			return fmt.Errorf("启动状态接口失败: %w", err)
		}
		mgr.OnShutdown("status", srv.Shutdown)
	}

	model := dashboard.New(ctx, store, loader)
	model.OnQuit = cancel
	return dashboard.Run(ctx, model)
}

func openSnapshotService(cfg config.StorageConfig) (persistence.Service, error) {
	if cfg.SnapshotBackend == config.SnapshotBackendJSON {
		return persistence.NewFileService(cfg.SnapshotDir), nil
	}
	return persistence.OpenBadger(persistence.BadgerOptions{Path: cfg.SnapshotDir})
}

func startSnapshot(ctx context.Context, mgr *shutdown.Manager, cfg config.StorageConfig, store *state.Store) error {
	svc, err := openSnapshotService(cfg)
	if err != nil {
		return fmt.Errorf("打开快照存储失败: %w", err)
	}
	keeper := snapshot.NewKeeper(svc, "", store, 0)
	if _, err := keeper.Restore(); err != nil {
		logger.Warnf("[dashboard] 恢复快照失败: %v", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		keeper.Run(runCtx)
	}()
	mgr.OnShutdown("snapshot", func(ctx context.Context) error {
		stop()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return svc.Close()
	})
	return nil
}

func loadAll(ctx context.Context, loader *feeds.Loader) {
	if err := loader.LoadAll(ctx); err != nil {
		logger.Warnf("[dashboard] 加载数据失败: %v", err)
	}
}
