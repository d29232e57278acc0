package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/betbot/levercycle/internal/approval"
	"github.com/betbot/levercycle/internal/chain"
	"github.com/betbot/levercycle/internal/domain"
	"github.com/betbot/levercycle/internal/journal"
	"github.com/betbot/levercycle/internal/lending"
	"github.com/betbot/levercycle/internal/metrics"
	"github.com/betbot/levercycle/internal/notify"
	"github.com/betbot/levercycle/internal/oracle"
	"github.com/betbot/levercycle/internal/swap"
	"github.com/betbot/levercycle/internal/workflow"
	"github.com/betbot/levercycle/pkg/config"
	"github.com/betbot/levercycle/pkg/logger"
	"github.com/betbot/levercycle/pkg/ratelimit"
	"github.com/betbot/levercycle/pkg/shutdown"
	"github.com/betbot/levercycle/pkg/units"
	"github.com/betbot/levercycle/pkg/wallet"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "配置文件路径（YAML/JSON），为空时只读环境变量")
		envFile     = flag.String("env", ".env", ".env 文件路径")
		dryRun      = flag.Bool("dry-run", false, "只读链上状态并计算借款额，不发送交易")
		repayOnly   = flag.Bool("repay", false, "只执行还款（用于失败后人工接续）")
		listRuns    = flag.Int("runs", 0, "列出最近 N 次运行记录后退出")
		metricsAddr = flag.String("metrics", "", "调试指标监听地址，覆盖配置")
	)
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, "加载 .env 失败:", err)
		return 2
	}
	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "加载配置失败:", err)
		return 2
	}
	if *metricsAddr != "" {
		cfg.Metrics = *metricsAddr
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "初始化日志失败:", err)
		return 2
	}

	closers := shutdown.NewManager()
	closers.OnShutdown("logger", func(ctx context.Context) error { return logger.Close() })
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = closers.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *listRuns > 0 {
		if err := printRuns(ctx, cfg.Journal, *listRuns); err != nil {
			logger.Errorf("读取运行记录失败: %v", err)
			return 1
		}
		return 0
	}

	if err := cfg.Validate(); err != nil {
		logger.Errorf("配置无效: %v", err)
		return 2
	}

	app, err := build(ctx, cfg, closers)
	if err != nil {
		logger.Errorf("初始化失败: %v", err)
		return 1
	}

	switch {
	case *dryRun:
		plan, err := app.orchestrator.Plan(ctx)
		if err != nil {
			logger.Errorf("预演失败: %v", err)
			return 1
		}
		fmt.Println(renderPlan(plan, app.debt))
		return 0
	case *repayOnly:
		out, err := app.orchestrator.RepayAll(ctx)
		if err != nil {
			logger.Errorf("还款失败: %v", err)
			return 1
		}
		fmt.Println(renderRepay(out, app.debt))
		if out.HasResidual() {
			return 1
		}
		return 0
	}

	report, err := app.orchestrator.Run(ctx)
	if report != nil {
		fmt.Println(renderReport(report, app.assets))
		if app.webhook != nil {
			// 运行已结束，通知不受中断信号影响
			if nerr := app.webhook.Send(context.WithoutCancel(ctx), report); nerr != nil {
				logger.Warnf("发送通知失败: %v", nerr)
			}
		}
	}
	if err != nil {
		logger.Errorf("运行失败: %v", err)
		return 1
	}
	return 0
}

type application struct {
	orchestrator *workflow.Orchestrator
	webhook      *notify.Webhook
	debt         domain.Asset
	assets       assetSet
}

// build 按配置组装所有组件
func build(ctx context.Context, cfg *config.Config, closers *shutdown.Manager) (*application, error) {
	w, err := wallet.Load(cfg.Wallet)
	if err != nil {
		return nil, fmt.Errorf("加载签名账户: %w", err)
	}
	logger.WithFields(logrus.Fields{"account": w.Address.Hex(), "source": w.Source}).Info("签名账户已加载")

	client, err := ethclient.DialContext(ctx, cfg.Network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("连接节点 %s: %w", cfg.Network.RPCURL, err)
	}
	closers.OnShutdown("ethclient", func(ctx context.Context) error { client.Close(); return nil })

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取 chain id: %w", err)
	}
	if chainID.Int64() != cfg.Network.ChainID {
		return nil, fmt.Errorf("节点 chain id %s 与配置 %d 不一致", chainID, cfg.Network.ChainID)
	}

	var backend chain.Backend = client
	if cfg.Network.RPCRateLimit > 0 {
		backend = chain.NewThrottledBackend(client, ratelimit.NewTokenBucket(cfg.Network.RPCRateLimit, cfg.Network.RPCBurst))
	}

	tx, err := chain.NewTransactor(backend, w.PrivateKey, chain.TransactorConfig{
		ChainID:        big.NewInt(cfg.Network.ChainID),
		Confirmations:  cfg.Network.Confirmations,
		ConfirmTimeout: cfg.Network.ConfirmTimeout,
		PollInterval:   cfg.Network.PollInterval,
	})
	if err != nil {
		return nil, err
	}

	tokens := approval.NewGateway(tx)
	collateral, err := tokens.Describe(ctx, common.HexToAddress(cfg.Contracts.CollateralAsset))
	if err != nil {
		return nil, err
	}
	debt, err := tokens.Describe(ctx, common.HexToAddress(cfg.Contracts.DebtAsset))
	if err != nil {
		return nil, err
	}
	reserve, err := tokens.Describe(ctx, common.HexToAddress(cfg.Contracts.ReserveAsset))
	if err != nil {
		return nil, err
	}
	if cfg.Workflow.NativeSwapInput {
		// 路由路径使用 WETH 地址，金额以 msg.value 发送
		reserve.Native = true
		reserve.Symbol = "ETH"
	}

	lend, err := lending.NewManager(tx, lending.Config{
		AddressesProvider: common.HexToAddress(cfg.Contracts.AddressesProvider),
		ReferralCode:      cfg.Workflow.ReferralCode,
		InterestRateMode:  cfg.Workflow.InterestRateMode,
	})
	if err != nil {
		return nil, err
	}

	swapper, err := swap.NewExecutor(tx, tokens, swap.Config{
		Router:       common.HexToAddress(cfg.Contracts.Router),
		SlippageBips: cfg.Workflow.SlippageBips,
		Deadline:     cfg.Workflow.SwapDeadline,
	})
	if err != nil {
		return nil, err
	}

	feeds := map[string]common.Address{cfg.Workflow.PricePair: common.HexToAddress(cfg.Contracts.PriceFeed)}
	prices := oracle.NewClient(tx, feeds, cfg.Workflow.MaxPriceAge)

	deps := workflow.Deps{Oracle: prices, Tokens: tokens, Lending: lend, Swapper: swapper}
	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return nil, err
		}
		closers.OnShutdown("journal", func(ctx context.Context) error { return j.Close() })
		deps.Recorder = j
	}

	if cfg.Metrics != "" {
		srv, err := metrics.StartAsync(ctx, cfg.Metrics, func(err error) { logger.Warnf("指标服务异常: %v", err) })
		if err != nil {
			return nil, fmt.Errorf("启动指标服务: %w", err)
		}
		closers.OnShutdown("metrics", srv.Shutdown)
		logger.Infof("指标服务监听 %s", cfg.Metrics)
	}

	orch, err := workflow.New(deps, workflow.Config{
		Account:            w.Address,
		Collateral:         collateral,
		Debt:               debt,
		Reserve:            reserve,
		PricePair:          cfg.Workflow.PricePair,
		DepositAmount:      units.ToBaseUnits(cfg.Workflow.DepositAmount, collateral.Decimals),
		SafetyMarginBips:   cfg.Workflow.SafetyMarginBips,
		SwapDebtMultiplier: cfg.Workflow.SwapDebtMultiplier,
		MaxRepayIterations: cfg.Workflow.MaxRepayIterations,
	})
	if err != nil {
		return nil, err
	}

	return &application{
		orchestrator: orch,
		webhook:      notify.NewWebhook(notify.Config{URL: cfg.Webhook}),
		debt:         debt,
		assets:       assetSet{collateral: collateral, debt: debt, reserve: reserve},
	}, nil
}

func printRuns(ctx context.Context, path string, limit int) error {
	if path == "" {
		return fmt.Errorf("JOURNAL_PATH 未配置")
	}
	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()
	runs, err := j.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Println(renderRuns(runs))
	return nil
}
