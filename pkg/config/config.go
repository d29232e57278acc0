package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// NetworkConfig 节点与确认参数
type NetworkConfig struct {
	RPCURL         string
	ChainID        int64
	Confirmations  uint64        // 需要的确认数，默认 1
	ConfirmTimeout time.Duration // 等待确认上限，默认 5 分钟
	PollInterval   time.Duration // 回执轮询间隔，默认 2 秒
	RPCRateLimit   float64       // 每秒 RPC 请求数，0 表示不限速
	RPCBurst       int
}

// WalletConfig 签名账户来源（三选一：私钥 / 助记词 / 加密存储）
type WalletConfig struct {
	PrivateKey      string
	Mnemonic        string
	DerivationPath  string
	SecretStorePath string
	SecretStoreKey  string
	SecretName      string // 存储中的条目名，默认 "private_key"
}

// ContractsConfig 合约地址
type ContractsConfig struct {
	AddressesProvider string
	PriceFeed         string
	DebtAsset         string
	CollateralAsset   string
	ReserveAsset      string // 兑换输入资产，默认与抵押品相同
	Router            string
}

// WorkflowConfig 流程参数
type WorkflowConfig struct {
	DepositAmount      decimal.Decimal // 抵押品数量（人类可读单位）
	PricePair          string          // 价格源交易对名称，默认 "DEBT/ETH"
	SafetyMarginBips   uint32          // 默认 500
	SlippageBips       uint32          // 默认 50
	SwapDeadline       time.Duration   // 默认 20 分钟
	SwapDebtMultiplier decimal.Decimal // 默认 2
	MaxRepayIterations int             // 默认 5
	MaxPriceAge        time.Duration   // 默认 1 小时
	ReferralCode       uint16
	InterestRateMode   int64 // 1 稳定利率，2 浮动利率；默认 1
	NativeSwapInput    bool  // 以原生币作为兑换输入，默认 true
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config 应用配置
type Config struct {
	Network   NetworkConfig
	Wallet    WalletConfig
	Contracts ContractsConfig
	Workflow  WorkflowConfig
	Journal   string // SQLite 运行日志路径，空表示不记录
	Webhook   string // 运行结束通知地址，空表示不通知
	Metrics   string // 调试指标监听地址，空表示不启动
	Log       LogConfig
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
// 数值与布尔使用指针：未出现的字段使用默认值，显式写 0/false 时保留
type ConfigFile struct {
	Network struct {
		RPCURL         string   `yaml:"rpc_url" json:"rpc_url"`
		ChainID        *int64   `yaml:"chain_id" json:"chain_id"`
		Confirmations  *uint64  `yaml:"confirmations" json:"confirmations"`
		ConfirmTimeout string   `yaml:"confirm_timeout" json:"confirm_timeout"`
		PollInterval   string   `yaml:"poll_interval" json:"poll_interval"`
		RPCRateLimit   *float64 `yaml:"rpc_rate_limit" json:"rpc_rate_limit"`
		RPCBurst       *int     `yaml:"rpc_burst" json:"rpc_burst"`
	} `yaml:"network" json:"network"`
	Wallet struct {
		PrivateKey     string `yaml:"private_key" json:"private_key"`
		Mnemonic       string `yaml:"mnemonic" json:"mnemonic"`
		DerivationPath string `yaml:"derivation_path" json:"derivation_path"`
		SecretStore    struct {
			Path string `yaml:"path" json:"path"`
			Key  string `yaml:"key" json:"key"`
			Name string `yaml:"name" json:"name"`
		} `yaml:"secret_store" json:"secret_store"`
	} `yaml:"wallet" json:"wallet"`
	Contracts struct {
		AddressesProvider string `yaml:"addresses_provider" json:"addresses_provider"`
		PriceFeed         string `yaml:"price_feed" json:"price_feed"`
		DebtAsset         string `yaml:"debt_asset" json:"debt_asset"`
		CollateralAsset   string `yaml:"collateral_asset" json:"collateral_asset"`
		ReserveAsset      string `yaml:"reserve_asset" json:"reserve_asset"`
		Router            string `yaml:"router" json:"router"`
	} `yaml:"contracts" json:"contracts"`
	Workflow struct {
		DepositAmount      string  `yaml:"deposit_amount" json:"deposit_amount"`
		PricePair          string  `yaml:"price_pair" json:"price_pair"`
		SafetyMarginBips   *uint32 `yaml:"safety_margin_bips" json:"safety_margin_bips"`
		SlippageBips       *uint32 `yaml:"slippage_bips" json:"slippage_bips"`
		Deadline           string  `yaml:"deadline" json:"deadline"`
		SwapDebtMultiplier string  `yaml:"swap_debt_multiplier" json:"swap_debt_multiplier"`
		MaxRepayIterations *int    `yaml:"max_repay_iterations" json:"max_repay_iterations"`
		MaxPriceAge        string  `yaml:"max_price_age" json:"max_price_age"`
		ReferralCode       *uint16 `yaml:"referral_code" json:"referral_code"`
		InterestRateMode   *int64  `yaml:"interest_rate_mode" json:"interest_rate_mode"`
		NativeSwapInput    *bool   `yaml:"native_swap_input" json:"native_swap_input"`
	} `yaml:"workflow" json:"workflow"`
	Journal struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"journal" json:"journal"`
	Notify struct {
		Webhook string `yaml:"webhook" json:"webhook"`
	} `yaml:"notify" json:"notify"`
	Metrics struct {
		Listen string `yaml:"listen" json:"listen"`
	} `yaml:"metrics" json:"metrics"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSizeMB  *int   `yaml:"max_size_mb" json:"max_size_mb"`
		MaxBackups *int   `yaml:"max_backups" json:"max_backups"`
		MaxAgeDays *int   `yaml:"max_age_days" json:"max_age_days"`
		Compress   *bool  `yaml:"compress" json:"compress"`
	} `yaml:"log" json:"log"`
}

// LoadDotEnv 加载 .env 文件（不存在时忽略），不覆盖已设置的环境变量
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// LoadFromFile 加载配置（优先级：环境变量 > 配置文件 > 默认值）
// filePath 为空时只使用环境变量与默认值
func LoadFromFile(filePath string) (*Config, error) {
	cf := &ConfigFile{}
	if filePath != "" {
		var err error
		cf, err = loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}

	var errs []string
	dur := func(envKey, fileValue string, def time.Duration) time.Duration {
		d, err := parseDuration(getEnv(envKey, fileValue), def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", envKey, err))
		}
		return d
	}
	dec := func(envKey, fileValue string, def decimal.Decimal) decimal.Decimal {
		d, err := parseDecimal(getEnv(envKey, fileValue), def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", envKey, err))
		}
		return d
	}

	w := cf.Workflow
	config := &Config{
		Network: NetworkConfig{
			RPCURL:         getEnv("RPC_URL", cf.Network.RPCURL),
			ChainID:        parseInt64Env("CHAIN_ID", orDefault(cf.Network.ChainID, 0)),
			Confirmations:  uint64(parseInt64Env("CONFIRMATIONS", int64(orDefault(cf.Network.Confirmations, 1)))),
			ConfirmTimeout: dur("CONFIRM_TIMEOUT", cf.Network.ConfirmTimeout, 5*time.Minute),
			PollInterval:   dur("POLL_INTERVAL", cf.Network.PollInterval, 2*time.Second),
			RPCRateLimit:   parseFloatEnv("RPC_RATE_LIMIT", orDefault(cf.Network.RPCRateLimit, 0)),
			RPCBurst:       parseIntEnv("RPC_BURST", orDefault(cf.Network.RPCBurst, 5)),
		},
		Wallet: WalletConfig{
			PrivateKey:      getEnv("WALLET_PRIVATE_KEY", cf.Wallet.PrivateKey),
			Mnemonic:        getEnv("WALLET_MNEMONIC", cf.Wallet.Mnemonic),
			DerivationPath:  getEnv("WALLET_DERIVATION_PATH", firstNonEmpty(cf.Wallet.DerivationPath, "m/44'/60'/0'/0/0")),
			SecretStorePath: getEnv("SECRET_STORE_PATH", cf.Wallet.SecretStore.Path),
			SecretStoreKey:  getEnv("SECRET_STORE_KEY", cf.Wallet.SecretStore.Key),
			SecretName:      getEnv("SECRET_NAME", firstNonEmpty(cf.Wallet.SecretStore.Name, "private_key")),
		},
		Contracts: ContractsConfig{
			AddressesProvider: getEnv("ADDRESSES_PROVIDER", cf.Contracts.AddressesProvider),
			PriceFeed:         getEnv("PRICE_FEED", cf.Contracts.PriceFeed),
			DebtAsset:         getEnv("DEBT_ASSET", cf.Contracts.DebtAsset),
			CollateralAsset:   getEnv("COLLATERAL_ASSET", cf.Contracts.CollateralAsset),
			ReserveAsset:      getEnv("RESERVE_ASSET", cf.Contracts.ReserveAsset),
			Router:            getEnv("ROUTER", cf.Contracts.Router),
		},
		Workflow: WorkflowConfig{
			DepositAmount:      dec("DEPOSIT_AMOUNT", w.DepositAmount, decimal.Zero),
			PricePair:          getEnv("PRICE_PAIR", firstNonEmpty(w.PricePair, "DEBT/ETH")),
			SafetyMarginBips:   uint32(parseIntEnv("SAFETY_MARGIN_BIPS", int(orDefault(w.SafetyMarginBips, 500)))),
			SlippageBips:       uint32(parseIntEnv("SLIPPAGE_BIPS", int(orDefault(w.SlippageBips, 50)))),
			SwapDeadline:       dur("SWAP_DEADLINE", w.Deadline, 20*time.Minute),
			SwapDebtMultiplier: dec("SWAP_DEBT_MULTIPLIER", w.SwapDebtMultiplier, decimal.NewFromInt(2)),
			MaxRepayIterations: parseIntEnv("MAX_REPAY_ITERATIONS", orDefault(w.MaxRepayIterations, 5)),
			MaxPriceAge:        dur("MAX_PRICE_AGE", w.MaxPriceAge, time.Hour),
			ReferralCode:       uint16(parseIntEnv("REFERRAL_CODE", int(orDefault(w.ReferralCode, 0)))),
			InterestRateMode:   parseInt64Env("INTEREST_RATE_MODE", orDefault(w.InterestRateMode, 1)),
			NativeSwapInput:    parseBoolEnv("NATIVE_SWAP_INPUT", orDefault(w.NativeSwapInput, true)),
		},
		Journal: getEnv("JOURNAL_PATH", cf.Journal.Path),
		Webhook: getEnv("NOTIFY_WEBHOOK", cf.Notify.Webhook),
		Metrics: getEnv("METRICS_LISTEN", cf.Metrics.Listen),
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", firstNonEmpty(cf.Log.Level, "info")),
			File:       getEnv("LOG_FILE", cf.Log.File),
			MaxSizeMB:  parseIntEnv("LOG_MAX_SIZE_MB", orDefault(cf.Log.MaxSizeMB, 100)),
			MaxBackups: parseIntEnv("LOG_MAX_BACKUPS", orDefault(cf.Log.MaxBackups, 3)),
			MaxAgeDays: parseIntEnv("LOG_MAX_AGE_DAYS", orDefault(cf.Log.MaxAgeDays, 7)),
			Compress:   parseBoolEnv("LOG_COMPRESS", orDefault(cf.Log.Compress, true)),
		},
	}
	if config.Contracts.ReserveAsset == "" {
		config.Contracts.ReserveAsset = config.Contracts.CollateralAsset
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("配置解析失败: %s", strings.Join(errs, "; "))
	}
	return config, nil
}

func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Network.RPCURL == "" {
		return fmt.Errorf("RPC_URL 未配置")
	}
	if c.Network.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID 必须大于 0")
	}
	if c.Network.Confirmations < 1 {
		return fmt.Errorf("CONFIRMATIONS 至少为 1")
	}

	sources := 0
	for _, s := range []string{c.Wallet.PrivateKey, c.Wallet.Mnemonic, c.Wallet.SecretStorePath} {
		if s != "" {
			sources++
		}
	}
	if sources == 0 {
		return fmt.Errorf("未配置签名账户（WALLET_PRIVATE_KEY / WALLET_MNEMONIC / SECRET_STORE_PATH）")
	}
	if sources > 1 {
		return fmt.Errorf("签名账户只能配置一种来源")
	}
	if c.Wallet.SecretStorePath != "" && c.Wallet.SecretStoreKey == "" {
		return fmt.Errorf("SECRET_STORE_KEY 未配置")
	}

	for name, addr := range map[string]string{
		"ADDRESSES_PROVIDER": c.Contracts.AddressesProvider,
		"PRICE_FEED":         c.Contracts.PriceFeed,
		"DEBT_ASSET":         c.Contracts.DebtAsset,
		"COLLATERAL_ASSET":   c.Contracts.CollateralAsset,
		"RESERVE_ASSET":      c.Contracts.ReserveAsset,
		"ROUTER":             c.Contracts.Router,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s 不是有效地址: %q", name, addr)
		}
	}

	wf := c.Workflow
	if !wf.DepositAmount.IsPositive() {
		return fmt.Errorf("DEPOSIT_AMOUNT 必须大于 0")
	}
	if wf.SafetyMarginBips >= 10000 {
		return fmt.Errorf("SAFETY_MARGIN_BIPS 必须小于 10000")
	}
	if wf.SlippageBips == 0 || wf.SlippageBips >= 10000 {
		return fmt.Errorf("SLIPPAGE_BIPS 必须在 1 到 9999 之间")
	}
	if wf.SwapDeadline <= 0 {
		return fmt.Errorf("SWAP_DEADLINE 必须大于 0")
	}
	if !wf.SwapDebtMultiplier.IsPositive() {
		return fmt.Errorf("SWAP_DEBT_MULTIPLIER 必须大于 0")
	}
	if wf.MaxRepayIterations < 1 {
		return fmt.Errorf("MAX_REPAY_ITERATIONS 至少为 1")
	}
	if wf.InterestRateMode != 1 && wf.InterestRateMode != 2 {
		return fmt.Errorf("INTEREST_RATE_MODE 只能是 1（稳定）或 2（浮动）")
	}
	return nil
}

func orDefault[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

func parseDecimal(s string, def decimal.Decimal) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return decimal.NewFromString(s)
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseInt64Env(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
