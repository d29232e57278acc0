package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/betbot/levercycle/internal/domain"
	"github.com/betbot/levercycle/internal/metrics"
)

// TransactorConfig 交易发送配置
type TransactorConfig struct {
	ChainID        *big.Int
	Confirmations  uint64        // 需要的确认数（默认 1）
	ConfirmTimeout time.Duration // 等待确认的上限（默认 5 分钟）
	PollInterval   time.Duration // 回执轮询间隔（默认 2 秒）
	GasBufferBips  uint32        // gas 预估之上的余量（默认 2000 = 20%）
}

func (c *TransactorConfig) applyDefaults() {
	if c.Confirmations == 0 {
		c.Confirmations = 1
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.GasBufferBips == 0 {
		c.GasBufferBips = 2000
	}
}

// Transactor 签名、发送交易并阻塞等待确认
// 一旦交易发出就不会撤回或重发：确认超时只上报 ConfirmationTimeout
type Transactor struct {
	backend    Backend
	privateKey *ecdsa.PrivateKey
	from       common.Address
	cfg        TransactorConfig
	log        *logrus.Entry
}

// NewTransactor 创建 Transactor
func NewTransactor(backend Backend, privateKey *ecdsa.PrivateKey, cfg TransactorConfig) (*Transactor, error) {
	if backend == nil {
		return nil, errors.New("backend is nil")
	}
	if privateKey == nil {
		return nil, errors.New("private key is nil")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id is required")
	}
	cfg.applyDefaults()
	return &Transactor{
		backend:    backend,
		privateKey: privateKey,
		from:       crypto.PubkeyToAddress(privateKey.PublicKey),
		cfg:        cfg,
		log:        logrus.WithField("component", "transactor"),
	}, nil
}

// From 签名账户地址
func (t *Transactor) From() common.Address {
	return t.from
}

// Backend 底层节点访问
func (t *Transactor) Backend() Backend {
	return t.backend
}

// Call 只读调用（最新区块）
func (t *Transactor) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return t.backend.CallContract(ctx, ethereum.CallMsg{From: t.from, To: &to, Data: data}, nil)
}

// Send 构建、签名、发送交易，并等待达到确认数
// 返回的错误：*RevertError（预估或执行回滚）、domain ConfirmationTimeout（已发出、状态未知）、或提交前的节点错误
func (t *Transactor) Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (*domain.Receipt, error) {
	if value == nil {
		value = new(big.Int)
	}
	msg := ethereum.CallMsg{From: t.from, To: &to, Value: value, Data: data}

	// 预估 gas：会回滚的调用在这里就能拿到 revert reason，不会白白上链
	gasLimit, err := t.backend.EstimateGas(ctx, msg)
	if err != nil {
		if re, ok := AsRevert(err); ok {
			return nil, re
		}
		return nil, fmt.Errorf("估算gas失败: %w", err)
	}
	gasLimit += gasLimit * uint64(t.cfg.GasBufferBips) / 10000

	nonce, err := t.backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, fmt.Errorf("获取nonce失败: %w", err)
	}
	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取gas价格失败: %w", err)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(t.cfg.ChainID), t.privateKey)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("发送交易失败: %w", err)
	}
	metrics.TxSubmitted.Add(1)
	t.log.WithFields(logrus.Fields{
		"tx":    signed.Hash().Hex(),
		"to":    to.Hex(),
		"nonce": nonce,
		"gas":   gasLimit,
	}).Info("交易已提交，等待确认")

	receipt, err := t.waitConfirmed(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		metrics.TxReverted.Add(1)
		return nil, t.replayRevert(ctx, msg, signed.Hash(), receipt.BlockNumber)
	}
	metrics.TxConfirmed.Add(1)
	out := &domain.Receipt{
		TxHash:        signed.Hash(),
		BlockNumber:   receipt.BlockNumber.Uint64(),
		GasUsed:       receipt.GasUsed,
		Confirmations: t.cfg.Confirmations,
	}
	t.log.WithFields(logrus.Fields{"tx": out.Hex(), "block": out.BlockNumber, "gasUsed": out.GasUsed}).Info("交易已确认")
	return out, nil
}

// waitConfirmed 轮询回执直到达到确认数；超时或 ctx 结束返回 ConfirmationTimeout（不重发）
func (t *Transactor) waitConfirmed(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, t.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.backend.TransactionReceipt(waitCtx, hash)
		switch {
		case err == nil && receipt != nil:
			if t.confirmed(waitCtx, receipt) {
				return receipt, nil
			}
		case err != nil && !errors.Is(err, ethereum.NotFound):
			// 临时性 RPC 错误：继续轮询，交易已经发出
			t.log.WithError(err).WithField("tx", hash.Hex()).Debug("查询回执失败，稍后重试")
		}

		select {
		case <-waitCtx.Done():
			// 交易已经发出，状态未知：不论是调用方取消还是超时，都按 ConfirmationTimeout 上报并带上哈希
			if err := ctx.Err(); err != nil {
				return nil, domain.NewError(domain.KindConfirmationTimeout, "chain.wait",
					fmt.Errorf("等待确认被中断，交易状态未知: %w", err)).WithTx(hash.Hex())
			}
			return nil, domain.Errorf(domain.KindConfirmationTimeout, "chain.wait",
				"%s 内未达到 %d 个确认", t.cfg.ConfirmTimeout, t.cfg.Confirmations).WithTx(hash.Hex())
		case <-ticker.C:
		}
	}
}

func (t *Transactor) confirmed(ctx context.Context, receipt *ethtypes.Receipt) bool {
	if receipt.BlockNumber == nil {
		return false
	}
	if t.cfg.Confirmations <= 1 {
		return true
	}
	head, err := t.backend.BlockNumber(ctx)
	if err != nil {
		return false
	}
	mined := receipt.BlockNumber.Uint64()
	return head >= mined && head-mined+1 >= t.cfg.Confirmations
}

// replayRevert 在交易所在区块重放调用，取回 revert reason
func (t *Transactor) replayRevert(ctx context.Context, msg ethereum.CallMsg, hash common.Hash, block *big.Int) error {
	re := &RevertError{TxHash: hash}
	_, err := t.backend.CallContract(ctx, msg, block)
	if decoded, ok := AsRevert(err); ok {
		re.Reason = decoded.Reason
		re.Err = err
	}
	t.log.WithFields(logrus.Fields{"tx": hash.Hex(), "reason": re.Reason}).Warn("交易执行失败")
	return re
}
