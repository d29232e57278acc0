package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/betbot/levercycle/internal/domain"
)

// RevertError 合约调用或交易执行被回滚
type RevertError struct {
	Reason string      // 解码后的 revert reason（可能为空）
	TxHash common.Hash // 已上链交易的哈希；预估阶段回滚时为空
	Err    error
}

func (e *RevertError) Error() string {
	msg := "execution reverted"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.TxHash != (common.Hash{}) {
		msg += " (tx " + e.TxHash.Hex() + ")"
	}
	return msg
}

func (e *RevertError) Unwrap() error { return e.Err }

// Mined 交易是否已上链后才回滚
func (e *RevertError) Mined() bool {
	return e.TxHash != (common.Hash{})
}

// AsRevert 从节点返回的错误中提取回滚信息
// 节点对 eth_call / eth_estimateGas 回滚返回 code=3，并在 data 中携带 Error(string) 编码
func AsRevert(err error) (*RevertError, bool) {
	if err == nil {
		return nil, false
	}
	var re *RevertError
	if errors.As(err, &re) {
		return re, true
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		if reason, ok := decodeRevertData(de.ErrorData()); ok {
			return &RevertError{Reason: reason, Err: err}, true
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len("execution reverted"):], ":"))
		return &RevertError{Reason: reason, Err: err}, true
	}
	return nil, false
}

func decodeRevertData(data interface{}) (string, bool) {
	s, ok := data.(string)
	if !ok {
		return "", false
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return "", false
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		// 自定义 error / 空 data：仍是回滚，只是没有可读原因
		return "", true
	}
	return reason, true
}

// ReasonRule revert reason -> 错误类别
type ReasonRule struct {
	Match func(reason string) bool
	Kind  domain.ErrorKind
}

// ReasonIs 精确匹配（Aave v2 使用数字错误码，例如 "11"）
func ReasonIs(kind domain.ErrorKind, codes ...string) ReasonRule {
	return ReasonRule{
		Kind: kind,
		Match: func(reason string) bool {
			for _, c := range codes {
				if reason == c {
					return true
				}
			}
			return false
		},
	}
}

// ReasonContains 子串匹配（不区分大小写）
func ReasonContains(kind domain.ErrorKind, parts ...string) ReasonRule {
	return ReasonRule{
		Kind: kind,
		Match: func(reason string) bool {
			r := strings.ToLower(reason)
			for _, p := range parts {
				if strings.Contains(r, strings.ToLower(p)) {
					return true
				}
			}
			return false
		},
	}
}

// allowanceRule 常见 ERC20 授权不足的 revert reason
var allowanceRule = ReasonContains(domain.KindAllowanceInsufficient,
	"exceeds allowance",
	"insufficient-allowance",
	"insufficient allowance",
)

// Classify 把 Transactor 返回的错误转换为领域错误
// 已是领域错误的直接返回（交易发出后的等待错误都是 ConfirmationTimeout，不会落到下面）；
// 回滚按规则分类，默认 TransactionReverted；其他错误发生在提交之前，视为提交失败
func Classify(op string, err error, rules ...ReasonRule) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if re, ok := AsRevert(err); ok {
		kind := domain.KindTransactionReverted
		for _, r := range append(rules, allowanceRule) {
			if r.Match(re.Reason) {
				kind = r.Kind
				break
			}
		}
		out := domain.NewError(kind, op, re)
		if re.Mined() {
			out.WithTx(re.TxHash.Hex())
		}
		return out
	}
	return domain.NewError(domain.KindTransactionReverted, op, fmt.Errorf("提交交易失败: %w", err))
}
