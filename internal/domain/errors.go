package domain

import (
	"errors"
	"fmt"
)

// ErrorKind 错误类别（供调用方按类别处理，不依赖错误文本）
type ErrorKind string

const (
	KindOracleUnavailable      ErrorKind = "OracleUnavailable"
	KindBorrowCapacityExceeded ErrorKind = "BorrowCapacityExceeded"
	KindAllowanceInsufficient  ErrorKind = "AllowanceInsufficient"
	KindTransactionReverted    ErrorKind = "TransactionReverted"
	KindSlippageExceeded       ErrorKind = "SlippageExceeded"
	KindConfirmationTimeout    ErrorKind = "ConfirmationTimeout"
	KindInvalidInput           ErrorKind = "InvalidInput"
)

// 每个类别对应的哨兵错误，用于 errors.Is
var (
	ErrOracleUnavailable      = &kindSentinel{KindOracleUnavailable}
	ErrBorrowCapacityExceeded = &kindSentinel{KindBorrowCapacityExceeded}
	ErrAllowanceInsufficient  = &kindSentinel{KindAllowanceInsufficient}
	ErrTransactionReverted    = &kindSentinel{KindTransactionReverted}
	ErrSlippageExceeded       = &kindSentinel{KindSlippageExceeded}
	ErrConfirmationTimeout    = &kindSentinel{KindConfirmationTimeout}
	ErrInvalidInput           = &kindSentinel{KindInvalidInput}
)

type kindSentinel struct {
	kind ErrorKind
}

func (s *kindSentinel) Error() string { return string(s.kind) }

// Error 带类别的领域错误
type Error struct {
	Kind   ErrorKind
	Op     string // 出错的操作，例如 "lending.borrow"
	TxHash string // 已提交交易的哈希（如果有）
	Err    error
}

// NewError 创建领域错误
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf 创建领域错误（格式化消息）
func Errorf(kind ErrorKind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithTx 附加交易哈希
func (e *Error) WithTx(hash string) *Error {
	e.TxHash = hash
	return e
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.TxHash != "" {
		msg += " (tx " + e.TxHash + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrXxx) 按类别匹配
func (e *Error) Is(target error) bool {
	s, ok := target.(*kindSentinel)
	return ok && s.kind == e.Kind
}

// KindOf 提取错误类别；非领域错误返回空字符串
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var s *kindSentinel
	if errors.As(err, &s) {
		return s.kind
	}
	return ""
}
