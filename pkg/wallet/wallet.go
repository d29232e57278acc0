package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"

	"github.com/betbot/levercycle/pkg/config"
	"github.com/betbot/levercycle/pkg/secretstore"
)

// DefaultDerivationPath 以太坊第一个账户
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

// Wallet 签名账户
type Wallet struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
	Source     string // private_key | mnemonic | secret_store
}

// FromPrivateKeyHex 从 hex 私钥加载（可带 0x 前缀）
func FromPrivateKeyHex(raw string) (*Wallet, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, errors.New("private key is empty")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Wallet{PrivateKey: key, Address: crypto.PubkeyToAddress(key.PublicKey), Source: "private_key"}, nil
}

// FromMnemonic 从 BIP-39 助记词按派生路径派生
func FromMnemonic(mnemonic, derivationPath string) (*Wallet, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	derivationPath = strings.TrimSpace(derivationPath)
	if mnemonic == "" {
		return nil, errors.New("mnemonic is required")
	}
	if derivationPath == "" {
		derivationPath = DefaultDerivationPath
	}

	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	path, err := hdwallet.ParseDerivationPath(derivationPath)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation_path: %w", err)
	}
	acct, err := w.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("derive failed: %w", err)
	}
	key, err := w.PrivateKey(acct)
	if err != nil {
		return nil, fmt.Errorf("private key failed: %w", err)
	}
	return &Wallet{PrivateKey: key, Address: acct.Address, Source: "mnemonic"}, nil
}

// FromSecretStore 从加密存储读取：条目名为 mnemonic 时按助记词派生，否则视为 hex 私钥
func FromSecretStore(store *secretstore.Store, name, derivationPath string) (*Wallet, error) {
	if name == "" {
		name = secretstore.KeyPrivateKey
	}
	val, found, err := store.GetString(name)
	if err != nil {
		return nil, fmt.Errorf("read secret %q: %w", name, err)
	}
	if !found || strings.TrimSpace(val) == "" {
		return nil, fmt.Errorf("secret %q not found", name)
	}

	var w *Wallet
	if name == secretstore.KeyMnemonic {
		w, err = FromMnemonic(val, derivationPath)
	} else {
		w, err = FromPrivateKeyHex(val)
	}
	if err != nil {
		return nil, err
	}
	w.Source = "secret_store"
	return w, nil
}

// Load 按配置加载签名账户
func Load(cfg config.WalletConfig) (*Wallet, error) {
	switch {
	case cfg.PrivateKey != "":
		return FromPrivateKeyHex(cfg.PrivateKey)
	case cfg.Mnemonic != "":
		return FromMnemonic(cfg.Mnemonic, cfg.DerivationPath)
	case cfg.SecretStorePath != "":
		key, err := secretstore.ParseKey(cfg.SecretStoreKey)
		if err != nil {
			return nil, fmt.Errorf("invalid secret store key: %w", err)
		}
		store, err := secretstore.Open(secretstore.OpenOptions{Path: cfg.SecretStorePath, EncryptionKey: key, ReadOnly: true})
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return FromSecretStore(store, cfg.SecretName, cfg.DerivationPath)
	default:
		return nil, errors.New("no wallet source configured")
	}
}
