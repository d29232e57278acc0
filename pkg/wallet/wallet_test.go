package wallet

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/levercycle/pkg/config"
	"github.com/betbot/levercycle/pkg/secretstore"
)

// 常用的开发助记词及其第一个账户
const (
	devMnemonic   = "test test test test test test test test test test test junk"
	devPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

var devAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func TestFromPrivateKeyHex(t *testing.T) {
	w, err := FromPrivateKeyHex(devPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, devAddress, w.Address)
	assert.Equal(t, "private_key", w.Source)

	_, err = FromPrivateKeyHex("")
	assert.Error(t, err)
	_, err = FromPrivateKeyHex("0x1234")
	assert.Error(t, err)
}

func TestFromMnemonic(t *testing.T) {
	w, err := FromMnemonic(devMnemonic, "")
	require.NoError(t, err)
	assert.Equal(t, devAddress, w.Address)

	second, err := FromMnemonic(devMnemonic, "m/44'/60'/0'/0/1")
	require.NoError(t, err)
	assert.NotEqual(t, devAddress, second.Address)

	_, err = FromMnemonic("not a valid mnemonic", "")
	assert.Error(t, err)
}

func TestLoad_SecretStore(t *testing.T) {
	dir := t.TempDir()
	rawKey := strings.Repeat("0f", 32)
	encKey, err := secretstore.ParseKey(rawKey)
	require.NoError(t, err)

	store, err := secretstore.Open(secretstore.OpenOptions{Path: dir, EncryptionKey: encKey})
	require.NoError(t, err)
	require.NoError(t, store.SetString(secretstore.KeyMnemonic, devMnemonic))
	require.NoError(t, store.Close())

	w, err := Load(config.WalletConfig{
		SecretStorePath: dir,
		SecretStoreKey:  rawKey,
		SecretName:      secretstore.KeyMnemonic,
	})
	require.NoError(t, err)
	assert.Equal(t, devAddress, w.Address)
	assert.Equal(t, "secret_store", w.Source)

	_, err = Load(config.WalletConfig{SecretStorePath: dir, SecretStoreKey: rawKey, SecretName: "missing"})
	assert.Error(t, err)
}

func TestLoad_Sources(t *testing.T) {
	w, err := Load(config.WalletConfig{PrivateKey: devPrivateKey})
	require.NoError(t, err)
	assert.Equal(t, devAddress, w.Address)

	w, err = Load(config.WalletConfig{Mnemonic: devMnemonic, DerivationPath: DefaultDerivationPath})
	require.NoError(t, err)
	assert.Equal(t, devAddress, w.Address)

	_, err = Load(config.WalletConfig{})
	assert.Error(t, err)
}
