package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/betbot/levercycle/pkg/secretstore"
	"github.com/betbot/levercycle/pkg/wallet"
)

// secret-init 把签名私钥或助记词写入加密存储，运行时通过 SECRET_STORE_PATH 读取
func main() {
	var (
		dbPath    = flag.String("store", getenv("SECRET_STORE_PATH", "data/secrets.badger"), "badger secrets db path")
		secretKey = flag.String("secret-key", getenv("SECRET_STORE_KEY", ""), "badger encryption key (32 bytes base64/hex)")
		kind      = flag.String("kind", secretstore.KeyPrivateKey, "secret kind: private_key | mnemonic")
		fromEnv   = flag.String("from-env", "", "read the secret from this env var instead of stdin")
		path      = flag.String("derivation-path", wallet.DefaultDerivationPath, "derivation path used to preview a mnemonic")
		force     = flag.Bool("force", false, "overwrite existing secret")
		list      = flag.Bool("list", false, "list stored secret names and exit")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(errors.New("secret key is required: set SECRET_STORE_KEY or pass -secret-key"))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{Path: *dbPath, EncryptionKey: keyBytes, ReadOnly: *list})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	if *list {
		keys, err := ss.Keys()
		if err != nil {
			fatal(err)
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return
	}

	if *kind != secretstore.KeyPrivateKey && *kind != secretstore.KeyMnemonic {
		fatal(fmt.Errorf("unknown kind %q", *kind))
	}
	if _, found, err := ss.GetString(*kind); err != nil {
		fatal(err)
	} else if found && !*force {
		fatal(fmt.Errorf("secret %q already exists (use -force to overwrite)", *kind))
	}

	var value string
	if *fromEnv != "" {
		value = strings.TrimSpace(os.Getenv(*fromEnv))
	} else {
		if *kind == secretstore.KeyMnemonic {
			fmt.Fprintln(os.Stderr, "请输入助记词（12/15/18/21/24 个单词），输入完成后回车：")
		} else {
			fmt.Fprintln(os.Stderr, "请输入 hex 私钥，输入完成后回车：")
		}
		value = readLine()
	}
	if value == "" {
		fatal(errors.New("secret is empty"))
	}

	// 写入前先校验能否得到签名账户
	var w *wallet.Wallet
	if *kind == secretstore.KeyMnemonic {
		w, err = wallet.FromMnemonic(value, *path)
	} else {
		w, err = wallet.FromPrivateKeyHex(value)
	}
	if err != nil {
		fatal(err)
	}

	if err := ss.SetString(*kind, value); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "已写入 %s 到 %s，账户 %s\n", *kind, *dbPath, w.Address.Hex())
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func readLine() string {
	br := bufio.NewReader(os.Stdin)
	s, _ := br.ReadString('\n')
	return strings.TrimSpace(s)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
