// credtool готовит секреты для окружения бота:
//
//	credtool genkey               генерирует 32-байтовый ключ для ENCRYPTION_KEY
//	credtool encrypt <value>      шифрует API-ключ биржи ключом из ENCRYPTION_KEY
//	credtool decrypt <value>      проверяет расшифровку ciphertext'а
//	credtool hash-token <token>   bcrypt-хеш токена для API_TOKEN_HASH
//
// Plaintext-ключи биржи никогда не попадают в окружение или конфигурацию:
// в env кладутся только ciphertext'ы, которые готовит эта утилита.
package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"scalper/pkg/crypto"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "genkey":
		key, err := crypto.GenerateKey()
		if err != nil {
			fatal("generate key: %v", err)
		}
		// Ключ печатается в base64, в env кладётся декодированное значение
		fmt.Println(base64.StdEncoding.EncodeToString(key))

	case "encrypt":
		ciphertext, err := crypto.Encrypt(arg(), encryptionKey())
		if err != nil {
			fatal("encrypt: %v", err)
		}
		fmt.Println(ciphertext)

	case "decrypt":
		plaintext, err := crypto.Decrypt(arg(), encryptionKey())
		if err != nil {
			fatal("decrypt: %v", err)
		}
		fmt.Println(plaintext)

	case "hash-token":
		hash, err := crypto.HashToken(arg())
		if err != nil {
			fatal("hash token: %v", err)
		}
		fmt.Println(hash)

	default:
		usage()
	}
}

func arg() string {
	if len(os.Args) < 3 {
		usage()
	}
	return os.Args[2]
}

func encryptionKey() []byte {
	key := os.Getenv("ENCRYPTION_KEY")
	if len(key) != 32 {
		fatal("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(key))
	}
	return []byte(key)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: credtool genkey | encrypt <value> | decrypt <value> | hash-token <token>")
	os.Exit(2)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
