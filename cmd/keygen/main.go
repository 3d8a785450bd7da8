// Command keygen mints relay API keys. It prints a fresh random key for
// the client and the bcrypt hash that belongs in relay.key_hashes on the
// server; the plaintext key is never stored anywhere.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"relaypool/pkg/secrets"
)

type keyOutput struct {
	Key  string `json:"key"`
	Hash string `json:"hash"`
}

func main() {
	var (
		existing string
		asJSON   bool
	)
	flag.StringVar(&existing, "key", "", "hash this key instead of generating a new one")
	flag.BoolVar(&asJSON, "json", false, "print JSON instead of text")
	flag.Parse()

	key := existing
	if key == "" {
		generated, err := secrets.Generate()
		if err != nil {
			fmt.Fprintln(os.Stderr, "generate key:", err)
			os.Exit(1)
		}
		key = generated
	}

	hash, err := secrets.Hash(key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hash key:", err)
		os.Exit(1)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(keyOutput{Key: key, Hash: hash}); err != nil {
			fmt.Fprintln(os.Stderr, "encode output:", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("api key:", key)
	fmt.Println("hash:   ", hash)
	fmt.Println()
	fmt.Println("Add the hash to relay.key_hashes (or RELAYPOOL_RELAY_KEY_HASHES,")
	fmt.Println("comma separated) and hand the key to the client.")
}
