package main

import (
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/crypto"
)

// Generates a fresh ECDSA key for relay request signing. The key builds
// searcher reputation with Flashbots and never holds funds; keep it separate
// from the trading wallet.
func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal("failed to generate key:", err)
	}

	fmt.Printf("Private Key: 0x%x\n", crypto.FromECDSA(key))
	fmt.Printf("Public Address: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
}
