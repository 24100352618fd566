// Package wallet wraps one signing key bound to one chain.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet signs transactions for a single account on a single chain.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer
}

// New parses a hex private key (with or without 0x prefix) and binds it to
// chainID.
func New(hexKey string, chainID uint64) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("wallet: parse private key: %w", err)
	}
	id := new(big.Int).SetUint64(chainID)
	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
	}, nil
}

// Address returns the account address.
func (w *Wallet) Address() common.Address { return w.address }

// ChainID returns the bound chain id.
func (w *Wallet) ChainID() *big.Int { return new(big.Int).Set(w.chainID) }

// Key exposes the raw key for relay request signing.
func (w *Wallet) Key() *ecdsa.PrivateKey { return w.key }

// SignTx signs tx with the wallet key.
func (w *Wallet) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, w.signer, w.key)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign transaction: %w", err)
	}
	return signed, nil
}
