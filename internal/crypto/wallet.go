package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Wallet is a local secp256k1 account that signs ledger transactions.
type Wallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewWallet creates a Wallet from a hex-encoded private key (with or without
// 0x prefix).
func NewWallet(privateKeyHex string) (*Wallet, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/wallet: invalid private key: %w", err)
	}
	return &Wallet{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the checksummed hex address of the wallet.
func (w *Wallet) Address() string {
	return w.address.Hex()
}

// Account returns the wallet address as a go-ethereum value.
func (w *Wallet) Account() common.Address {
	return w.address
}

// SignTx signs tx for the given chain using the latest signer the chain
// supports (EIP-155 / EIP-1559 aware).
func (w *Wallet) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/wallet: sign tx: %w", err)
	}
	return signed, nil
}
