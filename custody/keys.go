package custody

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// GenerateMnemonic returns a fresh 24-word mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// DerivationPath is the BIP44 Ethereum path of the custody account at index.
func DerivationPath(index uint32) string {
	return fmt.Sprintf("m/44'/60'/0'/0/%d", index)
}

// DeriveKey derives the custody key at DerivationPath(index).
func DeriveKey(mnemonic string, index uint32) (*ecdsa.PrivateKey, common.Address, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, common.Address{}, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")

	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("master key: %w", err)
	}

	key := masterKey
	for _, i := range []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	} {
		if key, err = key.Derive(i); err != nil {
			return nil, common.Address{}, fmt.Errorf("derive %s: %w", DerivationPath(index), err)
		}
	}

	btcKey, err := key.ECPrivKey()
	if err != nil {
		return nil, common.Address{}, err
	}
	priv, err := crypto.ToECDSA(btcKey.Serialize())
	if err != nil {
		return nil, common.Address{}, err
	}
	return priv, crypto.PubkeyToAddress(priv.PublicKey), nil
}
