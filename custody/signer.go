package custody

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
)

// Signer signs custody transactions.
// - with remoteURL set, signing is delegated to the remote service
// - otherwise the local key signs (development and tests)
type Signer struct {
	remoteURL string
	localKey  *ecdsa.PrivateKey
	chainID   *big.Int
	client    *http.Client
}

func NewSigner(remoteURL string, localKey *ecdsa.PrivateKey, chainID int64) (*Signer, error) {
	if remoteURL == "" && localKey == nil {
		return nil, errors.New("no signer configured")
	}
	return &Signer{
		remoteURL: strings.TrimSuffix(remoteURL, "/"),
		localKey:  localKey,
		chainID:   big.NewInt(chainID),
		client:    http.DefaultClient,
	}, nil
}

// Sign returns tx signed for the configured chain.
func (s *Signer) Sign(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	if s.remoteURL != "" {
		return s.signRemote(ctx, tx)
	}
	return types.SignTx(tx, types.NewLondonSigner(s.chainID), s.localKey)
}

func (s *Signer) signRemote(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	unsigned, err := tx.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal unsigned tx: %w", err)
	}
	body, _ := json.Marshal(map[string]string{
		"unsigned_tx": string(unsigned),
		"chain_id":    s.chainID.String(),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.remoteURL+"/sign", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote signer returned %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(out["signed_tx"], "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signed tx: %w", err)
	}
	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("unmarshal signed tx: %w", err)
	}
	if signed.Hash() == tx.Hash() {
		return nil, errors.New("remote signer returned an unsigned tx")
	}
	return signed, nil
}
