// Package signing canonicalizes oracle messages and signs or recovers them
// with EIP-191 personal-message signatures.
package signing

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/goliatone/go-oracle/core"
)

const signatureLength = 65

type Codec struct{}

func NewCodec() Codec {
	return Codec{}
}

// Canonicalize renders msg as JSON with lexically ordered keys at every level.
func (Codec) Canonicalize(msg core.OracleMessage) ([]byte, error) {
	body := map[string]any{
		"escrow_address": msg.EscrowAddress,
		"chain_id":       msg.ChainID,
		"event_type":     msg.EventType,
	}
	if msg.EventData != nil {
		body["event_data"] = msg.EventData
	}
	if strings.TrimSpace(msg.Timestamp) != "" {
		body["timestamp"] = msg.Timestamp
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("signing: canonicalize message: %w", err)
	}
	return raw, nil
}

func (Codec) Sign(identity core.SigningIdentity, payload []byte) (string, error) {
	if identity == nil {
		return "", fmt.Errorf("signing: identity is required")
	}
	return identity.SignMessage(payload)
}

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// RecoverSigner returns the checksummed address that produced signature
// over payload.
func (Codec) RecoverSigner(payload []byte, signature string) (string, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return "", err
	}
	pub, err := crypto.SigToPub(accounts.TextHash(payload), sig)
	if err != nil {
		return "", fmt.Errorf("signing: recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// CanonicalSignature re-encodes signature as lowercase hex with a low s and
// V of 27 or 28. Every encoding that recovers the same signer over the same
// payload maps to one string.
func (Codec) CanonicalSignature(signature string) (string, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// decodeSignature returns the 65 signature bytes with V as 0 or 1 and s
// folded into the lower half of the curve order.
func decodeSignature(signature string) ([]byte, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return nil, fmt.Errorf("signing: decode signature: %w", err)
	}
	if len(raw) != signatureLength {
		return nil, fmt.Errorf("signing: signature must be %d bytes, got %d", signatureLength, len(raw))
	}
	sig := bytes.Clone(raw)
	v := sig[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return nil, fmt.Errorf("signing: invalid recovery id %d", sig[crypto.RecoveryIDOffset])
	}
	s := new(big.Int).SetBytes(sig[32:64])
	if s.Sign() == 0 || s.Cmp(secp256k1N) >= 0 {
		return nil, fmt.Errorf("signing: signature s is out of range")
	}
	if s.Cmp(secp256k1HalfN) > 0 {
		s.Sub(secp256k1N, s)
		s.FillBytes(sig[32:64])
		v ^= 1
	}
	sig[crypto.RecoveryIDOffset] = v
	return sig, nil
}

// KeyIdentity signs with an in-memory secp256k1 key.
type KeyIdentity struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewKeyIdentity(hexKey string) (*KeyIdentity, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("signing: private key is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signing: parse private key: %w", err)
	}
	return NewKeyIdentityFromKey(key), nil
}

func NewKeyIdentityFromKey(key *ecdsa.PrivateKey) *KeyIdentity {
	return &KeyIdentity{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (k *KeyIdentity) Address() string {
	if k == nil {
		return ""
	}
	return k.address.Hex()
}

func (k *KeyIdentity) SignMessage(payload []byte) (string, error) {
	if k == nil || k.key == nil {
		return "", fmt.Errorf("signing: identity is not configured")
	}
	sig, err := crypto.Sign(accounts.TextHash(payload), k.key)
	if err != nil {
		return "", fmt.Errorf("signing: sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// IsChecksumAddress reports whether value is a 0x-prefixed 20 byte address
// in its EIP-55 mixed-case form.
func IsChecksumAddress(value string) bool {
	if len(value) != 42 || !strings.HasPrefix(value, "0x") {
		return false
	}
	if !common.IsHexAddress(value) {
		return false
	}
	return common.HexToAddress(value).Hex() == value
}

// ChecksumAddress normalizes any hex address to its EIP-55 form.
func ChecksumAddress(value string) (string, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return "", fmt.Errorf("signing: invalid address %q", value)
	}
	return common.HexToAddress(value).Hex(), nil
}

var (
	_ core.SignedMessageCodec = Codec{}
	_ core.SigningIdentity    = (*KeyIdentity)(nil)
)
