package signing

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/goliatone/go-oracle/core"
)

func TestCodec_SignAndRecoverRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	identity := NewKeyIdentityFromKey(key)
	codec := NewCodec()

	payload, err := codec.Canonicalize(core.OracleMessage{
		EscrowAddress: "0x0000000000000000000000000000000000000001",
		ChainID:       80002,
		EventType:     "task_finished",
	})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	signature, err := codec.Sign(identity, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.HasPrefix(signature, "0x") || len(signature) != 2+65*2 {
		t.Fatalf("unexpected signature encoding %q", signature)
	}

	signer, err := codec.RecoverSigner(payload, signature)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if signer != identity.Address() {
		t.Fatalf("expected signer %s, got %s", identity.Address(), signer)
	}

	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] = 'x'
	other, err := codec.RecoverSigner(tampered, signature)
	if err == nil && other == identity.Address() {
		t.Fatalf("expected tampered payload to recover a different signer")
	}
}

func TestCodec_CanonicalizeIsStable(t *testing.T) {
	codec := NewCodec()
	first, err := codec.Canonicalize(core.OracleMessage{
		EscrowAddress: "0xabc",
		ChainID:       1,
		EventType:     "task_rejected",
		EventData:     map[string]any{"z": 1, "a": []int{2}},
	})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"chain_id":1,"escrow_address":"0xabc","event_data":{"a":[2],"z":1},"event_type":"task_rejected"}`
	if string(first) != want {
		t.Fatalf("unexpected canonical form\nwant %s\ngot  %s", want, first)
	}
}

func TestCodec_RecoverRejectsMalformedSignatures(t *testing.T) {
	codec := NewCodec()
	if _, err := codec.RecoverSigner([]byte("{}"), "not-hex"); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := codec.RecoverSigner([]byte("{}"), "0x1234"); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestIsChecksumAddress(t *testing.T) {
	key, _ := crypto.GenerateKey()
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	if !IsChecksumAddress(address) {
		t.Fatalf("expected %s to be checksummed", address)
	}
	if strings.ToLower(address) != address && IsChecksumAddress(strings.ToLower(address)) {
		t.Fatalf("expected lowercase address to fail checksum")
	}
	if IsChecksumAddress("0x123") {
		t.Fatalf("expected short address to fail")
	}
	normalized, err := ChecksumAddress(strings.ToLower(address))
	if err != nil || normalized != address {
		t.Fatalf("expected checksum normalization, got %q %v", normalized, err)
	}
}

func TestNewKeyIdentity_ParsesHexKeys(t *testing.T) {
	identity, err := NewKeyIdentity("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	if identity.Address() != "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23" {
		t.Fatalf("unexpected address %s", identity.Address())
	}
	if _, err := NewKeyIdentity(""); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestCodec_CanonicalSignatureFoldsEncodings(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	identity := NewKeyIdentityFromKey(key)
	codec := NewCodec()
	payload := []byte(`{"chain_id":80002,"escrow_address":"0x1","event_type":"escrow_created"}`)
	signature, err := codec.Sign(identity, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	want, err := codec.CanonicalSignature(signature)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}

	raw, _ := hexutil.Decode(signature)
	zeroBased := bytes.Clone(raw)
	zeroBased[64] -= 27
	highS := bytes.Clone(raw)
	s := new(big.Int).SetBytes(highS[32:64])
	new(big.Int).Sub(secp256k1N, s).FillBytes(highS[32:64])
	highS[64] = 27 + (1 - (raw[64] - 27))

	variants := map[string]string{
		"as signed":   signature,
		"v of 0 or 1": hexutil.Encode(zeroBased),
		"upper case":  "0x" + strings.ToUpper(signature[2:]),
		"high s":      hexutil.Encode(highS),
	}
	for name, variant := range variants {
		t.Run(name, func(t *testing.T) {
			got, err := codec.CanonicalSignature(variant)
			if err != nil {
				t.Fatalf("canonical: %v", err)
			}
			if got != want {
				t.Fatalf("expected %s, got %s", want, got)
			}
			signer, err := codec.RecoverSigner(payload, variant)
			if err != nil || signer != identity.Address() {
				t.Fatalf("expected %s to recover, got %s err=%v", identity.Address(), signer, err)
			}
		})
	}

	bad := bytes.Clone(raw)
	bad[64] = 5
	if _, err := codec.CanonicalSignature(hexutil.Encode(bad)); err == nil {
		t.Fatalf("expected an unknown recovery id to be rejected")
	}
}
