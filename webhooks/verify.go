package webhooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-oracle/core"
)

// Sender is an authenticated peer. Signature is the canonical encoding of
// the signature it sent and identifies the message for deduplication.
type Sender struct {
	Role      core.Role
	Signature string
}

// Verifier authenticates a signed body and returns its sender.
type Verifier interface {
	Verify(ctx context.Context, rawBody []byte, signature string) (Sender, error)
}

// SignatureVerifier recovers the signer address from the signature over the
// raw body and resolves it to a role. Any failure is an authentication error.
type SignatureVerifier struct {
	Codec core.SignedMessageCodec
	Roles core.RoleResolver
}

func NewSignatureVerifier(codec core.SignedMessageCodec, roles core.RoleResolver) *SignatureVerifier {
	return &SignatureVerifier{Codec: codec, Roles: roles}
}

func (v *SignatureVerifier) Verify(ctx context.Context, rawBody []byte, signature string) (Sender, error) {
	if v == nil || v.Codec == nil || v.Roles == nil {
		return Sender{}, fmt.Errorf("webhooks: signature verifier requires codec and role resolver")
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return Sender{}, core.NewAuthenticationError("")
	}
	canonical, err := v.Codec.CanonicalSignature(signature)
	if err != nil {
		return Sender{}, core.NewAuthenticationError("")
	}
	address, err := v.Codec.RecoverSigner(rawBody, canonical)
	if err != nil {
		return Sender{}, core.NewAuthenticationError("")
	}
	role, err := v.Roles.ResolveRole(ctx, address)
	if err != nil {
		if core.IsAuthenticationError(err) {
			return Sender{}, err
		}
		return Sender{}, core.NewAuthenticationError("")
	}
	return Sender{Role: role, Signature: canonical}, nil
}

var _ Verifier = (*SignatureVerifier)(nil)
