// Package signature derives the service signing key and produces detached
// Ed25519 signatures over canonical chèque payloads.
package signature

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/grachmannico95/palette-cheque/internal/domain"
)

// Algorithm is reported alongside the public key.
const Algorithm = "Ed25519"

// ChequePayload is the signed view of a chèque. The toarray encoding makes
// the declared field order (id, from, to, qty, type, ts) part of the bytes.
type ChequePayload struct {
	_    struct{} `cbor:",toarray"`
	ID   string   `json:"id"`
	From string   `json:"from"`
	To   string   `json:"to"`
	Qty  int64    `json:"qty"`
	Type string   `json:"type"`
	Ts   string   `json:"ts"`
}

func PayloadFor(c *domain.Cheque) ChequePayload {
	return ChequePayload{
		ID:   c.ID,
		From: c.EmitterID,
		To:   c.TargetSiteID,
		Qty:  c.Quantity,
		Type: c.PalletType.String(),
		Ts:   FormatTimestamp(c.Timestamps.EmittedAt),
	}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("signature: cbor enc mode: %v", err))
	}
	return em
}

// Encode returns the exact bytes that are signed for p.
func Encode(p ChequePayload) ([]byte, error) {
	return encMode.Marshal(p)
}

type Service struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewService derives the keypair from seed. The same seed always yields the
// same key so signatures stay verifiable across restarts.
func NewService(seed string) (*Service, error) {
	if seed == "" {
		return nil, errors.New("signature: empty seed")
	}
	digest := blake2b.Sum256([]byte(seed))
	priv := ed25519.NewKeyFromSeed(digest[:])

	return &Service{
		privateKey: priv,
		publicKey:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// Sign returns the base64 detached signature of p.
func (s *Service) Sign(p ChequePayload) (string, error) {
	msg, err := Encode(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.privateKey, msg)), nil
}

// Verify never fails loudly: malformed signatures simply do not verify.
func (s *Service) Verify(p ChequePayload, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg, err := Encode(p)
	if err != nil {
		return false
	}
	return ed25519.Verify(s.publicKey, msg, sig)
}

func (s *Service) PublicKey() string {
	return base64.StdEncoding.EncodeToString(s.publicKey)
}

func (s *Service) PublicKeyHex() string {
	return hex.EncodeToString(s.publicKey)
}

// Truncate shortens a signature for display on printed proofs.
func Truncate(signature string) string {
	const keep = 16
	if len(signature) <= keep {
		return signature
	}
	return signature[:keep] + "..."
}
