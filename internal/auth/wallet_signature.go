package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

var ErrInvalidSignature = errors.New("invalid wallet signature")

// VerifyWalletSignature checks an ed25519 signMessage signature by the
// wallet's own key over the exact challenge message. The signature may be
// base58 or base64 encoded.
func VerifyWalletSignature(wallet, message, signature string) error {
	pub, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return fmt.Errorf("invalid wallet address: %w", err)
	}

	sig, err := decodeSignature(signature)
	if err != nil {
		return err
	}

	if !ed25519.Verify(ed25519.PublicKey(pub.Bytes()), []byte(message), sig) {
		return ErrInvalidSignature
	}
	return nil
}

func decodeSignature(s string) ([]byte, error) {
	if b, err := base58.Decode(s); err == nil && len(b) == ed25519.SignatureSize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == ed25519.SignatureSize {
		return b, nil
	}
	return nil, fmt.Errorf("%w: expected a %d byte base58 or base64 signature", ErrInvalidSignature, ed25519.SignatureSize)
}
