package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

func newWallet(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	return solana.PublicKeyFromBytes(pub).String(), priv
}

func TestVerifyWalletSignature_Valid(t *testing.T) {
	wallet, priv := newWallet(t)
	msg := "Sign in to StreamPay\n\nNonce: abc"
	sig := ed25519.Sign(priv, []byte(msg))

	if err := VerifyWalletSignature(wallet, msg, base58.Encode(sig)); err != nil {
		t.Errorf("base58 signature: %v", err)
	}
	if err := VerifyWalletSignature(wallet, msg, base64.StdEncoding.EncodeToString(sig)); err != nil {
		t.Errorf("base64 signature: %v", err)
	}
}

func TestVerifyWalletSignature_WrongMessage(t *testing.T) {
	wallet, priv := newWallet(t)
	sig := ed25519.Sign(priv, []byte("message A"))

	if err := VerifyWalletSignature(wallet, "message B", base58.Encode(sig)); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("got %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyWalletSignature_WrongKey(t *testing.T) {
	_, priv := newWallet(t)
	other, _ := newWallet(t)
	msg := "hello"
	sig := ed25519.Sign(priv, []byte(msg))

	if err := VerifyWalletSignature(other, msg, base58.Encode(sig)); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("got %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyWalletSignature_Malformed(t *testing.T) {
	wallet, _ := newWallet(t)
	if err := VerifyWalletSignature(wallet, "m", "short"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("got %v", err)
	}
	if err := VerifyWalletSignature("not-a-wallet", "m", "x"); err == nil {
		t.Error("expected error for invalid wallet")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	id := uuid.New()
	token, err := GenerateJWT("secret", id, "WalletAddr", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ParseJWT("secret", token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != id || claims.Wallet != "WalletAddr" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := ParseJWT("other", token); err == nil {
		t.Error("expected error for wrong secret")
	}
}

func TestJWTDefaultExpiration(t *testing.T) {
	token, err := GenerateJWT("secret", uuid.New(), "w", -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	// non-positive expiration falls back to 24h
	if _, err := ParseJWT("secret", token); err != nil {
		t.Errorf("fallback expiration: %v", err)
	}
}
