// Package identity generates the key pair a client presents at handshake. The key only
// proves that a returning client is the one that registered; payloads are not encrypted.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const keyBits = 2048

type KeyPair struct {
	PublicKey  string
	PrivateKey string
}

// GenerateKeyPair returns a fresh RSA-2048 pair, each half PKCS#1 DER encoded as base64.
func GenerateKeyPair() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &KeyPair{
		PublicKey:  base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(&key.PublicKey)),
		PrivateKey: base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PrivateKey(key)),
	}, nil
}

// Validate checks that both halves decode and belong together.
func (k *KeyPair) Validate() error {
	if k.PublicKey == "" || k.PrivateKey == "" {
		return errors.New("key pair is incomplete")
	}
	pub, err := ParsePublicKey(k.PublicKey)
	if err != nil {
		return err
	}
	der, err := base64.StdEncoding.DecodeString(k.PrivateKey)
	if err != nil {
		return fmt.Errorf("decode private key: %w", err)
	}
	priv, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	if !priv.PublicKey.Equal(pub) {
		return errors.New("public key does not match private key")
	}
	return nil
}

func ParsePublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}

// Fingerprint is a short, printable digest of an encoded public key.
func Fingerprint(encoded string) string {
	sum := sha256.Sum256([]byte(encoded))
	return hex.EncodeToString(sum[:8])
}
