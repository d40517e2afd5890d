package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const rsaKeyBits = 2048

// Keyring holds the long-lived RSA key pair used to sign and verify
// license tokens. It is constructed once at startup and shared by
// reference; all methods are safe for concurrent use.
type Keyring struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// LoadOrGenerateKeyring loads the PEM-encoded key pair from disk,
// generating and persisting a fresh pair when either file is missing.
// The private key file is written owner read/write only.
func LoadOrGenerateKeyring(privatePath, publicPath string) (*Keyring, error) {
	if err := os.MkdirAll(filepath.Dir(privatePath), 0o755); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	if !fileExists(privatePath) || !fileExists(publicPath) {
		if err := generateKeyPair(privatePath, publicPath); err != nil {
			return nil, err
		}
	}

	return loadKeyring(privatePath, publicPath)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func generateKeyPair(privatePath, publicPath string) error {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return fmt.Errorf("generate rsa key: %w", err)
	}

	privateDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateDER})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	return nil
}

func loadKeyring(privatePath, publicPath string) (*Keyring, error) {
	privatePEM, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	private, err := parsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}

	publicPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	public, err := parsePublicKey(publicPEM)
	if err != nil {
		return nil, err
	}

	return &Keyring{private: private, public: public}, nil
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("private key: no PEM block found")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// fall back to PKCS#1 for keys generated by other tooling
		if key, perr := x509.ParsePKCS1PrivateKey(block.Bytes); perr == nil {
			return key, nil
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("public key: no PEM block found")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
