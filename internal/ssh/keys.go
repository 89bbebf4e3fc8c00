package ssh

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// KeyPair is an RSA key pair shared by every node a run creates
type KeyPair struct {
	PrivateKey string // PEM
	PublicKey  string // authorized_keys format
}

// GenerateKeyPairInMemory generates a new 2048-bit RSA key pair without touching disk
func GenerateKeyPairInMemory() (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	publicKey, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: string(privateKeyPEM),
		PublicKey:  string(ssh.MarshalAuthorizedKey(publicKey)),
	}, nil
}

// WriteFiles writes the pair into dir and returns the private key path.
// External tools such as rke read the key from disk.
func (kp *KeyPair) WriteFiles(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create key directory: %w", err)
	}

	privateKeyPath := filepath.Join(dir, "clusterswarm_key")
	if err := os.WriteFile(privateKeyPath, []byte(kp.PrivateKey), 0o600); err != nil {
		return "", fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(privateKeyPath+".pub", []byte(kp.PublicKey), 0o644); err != nil {
		return "", fmt.Errorf("failed to write public key: %w", err)
	}
	return privateKeyPath, nil
}

// Signer parses the private key for use by an SSH client.
func (kp *KeyPair) Signer() (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey([]byte(kp.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}
