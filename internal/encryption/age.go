// Package encryption manages the encryption-material artifacts the records
// application depends on: an X25519 key pair from filippo.io/age plus the
// key-derivation salt. The public key (recipient) encrypts attachments; the
// private key is stored wrapped with the operator's passphrase using age's
// scrypt-based passphrase encryption and is only ever unlocked into process
// memory for the duration of a session.
package encryption

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"chartbak/internal/engine"
)

const saltSize = 32

// ageHeader is the first line of every age ciphertext; used to sanity-check
// a wrapped private key without unlocking it.
const ageHeader = "age-encryption.org/v1"

// Material locates the three encryption-material artifacts. They are part of
// every backup payload: a backup without them cannot be decrypted even if
// the database file itself is intact.
type Material struct {
	SaltPath       string
	PublicKeyPath  string
	PrivateKeyPath string
}

func NewMaterial(saltPath, publicKeyPath, privateKeyPath string) *Material {
	return &Material{
		SaltPath:       saltPath,
		PublicKeyPath:  publicKeyPath,
		PrivateKeyPath: privateKeyPath,
	}
}

// Setup performs one-time key generation: a fresh X25519 key pair and a
// random salt. The public key is stored in plaintext; the private key is
// encrypted with the passphrase.
func (m *Material) Setup(passphrase string) error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	for _, p := range []string{m.SaltPath, m.PublicKeyPath, m.PrivateKeyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}
	if err := os.WriteFile(m.SaltPath, salt, 0600); err != nil {
		return fmt.Errorf("writing salt: %w", err)
	}

	if err := os.WriteFile(m.PublicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	privFile, err := os.OpenFile(m.PrivateKeyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating private key file: %w", err)
	}
	defer privFile.Close()

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	w, err := age.Encrypt(privFile, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}

	return nil
}

// Encrypt reads plaintext from r and writes age ciphertext to w using the
// stored public key. No passphrase required.
func (m *Material) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := loadRecipient(m.PublicKeyPath)
	if err != nil {
		return err
	}
	return encryptTo(recipient, r, w)
}

// Unlock decrypts the private key using the passphrase and returns a
// DecryptionContext holding the unlocked identity in memory.
func (m *Material) Unlock(passphrase string) (engine.DecryptionContext, error) {
	privData, err := os.ReadFile(m.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(bytes.NewReader(privData), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	keyData, err := io.ReadAll(decReader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted private key: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(keyData))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in private key")
	}

	return &DecryptionContext{identity: identities[0]}, nil
}

// IsConfigured returns true if all three artifact files exist.
func (m *Material) IsConfigured() bool {
	for _, p := range []string{m.SaltPath, m.PublicKeyPath, m.PrivateKeyPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// VerifyStaged validates restored encryption-material artifacts in a restore
// staging root: the salt must be present and non-empty, the public key must
// parse as an age recipient, and the wrapped private key must carry the age
// header. When sess holds the session's unlocked key, a probe is encrypted
// to the staged recipient and decrypted with the session key, proving the
// restored material matches the key the operator is actually using.
func (m *Material) VerifyStaged(root string, sess engine.DecryptionContext) error {
	staged := func(p string) string {
		return filepath.Join(root, "keys", filepath.Base(p))
	}

	salt, err := os.ReadFile(staged(m.SaltPath))
	if err != nil {
		return fmt.Errorf("reading salt: %w", err)
	}
	if len(salt) == 0 {
		return fmt.Errorf("salt is empty")
	}

	recipient, err := loadRecipient(staged(m.PublicKeyPath))
	if err != nil {
		return err
	}

	wrapped, err := os.ReadFile(staged(m.PrivateKeyPath))
	if err != nil {
		return fmt.Errorf("reading wrapped private key: %w", err)
	}
	if !strings.HasPrefix(string(wrapped), ageHeader) {
		return fmt.Errorf("wrapped private key is not an age file")
	}

	if sess == nil {
		return nil
	}

	var ciphertext bytes.Buffer
	probe := []byte("chartbak material probe")
	if err := encryptTo(recipient, bytes.NewReader(probe), &ciphertext); err != nil {
		return fmt.Errorf("encrypting probe: %w", err)
	}

	var plaintext bytes.Buffer
	if err := sess.Decrypt(&ciphertext, &plaintext); err != nil {
		return fmt.Errorf("restored key does not match session key: %w", err)
	}
	if !bytes.Equal(plaintext.Bytes(), probe) {
		return fmt.Errorf("probe round trip produced different bytes")
	}
	return nil
}

// DecryptionContext holds an unlocked age identity for the duration of a
// session. The unlocked key stays in memory only.
type DecryptionContext struct {
	identity age.Identity
}

var _ engine.DecryptionContext = (*DecryptionContext)(nil)

// Decrypt reads age ciphertext from r and writes plaintext to w.
func (c *DecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	decReader, err := age.Decrypt(r, c.identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}

func loadRecipient(path string) (age.Recipient, error) {
	pubData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}

	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}
	return recipients[0], nil
}

func encryptTo(recipient age.Recipient, r io.Reader, w io.Writer) error {
	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}
