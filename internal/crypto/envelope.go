package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNotSealed = errors.New("value is not a sealed envelope")

// Envelope is the stored form of a sealed value. Label is bound to the
// ciphertext as additional data, so a blob sealed for one storage key does
// not open under another.
type Envelope struct {
	KeyID      string `json:"key_id"`
	Label      string `json:"label,omitempty"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type Manager struct {
	currentKeyID string
	keys         map[string][]byte
}

func NewManager(currentKeyID string, keys map[string][]byte) (*Manager, error) {
	if currentKeyID == "" {
		return nil, fmt.Errorf("current key id is empty")
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("keys map is empty")
	}
	if _, ok := keys[currentKeyID]; !ok {
		return nil, fmt.Errorf("current key id %q not found", currentKeyID)
	}
	cp := make(map[string][]byte, len(keys))
	for id, key := range keys {
		if len(key) != 32 {
			return nil, fmt.Errorf("key %q must be 32 bytes", id)
		}
		cp[id] = append([]byte(nil), key...)
	}
	return &Manager{currentKeyID: currentKeyID, keys: cp}, nil
}

func (m *Manager) CurrentKeyID() string { return m.currentKeyID }

func (m *Manager) Encrypt(label string, plaintext []byte) (Envelope, error) {
	aead, err := newAEAD(m.keys[m.currentKeyID])
	if err != nil {
		return Envelope{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, []byte(label))

	return Envelope{
		KeyID:      m.currentKeyID,
		Label:      label,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

func (m *Manager) Decrypt(env Envelope) ([]byte, error) {
	key, ok := m.keys[env.KeyID]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", env.KeyID)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes", aead.NonceSize())
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(env.Label))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// Seal encrypts value with the current key and returns the JSON envelope.
func (m *Manager) Seal(label, value string) (string, error) {
	env, err := m.Encrypt(label, []byte(value))
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(b), nil
}

// Open reverses Seal. label must match the one the value was sealed with.
func (m *Manager) Open(label, raw string) (string, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return "", err
	}
	if env.Label != label {
		return "", fmt.Errorf("envelope sealed for %q, not %q", env.Label, label)
	}
	pt, err := m.Decrypt(env)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Reseal opens raw and seals it again under the current key.
func (m *Manager) Reseal(label, raw string) (string, error) {
	plain, err := m.Open(label, raw)
	if err != nil {
		return "", err
	}
	return m.Seal(label, plain)
}

// IsSealed reports whether raw parses as an envelope. Values stored before
// a master key was configured are plain JSON and fail this check.
func IsSealed(raw string) bool {
	_, err := parseEnvelope(raw)
	return err == nil
}

func parseEnvelope(raw string) (Envelope, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return Envelope{}, ErrNotSealed
	}
	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrNotSealed, err)
	}
	if env.KeyID == "" || env.Nonce == "" || env.Ciphertext == "" {
		return Envelope{}, ErrNotSealed
	}
	return env, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
