// Package kms manages the layered symmetric key hierarchy protecting
// audit payloads and stored credentials.
//
// Keys are AES-256; payload encryption derives a per-tier key via HKDF
// so the stored material is never used as a cipher key directly. The
// keystore is a single JSON file with restrictive permissions: the
// master key is persisted raw, every other tier is persisted wrapped
// by the master key (envelope encryption).
package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// Manager owns the key hierarchy. The active-key pointers are
// read-mostly: refreshed only on rotation, read on every encrypt.
type Manager struct {
	mu     sync.RWMutex
	path   string
	keys   map[string]*Key // id -> key, all tiers
	active map[Tier]string // tier -> active key id
}

// storedKey is the on-disk representation. Wrapped holds base64 raw
// material for the master tier, or "<masterKeyID>:<base64>" envelope
// ciphertext for every other tier.
type storedKey struct {
	ID        string    `json:"id"`
	Tier      Tier      `json:"tier"`
	Status    Status    `json:"status"`
	Wrapped   string    `json:"wrapped"`
	CreatedAt time.Time `json:"created_at"`
}

type keystoreFile struct {
	Keys []storedKey `json:"keys"`
}

// New loads the keystore at path, bootstrapping a fresh hierarchy
// (one ACTIVE key per tier) when the file does not exist.
func New(keystorePath string) (*Manager, error) {
	m := &Manager{
		path:   keystorePath,
		keys:   make(map[string]*Key),
		active: make(map[Tier]string),
	}

	if _, err := os.Stat(keystorePath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(keystorePath), 0700); err != nil {
			return nil, fmt.Errorf("kms: create keystore dir: %w", err)
		}
		for _, tier := range []Tier{TierMaster, TierLevel1, TierLevel2, TierApplication} {
			if _, err := m.newKeyLocked(tier); err != nil {
				return nil, err
			}
		}
		if err := m.persistLocked(); err != nil {
			return nil, err
		}
		return m, nil
	}

	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// GetActive returns the ACTIVE key of the tier.
func (m *Manager) GetActive(tier Tier) (*Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked(tier)
}

// GetByID looks up a key by id within a tier, regardless of status.
// DELETED keys behave as absent.
func (m *Manager) GetByID(tier Tier, id string) (*Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.keys[id]
	if !ok || k.Tier != tier || k.Status == StatusDeleted {
		return nil, fmt.Errorf("%w: %s/%s", ErrKeyNotFound, tier, id)
	}
	return k, nil
}

// CreateAndActivate generates a new ACTIVE key for the tier, demoting
// the previous ACTIVE key to PASSIVE. DISABLED and DELETED keys are
// never touched. PASSIVE keys remain valid for decryption indefinitely:
// audit payloads may reference them forever.
func (m *Manager) CreateAndActivate(tier Tier) (*Key, error) {
	if !tier.valid() {
		return nil, fmt.Errorf("kms: unknown tier %q", tier)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k, err := m.newKeyLocked(tier)
	if err != nil {
		return nil, err
	}
	if err := m.persistLocked(); err != nil {
		return nil, err
	}
	return k, nil
}

// Rotate is the explicit rotation action; an alias for
// CreateAndActivate kept for operational clarity.
func (m *Manager) Rotate(tier Tier) (*Key, error) {
	return m.CreateAndActivate(tier)
}

// Disable marks a key DISABLED. It can no longer encrypt or decrypt
// but stays on record.
func (m *Manager) Disable(tier Tier, id string) error {
	return m.setStatus(tier, id, StatusDisabled)
}

// Delete marks a key DELETED. The record is kept (never removed from
// the keystore) but every operation on it fails with ErrKeyNotFound.
func (m *Manager) Delete(tier Tier, id string) error {
	return m.setStatus(tier, id, StatusDeleted)
}

// Encrypt encrypts plaintext under the tier's ACTIVE key, returning
// "<keyID>:<base64(nonce+ciphertext)>". Empty input passes through
// unchanged, so optional fields need no special casing at call sites.
func (m *Manager) Encrypt(tier Tier, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	m.mu.RLock()
	k, err := m.activeLocked(tier)
	m.mu.RUnlock()
	if err != nil {
		return "", err
	}

	ct, err := aesGCMEncrypt(payloadKey(k), []byte(plaintext))
	if err != nil {
		return "", err
	}
	return k.ID + ":" + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt, resolving the key by its recorded id
// regardless of current ACTIVE/PASSIVE status. DISABLED keys reject
// the operation; DELETED or unknown keys fail with ErrKeyNotFound.
func (m *Manager) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	id, payload, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return "", fmt.Errorf("%w: missing key id prefix", ErrDecryptionFailure)
	}

	m.mu.RLock()
	k, found := m.keys[id]
	m.mu.RUnlock()

	if !found || k.Status == StatusDeleted {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	if k.Status == StatusDisabled {
		return "", fmt.Errorf("%w: %s", ErrKeyDisabled, id)
	}

	ct, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", ErrDecryptionFailure, err)
	}
	pt, err := aesGCMDecrypt(payloadKey(k), ct)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailure, err)
	}
	return string(pt), nil
}

// --- internals ---

func (m *Manager) activeLocked(tier Tier) (*Key, error) {
	id, ok := m.active[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveKey, tier)
	}
	k, ok := m.keys[id]
	if !ok || k.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveKey, tier)
	}
	return k, nil
}

// newKeyLocked generates and activates a key. Caller holds the write
// lock (or is the bootstrap path before the manager escapes).
func (m *Manager) newKeyLocked(tier Tier) (*Key, error) {
	material := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return nil, fmt.Errorf("kms: generate key material: %w", err)
	}

	if prevID, ok := m.active[tier]; ok {
		if prev := m.keys[prevID]; prev != nil && prev.Status == StatusActive {
			prev.Status = StatusPassive
		}
	}

	k := &Key{
		ID:        uuid.New().String(),
		Tier:      tier,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
		material:  material,
	}
	m.keys[k.ID] = k
	m.active[tier] = k.ID
	return k, nil
}

func (m *Manager) setStatus(tier Tier, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.keys[id]
	if !ok || k.Tier != tier || k.Status == StatusDeleted {
		return fmt.Errorf("%w: %s/%s", ErrKeyNotFound, tier, id)
	}
	if tier == TierMaster && m.active[tier] == id {
		// The active master wraps the keystore; rotate first.
		return fmt.Errorf("kms: cannot %s the active master key", strings.ToLower(string(status)))
	}
	k.Status = status
	if m.active[tier] == id {
		delete(m.active, tier)
	}
	return m.persistLocked()
}

// persistLocked writes the keystore. Non-master material is wrapped by
// the current master key so the file alone cannot reveal level keys.
func (m *Manager) persistLocked() error {
	master, err := m.activeLocked(TierMaster)
	if err != nil {
		return err
	}

	var file keystoreFile
	for _, k := range m.keys {
		sk := storedKey{ID: k.ID, Tier: k.Tier, Status: k.Status, CreatedAt: k.CreatedAt}
		if k.Tier == TierMaster {
			sk.Wrapped = base64.StdEncoding.EncodeToString(k.material)
		} else {
			ct, err := aesGCMEncrypt(master.material, k.material)
			if err != nil {
				return fmt.Errorf("kms: wrap key %s: %w", k.ID, err)
			}
			sk.Wrapped = master.ID + ":" + base64.StdEncoding.EncodeToString(ct)
		}
		file.Keys = append(file.Keys, sk)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("kms: marshal keystore: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0600); err != nil {
		return fmt.Errorf("kms: write keystore: %w", err)
	}
	return nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("kms: read keystore: %w", err)
	}
	var file keystoreFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("kms: parse keystore: %w", err)
	}

	// Master keys first; they unwrap everything else.
	for _, sk := range file.Keys {
		if sk.Tier != TierMaster {
			continue
		}
		material, err := base64.StdEncoding.DecodeString(sk.Wrapped)
		if err != nil {
			return fmt.Errorf("kms: decode master key %s: %w", sk.ID, err)
		}
		if len(material) != keySize {
			return fmt.Errorf("kms: master key %s has invalid length %d", sk.ID, len(material))
		}
		m.addLoaded(sk, material)
	}

	for _, sk := range file.Keys {
		if sk.Tier == TierMaster {
			continue
		}
		masterID, payload, ok := strings.Cut(sk.Wrapped, ":")
		if !ok {
			return fmt.Errorf("kms: key %s has malformed envelope", sk.ID)
		}
		master, found := m.keys[masterID]
		if !found || master.Tier != TierMaster {
			return fmt.Errorf("%w: wrapping master key %s", ErrKeyNotFound, masterID)
		}
		// Unwrapping needs the master ACTIVE or PASSIVE.
		if master.Status == StatusDisabled || master.Status == StatusDeleted {
			return fmt.Errorf("%w: master key %s cannot unwrap", ErrKeyDisabled, masterID)
		}
		ct, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return fmt.Errorf("kms: decode wrapped key %s: %w", sk.ID, err)
		}
		material, err := aesGCMDecrypt(master.material, ct)
		if err != nil {
			return fmt.Errorf("%w: unwrap key %s: %v", ErrDecryptionFailure, sk.ID, err)
		}
		m.addLoaded(sk, material)
	}

	for tier, id := range m.active {
		if _, ok := m.keys[id]; !ok {
			return fmt.Errorf("kms: active key %s for tier %s missing", id, tier)
		}
	}
	return nil
}

func (m *Manager) addLoaded(sk storedKey, material []byte) {
	k := &Key{ID: sk.ID, Tier: sk.Tier, Status: sk.Status, CreatedAt: sk.CreatedAt, material: material}
	m.keys[k.ID] = k
	if k.Status == StatusActive {
		m.active[k.Tier] = k.ID
	}
}

// payloadKey derives the cipher key from stored material, bound to the
// tier so material reuse across tiers would still yield distinct keys.
func payloadKey(k *Key) []byte {
	r := hkdf.New(sha256.New, k.material, nil, []byte("warden/payload/"+string(k.Tier)))
	out := make([]byte, keySize)
	if _, err := io.ReadFull(r, out); err != nil {
		// HKDF over SHA-256 cannot fail for a 32-byte read.
		panic(err)
	}
	return out
}

// --- AES-256-GCM helpers ---

func aesGCMEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kms: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("kms: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func aesGCMDecrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kms: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("kms: ciphertext too short")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}
