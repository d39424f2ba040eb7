package kms

import (
	"errors"
	"time"
)

// Tier identifies a level in the key hierarchy. The master key wraps
// every other tier (envelope encryption); level and application keys
// protect payloads.
type Tier string

const (
	TierMaster      Tier = "master"
	TierLevel1      Tier = "level1"
	TierLevel2      Tier = "level2"
	TierApplication Tier = "application"
)

// Status is the key lifecycle state. Exactly one ACTIVE key exists per
// tier; PASSIVE keys decrypt but are never chosen for new encryption;
// DISABLED and DELETED keys reject all operations.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusPassive  Status = "PASSIVE"
	StatusDisabled Status = "DISABLED"
	StatusDeleted  Status = "DELETED"
)

var (
	ErrKeyNotFound       = errors.New("kms: key not found")
	ErrKeyDisabled       = errors.New("kms: key is disabled")
	ErrNoActiveKey       = errors.New("kms: no active key for tier")
	ErrDecryptionFailure = errors.New("kms: decryption failure")
)

// Key is a symmetric key with its lifecycle state. Material is kept
// in memory decrypted; the keystore persists it wrapped by the master
// key for every non-master tier.
type Key struct {
	ID        string    `json:"id"`
	Tier      Tier      `json:"tier"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	material []byte
}

// Material returns the raw 32-byte key material.
func (k *Key) Material() []byte { return k.material }

func (t Tier) valid() bool {
	switch t {
	case TierMaster, TierLevel1, TierLevel2, TierApplication:
		return true
	}
	return false
}
