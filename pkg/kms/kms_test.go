package kms

import (
	"errors"
	"path/filepath"
	"testing"
)

func tempKeystore(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "keys", "warden.keystore")
}

func TestNew_BootstrapsAllTiers(t *testing.T) {
	m, err := New(tempKeystore(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, tier := range []Tier{TierMaster, TierLevel1, TierLevel2, TierApplication} {
		k, err := m.GetActive(tier)
		if err != nil {
			t.Fatalf("GetActive(%s): %v", tier, err)
		}
		if k.Status != StatusActive {
			t.Errorf("tier %s active key status = %s", tier, k.Status)
		}
		if len(k.Material()) != 32 {
			t.Errorf("tier %s key material length = %d, want 32", tier, len(k.Material()))
		}
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	m, err := New(tempKeystore(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, plaintext := range []string{
		"my email is alice@example.com",
		"schöne Grüße aus München",
		"機密データ 🔐",
	} {
		ct, err := m.Encrypt(TierApplication, plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		if ct == plaintext {
			t.Errorf("ciphertext equals plaintext for %q", plaintext)
		}
		pt, err := m.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if pt != plaintext {
			t.Errorf("round-trip = %q, want %q", pt, plaintext)
		}
	}
}

func TestEncryptDecrypt_EmptyPassthrough(t *testing.T) {
	m, err := New(tempKeystore(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ct, err := m.Encrypt(TierLevel1, "")
	if err != nil || ct != "" {
		t.Fatalf("Encrypt(\"\") = %q, %v; want \"\", nil", ct, err)
	}
	pt, err := m.Decrypt("")
	if err != nil || pt != "" {
		t.Fatalf("Decrypt(\"\") = %q, %v; want \"\", nil", pt, err)
	}
}

func TestRotate_DemotesToPassive(t *testing.T) {
	m, err := New(tempKeystore(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	old, err := m.GetActive(TierLevel2)
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	ct, err := m.Encrypt(TierLevel2, "pre-rotation payload")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	rotated, err := m.Rotate(TierLevel2)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.ID == old.ID {
		t.Fatal("rotation returned the previous key")
	}

	// Exactly one ACTIVE key for the tier; prior key is PASSIVE.
	active, err := m.GetActive(TierLevel2)
	if err != nil {
		t.Fatalf("GetActive after rotate: %v", err)
	}
	if active.ID != rotated.ID {
		t.Errorf("active key = %s, want %s", active.ID, rotated.ID)
	}
	prev, err := m.GetByID(TierLevel2, old.ID)
	if err != nil {
		t.Fatalf("GetByID(old): %v", err)
	}
	if prev.Status != StatusPassive {
		t.Errorf("previous key status = %s, want PASSIVE", prev.Status)
	}

	// PASSIVE keys still decrypt already-encrypted data.
	pt, err := m.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt after rotate: %v", err)
	}
	if pt != "pre-rotation payload" {
		t.Errorf("decrypt after rotate = %q", pt)
	}

	// New encryptions use the new key.
	ct2, err := m.Encrypt(TierLevel2, "post-rotation payload")
	if err != nil {
		t.Fatalf("Encrypt after rotate: %v", err)
	}
	if got := ct2[:len(rotated.ID)]; got != rotated.ID {
		t.Errorf("new ciphertext key id = %s, want %s", got, rotated.ID)
	}
}

func TestDisabledAndDeletedKeysRejectOperations(t *testing.T) {
	m, err := New(tempKeystore(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	old, _ := m.GetActive(TierApplication)
	ct, err := m.Encrypt(TierApplication, "secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := m.Rotate(TierApplication); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if err := m.Disable(TierApplication, old.ID); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if _, err := m.Decrypt(ct); !errors.Is(err, ErrKeyDisabled) {
		t.Errorf("Decrypt with disabled key: err = %v, want ErrKeyDisabled", err)
	}

	if err := m.Delete(TierApplication, old.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Decrypt(ct); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Decrypt with deleted key: err = %v, want ErrKeyNotFound", err)
	}
	if _, err := m.GetByID(TierApplication, old.ID); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("GetByID on deleted key: err = %v, want ErrKeyNotFound", err)
	}
}

func TestPersistence_SurvivesReload(t *testing.T) {
	path := tempKeystore(t)

	m1, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ct, err := m1.Encrypt(TierLevel1, "durable secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	m2, err := New(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	pt, err := m2.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt after reload: %v", err)
	}
	if pt != "durable secret" {
		t.Errorf("reload round-trip = %q", pt)
	}
}

func TestActiveMasterCannotBeDeleted(t *testing.T) {
	m, err := New(tempKeystore(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	master, _ := m.GetActive(TierMaster)
	if err := m.Delete(TierMaster, master.ID); err == nil {
		t.Fatal("deleting the active master key should fail")
	}
}

func TestDecrypt_UnknownKeyID(t *testing.T) {
	m, err := New(tempKeystore(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.Decrypt("no-such-key:aGVsbG8="); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("err = %v, want ErrKeyNotFound", err)
	}
	if _, err := m.Decrypt("not-a-versioned-payload"); !errors.Is(err, ErrDecryptionFailure) {
		t.Errorf("err = %v, want ErrDecryptionFailure", err)
	}
}
