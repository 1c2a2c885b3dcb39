package manager

import (
	"crypto/ed25519"
	"testing"
)

func TestMerkleVerifier_VerifyMerkleRoot(t *testing.T) {
	mv := NewMerkleVerifier()

	match := []byte{1, 2, 3, 4}
	if mv.VerifyMerkleRoot(match, match) != VerificationSuccess {
		t.Error("identical roots should verify as success")
	}

	mismatch := []byte{1, 2, 3, 5}
	if mv.VerifyMerkleRoot(match, mismatch) != VerificationHashMismatch {
		t.Error("differing roots of equal length should be a hash mismatch")
	}

	short := []byte{1, 2}
	if mv.VerifyMerkleRoot(match, short) != VerificationCorruptionDetected {
		t.Error("differing lengths should be corruption detected")
	}
}

func TestMerkleVerifier_SignAndVerify(t *testing.T) {
	mv := NewMerkleVerifier()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	result := mv.CreateVerificationResult("session-1", []byte{1, 2, 3}, []byte{1, 2, 3})
	if err := mv.SignVerificationResult(result, priv); err != nil {
		t.Fatalf("SignVerificationResult failed: %v", err)
	}

	if !mv.VerifySignature(result) {
		t.Error("expected signature to verify")
	}
	if string(result.PublicKey) != string(pub) {
		t.Error("recorded public key should match the signer's")
	}

	result.Status = VerificationHashMismatch
	if mv.VerifySignature(result) {
		t.Error("signature should no longer verify once the signed fields change")
	}
}

func TestMerkleVerifier_CreateVerificationResult(t *testing.T) {
	mv := NewMerkleVerifier()
	result := mv.CreateVerificationResult("s1", []byte{9, 9}, []byte{9, 9})
	if result.Status != VerificationSuccess {
		t.Errorf("status = %s, want SUCCESS", result.Status)
	}
	if result.SessionID != "s1" {
		t.Errorf("session ID mismatch")
	}
}
