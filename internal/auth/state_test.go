package auth

import (
	"testing"
	"time"
)

// newTestStateSigner uses a fixed, known secret so tests are deterministic.
func newTestStateSigner(t *testing.T) *StateSigner {
	t.Helper()
	s, err := NewStateSigner("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewStateSigner: %v", err)
	}
	return s
}

func TestNewStateSigner_ShortSecret(t *testing.T) {
	if _, err := NewStateSigner("short"); err == nil {
		t.Fatal("NewStateSigner() should reject secrets shorter than 16 chars")
	}
}

func TestState_RoundTrip(t *testing.T) {
	s := newTestStateSigner(t)

	state, nonce, err := s.Sign("google")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if state == "" || nonce == "" {
		t.Fatal("Sign() returned empty state or nonce")
	}

	if err := s.Verify("google", state, nonce); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestState_NonceMismatch(t *testing.T) {
	s := newTestStateSigner(t)

	state, _, _ := s.Sign("google")
	_, otherNonce, _ := s.Sign("google")

	if err := s.Verify("google", state, otherNonce); err == nil {
		t.Fatal("Verify() should fail when the cookie nonce belongs to another flow")
	}
	if err := s.Verify("google", state, ""); err == nil {
		t.Fatal("Verify() should fail without a cookie nonce")
	}
}

func TestState_WrongProvider(t *testing.T) {
	s := newTestStateSigner(t)

	state, nonce, _ := s.Sign("github")
	if err := s.Verify("google", state, nonce); err == nil {
		t.Fatal("Verify() should reject a state minted for another provider")
	}
}

func TestState_Expired(t *testing.T) {
	s := newTestStateSigner(t)

	state, nonce, err := s.signWithTTL("google", -1*time.Second)
	if err != nil {
		t.Fatalf("signWithTTL() error = %v", err)
	}
	if err := s.Verify("google", state, nonce); err == nil {
		t.Fatal("Verify() should reject an expired state")
	}
}

func TestState_WrongSecret(t *testing.T) {
	s1, _ := NewStateSigner("correct-secret-32-chars-long!!!!")
	s2, _ := NewStateSigner("wrong-secret-32-chars-long!!!!!!")

	state, nonce, _ := s1.Sign("google")
	if err := s2.Verify("google", state, nonce); err == nil {
		t.Fatal("Verify() should fail when using a different secret")
	}
}

func TestState_Tampered(t *testing.T) {
	s := newTestStateSigner(t)

	state, nonce, _ := s.Sign("google")
	tampered := state[:len(state)-3] + "xxx"

	if err := s.Verify("google", tampered, nonce); err == nil {
		t.Fatal("Verify() should reject a tampered state")
	}
}

func TestState_Garbage(t *testing.T) {
	s := newTestStateSigner(t)

	for _, v := range []string{"", "not.a.jwt", "garbage"} {
		if err := s.Verify("google", v, "nonce"); err == nil {
			t.Errorf("Verify(%q) should fail", v)
		}
	}
}
