package auth

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("table-for-two")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "table-for-two" {
		t.Fatal("hash should not equal the plaintext")
	}

	if err := CheckPassword(hash, "table-for-two"); err != nil {
		t.Fatalf("CheckPassword rejected the right password: %v", err)
	}
	if err := CheckPassword(hash, "table-for-three"); err == nil {
		t.Fatal("CheckPassword accepted the wrong password")
	}
}

func TestGenerateAndVerifyToken(t *testing.T) {
	m := NewJWTManager("signing-secret", time.Minute)

	userID := bson.NewObjectID()
	token, expires, err := m.GenerateToken(userID, "waiter@bistro.test")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if !expires.After(time.Now()) {
		t.Fatalf("expiry %v should be in the future", expires)
	}

	claims, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.UserID != userID.Hex() {
		t.Fatalf("claims user id = %q, want %q", claims.UserID, userID.Hex())
	}
	if claims.Email != "waiter@bistro.test" {
		t.Fatalf("claims email = %q", claims.Email)
	}
}

func TestVerifyToken_RejectsForeignSignature(t *testing.T) {
	issuer := NewJWTManager("secret-a", time.Minute)
	verifier := NewJWTManager("secret-b", time.Minute)

	token, _, err := issuer.GenerateToken(bson.NewObjectID(), "host@bistro.test")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := verifier.VerifyToken(token); err == nil {
		t.Fatal("token signed with a different secret should not verify")
	}
}

func TestGenerateToken_NormalizesEmail(t *testing.T) {
	m := NewJWTManager("signing-secret", time.Minute)

	token, _, err := m.GenerateToken(bson.NewObjectID(), "  Chef.Remy@Bistro.TEST ")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Email != "chef.remy@bistro.test" {
		t.Fatalf("claims email = %q, want lower-cased and trimmed", claims.Email)
	}
}

func TestKeyRotation_OldTokensStillVerify(t *testing.T) {
	keys := map[string]string{
		"2026-01": "retired-secret",
		"2026-07": "current-secret",
	}

	// A token minted while the older key was active.
	previous := NewJWTManagerFromKeys(keys, "2026-01", time.Minute)
	oldToken, _, err := previous.GenerateToken(bson.NewObjectID(), "host@bistro.test")
	if err != nil {
		t.Fatalf("GenerateToken with previous key: %v", err)
	}

	current := NewJWTManagerFromKeys(keys, "2026-07", time.Minute)
	if _, err := current.VerifyToken(oldToken); err != nil {
		t.Fatalf("token from the retired key should verify via its kid: %v", err)
	}

	newToken, _, err := current.GenerateToken(bson.NewObjectID(), "host@bistro.test")
	if err != nil {
		t.Fatalf("GenerateToken with active key: %v", err)
	}
	if _, err := current.VerifyToken(newToken); err != nil {
		t.Fatalf("token from the active key should verify: %v", err)
	}
}
