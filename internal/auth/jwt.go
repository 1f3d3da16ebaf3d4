package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/crypto/bcrypt"

	"github.com/sharathr123/restochat/internal/normalize"
)

// defaultKid is the key id used when the manager is built from a single secret.
const defaultKid = "default"

// JWTManager signs and validates the tokens used by the REST API and the
// realtime socket handshake. It holds one or more HMAC secrets addressed by
// a "kid" header so secrets can be rotated without invalidating tokens
// issued under a previous key.
type JWTManager struct {
	keys      map[string]string // kid -> secret
	activeKid string            // key used for signing new tokens
	duration  time.Duration     // how long tokens are valid (e.g., 24 hours)
}

// Claims is the custom JWT payload (user id + email).
type Claims struct {
	UserID               string `json:"user_id"` // MongoDB ObjectID converted to hex string
	Email                string `json:"email"`   // normalized user email
	jwt.RegisteredClaims        // includes ExpiresAt, IssuedAt, etc.
}

// NewJWTManager returns a manager with a single signing key.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return NewJWTManagerFromKeys(map[string]string{defaultKid: secretKey}, defaultKid, duration)
}

// NewJWTManagerFromKeys returns a manager that signs with keys[activeKid]
// and verifies against any key in the set.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	ks := make(map[string]string, len(keys))
	for kid, secret := range keys {
		ks[kid] = secret
	}
	return &JWTManager{
		keys:      ks,
		activeKid: activeKid,
		duration:  duration,
	}
}

// GenerateToken issues a signed JWT token for a user. The email claim is
// normalized so comparisons against stored users stay case-insensitive.
func (m *JWTManager) GenerateToken(userID bson.ObjectID, email string) (string, time.Time, error) {
	expiresAt := time.Now().Add(m.duration)

	claims := &Claims{
		UserID: userID.Hex(), // hex string survives JSON round-trips
		Email:  normalize.Email(email),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	// HS256 (HMAC with SHA-256) keeps verification symmetric and cheap.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = m.activeKid

	secret, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, fmt.Errorf("no signing key for kid %q", m.activeKid)
	}

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims. Tokens
// signed with any key known to the manager are accepted, which is what
// allows callers to keep honoring tokens issued before a key rotation.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Reject anything not signed with HMAC; an asymmetric alg here
		// would mean the token was forged with a public key.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			kid = m.activeKid // tokens issued before kid headers existed
		}
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown signing key %q", kid)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// HashPassword returns a bcrypt hash for the provided plaintext.
func HashPassword(password string) (string, error) {
	// Default cost (10 rounds) balances hashing latency and resistance.
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedPassword), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
// The comparison is timing-safe.
func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
