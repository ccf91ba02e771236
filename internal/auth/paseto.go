package auth

import (
	"errors"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
)

// Implicit assertions bind each token to its purpose on top of the key split.
var (
	accessAssertion  = []byte("access")
	refreshAssertion = []byte("refresh")
)

// TokenClaims represents the claims stored in an access or refresh token
type TokenClaims struct {
	AccountID uuid.UUID `json:"account_id"`
	Email     string    `json:"email,omitempty"`
	TokenID   string    `json:"jti"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// PasetoService handles PASETO token creation and validation
// Uses v4.local (symmetric encryption with XChaCha20-Poly1305)
type PasetoService struct {
	accessKey  paseto.V4SymmetricKey
	refreshKey paseto.V4SymmetricKey
}

func NewPasetoService(accessKey, refreshKey []byte) (*PasetoService, error) {
	ak, err := symmetricKey(accessKey)
	if err != nil {
		return nil, fmt.Errorf("access key: %w", err)
	}
	rk, err := symmetricKey(refreshKey)
	if err != nil {
		return nil, fmt.Errorf("refresh key: %w", err)
	}

	return &PasetoService{accessKey: ak, refreshKey: rk}, nil
}

func symmetricKey(raw []byte) (paseto.V4SymmetricKey, error) {
	if len(raw) != 32 {
		return paseto.V4SymmetricKey{}, fmt.Errorf("symmetric key must be exactly 32 bytes, got %d", len(raw))
	}
	key, err := paseto.V4SymmetricKeyFromBytes(raw)
	if err != nil {
		return paseto.V4SymmetricKey{}, fmt.Errorf("failed to create symmetric key: %w", err)
	}
	return key, nil
}

// CreateAccessToken generates a short-lived token carrying the account identity
func (s *PasetoService) CreateAccessToken(accountID uuid.UUID, email string, duration time.Duration) (string, error) {
	token := newToken(accountID, duration)
	token.SetString("email", email)
	return token.V4Encrypt(s.accessKey, accessAssertion), nil
}

// CreateRefreshToken generates a long-lived token. Every token gets a fresh
// jti, so two refresh tokens issued in the same second still differ.
func (s *PasetoService) CreateRefreshToken(accountID uuid.UUID, duration time.Duration) (string, error) {
	token := newToken(accountID, duration)
	return token.V4Encrypt(s.refreshKey, refreshAssertion), nil
}

// VerifyAccessToken validates an access token and returns its claims
func (s *PasetoService) VerifyAccessToken(tokenStr string) (*TokenClaims, error) {
	claims, err := parseToken(s.accessKey, tokenStr, accessAssertion)
	if err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// VerifyRefreshToken validates a refresh token and returns its claims
func (s *PasetoService) VerifyRefreshToken(tokenStr string) (*TokenClaims, error) {
	return parseToken(s.refreshKey, tokenStr, refreshAssertion)
}

func newToken(accountID uuid.UUID, duration time.Duration) paseto.Token {
	now := time.Now()

	token := paseto.NewToken()
	token.SetIssuedAt(now)
	token.SetExpiration(now.Add(duration))
	token.SetJti(uuid.NewString())
	token.SetString("account_id", accountID.String())
	return token
}

func parseToken(key paseto.V4SymmetricKey, tokenStr string, assertion []byte) (*TokenClaims, error) {
	parser := paseto.NewParser()

	token, err := parser.ParseV4Local(key, tokenStr, assertion)
	if err != nil {
		// The parser checks expiration by default; distinguish expired from invalid
		if errors.Is(err, &paseto.RuleError{}) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	rawID, err := token.GetString("account_id")
	if err != nil {
		return nil, ErrTokenInvalid
	}
	accountID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	// Refresh tokens carry no email
	email, _ := token.GetString("email")

	jti, err := token.GetJti()
	if err != nil {
		return nil, ErrTokenInvalid
	}

	issuedAt, err := token.GetIssuedAt()
	if err != nil {
		return nil, ErrTokenInvalid
	}

	expiresAt, err := token.GetExpiration()
	if err != nil {
		return nil, ErrTokenInvalid
	}

	return &TokenClaims{
		AccountID: accountID,
		Email:     email,
		TokenID:   jti,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}
