package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	jwtAccessAudience  = "access"
	jwtRefreshAudience = "refresh"
)

type jwtClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTService issues HS256 JSON Web Tokens. It is selected with
// TOKEN_FORMAT=jwt for clients that cannot handle PASETO.
type JWTService struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
}

func NewJWTService(accessSecret, refreshSecret []byte, issuer string) (*JWTService, error) {
	if len(accessSecret) < 32 || len(refreshSecret) < 32 {
		return nil, errors.New("jwt secrets must be at least 32 bytes")
	}
	return &JWTService{accessSecret: accessSecret, refreshSecret: refreshSecret, issuer: issuer}, nil
}

func (s *JWTService) CreateAccessToken(accountID uuid.UUID, email string, duration time.Duration) (string, error) {
	return s.sign(s.accessSecret, jwtAccessAudience, accountID, email, duration)
}

func (s *JWTService) CreateRefreshToken(accountID uuid.UUID, duration time.Duration) (string, error) {
	return s.sign(s.refreshSecret, jwtRefreshAudience, accountID, "", duration)
}

func (s *JWTService) VerifyAccessToken(tokenStr string) (*TokenClaims, error) {
	claims, err := s.parse(s.accessSecret, jwtAccessAudience, tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *JWTService) VerifyRefreshToken(tokenStr string) (*TokenClaims, error) {
	return s.parse(s.refreshSecret, jwtRefreshAudience, tokenStr)
}

func (s *JWTService) sign(secret []byte, audience string, accountID uuid.UUID, email string, duration time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   accountID.String(),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *JWTService) parse(secret []byte, audience, tokenStr string) (*TokenClaims, error) {
	var claims jwtClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	out := &TokenClaims{
		AccountID: accountID,
		Email:     claims.Email,
		TokenID:   claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
