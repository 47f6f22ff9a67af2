package auth_service

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"snapshot-service/conf"

	"github.com/golang-jwt/jwt/v5"
)

const (
	audienceAPI    = "snapshot-api"
	audienceUpload = "snapshot-upload"
)

var (
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

// Claims access token claims
type Claims struct {
	jwt.RegisteredClaims
	OwnerID string `json:"owner_id"`
}

// UploadTicket authorizes one direct write of an object
type UploadTicket struct {
	jwt.RegisteredClaims
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// AuthService issues and verifies bearer tokens and upload tickets
type AuthService struct {
	secret   []byte
	tokenTTL time.Duration
	apiKeys  []conf.APIKeyConfig
	now      func() time.Time
}

// NewAuthService create auth service instance
func NewAuthService(cfg conf.AuthConfig) *AuthService {
	return &AuthService{
		secret:   []byte(cfg.JWTSecret),
		tokenTTL: cfg.TokenTTL,
		apiKeys:  cfg.APIKeys,
		now:      time.Now,
	}
}

func (s *AuthService) ownerForKey(apiKey string) (string, bool) {
	for _, k := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(apiKey)) == 1 {
			return k.Owner, true
		}
	}
	return "", false
}

// IssueToken exchange an api key for an access token
func (s *AuthService) IssueToken(apiKey string) (string, time.Time, error) {
	owner, ok := s.ownerForKey(apiKey)
	if !ok || apiKey == "" {
		return "", time.Time{}, ErrInvalidAPIKey
	}

	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{audienceAPI},
			Subject:   owner,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		OwnerID: owner,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// OwnerFromToken validate an access token and return its owner
func (s *AuthService) OwnerFromToken(tokenString string) (string, error) {
	claims := &Claims{}
	if err := s.parse(tokenString, claims, audienceAPI); err != nil {
		return "", err
	}
	if claims.OwnerID == "" {
		return "", ErrInvalidToken
	}
	return claims.OwnerID, nil
}

// SignUploadTicket sign a direct-write ticket for one object
func (s *AuthService) SignUploadTicket(key, contentType string, size int64, ttl time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, UploadTicket{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{audienceUpload},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Key:         key,
		ContentType: contentType,
		SizeBytes:   size,
	})
	return token.SignedString(s.secret)
}

// ParseUploadTicket validate a direct-write ticket
func (s *AuthService) ParseUploadTicket(ticket string) (*UploadTicket, error) {
	claims := &UploadTicket{}
	if err := s.parse(ticket, claims, audienceUpload); err != nil {
		return nil, err
	}
	if claims.Key == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *AuthService) parse(tokenString string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
