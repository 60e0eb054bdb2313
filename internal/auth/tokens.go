package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/strefethen/tunegate/internal/config"
)

// TokenType distinguishes short-lived access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

const (
	tokenIssuer   = "tunegate"
	tokenAudience = "tunegate-device"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenType    = errors.New("token has invalid type")
)

// TokenPair is issued once per completed pairing.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresInSec int
}

// deviceClaims carries the device identity. sub is the device ID.
type deviceClaims struct {
	DeviceName string    `json:"device"`
	Kind       TokenType `json:"kind"`
	jwt.RegisteredClaims
}

func (c deviceClaims) device() Device {
	return Device{ID: c.Subject, Name: c.DeviceName}
}

func lifetime(cfg config.Config, kind TokenType) int {
	if kind == TokenTypeRefresh {
		return cfg.JWTRefreshTokenExpirySec
	}
	return cfg.JWTAccessTokenExpirySec
}

// IssueTokens signs an access and refresh token for a newly paired device.
func IssueTokens(cfg config.Config, device Device) (TokenPair, error) {
	if device.ID == "" || device.Name == "" {
		return TokenPair{}, ErrTokenInvalid
	}
	access, err := sign(cfg, device, TokenTypeAccess)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := sign(cfg, device, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresInSec: lifetime(cfg, TokenTypeAccess),
	}, nil
}

// Refresh exchanges a refresh token for a new access token for the same device.
func Refresh(cfg config.Config, refreshToken string) (string, int, error) {
	device, err := ParseToken(cfg, refreshToken, TokenTypeRefresh)
	if err != nil {
		return "", 0, err
	}
	access, err := sign(cfg, device, TokenTypeAccess)
	if err != nil {
		return "", 0, err
	}
	return access, lifetime(cfg, TokenTypeAccess), nil
}

// ParseToken verifies token and returns the device it was issued to.
// ErrTokenType is returned when the token is valid but of another kind.
func ParseToken(cfg config.Config, token string, want TokenType) (Device, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)

	var claims deviceClaims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Device{}, ErrTokenExpired
		}
		return Device{}, ErrTokenInvalid
	}

	device := claims.device()
	if device.ID == "" || device.Name == "" {
		return Device{}, ErrTokenInvalid
	}
	if claims.Kind != want {
		return Device{}, ErrTokenType
	}
	return device, nil
}

func sign(cfg config.Config, device Device, kind TokenType) (string, error) {
	now := time.Now()
	claims := deviceClaims{
		DeviceName: device.Name,
		Kind:       kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   device.ID,
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(lifetime(cfg, kind)) * time.Second)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}
