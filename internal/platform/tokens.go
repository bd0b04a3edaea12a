package platform

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	purposeAccess  = "access"
	purposeConfirm = "confirm"
)

var errInvalidToken = errors.New("invalid token")

type claims struct {
	Email      string `json:"email"`
	Purpose    string `json:"purpose"`
	RedirectTo string `json:"redirect_to,omitempty"`
	jwt.RegisteredClaims
}

// issuer signs and verifies HS256 tokens.
type issuer struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

func (i *issuer) sign(c claims, ttl time.Duration) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(ttl)
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(exp)
	c.Issuer = "student-records"

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

func (i *issuer) accessToken(userID uuid.UUID, email string) (string, time.Time, error) {
	return i.sign(claims{
		Email:            email,
		Purpose:          purposeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()},
	}, i.accessTTL)
}

func (i *issuer) confirmationToken(userID uuid.UUID, email, redirectTo string) (string, error) {
	token, _, err := i.sign(claims{
		Email:            email,
		Purpose:          purposeConfirm,
		RedirectTo:       redirectTo,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()},
	}, 24*time.Hour)
	return token, err
}

// parse verifies token and returns its claims when the purpose matches.
func (i *issuer) parse(token, purpose string) (*claims, uuid.UUID, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if c.Purpose != purpose {
		return nil, uuid.Nil, errInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, uuid.Nil, errInvalidToken
	}
	return &c, id, nil
}

func newRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
