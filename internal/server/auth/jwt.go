// Package auth issues and verifies the HS256 access tokens collectors
// present to the server.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the standard claims plus the collector and the branch the
// token is scoped to. An empty BranchID grants access to every branch.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"uid"`
	BranchID string `json:"bid,omitempty"`
}

func GenerateToken(userID, branchID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID:   userID,
		BranchID: branchID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies tokenString and returns its claims. Expired tokens
// yield common.ErrTokenExpired; any other failure common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, common.ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	case !token.Valid:
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}

// Allows reports whether the claims may touch rows of branchID.
func (c *Claims) Allows(branchID string) bool {
	return c.BranchID == "" || c.BranchID == branchID
}
