// Package auth validates the bearer tokens issued by the identity service.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	UserTypeStudent = "student"
	UserTypeTeacher = "teacher"
	UserTypeAdmin   = "admin"
)

type Claims struct {
	UserID   string `json:"user_id"`
	UserType string `json:"user_type"`
	Name     string `json:"name,omitempty"`
	SchoolID string `json:"school_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) IsStudent() bool { return c.UserType == UserTypeStudent }
func (c *Claims) IsTeacher() bool { return c.UserType == UserTypeTeacher }
func (c *Claims) IsAdmin() bool   { return c.UserType == UserTypeAdmin }

var ErrUnknownUserType = errors.New("unknown user type")

// NewAccessToken signs claims with HS256. Only the dev token command and
// tests mint tokens here; production tokens come from the identity service.
func NewAccessToken(secret, issuer string, ttl time.Duration, claims Claims) (string, error) {
	switch claims.UserType {
	case UserTypeStudent, UserTypeTeacher, UserTypeAdmin:
	default:
		return "", ErrUnknownUserType
	}
	now := time.Now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken verifies signature, expiry and, when issuer is set, the issuer.
func ParseToken(secret, issuer, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
