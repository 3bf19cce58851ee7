package auth

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is the single rejection for every validation failure.
// The pipeline never discloses why a token was rejected.
var ErrInvalidToken = errors.New("invalid or expired token")

// RoleList accepts either a JSON string or a list of strings; a bare
// string is promoted to a one-element list.
type RoleList []string

func (r *RoleList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*r = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = RoleList{single}
		return nil
	}

	return errors.New("roles must be a string or a list of strings")
}

// Claims is the validated, typed claim set handed to the pipeline.
type Claims struct {
	Subject   string
	TenantID  string
	Roles     []string
	ExpiresAt time.Time
}

type tokenClaims struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id"`
	Roles    RoleList `json:"roles"`
	jwt.RegisteredClaims
}

// Validator verifies bearer tokens against a symmetric key. No network
// calls, no caching beyond the key itself.
type Validator struct {
	secret []byte
	method string
}

// NewValidator creates a validator for the configured key and algorithm.
func NewValidator(secret, algorithm string) *Validator {
	if algorithm == "" {
		algorithm = "HS256"
	}
	return &Validator{
		secret: []byte(secret),
		method: algorithm,
	}
}

// Validate verifies the token's signature and expiry and extracts the
// claim set. Tokens without an expiry or without a subject are rejected.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	parsed := &tokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, parsed, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{v.method}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	subject := parsed.UserID
	if subject == "" {
		subject = parsed.RegisteredClaims.Subject
	}
	if subject == "" {
		return nil, ErrInvalidToken
	}

	roles := []string(parsed.Roles)
	if roles == nil {
		roles = []string{}
	}

	var expiresAt time.Time
	if parsed.ExpiresAt != nil {
		expiresAt = parsed.ExpiresAt.Time
	}

	return &Claims{
		Subject:   subject,
		TenantID:  parsed.TenantID,
		Roles:     roles,
		ExpiresAt: expiresAt,
	}, nil
}
