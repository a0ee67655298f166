// Package auth is the connection-time identity gate. It verifies bearer
// tokens issued by the external auth service and produces the Identity the
// session runtime trusts; it makes no further trust decisions.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Participant roles carried in the token.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

var (
	ErrNoToken      = errors.New("no token provided")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Identity is the single shape the runtime uses for a participant,
// regardless of how the token encodes its claims.
type Identity struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
}

type Gate struct {
	secret []byte
}

func NewGate(secret string) *Gate {
	return &Gate{secret: []byte(secret)}
}

// ParseToken verifies an HS256 token and maps its claims onto an Identity.
// Tokens carry the subject id as "sub" or "user_id", plus "role" and a
// display name under "username" or "name".
func (g *Gate) ParseToken(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	id := stringClaim(claims, "sub")
	if id == "" {
		id = stringClaim(claims, "user_id")
	}
	role := stringClaim(claims, "role")
	if id == "" || role == "" {
		return nil, ErrInvalidToken
	}

	name := stringClaim(claims, "username")
	if name == "" {
		name = stringClaim(claims, "name")
	}
	if name == "" {
		name = "Player_" + shortID(id)
	}

	return &Identity{ID: id, Role: role, DisplayName: name}, nil
}

// FromRequest extracts the bearer token from the Authorization header or the
// token/access_token query parameters and verifies it. Returns ErrNoToken
// when no token is present so the caller can decide whether to allow an
// unauthenticated connection.
func (g *Gate) FromRequest(r *http.Request) (*Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	if token == "" {
		return nil, ErrNoToken
	}

	return g.ParseToken(token)
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}
