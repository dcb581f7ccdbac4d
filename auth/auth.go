package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aidevro/bugatube/constant"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the verified identity attached to a request or a push
// connection. The core never mints or checks credentials beyond this.
type Claims struct {
	UserID uuid.UUID
	Role   string
}

func (c Claims) Admin() bool {
	return c.Role == constant.RoleAdmin
}

// Verifier turns an opaque bearer token into verified claims.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// JWT verifies HS256 tokens carrying "id" and "role" claims.
type JWT struct {
	secret []byte
}

func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

func (j *JWT) Verify(token string) (Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}

	rawID, _ := mapClaims["id"].(string)
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}

	role, _ := mapClaims["role"].(string)
	if role == "" {
		role = constant.RoleUser
	}

	return Claims{UserID: userID, Role: role}, nil
}

// Sign issues a token for the given claims. The surrounding system
// normally mints tokens at login; this exists for tooling and tests.
func (j *JWT) Sign(claims Claims, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   claims.UserID.String(),
		"role": claims.Role,
		"exp":  time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(j.secret)
}
