package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coyapp/chat-service/internal/config"
)

// Validator verifies access tokens minted by the identity service. RS256
// deployments validate against the identity service's public key; HS256 is
// for local development with a shared secret.
type Validator struct {
	alg    string
	pub    *rsa.PublicKey
	secret []byte
}

func NewValidator(cfg config.JWT) (*Validator, error) {
	switch strings.ToUpper(cfg.Alg) {
	case "RS256":
		pub, err := loadPublicKey(cfg.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		return &Validator{alg: "RS256", pub: pub}, nil
	case "HS256":
		if cfg.HSSecret == "" {
			return nil, errors.New("hs256 secret missing")
		}
		return &Validator{alg: "HS256", secret: []byte(cfg.HSSecret)}, nil
	}
	return nil, errors.New("unsupported jwt alg")
}

// Validate returns the authenticated uid from the token's sub (or legacy
// user_id) claim.
func (v *Validator) Validate(tokenStr string) (string, error) {
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if v.alg == "RS256" {
			return v.pub, nil
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{v.alg}))
	if err != nil {
		return "", err
	}
	if claims, ok := tok.Claims.(jwt.MapClaims); ok && tok.Valid {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
		if uid, ok := claims["user_id"].(string); ok && uid != "" {
			return uid, nil
		}
	}
	return "", errors.New("invalid token")
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("failed to decode public key")
	}
	pubIfc, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := pubIfc.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not rsa public key")
	}
	return pub, nil
}
