package githubapi

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	// jwtLifetime stays under the 10 minutes GitHub accepts.
	jwtLifetime = 9 * time.Minute
	// clockSkew backdates iat so a clock running ahead of GitHub's does not
	// mint a token "issued in the future".
	clockSkew = time.Minute
)

// JWTGenerator signs the JWTs a GitHub App authenticates as itself with,
// before exchanging them for installation tokens.
type JWTGenerator struct {
	appID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

func NewJWTGenerator(appID string, privateKeyPEM []byte) (*JWTGenerator, error) {
	if appID == "" {
		return nil, errors.New("app ID cannot be empty")
	}
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("app %s private key: %w", appID, err)
	}
	return &JWTGenerator{appID: appID, key: key, now: time.Now}, nil
}

// GenerateToken returns an RS256 JWT issued by the App.
func (g *JWTGenerator) GenerateToken() (string, error) {
	now := g.now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    g.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-clockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
	})
	signed, err := token.SignedString(g.key)
	if err != nil {
		return "", fmt.Errorf("sign app JWT: %w", err)
	}
	return signed, nil
}

// parsePrivateKey reads the PKCS#1 key GitHub hands out, or the same key
// converted to PKCS#8.
func parsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("want an RSA key, got %T", key)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}
