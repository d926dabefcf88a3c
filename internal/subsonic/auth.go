package subsonic

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/coveborn/periscope/internal/shared"
)

// Credentials carries everything needed to authenticate one request.
// Authentication travels in the query string: either a salted token
// (t = md5(password + salt), s = salt) or the hex-obfuscated password
// (p = enc:hex). Every request also declares the protocol version (v),
// client identifier (c), and optionally the response format (f).
type Credentials struct {
	Username   string
	Password   string
	TokenAuth  bool
	APIVersion string
	ClientName string
	Format     string // "json" requests a JSON envelope; empty means XML
}

func (c Credentials) queryItems() ([]QueryItem, error) {
	if c.Username == "" || c.Password == "" {
		return nil, shared.ErrMissingCredentials
	}

	items := []QueryItem{{Name: "u", Value: c.Username}}

	if c.TokenAuth {
		salt, err := newSalt()
		if err != nil {
			return nil, err
		}
		items = append(items,
			QueryItem{Name: "s", Value: salt},
			QueryItem{Name: "t", Value: authToken(c.Password, salt)},
		)
	} else {
		obfuscated := "enc:" + hex.EncodeToString([]byte(c.Password))
		items = append(items, QueryItem{Name: "p", Value: obfuscated})
	}

	items = append(items,
		QueryItem{Name: "v", Value: c.APIVersion},
		QueryItem{Name: "c", Value: c.ClientName},
	)
	if c.Format == "json" {
		items = append(items, QueryItem{Name: "f", Value: "json"})
	}
	return items, nil
}

// authToken derives the salted authentication token.
func authToken(password, salt string) string {
	sum := md5.Sum([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

func newSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
