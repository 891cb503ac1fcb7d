// Package apikey issues and verifies partner API keys of the form
// pk_<env>_<prefix>.<secret>. Only the prefix and a sha256 of prefix+secret
// are stored.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
)

const keyScheme = "pk"

var (
	ErrInvalidKey       = errors.New("invalid api key")
	ErrIPNotAllowed     = errors.New("ip not allowed")
	ErrInvalidAllowList = errors.New("invalid ip allow list")
)

// Key is a freshly generated key. Full is shown to the operator once.
type Key struct {
	Full   string
	Prefix string
	Hash   string
}

func Generate(env string) (Key, error) {
	if env == "" || strings.ContainsAny(env, "_.") {
		return Key{}, fmt.Errorf("apikey: invalid env %q", env)
	}
	prefix, err := randomPrefix()
	if err != nil {
		return Key{}, err
	}
	secret, err := randomSecret()
	if err != nil {
		return Key{}, err
	}
	return Key{
		Full:   fmt.Sprintf("%s_%s_%s.%s", keyScheme, env, prefix, secret),
		Prefix: prefix,
		Hash:   Hash(prefix, secret),
	}, nil
}

// Parse splits a key into its parts without checking it against a record.
func Parse(key string) (env, prefix, secret string, err error) {
	head, secret, ok := strings.Cut(key, ".")
	if !ok {
		return "", "", "", ErrInvalidKey
	}
	parts := strings.SplitN(head, "_", 3)
	if len(parts) != 3 || parts[0] != keyScheme {
		return "", "", "", ErrInvalidKey
	}
	env, prefix = parts[1], parts[2]
	if env == "" || prefix == "" || secret == "" {
		return "", "", "", ErrInvalidKey
	}
	return env, prefix, secret, nil
}

// Prefix returns the lookup prefix of key.
func Prefix(key string) (string, error) {
	_, prefix, _, err := Parse(key)
	return prefix, err
}

func Hash(prefix, secret string) string {
	sum := sha256.Sum256([]byte(prefix + "." + secret))
	return hex.EncodeToString(sum[:])
}

// Verify checks key against the stored hash and the caller's address.
func Verify(key, storedHash, clientIP string, allowList []string) error {
	_, prefix, secret, err := Parse(key)
	if err != nil {
		return err
	}
	hash := Hash(prefix, secret)
	if subtle.ConstantTimeCompare([]byte(hash), []byte(strings.ToLower(storedHash))) != 1 {
		return ErrInvalidKey
	}
	if !IPAllowed(clientIP, allowList) {
		return ErrIPNotAllowed
	}
	return nil
}

func ValidateAllowList(list []string) error {
	for _, entry := range list {
		if strings.TrimSpace(entry) == "" {
			return ErrInvalidAllowList
		}
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return ErrInvalidAllowList
			}
			continue
		}
		if net.ParseIP(entry) == nil {
			return ErrInvalidAllowList
		}
	}
	return nil
}

// IPAllowed reports whether clientIP matches list. An empty list allows all.
func IPAllowed(clientIP string, list []string) bool {
	if len(list) == 0 {
		return true
	}
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	for _, entry := range list {
		if strings.Contains(entry, "/") {
			if _, network, err := net.ParseCIDR(entry); err == nil && network.Contains(ip) {
				return true
			}
			continue
		}
		if parsed := net.ParseIP(entry); parsed != nil && parsed.Equal(ip) {
			return true
		}
	}
	return false
}

func randomPrefix() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return strings.ToLower(enc.EncodeToString(buf)), nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
