package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const (
	// VerifierLength is the verifier size used for every login.
	VerifierLength = 128

	minVerifierLength = 43
	maxVerifierLength = 128

	verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// largest multiple of len(verifierAlphabet) below 256, for unbiased sampling
	verifierSampleLimit = 256 - 256%len(verifierAlphabet)
)

// PKCEPair is the verifier and S256 challenge for one login attempt.
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// PKCEGenerator creates PKCE verifiers and challenges.
type PKCEGenerator struct{}

// NewPKCEGenerator creates a new PKCEGenerator.
func NewPKCEGenerator() *PKCEGenerator {
	return &PKCEGenerator{}
}

// GenerateCodeVerifier returns a random alphanumeric verifier of the given length.
func (g *PKCEGenerator) GenerateCodeVerifier(length int) (string, error) {
	if length < minVerifierLength || length > maxVerifierLength {
		return "", fmt.Errorf("verifier length must be between %d and %d, got %d",
			minVerifierLength, maxVerifierLength, length)
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= verifierSampleLimit {
				continue
			}
			out = append(out, verifierAlphabet[int(b)%len(verifierAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// GenerateCodeChallenge returns base64url(SHA-256(verifier)) without padding.
func (g *PKCEGenerator) GenerateCodeChallenge(verifier string) (string, error) {
	if verifier == "" {
		return "", fmt.Errorf("verifier cannot be empty")
	}
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// ValidateChallenge reports whether challenge was derived from verifier.
func (g *PKCEGenerator) ValidateChallenge(challenge, verifier string) bool {
	expected, err := g.GenerateCodeChallenge(verifier)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(challenge)) == 1
}

// GeneratePKCE returns a fresh pair with a 128 character verifier.
func GeneratePKCE() (PKCEPair, error) {
	g := NewPKCEGenerator()
	verifier, err := g.GenerateCodeVerifier(VerifierLength)
	if err != nil {
		return PKCEPair{}, err
	}
	challenge, err := g.GenerateCodeChallenge(verifier)
	if err != nil {
		return PKCEPair{}, err
	}
	return PKCEPair{Verifier: verifier, Challenge: challenge}, nil
}
