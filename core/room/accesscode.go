package room

import (
	"crypto/rand"
	"math/big"
	"strings"

	"cotowatch/model"
)

const accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewAccessCode returns a random code of model.AccessCodeLength characters from A-Z0-9.
func NewAccessCode() (string, error) {
	max := big.NewInt(int64(len(accessCodeAlphabet)))
	b := make([]byte, model.AccessCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = accessCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// NormalizeAccessCode uppercases and trims user input.
func NormalizeAccessCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidAccessCode reports whether code has the generated shape.
func ValidAccessCode(code string) bool {
	if len(code) != model.AccessCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(accessCodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
