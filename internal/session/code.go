package session

import (
	"crypto/rand"
	"errors"
	"math/big"
)

const CodeLength = 6

const maxCodeAttempts = 64

var ErrCodeSpaceExhausted = errors.New("could not find a free room code")

// GenerateCode returns a random numeric room code that inUse reports as free.
// Codes only need to be unique among the rooms the caller knows about.
func GenerateCode(inUse func(code string) bool) (string, error) {
	for range maxCodeAttempts {
		c, err := randomDigits(CodeLength)
		if err != nil {
			return "", err
		}
		if inUse == nil || !inUse(c) {
			return c, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

func randomDigits(n int) (string, error) {
	const charset = "0123456789"

	code := make([]byte, n)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// ValidCode reports whether code looks like something a player could type: 4-6 digits.
func ValidCode(code string) bool {
	if len(code) < 4 || len(code) > CodeLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
