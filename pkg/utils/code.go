package utils

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// CodeLength is the length of the session code shown to the sender
const CodeLength = 8

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var codePattern = regexp.MustCompile(fmt.Sprintf(`^[A-Za-z0-9]{%d}$`, CodeLength))

// GenerateCode returns a random alphanumeric code of the given length.
// Random bytes outside the largest multiple of the alphabet size are
// rejected so every symbol is equally likely.
func GenerateCode(length int) (string, error) {
	const limit = 256 - 256%len(codeAlphabet)
	code := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(code) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit || len(code) == length {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
		}
	}
	return string(code), nil
}

// IsValidCode reports whether code has the session code shape
func IsValidCode(code string) bool {
	return codePattern.MatchString(code)
}
