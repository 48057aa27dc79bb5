package domain

import (
	"crypto/rand"
	"fmt"
)

const (
	// OrderCodeLen is the length of order pickup codes.
	OrderCodeLen = 6
	// RedemptionCodeLen is the length of reward redemption codes.
	RedemptionCodeLen = 8
)

// 32 symbols, so a random byte maps without bias. 0/O and 1/I are left out.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewCode returns a random uppercase alphanumeric code of length n.
func NewCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("code length must be positive, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
