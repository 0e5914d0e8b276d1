package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

const (
	// OTPTTL is how long a mailed reset code stays valid.
	OTPTTL = 10 * time.Minute
	// ResetGrantTTL is how long the token returned by verify-otp stays valid.
	ResetGrantTTL = 5 * time.Minute

	otpMin   = 100000
	otpRange = 900000 // otpMin..999999 inclusive
)

// GenerateOTP draws a 6-digit code uniformly from [100000, 999999].
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpRange))
	if err != nil {
		return "", fmt.Errorf("auth: generating otp: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+otpMin), nil
}

// GenerateResetToken returns 32 random bytes, hex-encoded.
func GenerateResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// SecretEqual compares a stored one-time secret with user input in constant
// time. A nil stored value never matches.
func SecretEqual(stored *string, given string) bool {
	if stored == nil || *stored == "" || given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(given)) == 1
}
