package utils

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrPasswordRequired means the resource is protected and no password was sent.
	ErrPasswordRequired = errors.New("password required")
	// ErrIncorrectPassword means the supplied password does not match.
	ErrIncorrectPassword = errors.New("incorrect password")
)

// PasswordCost is the bcrypt cost used by HashPassword. Tests may lower it.
var PasswordCost = bcrypt.DefaultCost

// HashPassword returns the bcrypt hash of the password using a cost that balances security and performance.
// The password is reduced to its hex SHA-256 first so bcrypt's 72-byte input limit never applies.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(prehash(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a stored digest with its possible plaintext equivalent.
// Besides bcrypt it accepts the legacy unsalted SHA-256 hex digests.
func CheckPassword(hash, password string) bool {
	if isLegacyDigest(hash) {
		sum := sha256.Sum256([]byte(password))
		want := hex.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(strings.ToLower(hash)), []byte(want)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(password)) == nil
}

// Gate enforces an optional password. An empty digest means the resource is open.
// A blank password counts as none, the same rule HashOptionalPassword applies.
func Gate(hash, provided string) error {
	if hash == "" {
		return nil
	}
	if isBlank(provided) {
		return ErrPasswordRequired
	}
	if !CheckPassword(hash, provided) {
		return ErrIncorrectPassword
	}
	return nil
}

// HashOptionalPassword hashes p unless it is blank, in which case it returns "".
func HashOptionalPassword(p string) (string, error) {
	if isBlank(p) {
		return "", nil
	}
	return HashPassword(p)
}

func isLegacyDigest(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

func isBlank(p string) bool {
	return strings.TrimSpace(p) == ""
}

func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum[:])
	return out
}
