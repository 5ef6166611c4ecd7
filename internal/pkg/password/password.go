package password

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// MinLength is the shortest admin password accepted.
const MinLength = 10

var ErrTooShort = errors.New("password is too short")

// Cost is a variable so tests can lower it.
var Cost = 12

// Hash hashes an admin password with bcrypt.
func Hash(plain string) (string, error) {
	if utf8.RuneCountInString(plain) < MinLength {
		return "", ErrTooShort
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether plain matches hash.
func Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
