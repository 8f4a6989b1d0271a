package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// Passwords hashes and verifies user passwords with bcrypt.
type Passwords struct {
	cost  int
	dummy []byte
}

// NewPasswords returns a hasher using cost, or bcrypt.DefaultCost when cost
// is out of range.
func NewPasswords(cost int) *Passwords {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt dummy hash: %v", err))
	}
	return &Passwords{cost: cost, dummy: dummy}
}

func (p *Passwords) Hash(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), p.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

// Verify returns ErrInvalidCredentials when plain does not match hash.
func (p *Passwords) Verify(hash, plain string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// VerifyMissing spends the same bcrypt work as Verify for a user that does
// not exist and always returns ErrInvalidCredentials.
func (p *Passwords) VerifyMissing(plain string) error {
	_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(plain))
	return ErrInvalidCredentials
}
