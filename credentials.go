package recipeauth

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// IdentifierType is the kind of contact an OTP is delivered to
type IdentifierType string

const (
	IdentifierEmail IdentifierType = "email"
	IdentifierPhone IdentifierType = "phone"
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneRegex = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
)

// Identifier is a normalized email address or phone number
type Identifier struct {
	Type  IdentifierType
	Value string
}

func (i Identifier) String() string { return i.Value }

// IsZero reports whether the identifier is empty
func (i Identifier) IsZero() bool { return i.Value == "" }

// ChallengeKey is the ephemeral store key holding this identifier's OTP challenge.
// Hashing keeps raw contact details out of the store's key space.
func (i Identifier) ChallengeKey() string {
	sum := sha256.Sum256([]byte(i.Value))
	return "otp_" + hex.EncodeToString(sum[:])
}

// ParseIdentifier detects whether raw is an email or a phone number and
// normalizes it.
func ParseIdentifier(raw string) (Identifier, error) {
	switch DetectIdentifierType(raw) {
	case IdentifierEmail:
		return EmailIdentifier(raw)
	case IdentifierPhone:
		return PhoneIdentifier(raw)
	}
	return Identifier{}, ErrInvalidIdentifier
}

// EmailIdentifier validates an email address and lower cases it
func EmailIdentifier(raw string) (Identifier, error) {
	email := NormalizeEmail(raw)
	if !emailRegex.MatchString(email) {
		return Identifier{}, ErrInvalidIdentifier
	}
	return Identifier{Type: IdentifierEmail, Value: email}, nil
}

// PhoneIdentifier validates a phone number and strips formatting characters.
func PhoneIdentifier(raw string) (Identifier, error) {
	phone := NormalizePhone(raw)
	if !phoneRegex.MatchString(phone) {
		return Identifier{}, ErrInvalidIdentifier
	}
	return Identifier{Type: IdentifierPhone, Value: phone}, nil
}

// NormalizeEmail trims and lower cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps digits and a leading '+'.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DetectIdentifierType determines if input is an email or phone. Anything else
// yields an empty type.
func DetectIdentifierType(input string) IdentifierType {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	if strings.Contains(input, "@") {
		return IdentifierEmail
	}
	if input[0] == '+' || input[0] == '(' || (input[0] >= '0' && input[0] <= '9') {
		return IdentifierPhone
	}
	return ""
}
