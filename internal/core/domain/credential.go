package domain

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"medea/pkg/utils"

	"golang.org/x/crypto/argon2"
)

// CredentialLength is the length of generated plain credentials.
const CredentialLength = 32

type CredentialKind int

const (
	CredentialPlain CredentialKind = iota
	CredentialHash
)

// Credential is a member secret, either plain or an argon2 PHC-encoded hash.
type Credential struct {
	Kind  CredentialKind
	Value string
}

func PlainCredential(value string) Credential {
	return Credential{Kind: CredentialPlain, Value: value}
}

func HashCredential(encoded string) Credential {
	return Credential{Kind: CredentialHash, Value: encoded}
}

// GenerateCredential returns a random plain credential.
func GenerateCredential() Credential {
	return PlainCredential(utils.GenerateToken(CredentialLength))
}

// Verify checks given against the credential in constant time.
func (c Credential) Verify(given string) bool {
	switch c.Kind {
	case CredentialPlain:
		return subtle.ConstantTimeCompare([]byte(c.Value), []byte(given)) == 1
	case CredentialHash:
		return verifyArgon2(c.Value, []byte(given))
	default:
		return false
	}
}

func (c Credential) IsZero() bool {
	return c.Value == ""
}

// String never prints the secret itself.
func (c Credential) String() string {
	if c.Kind == CredentialHash {
		return "hash(" + utils.MaskSensitive(c.Value, 0) + ")"
	}
	return "plain(" + utils.MaskSensitive(c.Value, 0) + ")"
}

// argon2id parameters used by HashPassword.
const (
	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashPassword encodes password as an argon2id PHC string.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// verifyArgon2 checks password against $argon2{i,id}$v=19$m=..,t=..,p=..$salt$hash.
func verifyArgon2(encoded string, password []byte) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	if memory == 0 || iterations == 0 || threads == 0 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}

	var got []byte
	switch parts[1] {
	case "argon2id":
		got = argon2.IDKey(password, salt, iterations, memory, threads, uint32(len(want)))
	case "argon2i":
		got = argon2.Key(password, salt, iterations, memory, threads, uint32(len(want)))
	default:
		return false
	}
	return subtle.ConstantTimeCompare(want, got) == 1
}
