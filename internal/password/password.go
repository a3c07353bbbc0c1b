// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-authguard.
//
// go-authguard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package password hashes and verifies user passwords with Argon2id.
// Hashes are self-describing: the encoded form carries the parameters
// used, so they can be strengthened over time without a migration.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Memory is in KiB.
const (
	DefaultMemory  uint32 = 64 * 1024
	DefaultTime    uint32 = 1
	DefaultThreads uint8  = 4
	SaltLength            = 16
	KeyLength      uint32 = 32
)

// ErrMismatch is returned when a password does not match its hash.
var ErrMismatch = errors.New("password does not match")

// ErrInvalidHash is returned when an encoded hash cannot be parsed.
var ErrInvalidHash = errors.New("invalid password hash")

// Hash derives an Argon2id hash of the password with a fresh random salt
// and returns it in the standard encoded form:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func Hash(password string) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, DefaultTime, DefaultMemory, DefaultThreads, KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		DefaultMemory,
		DefaultTime,
		DefaultThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks a password against an encoded hash in constant time.
// Returns ErrMismatch when the password is wrong.
func Verify(password, encodedHash string) error {
	memory, time, threads, salt, key, err := decode(encodedHash)
	if err != nil {
		return err
	}

	derived := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(key)))
	if subtle.ConstantTimeCompare(derived, key) != 1 {
		return ErrMismatch
	}
	return nil
}

func decode(encodedHash string) (memory, time uint32, threads uint8, salt, key []byte, err error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		err = ErrInvalidHash
		return
	}

	var version int
	if _, scanErr := fmt.Sscanf(parts[2], "v=%d", &version); scanErr != nil {
		err = ErrInvalidHash
		return
	}
	if version != argon2.Version {
		err = fmt.Errorf("%w: unsupported argon2 version %d", ErrInvalidHash, version)
		return
	}

	if _, scanErr := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); scanErr != nil {
		err = ErrInvalidHash
		return
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		err = ErrInvalidHash
		return
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		err = ErrInvalidHash
		return
	}
	if len(key) == 0 {
		err = ErrInvalidHash
	}
	return
}
