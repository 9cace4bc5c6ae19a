// Package password implements the credential verifier: a slow, salted
// argon2id comparison between a submitted secret and its stored hash in
// PHC string form. Stateless and safe for concurrent use.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

// Config holds the argon2id cost parameters. Raising costs only affects
// newly produced hashes; verification always honors the parameters
// embedded in the stored hash.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns moderate interactive-login costs.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        2,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher produces and verifies argon2id hashes in PHC string form
// ($argon2id$v=19$m=...,t=...,p=...$salt$hash).
type Hasher struct {
	config Config
}

// NewHasher validates cfg against hard floors and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, errors.New("password: memory must be >= 8192 KiB")
	case cfg.Time < minTimeCost:
		return nil, errors.New("password: time cost must be >= 1")
	case cfg.Parallelism < minParallelism:
		return nil, errors.New("password: parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, errors.New("password: salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return nil, errors.New("password: key length must be >= 16")
	}

	return &Hasher{config: cfg}, nil
}

// Hash derives a PHC-encoded hash from plaintext with a fresh random
// salt. Plaintext bytes are used exactly as provided, with no Unicode
// normalization.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(plaintext),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches the stored PHC hash. A
// malformed stored hash yields (false, err), never a panic; callers
// treat it the same as a wrong password.
func (h *Hasher) Verify(plaintext, storedHash string) (bool, error) {
	parsed, err := parsePHC(storedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(plaintext),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		uint32(len(parsed.key)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

// NeedsRehash reports whether a stored hash was produced with weaker
// parameters than the current config, so callers can transparently
// upgrade it on the next successful login.
func (h *Hasher) NeedsRehash(storedHash string) (bool, error) {
	parsed, err := parsePHC(storedHash)
	if err != nil {
		return false, err
	}

	if h.config.Memory > parsed.memory || h.config.Time > parsed.time {
		return true, nil
	}
	if h.config.Parallelism > parsed.parallelism {
		return true, nil
	}
	if h.config.KeyLength != uint32(len(parsed.key)) {
		return true, nil
	}
	return false, nil
}

type phcFields struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encoded string) (*phcFields, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("password: invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("password: unsupported algorithm")
	}

	if !strings.HasPrefix(parts[2], "v=") {
		return nil, errors.New("password: missing argon2 version")
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil {
		return nil, errors.New("password: invalid argon2 version")
	}
	if version != argon2.Version {
		return nil, errors.New("password: unsupported argon2 version")
	}

	var fields phcFields
	pairs := strings.Split(parts[3], ",")
	if len(pairs) != 3 {
		return nil, errors.New("password: invalid parameter format")
	}
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("password: invalid parameter entry")
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v == 0 {
				return nil, errors.New("password: invalid memory parameter")
			}
			fields.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v == 0 {
				return nil, errors.New("password: invalid time parameter")
			}
			fields.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v == 0 {
				return nil, errors.New("password: invalid parallelism parameter")
			}
			fields.parallelism = uint8(v)
		default:
			return nil, errors.New("password: unsupported parameter")
		}
	}
	if fields.memory == 0 || fields.time == 0 || fields.parallelism == 0 {
		return nil, errors.New("password: missing parameters")
	}

	if fields.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil {
		return nil, errors.New("password: invalid salt encoding")
	}
	if len(fields.salt) == 0 {
		return nil, errors.New("password: invalid salt length")
	}
	if fields.key, err = base64.StdEncoding.DecodeString(parts[5]); err != nil {
		return nil, errors.New("password: invalid hash encoding")
	}
	if len(fields.key) == 0 {
		return nil, errors.New("password: invalid hash length")
	}

	return &fields, nil
}
