// Package password hashes and verifies user passwords with argon2id.
//
// Hashes are PHC strings ($argon2id$v=19$m=...,t=...,p=...$salt$digest) so the
// parameters travel with the hash and can be upgraded transparently. All KDF
// work runs on a bounded worker pool; each derivation allocates Config.Memory KiB.
package password

import (
	"context"
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

// ErrMalformedHash is returned by Verify when the stored string is not a
// well-formed argon2id PHC hash.
var ErrMalformedHash = errors.New("malformed password hash")

type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// Workers bounds how many derivations run at once.
	Workers int
}

type Hasher struct {
	config    Config
	pool      *pool
	dummyHash string
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// NewHasher validates cfg and precomputes the dummy hash used to equalize the
// unknown-user path. The dummy uses the live parameters, so it costs exactly
// what a current real hash costs.
func NewHasher(cfg Config) (*Hasher, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	h := &Hasher{config: cfg, pool: newPool(cfg.Workers)}

	dummy := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, dummy); err != nil {
		return nil, fmt.Errorf("failed to generate dummy password: %w", err)
	}
	encoded, err := h.hash(dummy)
	if err != nil {
		return nil, fmt.Errorf("failed to precompute dummy hash: %w", err)
	}
	h.dummyHash = encoded

	return h, nil
}

// Hash derives a fresh PHC string for password on the worker pool.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	var (
		encoded string
		err     error
	)
	if runErr := h.pool.run(ctx, func() {
		encoded, err = h.hash([]byte(password))
	}); runErr != nil {
		return "", runErr
	}
	return encoded, err
}

// Verify re-derives password with the parameters embedded in encodedHash and
// compares in constant time. When the password matches and the stored
// parameters differ from the configured ones, upgraded carries a new hash for
// the caller to persist.
func (h *Hasher) Verify(ctx context.Context, password, encodedHash string) (bool, string, error) {
	var (
		valid    bool
		upgraded string
		err      error
	)
	if runErr := h.pool.run(ctx, func() {
		valid, upgraded, err = h.verify([]byte(password), encodedHash)
	}); runErr != nil {
		return false, "", runErr
	}
	return valid, upgraded, err
}

// VerifyTimingSafe behaves like Verify, except that an absent hash still runs
// one full derivation against the dummy hash and reports valid=false. Callers
// pass nil for an unknown account so it costs the same as a wrong password.
func (h *Hasher) VerifyTimingSafe(ctx context.Context, password string, encodedHash *string) (bool, string, error) {
	if encodedHash == nil || *encodedHash == "" {
		runErr := h.pool.run(ctx, func() {
			_, _, _ = h.verify([]byte(password), h.dummyHash)
		})
		return false, "", runErr
	}
	return h.Verify(ctx, password, *encodedHash)
}

func (h *Hasher) hash(password []byte) (string, error) {
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	digest := argon2.IDKey(
		password,
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
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

func (h *Hasher) verify(password []byte, encodedHash string) (bool, string, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		// Burn the same work as a real comparison before reporting.
		if dummy, dummyErr := parsePHC(h.dummyHash); dummyErr == nil {
			derive(password, dummy)
		}
		return false, "", fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}

	computed := derive(password, parsed)
	if subtle.ConstantTimeCompare(computed, parsed.hash) != 1 {
		return false, "", nil
	}

	if !h.outdated(parsed) {
		return true, "", nil
	}

	upgraded, err := h.hash(password)
	if err != nil {
		// The password is correct; a failed upgrade only postpones the rehash.
		return true, "", nil
	}
	return true, upgraded, nil
}

func (h *Hasher) outdated(p *parsedPHC) bool {
	return p.memory != h.config.Memory ||
		p.time != h.config.Time ||
		p.parallelism != h.config.Parallelism ||
		uint32(len(p.hash)) != h.config.KeyLength ||
		uint32(len(p.salt)) != h.config.SaltLength
}

func derive(password []byte, p *parsedPHC) []byte {
	return argon2.IDKey(password, p.salt, p.time, p.memory, p.parallelism, uint32(len(p.hash)))
}

func parsePHC(encodedHash string) (*parsedPHC, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}

	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	versionPart := parts[2]
	if !strings.HasPrefix(versionPart, "v=") {
		return nil, errors.New("missing argon2 version")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(versionPart, "v="))
	if err != nil {
		return nil, errors.New("invalid argon2 version")
	}
	if version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := decodeB64(parts[4])
	if err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	if len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt length")
	}

	hash, err := decodeB64(parts[5])
	if err != nil {
		return nil, errors.New("invalid hash encoding")
	}
	if len(hash) < int(minKeyLength) {
		return nil, errors.New("invalid hash length")
	}

	return &parsedPHC{
		memory:      params.memory,
		time:        params.time,
		parallelism: params.parallelism,
		salt:        salt,
		hash:        hash,
	}, nil
}

// decodeB64 accepts both unpadded (PHC) and padded standard base64.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

type parsedParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parseParams(part string) (*parsedParams, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, errors.New("invalid parameter format")
	}

	var (
		memorySet, timeSet, parallelismSet bool
		params                             parsedParams
	)

	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid parameter entry")
		}

		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, errors.New("invalid memory parameter")
			}
			params.memory = uint32(v)
			memorySet = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, errors.New("invalid time parameter")
			}
			params.time = uint32(v)
			timeSet = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, errors.New("invalid parallelism parameter")
			}
			params.parallelism = uint8(v)
			parallelismSet = true
		default:
			return nil, errors.New("unsupported parameter")
		}
	}

	if !memorySet || !timeSet || !parallelismSet {
		return nil, errors.New("missing parameters")
	}

	return &params, nil
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}

	return nil
}
