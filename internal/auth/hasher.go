// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Default argon2id parameters (OWASP recommendation).
const (
	DefaultArgon2Time    = 1         // iterations
	DefaultArgon2Memory  = 64 * 1024 // KiB
	DefaultArgon2Threads = 4
	DefaultArgon2SaltLen = 16
	DefaultArgon2KeyLen  = 32

	// DefaultMaxArgon2Time bounds how far calibration raises the time cost.
	DefaultMaxArgon2Time = 8
)

const calibrationPassword = "lockbox-calibration-probe"

// ErrMalformedHash is wrapped by Verify errors for hashes it cannot parse.
var ErrMalformedHash = errors.New("malformed password hash")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted one-way hash of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(password, hash string) (bool, error)

	// NeedsUpgrade returns true if the hash should be rewritten with current parameters.
	NeedsUpgrade(hash string) bool

	// Ready is closed once Hash and Verify can be called.
	Ready() <-chan struct{}
}

// Argon2Params are the argon2id cost parameters. Memory is in KiB.
type Argon2Params struct {
	Memory  uint32
	Time    uint32
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultArgon2Params returns the default cost parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:  DefaultArgon2Memory,
		Time:    DefaultArgon2Time,
		Threads: DefaultArgon2Threads,
		SaltLen: DefaultArgon2SaltLen,
		KeyLen:  DefaultArgon2KeyLen,
	}
}

// HasherOption configures an Argon2idHasher.
type HasherOption func(*Argon2idHasher)

// WithArgon2Params sets the starting cost parameters.
func WithArgon2Params(p Argon2Params) HasherOption {
	return func(h *Argon2idHasher) { h.params = p }
}

// WithCalibration makes the hasher unavailable until Start has raised the
// time cost so one hash takes at least target, stopping at maxTime.
func WithCalibration(target time.Duration, maxTime uint32) HasherOption {
	return func(h *Argon2idHasher) {
		h.target = target
		h.maxTime = maxTime
	}
}

// WithHasherMetrics reports hash and verify latency to m.
func WithHasherMetrics(m *Metrics) HasherOption {
	return func(h *Argon2idHasher) { h.metrics = m }
}

// WithHasherLogger sets the logger used for calibration events.
func WithHasherLogger(logger *slog.Logger) HasherOption {
	return func(h *Argon2idHasher) { h.logger = logger }
}

// Argon2idHasher implements PasswordHasher using argon2id. It also verifies
// bcrypt hashes written by earlier deployments.
type Argon2idHasher struct {
	mu      sync.RWMutex
	params  Argon2Params
	target  time.Duration
	maxTime uint32
	logger  *slog.Logger
	metrics *Metrics

	ready     chan struct{}
	readyOnce sync.Once
	startOnce sync.Once
	started   atomic.Bool
	done      chan struct{}
}

// NewArgon2idHasher creates a new Argon2idHasher. Without WithCalibration it is
// ready immediately.
func NewArgon2idHasher(opts ...HasherOption) *Argon2idHasher {
	h := &Argon2idHasher{
		params:  DefaultArgon2Params(),
		maxTime: DefaultMaxArgon2Time,
		logger:  slog.Default(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.maxTime < h.params.Time {
		h.maxTime = h.params.Time
	}
	if h.target <= 0 {
		h.markReady()
	}
	return h
}

// Start begins background calibration. It is a no-op for a hasher that is
// already ready or already started. Cancelling ctx abandons calibration and
// leaves the hasher unavailable.
func (h *Argon2idHasher) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		h.started.Store(true)
		if h.isReady() {
			close(h.done)
			return
		}
		go h.calibrate(ctx)
	})
}

// Wait blocks until a calibration started by Start has finished or been
// abandoned. It returns immediately if Start was never called.
func (h *Argon2idHasher) Wait() {
	if !h.started.Load() {
		return
	}
	<-h.done
}

func (h *Argon2idHasher) calibrate(ctx context.Context) {
	defer close(h.done)

	p := h.Params()
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		h.logger.Error("hash engine calibration failed", "error", err)
		return
	}

	for cost := p.Time; ; cost++ {
		if ctx.Err() != nil {
			h.logger.Warn("hash engine calibration abandoned", "time_cost", cost)
			return
		}
		start := time.Now()
		argon2.IDKey([]byte(calibrationPassword), salt, cost, p.Memory, p.Threads, p.KeyLen)
		elapsed := time.Since(start)

		if elapsed >= h.target || cost >= h.maxTime {
			h.mu.Lock()
			h.params.Time = cost
			h.mu.Unlock()
			h.logger.Info("hash engine ready",
				"time_cost", cost,
				"memory_kib", p.Memory,
				"elapsed", elapsed,
				"target", h.target)
			h.markReady()
			return
		}
	}
}

func (h *Argon2idHasher) markReady() {
	h.readyOnce.Do(func() { close(h.ready) })
}

func (h *Argon2idHasher) isReady() bool {
	select {
	case <-h.ready:
		return true
	default:
		return false
	}
}

// Ready is closed once calibration has completed.
func (h *Argon2idHasher) Ready() <-chan struct{} {
	return h.ready
}

// Params returns the current cost parameters.
func (h *Argon2idHasher) Params() Argon2Params {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.params
}

// Hash produces an argon2id hash of the password.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if !h.isReady() {
		return "", HashEngineUnavailableError("hash")
	}
	if password == "" {
		return "", invalidInput("password", "Password cannot be empty.")
	}

	p := h.Params()
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.In("hasher").With("operation", "salt").Wrap(err)
	}

	start := time.Now()
	hash := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	h.metrics.observeHash("hash", time.Since(start))

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Time,
		p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify checks if the password matches the hash.
func (h *Argon2idHasher) Verify(password, encodedHash string) (bool, error) {
	if !h.isReady() {
		return false, HashEngineUnavailableError("verify")
	}
	start := time.Now()
	defer func() { h.metrics.observeHash("verify", time.Since(start)) }()

	if isBcrypt(encodedHash) {
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, malformed("bcrypt", err)
		}
	}

	ph, err := parseArgon2Hash(encodedHash)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), ph.salt, ph.params.Time, ph.params.Memory, ph.params.Threads, ph.params.KeyLen)
	return subtle.ConstantTimeCompare(computed, ph.key) == 1, nil
}

// NeedsUpgrade returns true for bcrypt hashes and for argon2id hashes weaker
// than the current parameters.
func (h *Argon2idHasher) NeedsUpgrade(hash string) bool {
	if isBcrypt(hash) {
		return true
	}
	ph, err := parseArgon2Hash(hash)
	if err != nil {
		return true
	}
	cur := h.Params()
	return ph.params.Memory < cur.Memory || ph.params.Time < cur.Time || ph.params.KeyLen < cur.KeyLen
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

type parsedHash struct {
	params Argon2Params
	salt   []byte
	key    []byte
}

func parseArgon2Hash(encoded string) (*parsedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, malformed("format", errors.New("expected 6 fields"))
	}
	if parts[1] != "argon2id" {
		return nil, malformed("algorithm", fmt.Errorf("unsupported hash algorithm: %s", parts[1]))
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, malformed("version", err)
	}
	if version != argon2.Version {
		return nil, malformed("version", fmt.Errorf("unsupported argon2 version %d", version))
	}

	var memory, cost, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &cost, &threads); err != nil {
		return nil, malformed("params", err)
	}
	// Validate threads fits in uint8 to prevent silent truncation
	if threads == 0 || threads > 255 {
		return nil, malformed("params", fmt.Errorf("threads value %d out of range", threads))
	}
	if cost == 0 {
		return nil, malformed("params", errors.New("time cost must be positive"))
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, malformed("salt", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, malformed("key", err)
	}
	if len(key) == 0 || len(key) > 1<<10 {
		return nil, malformed("key", fmt.Errorf("invalid hash key length: %d", len(key)))
	}

	return &parsedHash{
		params: Argon2Params{
			Memory:  memory,
			Time:    cost,
			Threads: uint8(threads),
			SaltLen: uint32(len(salt)),
			KeyLen:  uint32(len(key)),
		},
		salt: salt,
		key:  key,
	}, nil
}

func malformed(part string, cause error) error {
	return oops.In("hasher").
		With("part", part).
		Wrapf(errors.Join(ErrMalformedHash, cause), "parse hash")
}
