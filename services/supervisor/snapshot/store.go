// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot serializes, persists and verifies full simulation state.
//
// Blobs are keyed by the SHA-256 hex digest of their content. The digest
// is recomputed on every load and a mismatch rejects the blob with an
// IntegrityError, so a corrupt snapshot is never applied.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrIntegrityViolation is matched by every IntegrityError.
	ErrIntegrityViolation = errors.New("snapshot integrity violation")

	// ErrBlobNotFound is returned when no blob exists for a digest.
	ErrBlobNotFound = errors.New("snapshot blob not found")
)

// IntegrityError reports a blob whose content does not hash to its key.
type IntegrityError struct {
	Requested string
	Computed  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("snapshot integrity violation: requested %s, computed %s", e.Requested, e.Computed)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrityViolation
}

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Serializer is the host's full-state serialization capability.
type Serializer interface {
	Serialize() ([]byte, error)
	Deserialize(data []byte) error
}

// Packet is a captured snapshot.
type Packet struct {
	Data []byte
	Hash string
}

// Outcome is the result of applying raw state to the host.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeDivergent Outcome = "divergent"
)

// Store couples the host serializer with a blob backend.
//
// Thread Safety: not safe for concurrent use.
type Store struct {
	state  Serializer
	blobs  BlobStore
	logger *slog.Logger
}

// New creates a Store. A nil logger uses slog.Default().
func New(state Serializer, blobs BlobStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		state:  state,
		blobs:  blobs,
		logger: logger.With(slog.String("component", "stargate.snapshot")),
	}
}

// Capture serializes the host state and persists it.
//
// Capture is best-effort: failures are logged and reported through the
// boolean so the frame that asked for the snapshot keeps running.
func (s *Store) Capture(ctx context.Context) (Packet, bool) {
	start := time.Now()
	data, err := s.state.Serialize()
	if err != nil {
		captureFailures.WithLabelValues("serialize").Inc()
		s.logger.Warn("snapshot capture failed", slog.String("stage", "serialize"), slog.String("error", err.Error()))
		return Packet{}, false
	}
	hash, err := s.Save(ctx, data)
	if err != nil {
		captureFailures.WithLabelValues("persist").Inc()
		s.logger.Warn("snapshot capture failed", slog.String("stage", "persist"), slog.String("error", err.Error()))
		return Packet{}, false
	}
	captureLatency.Observe(time.Since(start).Seconds())
	return Packet{Data: data, Hash: hash}, true
}

// Save persists data under its digest. Saving identical content twice
// writes once and returns the same digest.
func (s *Store) Save(ctx context.Context, data []byte) (string, error) {
	hash := Digest(data)
	written, err := s.blobs.Put(ctx, hash, data)
	if err != nil {
		return "", err
	}
	if written {
		blobsWritten.Inc()
		blobBytes.Observe(float64(len(data)))
	}
	return hash, nil
}

// Load reads the blob for hash and verifies it.
func (s *Store) Load(ctx context.Context, hash string) ([]byte, error) {
	data, err := s.blobs.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if computed := Digest(data); computed != hash {
		integrityFailures.Inc()
		return nil, &IntegrityError{Requested: hash, Computed: computed}
	}
	return data, nil
}

// Apply replaces host state with raw. It cannot be undone; callers must
// already hold a verified rollback target.
func (s *Store) Apply(raw []byte) Outcome {
	if err := s.state.Deserialize(raw); err != nil {
		s.logger.Error("snapshot apply diverged", slog.String("error", err.Error()))
		return OutcomeDivergent
	}
	return OutcomeOK
}

// LiveDigest hashes the current host state without persisting it.
func (s *Store) LiveDigest() (string, error) {
	data, err := s.state.Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize live state: %w", err)
	}
	return Digest(data), nil
}

// Verify loads every stored blob and returns the digests that fail
// verification.
func (s *Store) Verify(ctx context.Context) (checked int, corrupt []string, err error) {
	keys, err := s.blobs.Keys(ctx)
	if err != nil {
		return 0, nil, err
	}
	for _, k := range keys {
		if _, err := s.Load(ctx, k); err != nil {
			if !errors.Is(err, ErrIntegrityViolation) {
				return checked, corrupt, err
			}
			corrupt = append(corrupt, k)
		}
		checked++
	}
	return checked, corrupt, nil
}
