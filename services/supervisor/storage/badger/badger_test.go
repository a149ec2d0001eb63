// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDB_RequiresPath(t *testing.T) {
	_, err := OpenDB(DefaultConfig())
	assert.Error(t, err)
}

func TestOpenDB_InMemory(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.InMemory())
	assert.Empty(t, db.Path())
}

func TestOpenDB_RejectsBadRatio(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "db")
	cfg.GCDiscardRatio = 1.5
	_, err := OpenDB(cfg)
	assert.Error(t, err)
}

func TestDB_PersistentWithGC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "db")
	cfg.GCInterval = 10 * time.Millisecond

	db, err := OpenDB(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte("blob/a"), []byte("1"))
	}))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, db.Close())

	db, err = OpenDB(cfg)
	require.NoError(t, err)
	defer db.Close()

	keys, err := db.Keys(ctx, []byte("blob/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)
}

func TestDB_CancelledContext(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = db.WithTxn(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	err = db.WithReadTxn(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDB_Keys_Prefix(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, k := range []string{"blob/x", "blob/y", "meta/z"} {
			if err := txn.Set([]byte(k), []byte("v")); err != nil {
				return err
			}
		}
		return nil
	}))

	keys, err := db.Keys(ctx, []byte("blob/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, keys)
}
