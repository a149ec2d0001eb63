// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/Stargate/services/supervisor/host"
	sbadger "github.com/AleutianAI/Stargate/services/supervisor/storage/badger"
)

// BlobStore persists content-addressed blobs.
//
// Put is write-once: an existing key is left untouched. Get returns
// ErrBlobNotFound for unknown keys. Implementations do not verify
// content; Store does.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (written bool, err error)
	Get(ctx context.Context, key string) ([]byte, error)
	Keys(ctx context.Context) ([]string, error)
}

// =============================================================================
// Directory backend
// =============================================================================

const blobExt = ".snap"

// DirStore keeps one file per blob under a directory of the host file
// system.
type DirStore struct {
	files host.FileSystem
	dir   string
}

// NewDirStore creates a DirStore rooted at dir.
func NewDirStore(files host.FileSystem, dir string) *DirStore {
	return &DirStore{files: files, dir: strings.TrimSuffix(dir, "/")}
}

func (d *DirStore) name(key string) string {
	return d.dir + "/" + key + blobExt
}

func (d *DirStore) Put(_ context.Context, key string, data []byte) (bool, error) {
	if _, err := d.files.Stat(d.name(key)); err == nil {
		return false, nil
	} else if !host.IsNotExist(err) {
		return false, fmt.Errorf("stat blob %s: %w", key, err)
	}
	if err := d.files.WriteFile(d.name(key), data); err != nil {
		return false, fmt.Errorf("write blob %s: %w", key, err)
	}
	return true, nil
}

func (d *DirStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := d.files.ReadFile(d.name(key))
	if host.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

func (d *DirStore) Keys(_ context.Context) ([]string, error) {
	entries, err := d.files.List(d.dir)
	if host.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if !e.IsDir && strings.HasSuffix(e.Name, blobExt) {
			keys = append(keys, strings.TrimSuffix(e.Name, blobExt))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// =============================================================================
// BadgerDB backend
// =============================================================================

var blobPrefix = []byte("blob/")

// BadgerStore keeps blobs in BadgerDB under the "blob/" prefix.
type BadgerStore struct {
	db *sbadger.DB
}

// NewBadgerStore wraps an open database. The caller owns db.
func NewBadgerStore(db *sbadger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func blobKey(key string) []byte {
	return append(append([]byte{}, blobPrefix...), key...)
}

func (b *BadgerStore) Put(ctx context.Context, key string, data []byte) (bool, error) {
	written := false
	err := b.db.WithTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(blobKey(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		written = true
		return txn.Set(blobKey(key), data)
	})
	if err != nil {
		return false, fmt.Errorf("put blob %s: %w", key, err)
	}
	return written, nil
}

func (b *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", key, err)
	}
	return data, nil
}

// Overwrite replaces a blob regardless of write-once. Only corruption
// tooling and tests use it.
func (b *BadgerStore) Overwrite(ctx context.Context, key string, data []byte) error {
	return b.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(blobKey(key), data)
	})
}

func (b *BadgerStore) Keys(ctx context.Context) ([]string, error) {
	return b.db.Keys(ctx, blobPrefix)
}

var (
	_ BlobStore = (*DirStore)(nil)
	_ BlobStore = (*BadgerStore)(nil)
)
