// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package host

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemState is a keyed integer world state.
//
// Serialize produces canonical JSON (sorted keys) so identical states
// always produce identical bytes.
type MemState struct {
	mu     sync.RWMutex
	values map[string]int64
}

// NewMemState creates an empty state.
func NewMemState() *MemState {
	return &MemState{values: make(map[string]int64)}
}

func (s *MemState) Get(key string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemState) Set(key string, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Add increments key by delta and returns the new value.
func (s *MemState) Add(key string, delta int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] += delta
	return s.values[key]
}

func (s *MemState) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Keys returns the keys in sorted order.
func (s *MemState) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *MemState) Serialize() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s.values)
}

func (s *MemState) Deserialize(data []byte) error {
	values := make(map[string]int64)
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("decoding state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = values
	return nil
}

var _ StateMutator = (*MemState)(nil)
