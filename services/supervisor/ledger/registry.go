// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedLedger is returned when a registry file cannot be parsed.
var ErrMalformedLedger = errors.New("malformed ledger")

// Node statuses.
const (
	StatusPending = "pending"
	StatusAlive   = "alive"
	StatusGhost   = "ghost"
)

// RegistryVersion is written into new registries.
const RegistryVersion = "1.0.0"

// Metadata is the registry header.
type Metadata struct {
	Version     string
	LastAudit   int64
	GracePeriod int
}

// Node is one tracked identifier.
type Node struct {
	ID           string
	CurrentFile  string
	FirstSeen    int64
	LastSeen     int64
	MissingCount int
	Status       string
}

// Registry is the persisted ledger. Nodes keep registration order.
type Registry struct {
	Metadata Metadata
	Nodes    []*Node

	byID map[string]*Node
}

// NewRegistry returns an empty registry.
func NewRegistry(grace int, now int64) *Registry {
	return &Registry{
		Metadata: Metadata{Version: RegistryVersion, LastAudit: now, GracePeriod: grace},
		byID:     make(map[string]*Node),
	}
}

// Lookup returns the node for id.
func (r *Registry) Lookup(id string) (*Node, bool) {
	n, ok := r.byID[id]
	return n, ok
}

// Add appends a node.
func (r *Registry) Add(n *Node) {
	r.Nodes = append(r.Nodes, n)
	r.byID[n.ID] = n
}

// Remove drops the node for id.
func (r *Registry) Remove(id string) {
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, n := range r.Nodes {
		if n.ID == id {
			r.Nodes = append(r.Nodes[:i], r.Nodes[i+1:]...)
			break
		}
	}
}

// WithStatus returns the ids carrying status, in registration order.
func (r *Registry) WithStatus(status string) []string {
	var out []string
	for _, n := range r.Nodes {
		if n.Status == status {
			out = append(out, n.ID)
		}
	}
	return out
}

// ParseRegistry reads the line-oriented registry format:
//
//	metadata:
//	  version: 1.0.0
//	  last_audit: 1700000000
//	  grace_period: 2
//	nodes:
//	  - id: player_controller
//	    current_file: app/player.rb
//	    first_seen: 1700000000
//	    last_seen: 1700000000
//	    missing_count: 0
//	    status: alive
//
// Blank lines and lines starting with # are skipped. Unknown keys are
// ignored.
func ParseRegistry(data []byte) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Node)}

	var (
		section string
		current *Node
		lineNo  int
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		lineNo++
		t := strings.TrimSpace(sc.Text())
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		switch {
		case t == "metadata:":
			section, current = "metadata", nil
			continue
		case t == "nodes:":
			section, current = "nodes", nil
			continue
		case strings.HasPrefix(t, "- id:"):
			if section != "nodes" {
				return nil, fmt.Errorf("%w: line %d: node outside nodes section", ErrMalformedLedger, lineNo)
			}
			id := strings.TrimSpace(strings.TrimPrefix(t, "- id:"))
			if id == "" {
				return nil, fmt.Errorf("%w: line %d: empty id", ErrMalformedLedger, lineNo)
			}
			if _, dup := r.byID[id]; dup {
				return nil, fmt.Errorf("%w: line %d: duplicate id %q", ErrMalformedLedger, lineNo, id)
			}
			current = &Node{ID: id}
			r.Add(current)
			continue
		}

		key, value, ok := strings.Cut(t, ":")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		var err error
		switch {
		case section == "metadata":
			err = r.Metadata.set(key, value)
		case current != nil:
			err = current.set(key, value)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedLedger, lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLedger, err)
	}
	return r, nil
}

func (m *Metadata) set(key, value string) error {
	var err error
	switch key {
	case "version":
		m.Version = value
	case "last_audit":
		m.LastAudit, err = strconv.ParseInt(value, 10, 64)
	case "grace_period":
		m.GracePeriod, err = strconv.Atoi(value)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func (n *Node) set(key, value string) error {
	var err error
	switch key {
	case "current_file":
		n.CurrentFile = value
	case "first_seen":
		n.FirstSeen, err = strconv.ParseInt(value, 10, 64)
	case "last_seen":
		n.LastSeen, err = strconv.ParseInt(value, 10, 64)
	case "missing_count":
		n.MissingCount, err = strconv.Atoi(value)
	case "status":
		n.Status = value
	}
	if err != nil {
		return fmt.Errorf("%s of %s: %w", key, n.ID, err)
	}
	return nil
}

// Encode writes the registry in the format ParseRegistry reads.
func (r *Registry) Encode() []byte {
	var b bytes.Buffer
	b.WriteString("metadata:\n")
	fmt.Fprintf(&b, "  version: %s\n", r.Metadata.Version)
	fmt.Fprintf(&b, "  last_audit: %d\n", r.Metadata.LastAudit)
	fmt.Fprintf(&b, "  grace_period: %d\n", r.Metadata.GracePeriod)
	b.WriteString("nodes:\n")
	for _, n := range r.Nodes {
		fmt.Fprintf(&b, "  - id: %s\n", n.ID)
		fmt.Fprintf(&b, "    current_file: %s\n", n.CurrentFile)
		fmt.Fprintf(&b, "    first_seen: %d\n", n.FirstSeen)
		fmt.Fprintf(&b, "    last_seen: %d\n", n.LastSeen)
		fmt.Fprintf(&b, "    missing_count: %d\n", n.MissingCount)
		fmt.Fprintf(&b, "    status: %s\n", n.Status)
	}
	return b.Bytes()
}
