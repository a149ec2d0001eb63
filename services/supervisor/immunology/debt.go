// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package immunology

import (
	"sort"
	"strings"
)

// Debt weights. Error entries are hard debt; warnings and marked
// entries at lower severities are soft.
const (
	HardDebt = 1.0
	SoftDebt = 0.1

	// DigestLimit bounds the message excerpt kept per node.
	DigestLimit = 80

	// DebtNodeLimit bounds the number of tracked nodes. Entries for new
	// nodes past the limit accrue on UnknownNode.
	DebtNodeLimit = 64

	UnknownNode = "unknown_causality"
)

// Debt is the accumulated fault weight of one causal node.
type Debt struct {
	Node      string  `json:"node"`
	Debt      float64 `json:"debt"`
	Count     int     `json:"count"`
	LastFrame int64   `json:"last_frame"`
	Digest    string  `json:"digest"`
}

// debtMarker reports whether a message below warning severity still
// carries an error marker.
func debtMarker(message string) bool {
	return strings.Contains(message, "ERROR:") || strings.Contains(message, "EXCEPTION:")
}

// causalNode attributes an entry to the node that produced it.
func causalNode(subsystem, message string) string {
	switch {
	case subsystem != "":
		return subsystem
	case strings.Contains(message, "primitives"):
		return "rendering"
	default:
		return UnknownNode
	}
}

// accrue books one entry against its causal node. It returns false when
// the entry carries no debt.
func (im *Immunology) accrue(subsystem string, severity int, message string) bool {
	if severity < SeverityWarn && !debtMarker(message) {
		return false
	}
	node := causalNode(subsystem, message)
	d, ok := im.debts[node]
	if !ok {
		if len(im.debts) >= DebtNodeLimit {
			node = UnknownNode
			d, ok = im.debts[node]
		}
		if !ok {
			d = &Debt{Node: node}
			im.debts[node] = d
		}
	}
	weight := SoftDebt
	if severity >= SeverityError {
		weight = HardDebt
	}
	d.Debt += weight
	d.Count++
	d.LastFrame = im.frame()
	d.Digest = strings.TrimSpace(strings.ReplaceAll(truncate(message, DigestLimit), "\n", " "))
	debtGauge.WithLabelValues(node).Set(d.Debt)
	return true
}

// DebtReport returns every node's debt, heaviest first.
func (im *Immunology) DebtReport() []Debt {
	out := make([]Debt, 0, len(im.debts))
	for _, d := range im.debts {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Debt != out[j].Debt {
			return out[i].Debt > out[j].Debt
		}
		return out[i].Node < out[j].Node
	})
	return out
}

// ForgiveDebt clears the debt map.
func (im *Immunology) ForgiveDebt() {
	for node := range im.debts {
		debtGauge.DeleteLabelValues(node)
	}
	clear(im.debts)
	im.publish()
}
