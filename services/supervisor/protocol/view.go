// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/time/rate"
)

// ViewConfig configures the two output channels.
type ViewConfig struct {
	// Machine receives every event as "[STARGATE_<KIND>] <json>". Nil
	// disables the channel.
	Machine io.Writer

	// Human receives narrative lines for events at or above MinSeverity.
	// Nil disables the channel.
	Human io.Writer

	// MinSeverity defaults to SeverityWarning.
	MinSeverity Severity

	// LinesPerSecond and Burst bound the human channel. Zero values use
	// 5 lines per second with a burst of 10. Alerts are never dropped.
	LinesPerSecond float64
	Burst          int

	// Styled forces lipgloss styling on or off. Nil styles only when
	// Human is a terminal.
	Styled *bool
}

// View writes events to the machine and human channels.
type View struct {
	mu      sync.Mutex
	machine io.Writer
	human   io.Writer
	min     Severity
	limiter *rate.Limiter
	styled  bool
	styles  map[Severity]lipgloss.Style
}

// NewView creates a View.
func NewView(cfg ViewConfig) *View {
	if cfg.MinSeverity == SeverityInfo {
		cfg.MinSeverity = SeverityWarning
	}
	if cfg.LinesPerSecond <= 0 {
		cfg.LinesPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	styled := IsTerminal(cfg.Human)
	if cfg.Styled != nil {
		styled = *cfg.Styled
	}
	return &View{
		machine: cfg.Machine,
		human:   cfg.Human,
		min:     cfg.MinSeverity,
		limiter: rate.NewLimiter(rate.Limit(cfg.LinesPerSecond), cfg.Burst),
		styled:  styled,
		styles: map[Severity]lipgloss.Style{
			SeverityWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			SeverityError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
			SeverityAlert:   lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160")).Bold(true),
		},
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Dispatch implements Sink.
func (v *View) Dispatch(e Event, raw []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.machine != nil {
		fmt.Fprintf(v.machine, "[STARGATE_%s] %s\n", strings.ToUpper(string(e.Kind)), raw)
	}

	sev := e.Severity()
	if v.human == nil || sev < v.min {
		return
	}
	if sev < SeverityAlert && !v.limiter.Allow() {
		humanSuppressed.Inc()
		return
	}
	line := Narrate(e)
	if v.styled {
		if style, ok := v.styles[sev]; ok {
			line = style.Render(line)
		}
	}
	fmt.Fprintln(v.human, line)
}

// Narrate renders a one-line human description of e.
func Narrate(e Event) string {
	prefix := fmt.Sprintf("[STARGATE][%s][f%d]", strings.ToUpper(e.Severity().String()), e.Frame)
	switch p := e.Payload.(type) {
	case Alert:
		return fmt.Sprintf("%s %s: %s", prefix, p.Type, p.Message)
	case Divergence:
		return fmt.Sprintf("%s timeline %s diverged: expected %s, found %s", prefix, p.Branch, short(p.Expected), short(p.Actual))
	case Threat:
		return fmt.Sprintf("%s %s threat, action %s: %s", prefix, p.Level, p.Action, p.Evidence)
	case Recall:
		if p.OK {
			return fmt.Sprintf("%s recalled frame %d (%s)", prefix, p.Frame, short(p.Hash))
		}
		return fmt.Sprintf("%s recall of frame %d failed: %s", prefix, p.Frame, p.Error)
	case Moment:
		return fmt.Sprintf("%s %s moment on %s (%s)", prefix, p.Type, p.Branch, short(p.Hash))
	case Branch:
		return fmt.Sprintf("%s branch %s from %s at frame %d", prefix, p.ID, p.Parent, p.DivergenceFrame)
	case Boot:
		return fmt.Sprintf("%s boot mode=%s reinstall=%t interrupted=%t", prefix, p.Mode, p.Reinstall, p.Interrupted)
	case Trace:
		return fmt.Sprintf("%s %s", prefix, p.Message)
	case Metadata:
		return fmt.Sprintf("%s tag %s", prefix, p.Tag)
	case Gameplay:
		return fmt.Sprintf("%s gameplay %s", prefix, p.Name)
	default:
		return fmt.Sprintf("%s %s", prefix, e.Kind)
	}
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
