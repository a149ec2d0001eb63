// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"log/slog"

	"github.com/AleutianAI/Stargate/services/supervisor/host"
	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
)

// TagRecorded marks the first frame of a recorded session.
const TagRecorded = "recorded"

// sessionWatch follows the host's recording and replay switches and
// reports their edges.
type sessionWatch struct {
	recorder  host.Recorder
	recording bool
	replaying bool
}

// pollSession compares the host switches with the last tick and emits one trace
// per edge. A recording start also tags the frame.
func (s *Supervisor) pollSession() {
	w := &s.session
	if w.recorder == nil {
		return
	}
	if rec := w.recorder.Recording(); rec != w.recording {
		w.recording = rec
		if rec {
			s.sessionEdge("recording_start", "session recording started")
			s.clock.TagFrame(TagRecorded)
		} else {
			s.sessionEdge("recording_stop", "session recording stopped")
		}
	}
	if rep := w.recorder.Replaying(); rep != w.replaying {
		w.replaying = rep
		if rep {
			s.sessionEdge("replay_start", "replay mode active")
		} else {
			s.sessionEdge("replay_stop", "replay mode deactivated")
		}
	}
}

func (s *Supervisor) sessionEdge(transition, message string) {
	s.logger.Info(message, slog.Int64("host_frame", s.host.Frame()))
	s.bus.Emit(protocol.Trace{Message: message, Detail: map[string]string{"transition": transition}})
}
