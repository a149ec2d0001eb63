// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Stargate/services/supervisor/config"
	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Control.Enabled {
		return errors.New("control surface is disabled in the config")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watch(ctx, cmd.OutOrStdout(), "ws://"+cfg.Control.Addr+"/v1/events", jsonOutput)
}

// watch follows a running supervisor's event stream. Every message is
// validated and decoded; invalid ones are reported and skipped.
func watch(ctx context.Context, w io.Writer, url string, asJSON bool) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", url, err)
	}
	defer conn.Close()
	unhook := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer unhook()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("reading event stream: %w", err)
		}
		e, err := protocol.Decode(raw)
		if err != nil {
			fmt.Fprintf(w, "skipping event: %v\n", err)
			continue
		}
		if asJSON {
			fmt.Fprintf(w, "%s\n", raw)
			continue
		}
		fmt.Fprintln(w, protocol.Narrate(e))
	}
}
