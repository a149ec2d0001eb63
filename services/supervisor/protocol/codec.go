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
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidEvent wraps schema and decoding failures.
var ErrInvalidEvent = errors.New("invalid event")

//go:embed schema.json
var schemaJSON string

const schemaURL = "stargate-event.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func eventSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaURL, bytes.NewReader([]byte(schemaJSON))); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Frame   int64           `json:"frame"`
	Time    time.Time       `json:"time"`
	Source  Origin          `json:"source"`
}

// Encode serializes e and validates the result.
func Encode(e Event) ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidEvent)
	}
	if e.Payload.Kind() != e.Kind {
		return nil, fmt.Errorf("%w: kind %s carries %s payload", ErrInvalidEvent, e.Kind, e.Payload.Kind())
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	raw, err := json.Marshal(envelope{
		Type:    e.Kind,
		Payload: payload,
		Frame:   e.Frame,
		Time:    e.Time.UTC(),
		Source:  e.Origin,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Validate checks raw against the event schema.
func Validate(raw []byte) error {
	s, err := eventSchema()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

// Decode validates raw and rebuilds the typed event.
func Decode(raw []byte) (Event, error) {
	if err := Validate(raw); err != nil {
		return Event{}, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	payload, err := decodePayload(env.Type, env.Payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Kind:    env.Type,
		Payload: payload,
		Frame:   env.Frame,
		Time:    env.Time,
		Origin:  env.Source,
	}, nil
}

func decodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindBoot:
		p, err = unmarshalAs[Boot](raw)
	case KindMoment:
		p, err = unmarshalAs[Moment](raw)
	case KindDivergence:
		p, err = unmarshalAs[Divergence](raw)
	case KindBranch:
		p, err = unmarshalAs[Branch](raw)
	case KindAlert:
		p, err = unmarshalAs[Alert](raw)
	case KindTrace:
		p, err = unmarshalAs[Trace](raw)
	case KindMetadata:
		p, err = unmarshalAs[Metadata](raw)
	case KindThreat:
		p, err = unmarshalAs[Threat](raw)
	case KindRecall:
		p, err = unmarshalAs[Recall](raw)
	case KindGameplay:
		p, err = unmarshalAs[Gameplay](raw)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidEvent, kind, err)
	}
	return p, nil
}

func unmarshalAs[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
