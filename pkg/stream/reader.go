// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains the stream reader that consumes io.Reader
// sources and emits parsed events via callbacks.
//
// Readers handle I/O and event sequencing. They use a parser to
// convert bytes to events, but do not render output or hold
// conversation state.
//
// All readers accept context.Context for cancellation; when the
// context is cancelled, reading stops and the error is returned.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
)

// maxLineBytes bounds a single SSE line. Paper payloads stay well
// under this; anything larger is a broken stream.
const maxLineBytes = 1 << 20

// StreamCallback is invoked for each decoded event, in line order.
// Returning an error stops the read.
type StreamCallback func(event StreamEvent) error

// =============================================================================
// Stream Reader Interface
// =============================================================================

// StreamReader reads a streaming response and invokes callbacks.
//
// Implementations handle the wire format; callers see only decoded
// StreamEvent structs in the exact order the lines arrived. Chunk
// boundaries in the underlying reader never affect the decoded
// sequence.
//
// Thread Safety:
//
//	A single Read operation must not be called concurrently on the
//	same reader instance, but distinct instances are independent.
type StreamReader interface {
	// Read processes a stream, invoking callback for each event.
	//
	// Parameters:
	//   - ctx: Context for cancellation. Checked between lines.
	//   - r: The source to read from. Caller is responsible for closing.
	//   - callback: Invoked for each decoded event. Return error to stop.
	//
	// Returns:
	//   - error: nil on successful completion, otherwise the error
	//     that stopped reading (context cancellation, read failure,
	//     or callback error)
	//
	// The stream is complete when EOF is reached, a done event is
	// received, the context is cancelled, or the callback errors.
	// A trailing line without a terminating newline at EOF is an
	// interrupted frame and is discarded, never decoded.
	Read(ctx context.Context, r io.Reader, callback StreamCallback) error

	// ReadAll reads the entire stream and returns every decoded
	// event in order. Convenience wrapper over Read for callers that
	// do not need real-time processing.
	ReadAll(ctx context.Context, r io.Reader) ([]StreamEvent, error)
}

// =============================================================================
// SSE Stream Reader
// =============================================================================

// sseStreamReader implements StreamReader for Server-Sent Events.
//
// Reads lines with bufio.Scanner and a strict split function, parses
// each line with an SSEParser. Malformed data lines are dropped with
// a debug log; a bad frame never kills the stream.
type sseStreamReader struct {
	parser SSEParser
	logger *slog.Logger
}

// NewSSEStreamReader creates an SSE stream reader using the given
// parser and the default slog logger.
func NewSSEStreamReader(parser SSEParser) StreamReader {
	return NewSSEStreamReaderWithLogger(parser, slog.Default())
}

// NewSSEStreamReaderWithLogger creates an SSE stream reader with an
// explicit logger, for callers that scope logs per component.
func NewSSEStreamReaderWithLogger(parser SSEParser, logger *slog.Logger) StreamReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &sseStreamReader{
		parser: parser,
		logger: logger,
	}
}

// Read processes an SSE stream, invoking callback for each event.
func (r *sseStreamReader) Read(ctx context.Context, reader io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(scanTerminatedLines)

	eventIndex := 0

	for scanner.Scan() {
		// Check for context cancellation between lines
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		event, err := r.parser.ParseLine(line)
		if err != nil {
			// Malformed payloads are dropped, never fatal
			r.logger.Debug("dropping malformed stream line", "error", err)
			continue
		}

		// Skip lines that carried no payload
		if event == nil {
			continue
		}

		event.Index = eventIndex
		eventIndex++

		if err := callback(*event); err != nil {
			return err
		}

		// Stop on terminal events
		if event.IsTerminal() {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	return nil
}

// ReadAll reads the entire stream and returns the decoded events.
func (r *sseStreamReader) ReadAll(ctx context.Context, reader io.Reader) ([]StreamEvent, error) {
	var events []StreamEvent
	err := r.Read(ctx, reader, func(event StreamEvent) error {
		events = append(events, event)
		return nil
	})
	return events, err
}

// scanTerminatedLines is bufio.ScanLines with one difference: a final
// line that lacks a terminating newline at EOF is consumed but never
// returned as a token. An unterminated trailer is an interrupted
// frame, not a frame.
func scanTerminatedLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, dropCR(data[:i]), nil
	}
	if atEOF {
		// Discard the unterminated trailer
		return len(data), nil, nil
	}
	// Request more data
	return 0, nil, nil
}

// dropCR drops a terminal \r from the line.
func dropCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}
	return data
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamReader = (*sseStreamReader)(nil)
