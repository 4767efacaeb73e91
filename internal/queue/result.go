// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package queue

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/qubes-community/qvm-remote/internal/protocol"
)

// Result is the terminal outcome of one command.
type Result struct {
	ExitCode int
	Duration time.Duration
	Stdout   []byte
	Stderr   []byte
}

const (
	stdoutMarker = "---stdout---\n"
	stderrMarker = "---stderr---\n"
)

// Encode renders the result entry file format:
//
//	exit=<int>
//	duration_ms=<int>
//	---stdout---
//	<raw bytes>
//	---stderr---
//	<raw bytes>
//
// The format is documented for read-only collaborators and parsed
// leniently by [DecodeResult].
func (r Result) Encode() []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "exit=%d\n", r.ExitCode)
	fmt.Fprintf(&buf, "duration_ms=%d\n", r.Duration.Milliseconds())
	buf.WriteString(stdoutMarker)
	buf.Write(r.Stdout)
	buf.WriteString(stderrMarker)
	buf.Write(r.Stderr)

	return buf.Bytes()
}

// DecodeResult parses an encoded result entry.
func DecodeResult(data []byte) (Result, error) {
	var result Result

	header, rest, found := bytes.Cut(data, []byte(stdoutMarker))
	if !found {
		return result, ErrMalformedResult
	}

	for _, line := range bytes.Split(header, []byte("\n")) {
		key, value, found := bytes.Cut(bytes.TrimSpace(line), []byte("="))
		if !found {
			continue
		}

		number, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return result, fmt.Errorf(
				"%w: bad %s value", ErrMalformedResult, key,
			)
		}

		switch string(key) {
		case "exit":
			result.ExitCode = int(number)
		case "duration_ms":
			result.Duration = time.Duration(number) * time.Millisecond
		}
	}

	stdout, stderr, found := bytes.Cut(rest, []byte(stderrMarker))
	if !found {
		return result, ErrMalformedResult
	}

	result.Stdout = stdout
	result.Stderr = stderr

	return result, nil
}

// WriteResult publishes a result entry atomically: the encoded file is
// written to a hidden temporary name in results/ and renamed into place.
func (s *Store) WriteResult(id string, result Result) error {
	err := s.EnsureDirs()
	if err != nil {
		return err
	}

	tmp := filepath.Join(s.root, protocol.DirResults, "."+id)

	err = writeFile(tmp, result.Encode())
	if err != nil {
		return fmt.Errorf("write result %s: %w", id, err)
	}

	err = os.Rename(tmp, s.resultPath(id))
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish result %s: %w", id, err)
	}

	return nil
}

// TakeResult consumes the result entry for the given id: it is read,
// deleted, and returned. A second call for the same id reports
// [ErrNotFound]; polling is idempotent with respect to already consumed
// results.
func (s *Store) TakeResult(id string) (Result, error) {
	path := s.resultPath(id)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		return Result{}, fmt.Errorf("read result %s: %w", id, err)
	}

	result, err := DecodeResult(data)
	if err != nil {
		return Result{}, fmt.Errorf("result %s: %w", id, err)
	}

	err = os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return result, fmt.Errorf("consume result %s: %w", id, err)
	}

	return result, nil
}
