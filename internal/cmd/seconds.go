// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"errors"
	"strconv"
	"time"
)

var errNotSeconds = errors.New(
	"must be a positive integer of seconds",
)

// secondsValue is a [flag.Value] accepting only positive whole seconds.
// Fractions, zero and negative values are rejected before any I/O
// happens.
type secondsValue struct {
	value *time.Duration
}

func (s *secondsValue) String() string {
	if s.value == nil {
		return "0"
	}

	return strconv.FormatInt(int64(s.value.Seconds()), 10)
}

func (s *secondsValue) Set(raw string) error {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return errNotSeconds
	}

	*s.value = time.Duration(seconds) * time.Second

	return nil
}
