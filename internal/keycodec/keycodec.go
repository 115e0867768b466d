// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package keycodec generates and validates PixelStudio license keys.
//
// Keys have the fixed textual form PS-XXXX-XXXX-XXXX where X is a hex
// digit. Input is case-insensitive; the canonical form is uppercase.
package keycodec

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// KeyLength is the canonical length of a formatted key, dashes included.
const KeyLength = 17

const keyPrefix = "PS"

var keyPattern = regexp.MustCompile(`^PS-[A-F0-9]{4}-[A-F0-9]{4}-[A-F0-9]{4}$`)

// ErrInvalidFormat is returned when a raw key does not match the
// PS-XXXX-XXXX-XXXX shape.
var ErrInvalidFormat = errors.New("license key must match PS-XXXX-XXXX-XXXX")

// Generate produces a fresh license key with three random hex groups.
// Randomness is for uniqueness within the expected key population, not
// fraud resistance.
func Generate() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// there is no useful recovery for a key generator.
		panic(fmt.Sprintf("keycodec: rand.Read: %v", err))
	}

	body := strings.ToUpper(hex.EncodeToString(buf))
	return fmt.Sprintf("%s-%s-%s-%s", keyPrefix, body[0:4], body[4:8], body[8:12])
}

// ValidateFormat trims and uppercases raw, then checks it against the
// canonical key shape. On success it returns the normalized key.
func ValidateFormat(raw string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if !keyPattern.MatchString(normalized) {
		return "", ErrInvalidFormat
	}
	return normalized, nil
}

// FormatAsTyped incrementally formats a partially typed key: it strips
// everything that is not a hex digit or part of the PS prefix, re-inserts
// dashes, and truncates to the canonical length. Formatting well-formed
// input returns it unchanged, so the function is idempotent.
func FormatAsTyped(partial string) string {
	upper := strings.ToUpper(strings.TrimSpace(partial))
	upper = strings.ReplaceAll(upper, "-", "")

	// Ensure the leading PS token without duplicating it.
	upper = strings.TrimPrefix(upper, keyPrefix)
	body := stripNonHex(upper)

	var b strings.Builder
	b.WriteString(keyPrefix)
	for i, r := range body {
		if i >= 12 {
			break
		}
		if i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}

	out := b.String()
	if len(out) > KeyLength {
		out = out[:KeyLength]
	}
	return out
}

// stripNonHex drops every rune that is not an uppercase hex digit.
func stripNonHex(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
