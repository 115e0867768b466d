// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package keycodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_ProducesValidKeys(t *testing.T) {
	seen := make(map[string]struct{})

	for i := 0; i < 200; i++ {
		key := Generate()

		normalized, err := ValidateFormat(key)
		require.NoError(t, err, "generated key %q must be well-formed", key)
		assert.Equal(t, key, normalized, "generated keys are already canonical")

		seen[key] = struct{}{}
	}

	assert.Len(t, seen, 200, "no collisions expected in a small sample")
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "canonical", input: "PS-A4B3-C8D9-E2F1", want: "PS-A4B3-C8D9-E2F1"},
		{name: "lowercase input", input: "ps-a4b3-c8d9-e2f1", want: "PS-A4B3-C8D9-E2F1"},
		{name: "surrounding whitespace", input: "  PS-A4B3-C8D9-E2F1\n", want: "PS-A4B3-C8D9-E2F1"},
		{name: "empty", input: "", wantErr: true},
		{name: "wrong prefix", input: "XX-A4B3-C8D9-E2F1", wantErr: true},
		{name: "missing group", input: "PS-A4B3-C8D9", wantErr: true},
		{name: "non-hex digits", input: "PS-A4B3-C8D9-E2GZ", wantErr: true},
		{name: "no dashes", input: "PSA4B3C8D9E2F1", wantErr: true},
		{name: "too long", input: "PS-A4B3-C8D9-E2F1-0000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateFormat(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatAsTyped(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: "PS"},
		{name: "prefix only", input: "PS", want: "PS"},
		{name: "partial group", input: "PS-A4", want: "PS-A4"},
		{name: "lowercase no dashes", input: "psa4b3c8d9e2f1", want: "PS-A4B3-C8D9-E2F1"},
		{name: "already formatted", input: "PS-A4B3-C8D9-E2F1", want: "PS-A4B3-C8D9-E2F1"},
		{name: "missing prefix", input: "a4b3c8d9e2f1", want: "PS-A4B3-C8D9-E2F1"},
		{name: "garbage interleaved", input: "PS a4_b3!c8d9", want: "PS-A4B3-C8D9"},
		{name: "overflow truncated", input: "PS-A4B3-C8D9-E2F1FFFF", want: "PS-A4B3-C8D9-E2F1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAsTyped(tt.input))
		})
	}
}

func TestFormatAsTyped_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"PS",
		"ps-a4",
		"a4b3c8d9e2f1",
		"PS-A4B3-C8D9-E2F1",
		"!!@@##",
		"PS-A4B3-C8D9-E2F1-0000",
		"pspspsps",
	}

	for _, input := range inputs {
		once := FormatAsTyped(input)
		twice := FormatAsTyped(once)
		assert.Equal(t, once, twice, "FormatAsTyped must be idempotent for %q", input)
	}
}
