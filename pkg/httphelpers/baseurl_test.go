// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package httphelpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimBaseURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "plain", input: "http://localhost:8090", want: "http://localhost:8090"},
		{name: "trailing slash", input: "http://localhost:8090/", want: "http://localhost:8090"},
		{name: "multiple trailing slashes", input: "https://licenses.example.com///", want: "https://licenses.example.com"},
		{name: "bare host gets scheme", input: "localhost:8090", want: "http://localhost:8090"},
		{name: "whitespace", input: "  http://localhost:8090  ", want: "http://localhost:8090"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrimBaseURL(tt.input))
		})
	}
}
