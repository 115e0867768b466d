// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package httphelpers

import "strings"

// TrimBaseURL normalizes a configured server URL so endpoint paths can be
// appended directly. Trailing slashes are dropped and a bare host gets an
// http scheme.
func TrimBaseURL(baseURL string) string {
	base := strings.TrimSpace(baseURL)
	base = strings.TrimRight(base, "/")
	if base == "" {
		return ""
	}

	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	return base
}
