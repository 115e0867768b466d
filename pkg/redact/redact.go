// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package redact masks sensitive license material before it reaches logs.
package redact

// LicenseKey keeps the prefix and first key group so operators can
// correlate log lines without exposing the full key.
func LicenseKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}

// MachineID keeps the first hex group of a machine id.
func MachineID(id string) string {
	if len(id) <= 8 {
		return "***"
	}
	return id[:8] + "***"
}
