// SPDX-License-Identifier: MIT

// Package config loads, validates, and hot-reloads the daemon
// configuration.
//
// Precedence is environment > file > defaults. The file is strict YAML:
// unknown fields and trailing documents are rejected so typos fail fast
// instead of silently running with defaults. Credentials are opaque
// strings; they are carried through untouched and masked in every log
// path via MaskSecrets.
package config
