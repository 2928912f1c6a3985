// SPDX-License-Identifier: MIT

package config

import "errors"

// ErrUnknownConfigField is returned when the strict YAML parser rejects a
// field that is not part of the schema. Callers match it with errors.Is
// rather than string comparison.
var ErrUnknownConfigField = errors.New("unknown config field")
