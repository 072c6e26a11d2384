// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride allows tests to override the user config directory.
var configDirOverride string

// Reset clears test overrides. Call from test cleanup to restore defaults.
func Reset() {
	configDirOverride = ""
}

// SetConfigDirOverride sets a custom user config directory path.
// This is primarily intended for tests, which must not read the developer's own config.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}
