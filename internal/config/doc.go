// SPDX-License-Identifier: MPL-2.0

// Package config handles inkboot configuration using Viper with CUE as the file format.
//
// Files are looked up in order: an explicit --config path, inkboot.cue in the
// project root, then $XDG_CONFIG_HOME/inkboot/config.cue. Every file is validated
// against the embedded config_schema.cue (#Config) before being merged over the
// built-in defaults. INKBOOT_<SECTION>_<KEY> environment variables override both.
//
// The package also assembles the service environment (process env over .env)
// passed unchanged to the migration tool and the application server.
package config
