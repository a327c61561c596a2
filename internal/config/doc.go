// Package config loads docsession configuration.
//
// Configuration is read from a single TOML or YAML file, chosen by file
// extension, and layered over built-in defaults. A handful of settings can
// then be overridden by DOCSESSION_* environment variables.
//
// The before-save hook runs on the session loop: while a script runs no
// other session is saved, reconciled or switched. hooks.timeout bounds that
// stall and may not exceed MaxHookTimeout.
//
// Example TOML:
//
//	[workspace]
//	root = "~/notes"
//
//	[session]
//	panes = 2
//	save_delay = "1s"
//	snapshot_interval = "2.5s"
//
//	[hooks]
//	before_save = ".docsession/hooks/trim.lua"
//	timeout = "250ms"
//
//	[log]
//	level = "debug"
package config
