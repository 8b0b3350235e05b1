// Package config loads the daemon's YAML configuration file: node identity,
// storage location, dampening defaults, and the admin/proxy listen
// addresses.
package config
