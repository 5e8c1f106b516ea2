package main

import "time"

// Flag structs to decouple cobra from logic for testing.

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// RecordFlags holds flags for the record command
type RecordFlags struct {
	Channel string
	Elapsed float64
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

// StatusFlags holds flags for the status command
type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// ResyncFlags holds flags for the resync command
type ResyncFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	ConfigPath string
	Listen     string
}
