package main

import "time"

const defaultTimeout = 2 * time.Minute

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	Socket     string
	Timeout    time.Duration
}

// ServeFlags holds flags for serve command
type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

// StopFlags holds flags for stop command
type StopFlags struct {
	Name     string
	Wildcard string
	Wait     time.Duration
}

// StatusFlags holds flags for status command
type StatusFlags struct {
	Name     string
	Wildcard string
	JSON     bool
}

// LogsFlags holds flags for logs command
type LogsFlags struct {
	Name   string
	Lines  int
	Stderr bool
}
