package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
	Once       bool
}

type StatusFlags struct {
	APIFlags
	Tile string
	JSON bool
}

type ResetFlags struct {
	APIFlags
	Tiles []string
}
