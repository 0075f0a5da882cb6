package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags are the flags of the run command.
type RunFlags struct {
	ConfigPath string
	NoWatch    bool
	LockWait   time.Duration
}

// RemoteFlags select a running launcher's control API.
type RemoteFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type RestartFlags struct {
	RemoteFlags
	Reason string
	Delay  time.Duration
}

type StopFlags struct {
	RemoteFlags
	Wait time.Duration
}
