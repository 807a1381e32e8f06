package main

import "time"

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	LogDir     string
	LogLevel   string
	Shell      bool
	ShellPath  string
	Split      bool
	HistoryDSN string
	Metrics    bool
}

// ExecFlags holds per-invocation flags for run and launch.
type ExecFlags struct {
	Env      []string
	EnvFiles []string
	UseOSEnv bool
	// UseOSEnvSet records whether --use-os-env was given explicitly; the
	// flag defaults to true, so the value alone cannot distinguish "left
	// alone" from "forced on".
	UseOSEnvSet bool
	Cwd         string
	Timeout     time.Duration
	NoLog       bool
	Quiet       bool
}

// LaunchFlags extends ExecFlags with background-completion handling.
type LaunchFlags struct {
	ExecFlags
	Tail      int
	JSON      bool
	KillAfter time.Duration
}
