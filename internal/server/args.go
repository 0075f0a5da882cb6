package server

import (
	"fmt"
	"runtime"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/config"
)

// CPUCount is the -cpuCount value: all available cores, capped by the
// configured limit when it is positive.
func CPUCount(available, limit int) int {
	if limit > 0 && limit < available {
		return limit
	}
	return available
}

// BuildArgs returns the server's argv (without the executable). Paths are
// passed as configured; the server resolves them against its working
// directory, which is the executable's directory.
func BuildArgs(c config.ServerConfig, availableCores int) []string {
	args := []string{
		"-config=" + c.ConfigFile,
		fmt.Sprintf("-port=%d", c.Port),
		"-profiles=" + c.ProfilesDir,
		fmt.Sprintf("-cpuCount=%d", CPUCount(availableCores, c.CPUCount)),
		"-dologs",
		"-adminlog",
		"-netlog",
		"-freezecheck",
		"-noCrashDialog",
	}
	if c.ClientMods != "" {
		args = append(args, `-mod="`+c.ClientMods+`"`)
	}
	if c.ServerMods != "" {
		args = append(args, `-serverMod="`+c.ServerMods+`"`)
	}
	return args
}

var cpuCores = runtime.NumCPU

// LaunchArgs is BuildArgs for the cores of this machine.
func LaunchArgs(c config.ServerConfig) []string {
	return BuildArgs(c, cpuCores())
}
