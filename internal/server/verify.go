package server

import (
	"os"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/config"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/notify"
)

// Verify checks everything the server needs before the first launch. Every
// problem is reported through n; the result is false if any was found.
func Verify(c config.ServerConfig, n notify.Notifier) bool {
	ok := true
	fail := func(msg, path string, err error) {
		ok = false
		if err != nil {
			n.Error(msg, "path", path, "error", err)
			return
		}
		n.Error(msg, "path", path)
	}

	if fi, err := os.Stat(c.Executable); err != nil {
		fail("server executable not found", c.Executable, nil)
	} else if fi.IsDir() {
		fail("server executable is a directory", c.Executable, nil)
	}

	companion := c.Resolve(c.CompanionDir)
	if fi, err := os.Stat(companion); err != nil || !fi.IsDir() {
		fail("companion directory not found beside executable", companion, nil)
	}

	cfgFile := c.Resolve(c.ConfigFile)
	if _, err := os.Stat(cfgFile); err != nil {
		fail("server configuration file not found", cfgFile, nil)
	}

	profiles := c.Resolve(c.ProfilesDir)
	if err := os.MkdirAll(profiles, 0o750); err != nil {
		fail("cannot create profiles directory", profiles, err)
	}

	if ok {
		n.Debug("server environment verified", "executable", c.Executable)
	}
	return ok
}
