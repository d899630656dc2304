//go:build !windows

package main

import (
	"os"

	"golang.org/x/sys/unix"
)

// shutdownSignals and reloadSignal are POSIX-specific: SIGHUP has no
// equivalent on Windows, so the reload trigger there is file-watch only
// (internal/config.Watcher).
var shutdownSignals = []os.Signal{unix.SIGINT, unix.SIGTERM}

const haveReloadSignal = true

var reloadSignal os.Signal = unix.SIGHUP
