//go:build windows

package main

import (
	"os"
	"syscall"
)

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

const haveReloadSignal = false

var reloadSignal os.Signal // never sent; config.Watcher drives reload
