package lndaddr

import "github.com/btcsuite/btclog"

// Subsystem defines the logging code for the server.
const Subsystem = "LNAD"

var log = btclog.Disabled

// DisableLog disables all library log output.
func DisableLog() {
	UseLogger(btclog.Disabled)
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}
