// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spend

import "github.com/btcsuite/btclog"

// Subsystem is the logging tag used for this package.
const Subsystem = "SPND"

// log is a logger that is initialized with no output filters. This means the
// package will not perform any logging by default until the caller requests
// it.
var log btclog.Logger

// The default amount of logging is none.
func init() {
	DisableLog()
}

// DisableLog disables all library log output. Logging output is disabled by
// default until UseLogger is called.
func DisableLog() {
	UseLogger(btclog.Disabled)
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// logClosure defers building an expensive log string until the logger
// actually formats it.
type logClosure func() string

// String invokes the closure.
func (c logClosure) String() string {
	return c()
}

// newLogClosure wraps c so it is only evaluated at the active log level.
func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}
