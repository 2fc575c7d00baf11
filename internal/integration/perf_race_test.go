//go:build race

package integration

import "time"

// The race detector slows dispatch several times over.
var echoP99Threshold = 50 * time.Millisecond

var echoP50Threshold = 10 * time.Millisecond
