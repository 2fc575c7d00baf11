//go:build !race

package integration

import "time"

// echoP99Threshold is the maximum acceptable p99 echo latency without the race detector.
var echoP99Threshold = 10 * time.Millisecond

// echoP50Threshold is the maximum acceptable p50 echo latency without the race detector.
var echoP50Threshold = 2 * time.Millisecond
