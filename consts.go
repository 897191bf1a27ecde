// Package consensuscore holds the handful of values shared across the
// module: a version string, the profiling port, and the reconnect
// backoff bounds the transport layer is built against.
package consensuscore

import "time"

const (
	// Version is reported in the startup log line.
	Version = "dev"

	// HttpProfilePort is where cmd/consensusd serves net/http/pprof when
	// -pprof is passed, the same debug surface goshawkdb exposes.
	HttpProfilePort = 6060
)

// ReconnectDelayMin and ReconnectDelayRangeMS bound the backoff a
// tcptransport peer uses between dial attempts: the binary backoff
// starts at ReconnectDelayMin and jitters within a window that widens
// up to ReconnectDelayMin+ReconnectDelayRangeMS.
const (
	ReconnectDelayMin     = 200 * time.Millisecond
	ReconnectDelayRangeMS = 4000
)
