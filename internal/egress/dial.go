package egress

import (
	"net"
	"time"

	"github.com/soha0219/ech-ws-tunnel/internal/addr"
	"github.com/soha0219/ech-ws-tunnel/internal/tunnelerr"
)

// buildAttemptList implements §4.2 step 3: an IP-literal target is tried
// alone; a name target is tried first, then each configured fallback (with
// a nil port inheriting the target's port).
func buildAttemptList(target addr.Endpoint, fallbacks addr.FallbackList) []addr.Endpoint {
	if target.IsIPLiteral() {
		return []addr.Endpoint{target}
	}
	attempts := make([]addr.Endpoint, 0, 1+len(fallbacks))
	attempts = append(attempts, target)
	for _, fb := range fallbacks {
		attempts = append(attempts, fb.Resolve(target.Port))
	}
	return attempts
}

// dialUpstream tries each attempt in order with connectTimeout, moving to
// the next attempt only when the failure classifies as transient
// (tunnelerr.IsTransientUpstream), per §4.2 step 5.
func dialUpstream(target addr.Endpoint, fallbacks addr.FallbackList, connectTimeout time.Duration) (net.Conn, error) {
	attempts := buildAttemptList(target, fallbacks)
	var lastErr error
	for _, ep := range attempts {
		conn, err := net.DialTimeout("tcp", ep.String(), connectTimeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if !tunnelerr.IsTransientUpstream(err) {
			return nil, &tunnelerr.DialError{Target: ep.String(), Err: err}
		}
	}
	return nil, &tunnelerr.DialError{Target: target.String(), Err: lastErr}
}
