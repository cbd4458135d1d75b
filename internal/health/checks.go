package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/aitprotocol/logicnet-dashboard/internal/circuitbreaker"
)

// BreakerState is the part of a circuit breaker the upstream check reads.
type BreakerState interface {
	State(endpoint string) circuitbreaker.State
}

// UpstreamCheck reports unhealthy while any of the endpoints' circuits is
// open, meaning renders would fail without contacting the proxy.
func UpstreamCheck(b BreakerState, endpoints ...string) Checker {
	return func(_ context.Context) Status {
		var open []string
		for _, ep := range endpoints {
			if b.State(ep) == circuitbreaker.StateOpen {
				open = append(open, ep)
			}
		}
		if len(open) > 0 {
			return Status{Name: "upstream", Healthy: false, Detail: "circuit open: " + strings.Join(open, ", ")}
		}
		return Status{Name: "upstream", Healthy: true}
	}
}

// SessionCounter is satisfied by the session store.
type SessionCounter interface {
	Len() int
}

// SessionsCheck reports the live session count. It is unhealthy only when
// max is positive and exceeded.
func SessionsCheck(s SessionCounter, max int) Checker {
	return func(_ context.Context) Status {
		n := s.Len()
		st := Status{Name: "sessions", Healthy: true, Detail: fmt.Sprintf("%d active", n)}
		if max > 0 && n > max {
			st.Healthy = false
		}
		return st
	}
}
