/*
Package health probes backend server health endpoints.

A backend server registers with a health URL; HTTPChecker performs a GET
against it with a bounded timeout and considers the server healthy only
when the response is 2xx AND the body identifies the server we registered.
The identity check guards against a recycled address answering for a
server that no longer exists: a 200 from the wrong peer is a failure.

	checker := health.NewHTTPChecker("http://backend:8080/health", "srv-1")
	result := checker.Check(ctx)
	if !result.Healthy {
		// result.Message explains why
	}

Status accumulates results into consecutive success/failure counters. The
adaptive health loop in pkg/backend feeds every check result through a
Status and derives server state transitions and the next check interval
from it.
*/
package health
