package api

import "net/http"

// ReadOnly wraps handler so only GET and HEAD requests pass through,
// rejecting everything else with 403. It exists for listeners meant to
// expose flight inspection without letting a local process force-ready,
// force-fatal, or submit new flights — e.g. a Unix socket shared with
// unprivileged readers, mirroring the teacher's split between a
// read-write TCP listener and a read-only local one.
func ReadOnly(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeError(w, http.StatusForbidden, errReadOnlyListener)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

var errReadOnlyListener = httpError("write operations not allowed on this listener")

type httpError string

func (e httpError) Error() string { return string(e) }
