// Package debugapi exposes a protocol instance's live topology and routing
// state over HTTP, for operators and integration tests to inspect a
// running deployment without instrumenting the application itself.
package debugapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/tratteo/meshcollect/internal/routing"
	"github.com/tratteo/meshcollect/internal/topology"
	"github.com/tratteo/meshcollect/pkg/addr"
)

// Source is the subset of *meshcollect.Protocol the debug API reads from.
type Source interface {
	Snapshot(ctx context.Context) (topology.Snapshot, error)
	RoutingEntries(ctx context.Context) ([]routing.Entry, error)
}

// NewRouter builds the debug HTTP surface for src:
//
//	GET /topology       -> topology.Snapshot as JSON
//	GET /routes         -> every routing.Entry as JSON (empty at non-sinks)
//	GET /routes/{child} -> the single routing.Entry for child, 404 if absent
func NewRouter(src Source) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/topology", func(w http.ResponseWriter, req *http.Request) {
		snap, err := src.Snapshot(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, snap)
	})

	r.Get("/routes", func(w http.ResponseWriter, req *http.Request) {
		entries, err := src.RoutingEntries(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, entries)
	})

	r.Get("/routes/{child}", func(w http.ResponseWriter, req *http.Request) {
		raw := chi.URLParam(req, "child")
		var child addr.Addr
		if !parseAddr(raw, &child) {
			http.Error(w, "malformed address", http.StatusBadRequest)
			return
		}
		entries, err := src.RoutingEntries(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, e := range entries {
			if e.Child.Equal(child) {
				writeJSON(w, e)
				return
			}
		}
		http.NotFound(w, req)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// parseAddr parses a "xx:xx" hex-pair address, the format addr.Addr.String
// produces, into out. It reports whether raw was well-formed.
func parseAddr(raw string, out *addr.Addr) bool {
	if len(raw) != 5 || raw[2] != ':' {
		return false
	}
	hi, ok1 := parseHexByte(raw[0:2])
	lo, ok2 := parseHexByte(raw[3:5])
	if !ok1 || !ok2 {
		return false
	}
	out[0], out[1] = hi, lo
	return true
}

func parseHexByte(s string) (byte, bool) {
	var v byte
	for _, c := range []byte(s) {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= c - '0'
		case c >= 'a' && c <= 'f':
			v |= c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v |= c - 'A' + 10
		default:
			return 0, false
		}
	}
	return v, true
}
