package main

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/unkn0wn-root/lateral"
	"github.com/unkn0wn-root/lateral/endpoint/local"
)

const maxValueBytes = 1 << 20

// regionAPI serves the node's regions over HTTP. Reads try the local copy
// first and fall back to the peers; writes land locally and are replicated.
type regionAPI struct {
	m    *lateral.Manager[string]
	node *local.Node[string]
}

func (a *regionAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /regions/{region}/keys", a.keys)
	mux.HandleFunc("GET /regions/{region}/entries/{key}", a.get)
	mux.HandleFunc("PUT /regions/{region}/entries/{key}", a.put)
	mux.HandleFunc("DELETE /regions/{region}/entries/{key}", a.remove)
	mux.HandleFunc("DELETE /regions/{region}", a.removeAll)
	mux.HandleFunc("GET /regions/{region}/status", a.status)
}

func (a *regionAPI) group(w http.ResponseWriter, r *http.Request) (*lateral.Group[string], bool) {
	g, ok := a.m.Group(r.PathValue("region"))
	if !ok {
		http.Error(w, "unknown region", http.StatusNotFound)
	}
	return g, ok
}

func (a *regionAPI) get(w http.ResponseWriter, r *http.Request) {
	g, ok := a.group(w, r)
	if !ok {
		return
	}
	region, key := r.PathValue("region"), r.PathValue("key")
	e, err := a.node.Get(r.Context(), region, key)
	if err != nil || e == nil {
		e = g.Get(r.Context(), key)
	}
	if e == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	_, _ = io.WriteString(w, e.Value)
}

// put stores the body under key. ?ttl=30s sets an expiry where the store
// supports one.
func (a *regionAPI) put(w http.ResponseWriter, r *http.Request) {
	g, ok := a.group(w, r)
	if !ok {
		return
	}
	var ttl time.Duration
	if s := r.URL.Query().Get("ttl"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			http.Error(w, "bad ttl: "+err.Error(), http.StatusBadRequest)
			return
		}
		ttl = d
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxValueBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e := &lateral.Element[string]{Region: g.Region(), Key: r.PathValue("key"), Value: string(body), TTL: ttl}
	if err := a.node.Update(r.Context(), e, 0); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := g.Update(context.WithoutCancel(r.Context()), e); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *regionAPI) remove(w http.ResponseWriter, r *http.Request) {
	g, ok := a.group(w, r)
	if !ok {
		return
	}
	key := r.PathValue("key")
	if err := a.node.Remove(r.Context(), g.Region(), key, 0); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	g.Remove(context.WithoutCancel(r.Context()), key)
	w.WriteHeader(http.StatusNoContent)
}

func (a *regionAPI) removeAll(w http.ResponseWriter, r *http.Request) {
	g, ok := a.group(w, r)
	if !ok {
		return
	}
	if err := a.node.RemoveAll(r.Context(), g.Region(), 0); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	g.RemoveAll(context.WithoutCancel(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// keys lists the union of local and remote keys, one per line.
func (a *regionAPI) keys(w http.ResponseWriter, r *http.Request) {
	g, ok := a.group(w, r)
	if !ok {
		return
	}
	set := make(map[string]struct{})
	if own, err := a.node.GetKeySet(r.Context(), g.Region()); err == nil {
		for _, k := range own {
			set[k] = struct{}{}
		}
	}
	for _, k := range g.KeySet(r.Context()) {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	if len(out) > 0 {
		_, _ = io.WriteString(w, strings.Join(out, "\n")+"\n")
	}
}

func (a *regionAPI) status(w http.ResponseWriter, r *http.Request) {
	g, ok := a.group(w, r)
	if !ok {
		return
	}
	_, _ = io.WriteString(w, g.Status().String()+"\n"+g.Stats().String()+"\n")
}
