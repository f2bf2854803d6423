// Copyright 2026 The Ecovisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/crypto/bcrypt"

	"github.com/ecovisor/ecovisor"
)

// Handler wraps a Manager, adding http.Handler functionality.
type Handler struct {
	m       *ecovisor.Manager
	r       *mux.Router
	user    string
	hash    []byte
	reload  func() error
	metrics http.Handler
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

// pollArgs extracts the client's etag and how long it is willing to wait
// for it to change.
func pollArgs(r *http.Request) (int64, time.Duration) {
	last := parseEtag(r.Header.Get("If-None-Match"))
	if last == 0 {
		return 0, 0
	}
	secs, _ := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if secs > MaxPollTime {
		secs = MaxPollTime
	}
	if secs < 0 {
		secs = 0
	}
	return last, time.Duration(secs) * time.Second
}

// waitChange calls watch in slices of at most a second until the ID moves
// on from last, wait runs out or the client goes away.
func waitChange(ctx context.Context, last int64, wait time.Duration, watch func(int64, time.Duration) int64) int64 {
	deadline := time.Now().Add(wait)
	for {
		left := time.Until(deadline)
		if left > time.Second {
			left = time.Second
		}
		if left < 0 {
			left = 0
		}
		id := watch(last, left)
		if id != last || left == 0 || ctx.Err() != nil {
			return id
		}
	}
}

func (h *Handler) notModified(w http.ResponseWriter, etag int64) {
	w.Header().Set("Etag", formatEtag(etag))
	w.WriteHeader(http.StatusNotModified)
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	last, wait := pollArgs(r)
	if last != 0 && waitChange(r.Context(), last, wait, h.m.WatchSerial) == last {
		h.notModified(w, last)
		return
	}
	info := h.m.GetInfo()
	w.Header().Set("Etag", formatEtag(info.Serial))
	h.writeJson(w, info)
}

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	last, wait := pollArgs(r)
	if last != 0 && waitChange(r.Context(), last, wait, h.m.WatchSerial) == last {
		h.notModified(w, last)
		return
	}
	serial := h.m.GetInfo().Serial
	svcs := h.m.Services()
	l := make([]string, 0, len(svcs))
	for _, svc := range svcs {
		l = append(l, svc.Name())
	}
	w.Header().Set("Etag", formatEtag(serial))
	h.writeJson(w, l)
}

func (h *Handler) findService(name string) (*ecovisor.Service, *Error) {
	svc, e := h.m.FindService(name)
	if e != nil {
		return nil, &Error{http.StatusNotFound, "Service not found"}
	}
	return svc, nil
}

func serviceInfo(svc *ecovisor.Service) *ServiceInfo {
	info := &ServiceInfo{
		Name:        svc.Name(),
		Description: svc.Description(),
		Enabled:     svc.Enabled(),
		Running:     svc.Running(),
		Failed:      svc.Failed(),
		Exited:      svc.Exited(),
		Restarting:  svc.Restarting(),
		Restarts:    svc.Restarts(),
		Watch:       svc.WatchPath(),
		Pid:         svc.Pid(),
	}
	info.Status, info.TimeStamp = svc.Status()
	if info.Pid > 0 {
		info.CPU, info.RSS = procStats(info.Pid)
	}
	return info
}

// procStats returns the cpu percentage and resident size of a process, or
// zeros if it has gone away.
func procStats(pid int) (float64, uint64) {
	p, e := process.NewProcess(int32(pid))
	if e != nil {
		return 0, 0
	}
	cpu, _ := p.CPUPercent()
	var rss uint64
	if mi, e := p.MemoryInfo(); e == nil && mi != nil {
		rss = mi.RSS
	}
	return cpu, rss
}

func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if svc, e := h.findService(vars["service"]); e != nil {
		h.writeError(w, e)
	} else {
		h.writeJson(w, serviceInfo(svc))
	}
}

func (h *Handler) serviceAction(action func(*ecovisor.Service) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if svc, e := h.findService(vars["service"]); e != nil {
			h.writeError(w, e)
		} else if err := action(svc); err != nil {
			h.writeError(w, &Error{http.StatusBadRequest, err.Error()})
		} else {
			h.writeJson(w, ok)
		}
	}
}

func (h *Handler) writeLog(w http.ResponseWriter, r *http.Request, get func(int64) ([]ecovisor.LogRecord, int64)) {
	last, wait := pollArgs(r)
	if last != 0 && wait > 0 {
		waitChange(r.Context(), last, wait, h.m.WatchLog)
	}
	recs, id := get(last)
	if last != 0 && id == last {
		h.notModified(w, id)
		return
	}
	if recs == nil {
		recs = []ecovisor.LogRecord{}
	}
	w.Header().Set("Etag", formatEtag(id))
	h.writeJson(w, recs)
}

func (h *Handler) getServiceLog(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if svc, e := h.findService(vars["service"]); e != nil {
		h.writeError(w, e)
	} else {
		h.writeLog(w, r, svc.GetLog)
	}
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	h.writeLog(w, r, h.m.GetLog)
}

func (h *Handler) doReload(w http.ResponseWriter, r *http.Request) {
	if e := h.reload(); e != nil {
		h.writeError(w, &Error{http.StatusInternalServerError, e.Error()})
		return
	}
	h.writeJson(w, ok)
}

func (h *Handler) getMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.writeError(w, &Error{http.StatusNotFound, "Metrics not enabled"})
		return
	}
	h.metrics.ServeHTTP(w, r)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.user == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(h.user)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(h.hash, []byte(pass)) == nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !h.authorized(req) {
		w.Header().Set("WWW-Authenticate", `Basic realm="ecovisor"`)
		h.writeError(w, &Error{http.StatusUnauthorized, "Unauthorized"})
		return
	}
	h.r.ServeHTTP(w, req)
}

// SetAuth requires HTTP basic authentication.  hash is a bcrypt hash of the
// password.  An empty user turns authentication off.
func (h *Handler) SetAuth(user string, hash []byte) {
	h.user = user
	h.hash = hash
}

// SetReload replaces what POST /reload does; by default it restarts every
// enabled service.
func (h *Handler) SetReload(fn func() error) {
	h.reload = fn
}

// SetMetrics serves m at /metrics.
func (h *Handler) SetMetrics(m http.Handler) {
	h.metrics = m
}

func NewHandler(m *ecovisor.Manager) *Handler {
	r := mux.NewRouter()
	h := &Handler{m: m, r: r, reload: m.Reload}
	r.HandleFunc("/", h.getInfo).Methods("GET")
	r.HandleFunc("/services", h.listServices).Methods("GET")
	r.HandleFunc("/services/{service}", h.getService).Methods("GET")
	r.HandleFunc("/services/{service}/enable", h.serviceAction((*ecovisor.Service).Enable)).Methods("POST")
	r.HandleFunc("/services/{service}/disable", h.serviceAction((*ecovisor.Service).Disable)).Methods("POST")
	r.HandleFunc("/services/{service}/restart", h.serviceAction((*ecovisor.Service).Restart)).Methods("POST")
	r.HandleFunc("/services/{service}/clear", h.serviceAction(func(s *ecovisor.Service) error {
		s.Clear()
		return nil
	})).Methods("POST")
	r.HandleFunc("/services/{service}/log", h.getServiceLog).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/reload", h.doReload).Methods("POST")
	r.HandleFunc("/metrics", h.getMetrics).Methods("GET")
	return h
}
