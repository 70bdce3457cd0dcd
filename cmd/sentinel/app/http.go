package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/grafana/sentinel/pkg/eventbus"
	"github.com/grafana/sentinel/pkg/ingestion"
	"github.com/grafana/sentinel/pkg/model"
	"github.com/grafana/sentinel/pkg/storagesql"
	"github.com/grafana/sentinel/pkg/store"
)

// maxBodyBytes bounds request bodies at 10MB, rejecting anything larger with
// 413 before JSON decoding even starts.
const maxBodyBytes = 10 << 20

// handler is Sentinel's HTTP collaborator surface: ingestion, read queries,
// SSE streams, and alert-channel CRUD, grouped the way the federated
// querier's Handler groups its routes.
type handler struct {
	bridge   *ingestion.Bridge
	logs     store.LogRepository
	spans    store.SpanRepository
	metrics  store.MetricRepository
	alerts   store.AlertRepository
	channels *storagesql.ChannelRepo
	projects store.ProjectRepository
	bus      *eventbus.Bus
	log      log.Logger

	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex
	rateMax    int
	rateWindow time.Duration
	corsOrigin []string
}

func (a *App) newHTTPServer() *http.Server {
	h := &handler{
		bridge:   a.bridge,
		logs:     a.logs,
		spans:    a.spans,
		metrics:  a.metrics,
		alerts:   a.alerts,
		channels: storagesql.NewChannelRepo(a.pool),
		projects: a.projects,
		bus:      a.bus,
		log:      a.log,
		limiters: make(map[string]*rate.Limiter),
		rateMax:  a.cfg.RateLimitMax, rateWindow: a.cfg.RateLimitWindow,
		corsOrigin: a.cfg.CORSOrigins,
	}

	r := mux.NewRouter()
	h.registerRoutes(r)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.APIPort),
		Handler:      r,
		ReadTimeout:  a.cfg.RequestTimeout,
		WriteTimeout: 0, // SSE streams hold the connection open indefinitely
	}
}

func (h *handler) registerRoutes(r *mux.Router) {
	r.HandleFunc("/logs", h.withAuth(h.rateLimited(h.postLogs))).Methods(http.MethodPost)
	r.HandleFunc("/traces/spans", h.withAuth(h.rateLimited(h.postSpans))).Methods(http.MethodPost)

	r.HandleFunc("/logs", h.withAuth(h.getLogs)).Methods(http.MethodGet)
	r.HandleFunc("/metrics", h.withAuth(h.getMetrics)).Methods(http.MethodGet)
	r.HandleFunc("/alerts", h.withAuth(h.getAlerts)).Methods(http.MethodGet)
	r.HandleFunc("/alerts/{id}/resolve", h.withAuth(h.postResolveAlert)).Methods(http.MethodPost)
	r.HandleFunc("/traces/{id}", h.withAuth(h.getTrace)).Methods(http.MethodGet)
	r.HandleFunc("/service-map", h.withAuth(h.getServiceMap)).Methods(http.MethodGet)

	r.HandleFunc("/channels", h.withAuth(h.listChannels)).Methods(http.MethodGet)
	r.HandleFunc("/channels", h.withAuth(h.createChannel)).Methods(http.MethodPost)
	r.HandleFunc("/channels/{id}", h.withAuth(h.updateChannel)).Methods(http.MethodPut)
	r.HandleFunc("/channels/{id}", h.withAuth(h.deleteChannel)).Methods(http.MethodDelete)

	r.HandleFunc("/stream/logs", h.withAuth(h.streamTopic(eventbus.TopicLogReceived))).Methods(http.MethodGet)
	r.HandleFunc("/stream/metrics", h.withAuth(h.streamTopic(eventbus.TopicMetricAggregated))).Methods(http.MethodGet)
	r.HandleFunc("/stream/alerts", h.withAuth(h.streamTopic(eventbus.TopicAlertTriggered))).Methods(http.MethodGet)

	r.HandleFunc("/ready", h.ready).Methods(http.MethodGet)

	r.Use(h.cors)
}

type ctxKey int

const ctxKeyProject ctxKey = iota

// withAuth resolves the Authorization header's bearer/api-key credential to
// a project and rejects the request with 401 if it doesn't resolve.
func (h *handler) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := bearerKey(r.Header.Get("Authorization"))
		if key == "" {
			// SSE clients in browser-only environments can't set custom
			// headers on an EventSource request, so the stream endpoints
			// also accept the key as a query parameter.
			key = r.URL.Query().Get("apiKey")
		}
		if key == "" {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("missing Authorization header"))
			return
		}
		apiKey, err := h.projects.ProjectByAPIKey(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid API key"))
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyProject, apiKey)
		next(w, r.WithContext(ctx))
	}
}

func bearerKey(header string) string {
	switch {
	case strings.HasPrefix(header, "Bearer "):
		return strings.TrimPrefix(header, "Bearer ")
	case strings.HasPrefix(header, "ApiKey "):
		return strings.TrimPrefix(header, "ApiKey ")
	default:
		return ""
	}
}

func projectFromCtx(r *http.Request) model.APIKey {
	key, _ := r.Context().Value(ctxKeyProject).(model.APIKey)
	return key
}

// rateLimited enforces RateLimitMax requests per RateLimitWindow per API
// key, using golang.org/x/time/rate's token bucket so bursts within the
// window still smooth out rather than hard-cutting at the boundary.
func (h *handler) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := projectFromCtx(r).Key
		if key == "" {
			key = r.RemoteAddr
		}
		if !h.limiterFor(key).Allow() {
			writeError(w, http.StatusTooManyRequests, fmt.Errorf("rate limit exceeded"))
			return
		}
		next(w, r)
	}
}

func (h *handler) limiterFor(key string) *rate.Limiter {
	h.limitersMu.Lock()
	defer h.limitersMu.Unlock()
	lim, ok := h.limiters[key]
	if !ok {
		perSecond := rate.Limit(float64(h.rateMax) / h.rateWindow.Seconds())
		lim = rate.NewLimiter(perSecond, h.rateMax)
		h.limiters[key] = lim
	}
	return lim
}

func (h *handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && h.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) originAllowed(origin string) bool {
	if len(h.corsOrigin) == 0 {
		return true
	}
	for _, o := range h.corsOrigin {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (h *handler) ready(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}

func (h *handler) postLogs(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	batch, err := decodeLogsBody(r)
	if err != nil {
		writeError(w, statusForDecodeErr(err), err)
		return
	}
	key := projectFromCtx(r)
	result, err := h.bridge.IngestLogs(r.Context(), batch, key.DefaultService)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, ingestStatus(len(batch), result.Accepted), result)
}

func (h *handler) postSpans(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	batch, err := decodeSpansBody(r)
	if err != nil {
		writeError(w, statusForDecodeErr(err), err)
		return
	}
	key := projectFromCtx(r)
	result, err := h.bridge.IngestSpans(r.Context(), batch, key.DefaultService)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, ingestStatus(len(batch), result.Accepted), result)
}

// ingestStatus picks the response status for an ingest call: 202 when at
// least one record was accepted (even if some were also rejected), 400 when
// the whole batch was rejected, matching spec.md section 6/7's "fully
// invalid returns 400" rule.
func ingestStatus(submitted, accepted int) int {
	if submitted > 0 && accepted == 0 {
		return http.StatusBadRequest
	}
	return http.StatusAccepted
}

// logsEnvelope lets POST /logs accept either {"logs": [...]} or a bare
// array/single record, per spec.md section 6.
type logsEnvelope struct {
	Logs []model.LogRecord `json:"logs"`
}

func decodeLogsBody(r *http.Request) ([]model.LogRecord, error) {
	raw, err := readBody(r)
	if err != nil {
		return nil, err
	}
	var env logsEnvelope
	if err := strictUnmarshal(raw, &env); err == nil && env.Logs != nil {
		return env.Logs, nil
	}
	var batch []model.LogRecord
	if err := strictUnmarshal(raw, &batch); err == nil {
		return batch, nil
	}
	var single model.LogRecord
	if err := strictUnmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return []model.LogRecord{single}, nil
}

type spansEnvelope struct {
	Spans []model.Span `json:"spans"`
}

func decodeSpansBody(r *http.Request) ([]model.Span, error) {
	raw, err := readBody(r)
	if err != nil {
		return nil, err
	}
	var env spansEnvelope
	if err := strictUnmarshal(raw, &env); err == nil && env.Spans != nil {
		return env.Spans, nil
	}
	var batch []model.Span
	if err := strictUnmarshal(raw, &batch); err == nil {
		return batch, nil
	}
	var single model.Span
	if err := strictUnmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return []model.Span{single}, nil
}

func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return raw, nil
}

func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *handler) getLogs(w http.ResponseWriter, r *http.Request) {
	q, err := parseLogQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	logs, err := h.logs.Query(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func parseLogQuery(r *http.Request) (store.LogQuery, error) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return store.LogQuery{}, fmt.Errorf("%w: limit must be a positive integer", model.ErrValidation)
		}
		limit = n
	}
	start, end, err := parseTimeRange(q)
	if err != nil {
		return store.LogQuery{}, err
	}
	return store.LogQuery{Service: q.Get("service"), Start: start, End: end, Limit: limit}, nil
}

func parseTimeRange(q map[string][]string) (time.Time, time.Time, error) {
	get := func(key string) (time.Time, error) {
		vs, ok := q[key]
		if !ok || len(vs) == 0 || vs[0] == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339, vs[0])
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s must be RFC3339", model.ErrValidation, key)
		}
		return t, nil
	}
	start, err := get("start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := get("end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if start.IsZero() {
		start = end.Add(-time.Hour)
	}
	return start, end, nil
}

func (h *handler) getMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	service := q.Get("service")
	if service == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: service is required", model.ErrValidation))
		return
	}
	start, end, err := parseTimeRange(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	samples, err := h.metrics.Query(r.Context(), service, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (h *handler) getAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: limit must be a positive integer", model.ErrValidation))
			return
		}
		limit = n
	}
	start, end, err := parseTimeRange(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	alerts, err := h.alerts.Query(r.Context(), q.Get("service"), start, end, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *handler) postResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.alerts.Resolve(r.Context(), id, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getTrace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	trace, err := h.spans.GetTrace(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (h *handler) getServiceMap(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: since must be RFC3339", model.ErrValidation))
			return
		}
		since = t
	}
	edges, err := h.spans.ServiceMap(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, edges)
}

func (h *handler) listChannels(w http.ResponseWriter, r *http.Request) {
	key := projectFromCtx(r)
	channels, err := h.channels.List(r.Context(), key.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

func (h *handler) createChannel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var ch model.AlertChannel
	if err := decodeBody(r, &ch); err != nil {
		writeError(w, statusForDecodeErr(err), err)
		return
	}
	ch.ProjectID = projectFromCtx(r).ProjectID
	created, err := h.channels.Create(r.Context(), ch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) updateChannel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var ch model.AlertChannel
	if err := decodeBody(r, &ch); err != nil {
		writeError(w, statusForDecodeErr(err), err)
		return
	}
	ch.ID = mux.Vars(r)["id"]
	ch.ProjectID = projectFromCtx(r).ProjectID
	if err := h.channels.Update(r.Context(), ch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) deleteChannel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.channels.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamTopic serves an SSE stream of one bus topic. The heartbeat timer and
// the event-forwarding select share a single done channel, so either the
// client disconnecting or the heartbeat write failing tears down both sides
// together rather than leaking the other goroutine.
func (h *handler) streamTopic(topic eventbus.Topic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
			return
		}
		serviceFilter := r.URL.Query().Get("service")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := h.bus.Subscribe(topic)
		defer sub.Close()

		done := make(chan struct{})
		var once sync.Once
		closeDone := func() { once.Do(func() { close(done) }) }

		heartbeat := time.NewTicker(30 * time.Second)
		defer heartbeat.Stop()

		go func() {
			select {
			case <-r.Context().Done():
			case <-done:
			}
			closeDone()
		}()

		var seq int64
		for {
			select {
			case <-done:
				return
			case evt, ok := <-sub.C:
				if !ok {
					return
				}
				if serviceFilter != "" && eventService(evt.Payload) != serviceFilter {
					continue
				}
				payload, err := json.Marshal(evt.Payload)
				if err != nil {
					level.Warn(h.log).Log("msg", "failed to marshal SSE event", "topic", topic, "err", err)
					continue
				}
				seq++
				if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, topic, payload); err != nil {
					closeDone()
					return
				}
				flusher.Flush()
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
					closeDone()
					return
				}
				flusher.Flush()
			}
		}
	}
}

// eventService extracts the Service field from the three payload types the
// bus carries, so SSE streams can apply the ?service= filter without the
// bus itself knowing about any particular payload shape.
func eventService(payload any) string {
	switch v := payload.(type) {
	case model.LogRecord:
		return v.Service
	case model.MetricSample:
		return v.Service
	case model.Alert:
		return v.Service
	default:
		return ""
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return nil
}

func statusForDecodeErr(err error) int {
	if strings.Contains(err.Error(), "http: request body too large") {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
