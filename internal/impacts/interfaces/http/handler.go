package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"blitz-proxy/internal/impacts/application"
	impacts "blitz-proxy/internal/impacts/domain"
	"blitz-proxy/internal/observability/metrics"
)

const (
	// ComputationHeader carries the handling time in fractional milliseconds.
	ComputationHeader = "x-computation-ms"
	// DefaultDocsURL is where unknown routes are redirected.
	DefaultDocsURL = "https://github.com/BisonJeedom/documentations/blob/main/blitzortung/index_stable.md"

	// statusClientClosedRequest is nginx's code for a client that went away mid-request.
	statusClientClosedRequest = 499
)

// Handler provides the impact query endpoints.
type Handler struct {
	service *application.Service
	logger  *log.Logger
	docsURL string
	debug   bool
	now     func() time.Time
}

// HandlerOption customizes the handler.
type HandlerOption func(*Handler)

// WithDocsURL overrides the redirect target of unknown routes.
func WithDocsURL(url string) HandlerOption {
	return func(h *Handler) {
		if url != "" {
			h.docsURL = url
		}
	}
}

// WithDebug exposes the interactive API documentation.
func WithDebug(enabled bool) HandlerOption {
	return func(h *Handler) {
		h.debug = enabled
	}
}

// NewHandler constructs a handler.
func NewHandler(service *application.Service, logger *log.Logger, opts ...HandlerOption) (*Handler, error) {
	if service == nil {
		return nil, errors.New("impacts handler: nil service")
	}
	if logger == nil {
		return nil, errors.New("impacts handler: nil logger")
	}
	h := &Handler{
		service: service,
		logger:  logger,
		docsURL: DefaultDocsURL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts every route on mux, including the redirect fallback.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/query", h.queryRoute("/query", shapeLegacyBox, false))
	mux.Handle("/querynsew", h.queryRoute("/querynsew", shapeBox, false))
	mux.Handle("/queryllr", h.queryRoute("/queryllr", shapePoint, false))
	mux.Handle("/v2/query", h.queryRoute("/v2/query", shapePoint, true))
	mux.HandleFunc("/stats", h.handleStats)
	if h.debug {
		mux.HandleFunc("/debug", h.handleDocs)
		mux.HandleFunc("/openapi.json", h.handleOpenAPI)
	}
	mux.HandleFunc("/", h.handleUnknown)
}

func (h *Handler) queryRoute(route string, shape requestShape, envelope bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
			return
		}
		h.handleQuery(w, r, route, shape, envelope)
	})
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request, route string, shape requestShape, envelope bool) {
	maxRadius := float64(impacts.MaxBoxRadiusKm)
	if shape == shapePoint {
		maxRadius = impacts.MaxLegacyPointRadiusKm
		if envelope {
			maxRadius = h.service.Encoding().MaxPointRadiusKm()
		}
	}

	req, err := decodeRequest(shape, r.Body, maxRadius)
	if err != nil {
		h.fail(w, r, route, err)
		return
	}
	req.WithLatest = envelope

	start := h.now()
	result, err := h.service.Query(r.Context(), req)
	if err != nil {
		h.fail(w, r, route, err)
		return
	}

	var body any = equipmentBody(result.Equipment)
	if envelope {
		body = queryEnvelope{Since: *result.Latest, Eqs: equipmentBody(result.Equipment)}
	}
	metrics.ObserveEquipment(route, len(result.Equipment))
	metrics.AddImpacts(route, countImpacts(result.Equipment))
	h.respond(w, route, start, body)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	start := h.now()
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.fail(w, r, "/stats", err)
		return
	}
	h.respond(w, "/stats", start, statsBody{Count: stats.Count, First: stats.First, Last: stats.Last})
}

func (h *Handler) handleUnknown(w http.ResponseWriter, r *http.Request) {
	metrics.IncRedirect()
	http.Redirect(w, r, h.docsURL, http.StatusTemporaryRedirect)
}

// respond buffers the body so the header reflects serialization time too.
func (h *Handler) respond(w http.ResponseWriter, route string, start time.Time, body any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		h.logger.Printf("impacts %s encode error: %v", route, err)
		metrics.ObserveQuery(route, metrics.ResultError, h.now().Sub(start))
		writeDetail(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	elapsed := h.now().Sub(start)
	metrics.ObserveQuery(route, metrics.ResultSuccess, elapsed)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(ComputationHeader, formatMillis(elapsed))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, route string, err error) {
	if details, ok := impacts.AsValidation(err); ok {
		metrics.IncValidationError(route)
		if h.debug {
			h.logger.Printf("impacts %s rejected: %v", route, err)
		}
		writeJSON(w, http.StatusUnprocessableEntity, validationBody{Detail: details.Details()})
		return
	}

	metrics.ObserveQuery(route, metrics.ResultError, 0)
	var storageErr *impacts.StorageError
	if errors.As(err, &storageErr) {
		metrics.IncStorageError(storageErr.Op)
	}
	if errors.Is(err, context.Canceled) {
		h.logger.Printf("impacts %s canceled by client: %v", route, err)
		w.WriteHeader(statusClientClosedRequest)
		return
	}
	h.logger.Printf("impacts %s %s failed: request_id=%s err=%v", r.Method, route, r.Header.Get("X-Request-ID"), err)
	writeDetail(w, http.StatusInternalServerError, "Internal Server Error")
}

func formatMillis(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Nanoseconds())/1e6, 'f', -1, 64)
}

func countImpacts(eqs []impacts.EquipmentResult) int {
	total := 0
	for _, eq := range eqs {
		total += len(eq.Impacts)
	}
	return total
}
