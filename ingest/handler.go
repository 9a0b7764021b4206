package ingest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/c360/agrostream/bus"
	"github.com/c360/agrostream/errors"
	"github.com/c360/agrostream/telemetry"
)

// Ingestor is the handler's view of the dual-sink writer.
type Ingestor interface {
	Ingest(ctx context.Context, r telemetry.Reading) error
	Channel() bus.Channel
}

// Handler serves the ingestion endpoint.
type Handler struct {
	writer Ingestor
	logger *slog.Logger
}

// NewHandler builds the ingestion HTTP handler.
func NewHandler(writer Ingestor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{writer: writer, logger: logger}
}

// Routes registers the ingestion endpoint on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/readings", h.postReading)
	mux.HandleFunc("GET /healthz", h.healthz)
}

type acceptedResponse struct {
	Channel   string `json:"channel"`
	Key       string `json:"key"`
	ReadingID string `json:"reading_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// postReading accepts one reading and reports where it went. Validation
// problems are the caller's fault (400, naming the field); downstream
// sink failures are ours (502).
func (h *Handler) postReading(w http.ResponseWriter, r *http.Request) {
	var reading telemetry.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body"})
		return
	}

	if err := h.writer.Ingest(r.Context(), reading); err != nil {
		switch {
		case errors.IsInvalid(err):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case stderrors.Is(err, errors.ErrWriteFailed):
			// Published but not archived. The reading is in the stream;
			// the caller must not retry it.
			h.logger.Error("time-series write failed",
				"component", "ingest",
				"reading_id", reading.ReadingID,
				"error", err)
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "reading accepted but not archived"})
		default:
			h.logger.Error("reading publish failed",
				"component", "ingest",
				"reading_id", reading.ReadingID,
				"error", err)
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "reading not accepted"})
		}
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{
		Channel:   h.writer.Channel().Name,
		Key:       reading.PlotID,
		ReadingID: reading.ReadingID,
	})
}

// healthz reports the ingest host as up. Stage-level health lives on the
// query API.
func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
