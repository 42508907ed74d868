package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"fx-deviation-monitor/internal/export"
	"fx-deviation-monitor/internal/ingest"
	"fx-deviation-monitor/internal/projection"
	"fx-deviation-monitor/internal/records"
	"fx-deviation-monitor/internal/service"
	"fx-deviation-monitor/internal/session"
	"fx-deviation-monitor/internal/simulate"
	"fx-deviation-monitor/internal/threshold"
	"fx-deviation-monitor/internal/version"
)

var errBadRequest = errors.New("bad request")

// maxUploadBytes bounds one multipart upload.
const maxUploadBytes = 32 << 20

type filterRequest struct {
	From          string   `json:"from"`
	To            string   `json:"to"`
	ProductTypes  []string `json:"product_types"`
	LegalEntities []string `json:"legal_entities"`
	SourceSystems []string `json:"source_systems"`
}

func (f filterRequest) toFilter() (records.Filter, error) {
	var out records.Filter
	var err error
	if f.From != "" {
		if out.From, err = time.Parse("2006-01-02", f.From); err != nil {
			return out, fmt.Errorf("%w: from: %v", errBadRequest, err)
		}
	}
	if f.To != "" {
		if out.To, err = time.Parse("2006-01-02", f.To); err != nil {
			return out, fmt.Errorf("%w: to: %v", errBadRequest, err)
		}
	}
	for _, p := range f.ProductTypes {
		pt := records.ProductType(strings.ToUpper(p))
		if !pt.Valid() {
			return out, fmt.Errorf("%w: unknown product type %q", errBadRequest, p)
		}
		out.ProductTypes = append(out.ProductTypes, pt)
	}
	out.LegalEntities = f.LegalEntities
	out.SourceSystems = f.SourceSystems
	return out, nil
}

type rejectionResponse struct {
	TradeID string `json:"trade_id"`
	Reason  string `json:"reason"`
}

type sessionResponse struct {
	ID         string              `json:"id"`
	StartedAt  time.Time           `json:"started_at"`
	LoadedAt   time.Time           `json:"loaded_at"`
	Filter     records.Filter      `json:"filter"`
	Trades     int                 `json:"trades"`
	Exceptions int                 `json:"exceptions"`
	Thresholds int                 `json:"thresholds"`
	Rejected   []rejectionResponse `json:"rejected"`
}

func newSessionResponse(sess *session.Session) sessionResponse {
	snap := sess.Snapshot
	resp := sessionResponse{
		ID:         sess.ID,
		StartedAt:  sess.StartedAt,
		LoadedAt:   snap.LoadedAt(),
		Filter:     snap.Filter(),
		Trades:     snap.TradeCount(),
		Exceptions: len(snap.Exceptions()),
		Thresholds: sess.Engine.View().Len(),
		Rejected:   []rejectionResponse{},
	}
	for _, r := range snap.Rejected() {
		resp.Rejected = append(resp.Rejected, rejectionResponse{TradeID: r.TradeID, Reason: r.Err.Error()})
	}
	return resp
}

type thresholdsResponse struct {
	Version uint64            `json:"version"`
	Entries []threshold.Entry `json:"entries"`
}

type simulationResponse struct {
	simulate.Result
	AlertIDs []string `json:"alert_ids"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok", "version": version.Version}
	if sess, err := s.svc.Session(); err == nil {
		status["session"] = sess.ID
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.Session()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

// decodeFilter reads an optional JSON filter body.
func decodeFilter(r *http.Request) (records.Filter, error) {
	var req filterRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return records.Filter{}, fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	return req.toFilter()
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	filter, err := decodeFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sess, err := s.svc.Start(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, newSessionResponse(sess))
}

// handleUpload stages the multipart field "file" as the collection named in
// the path.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: file: %v", errBadRequest, err))
		return
	}
	defer file.Close()

	staged, err := s.svc.Upload(r.Context(), chi.URLParam(r, "kind"), header.Filename, file)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, staged)
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Uploads())
}

func (s *Server) handleStartUploadSession(w http.ResponseWriter, r *http.Request) {
	filter, err := decodeFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sess, err := s.svc.StartFromUploads(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, newSessionResponse(sess))
}

func (s *Server) handleRefreshSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Refresh(r.Context(), time.Now().UTC()); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleSession(w, r)
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	table, err := s.svc.Thresholds()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, thresholdsResponse{Version: table.Version(), Entries: table.Entries()})
}

func (s *Server) handleUpdateThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Adjusted *float64 `json:"adjusted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.Adjusted == nil {
		s.writeError(w, fmt.Errorf("%w: adjusted is required", errBadRequest))
		return
	}
	key := threshold.Key{LegalEntity: chi.URLParam(r, "entity"), Scope: chi.URLParam(r, "scope")}
	entry, err := s.svc.UpdateThreshold(key, *req.Adjusted)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleResetThresholds(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.ResetThresholds()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"changed": n})
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	column, err := columnParam(r, "column")
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.svc.Simulate(r.Context(), column)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, simulationResponse{Result: res, AlertIDs: res.AlertIDs()})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	from, err := columnParam(r, "from")
	if err != nil {
		s.writeError(w, err)
		return
	}
	to, err := columnParam(r, "to")
	if err != nil {
		s.writeError(w, err)
		return
	}
	cmp, err := s.svc.Compare(r.Context(), from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	column, err := columnParam(r, "column")
	if err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.svc.Dashboard(r.Context(), column)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleResultSet(w http.ResponseWriter, r *http.Request) {
	column, err := columnParam(r, "column")
	if err != nil {
		s.writeError(w, err)
		return
	}
	format := export.JSON
	if raw := r.URL.Query().Get("format"); raw != "" {
		if format, err = export.ParseFormat(raw); err != nil {
			s.writeError(w, err)
			return
		}
	}
	name := chi.URLParam(r, "set")
	body, err := s.svc.Export(r.Context(), column, name, format)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if format != export.JSON {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+format.Extension()))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// columnParam reads a threshold column from the query, defaulting to adjusted.
func columnParam(r *http.Request, name string) (threshold.Column, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return threshold.Adjusted, nil
	}
	return threshold.ParseColumn(raw)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, threshold.ErrThresholdOutOfRange),
		errors.Is(err, threshold.ErrUnknownColumn),
		errors.Is(err, projection.ErrUnknownMode),
		errors.Is(err, export.ErrUnsupportedFormat),
		errors.Is(err, export.ErrNotChartable),
		errors.Is(err, ingest.ErrUnknownKind),
		errors.Is(err, ingest.ErrIncompleteBatch),
		errors.Is(err, service.ErrInvalidUpload):
		return http.StatusBadRequest
	case errors.Is(err, threshold.ErrUnknownThreshold),
		errors.Is(err, projection.ErrUnknownResultSet):
		return http.StatusNotFound
	case errors.Is(err, simulate.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoSession):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
