package httpserver

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"reviewsync/internal/app"
	"reviewsync/internal/domain"
	"reviewsync/internal/quota"
)

type Handlers struct {
	Q       *app.QueryService
	Sync    *app.SyncService
	Curator *app.CuratorService
	Quota   *quota.Quota
	Hours   domain.HoursClock
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/v1/places/{ref}/reviews", h.listReviews)
	s.mux.Get("/v1/places/{ref}/stats", h.stats)
	s.mux.Post("/v1/places/{ref}/sync", h.syncNow)
	s.mux.Post("/v1/places/{ref}/metadata", h.refreshMetadata)
	s.mux.Get("/v1/quota", h.quotaStats)
	s.mux.Post("/v1/reviews", h.addManual)
	s.mux.Patch("/v1/reviews/{id}/visibility", h.setVisibility)
	s.mux.Patch("/v1/reviews/{id}/text", h.updateText)
	s.mux.Delete("/v1/reviews/{id}", h.deleteReview)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func writeCached(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write response body")
	}
}

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	q := domain.ReviewQuery{
		PlaceRef:    chi.URLParam(r, "ref"),
		Platform:    r.URL.Query().Get("platform"),
		VisibleOnly: r.URL.Query().Get("all") != "1",
		TextOnly:    r.URL.Query().Get("text_only") == "1",
		OrderBy:     r.URL.Query().Get("order"),
		Limit:       50,
	}
	if v := r.URL.Query().Get("min_rating"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 5 {
			writeProblem(w, http.StatusBadRequest, "Invalid min_rating", "min_rating must be 1..5")
			return
		}
		q.MinRating = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 200")
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid offset", "offset must be a non-negative integer")
			return
		}
		q.Offset = n
	}

	out, err := h.Q.ListReviews(r.Context(), q)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Query failed", "could not list reviews")
		return
	}
	if out == nil {
		out = []domain.Review{}
	}
	writeCached(w, r, out)
}

func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Q.Stats(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Stats failed", "could not compute stats")
		return
	}
	resp := struct {
		domain.ReviewStats
		OpenNow     bool              `json:"open_now"`
		WeeklyHours map[string]string `json:"weekly_hours,omitempty"`
	}{ReviewStats: st}
	if h.Hours != nil {
		resp.OpenNow = h.Hours.IsOpenNow()
		resp.WeeklyHours = h.Hours.WeeklyHours()
	}
	writeCached(w, r, resp)
}

func (h *Handlers) syncNow(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "1"
	out, err := h.Sync.Sync(r.Context(), chi.URLParam(r, "ref"), force)
	if err != nil {
		switch {
		case domain.Denied(err):
			writeProblem(w, http.StatusTooManyRequests, "Sync not admitted", err.Error())
		case errors.Is(err, domain.ErrNoPlace):
			writeProblem(w, http.StatusBadRequest, "No place", err.Error())
		default:
			log.Error().Err(err).Msg("sync failed")
			writeProblem(w, http.StatusBadGateway, "Sync failed", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) refreshMetadata(w http.ResponseWriter, r *http.Request) {
	md, err := h.Sync.RefreshMetadata(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		switch {
		case domain.Denied(err):
			writeProblem(w, http.StatusTooManyRequests, "Refresh not admitted", err.Error())
		case errors.Is(err, domain.ErrNoPlace):
			writeProblem(w, http.StatusBadRequest, "No place", err.Error())
		default:
			log.Error().Err(err).Msg("metadata refresh failed")
			writeProblem(w, http.StatusBadGateway, "Refresh failed", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (h *Handlers) quotaStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Quota.Stats(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Quota unavailable", "could not read usage ledger")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) addManual(w http.ResponseWriter, r *http.Request) {
	var in domain.ManualReview
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "malformed JSON")
		return
	}
	rv, err := h.Curator.AddManual(r.Context(), r.URL.Query().Get("place"), in)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeProblem(w, http.StatusBadRequest, "Invalid review", verrs.Error())
			return
		}
		log.Error().Err(err).Msg("add manual review failed")
		writeProblem(w, http.StatusInternalServerError, "Insert failed", "could not store review")
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

func reviewID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "id")), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handlers) setVisibility(w http.ResponseWriter, r *http.Request) {
	id, ok := reviewID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	var in struct {
		Visible bool `json:"visible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "malformed JSON")
		return
	}
	if err := h.Curator.SetVisibility(r.Context(), id, in.Visible); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not Found", "review not found")
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Update failed", "could not update visibility")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) updateText(w http.ResponseWriter, r *http.Request) {
	id, ok := reviewID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	var in struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "malformed JSON")
		return
	}
	if err := h.Curator.UpdateText(r.Context(), id, in.Text); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not Found", "review not found")
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Update failed", "could not update text")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) deleteReview(w http.ResponseWriter, r *http.Request) {
	id, ok := reviewID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	if err := h.Curator.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not Found", "review not found")
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Delete failed", "could not delete review")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
