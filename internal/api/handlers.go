package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/monit-agro/monit-agro/internal/ingest"
	"github.com/monit-agro/monit-agro/internal/metrics"
	"github.com/monit-agro/monit-agro/internal/model"
)

func (s *Server) handleListFarms(w http.ResponseWriter, r *http.Request) {
	farms, err := s.store.ListFarms(r.Context())
	if err != nil {
		log.Printf("api: list farms: %v", err)
		errorJSON(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeBody(w, farms)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 200
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	asc := strings.EqualFold(q.Get("order"), "asc")

	readings, err := s.store.ListReadings(r.Context(), q.Get("farmId"), limit, asc)
	if err != nil {
		log.Printf("api: list reports: %v", err)
		errorJSON(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeBody(w, readings)
}

func (s *Server) handleLatestReport(w http.ResponseWriter, r *http.Request) {
	farmID := r.URL.Query().Get("farmId")
	if farmID == "" {
		farmID = s.defaultFarm
	}
	latest, err := s.store.LatestReading(r.Context(), farmID)
	if err != nil {
		log.Printf("api: latest report: %v", err)
		errorJSON(w, http.StatusInternalServerError, "internal error")
		return
	}
	// null when the farm has no readings yet
	writeBody(w, latest)
}

// handlePushReport is the push ingest endpoint: shared-secret check,
// normalize, device upsert, persist. Rejections have no side effects.
func (s *Server) handlePushReport(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.Header.Get(sharedTokenHeader) != s.token {
		metrics.PushRejected.WithLabelValues("auth").Inc()
		errorJSON(w, http.StatusUnauthorized, "bad token")
		return
	}

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		metrics.PushRejected.WithLabelValues("validation").Inc()
		errorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reading, err := s.ingestor.IngestPush(r.Context(), raw, "push")
	if err != nil {
		var ve *ingest.ValidationError
		if errors.As(err, &ve) {
			metrics.PushRejected.WithLabelValues("validation").Inc()
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "invalid payload",
				"issues": ve.Issues,
			})
			return
		}
		metrics.PushRejected.WithLabelValues("store").Inc()
		log.Printf("api: push ingest: %v", err)
		errorJSON(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, reading)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context(), r.URL.Query().Get("farmId"))
	if err != nil {
		log.Printf("api: list tasks: %v", err)
		errorJSON(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeBody(w, tasks)
}

type taskRequest struct {
	FarmID *string    `json:"farmId"`
	Type   *string    `json:"type"`
	Cost   *float64   `json:"cost"`
	Notes  *string    `json:"notes"`
	TS     *time.Time `json:"ts"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t := model.Task{FarmID: s.defaultFarm, Type: "riego"}
	applyTaskPatch(&t, req)

	if err := s.store.CreateTask(r.Context(), &t); err != nil {
		log.Printf("api: create task: %v", err)
		errorJSON(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		errorJSON(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		log.Printf("api: get task: %v", err)
		errorJSON(w, http.StatusInternalServerError, "internal error")
		return
	}

	applyTaskPatch(t, req)
	if err := s.store.UpdateTask(r.Context(), t); err != nil {
		log.Printf("api: update task: %v", err)
		errorJSON(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeBody(w, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteTask(r.Context(), r.PathValue("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		errorJSON(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		log.Printf("api: delete task: %v", err)
		errorJSON(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func applyTaskPatch(t *model.Task, req taskRequest) {
	if req.FarmID != nil && *req.FarmID != "" {
		t.FarmID = *req.FarmID
	}
	if req.Type != nil && *req.Type != "" {
		t.Type = *req.Type
	}
	if req.Cost != nil {
		t.Cost = *req.Cost
	}
	if req.Notes != nil {
		t.Notes = *req.Notes
	}
	if req.TS != nil {
		t.TS = *req.TS
	}
}
