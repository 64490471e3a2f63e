package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"omr-scan-service/internal/app"
	"omr-scan-service/internal/domain"
	"omr-scan-service/internal/report"
)

// Handler exposes the scan lifecycle and reporting over REST.
type Handler struct {
	scans   *app.ScanService
	reports *report.Engine
}

func NewHandler(scans *app.ScanService, reports *report.Engine) *Handler {
	return &Handler{scans: scans, reports: reports}
}

// Register wires the routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /scans", h.createScan)
	mux.HandleFunc("GET /scans/{id}", h.getScan)
	mux.HandleFunc("PATCH /scans/{id}/answers", h.editAnswers)
	mux.HandleFunc("POST /scans/{id}/review", h.reviewScan)
	mux.HandleFunc("GET /reports/exam-performance", h.examPerformance)
}

type createScanRequest struct {
	ExamID     string `json:"exam_id"`
	StudentID  string `json:"student_id"`
	ClassID    string `json:"class_id"`
	TemplateID string `json:"template_id"`
	ImagePath  string `json:"image_path"`
	Redo       bool   `json:"redo"`
}

func (h *Handler) createScan(w http.ResponseWriter, r *http.Request) {
	var req createScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("body", "invalid JSON"))
		return
	}
	rec, err := h.scans.CreateScan(r.Context(), app.CreateScanRequest{
		ExamID:     req.ExamID,
		StudentID:  req.StudentID,
		ClassID:    req.ClassID,
		TemplateID: req.TemplateID,
		ImagePath:  req.ImagePath,
		Redo:       req.Redo,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) getScan(w http.ResponseWriter, r *http.Request) {
	rec, err := h.scans.GetScan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type editAnswersRequest struct {
	EditedBy string           `json:"edited_by"`
	Answers  map[int][]string `json:"answers"`
}

func (h *Handler) editAnswers(w http.ResponseWriter, r *http.Request) {
	var req editAnswersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("body", "invalid JSON"))
		return
	}
	rec, err := h.scans.EditAnswers(r.Context(), r.PathValue("id"), req.EditedBy, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type reviewRequest struct {
	ReviewedBy string `json:"reviewed_by"`
	Notes      string `json:"notes"`
}

func (h *Handler) reviewScan(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("body", "invalid JSON"))
		return
	}
	rec, err := h.scans.Review(r.Context(), r.PathValue("id"), req.ReviewedBy, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) examPerformance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rep, err := h.reports.Generate(r.Context(), report.Params{
		GradeID: q.Get("grade_id"),
		ClassID: q.Get("class_id"),
		ExamID:  q.Get("exam_id"),
		View:    q.Get("view"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	// Derived statistics are rounded for display only.
	for i := range rep.Sections {
		rep.Sections[i].Stats = rep.Sections[i].Stats.Rounded()
	}
	if rep.Overall != nil {
		overall := *rep.Overall
		overall.Stats = overall.Stats.Rounded()
		rep.Overall = &overall
	}
	writeJSON(w, http.StatusOK, rep)
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case domain.IsValidation(err):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrScanNotFound),
		errors.Is(err, domain.ErrExamNotFound),
		errors.Is(err, domain.ErrClassNotFound),
		errors.Is(err, domain.ErrSectionNotFound),
		errors.Is(err, domain.ErrStudentNotFound),
		errors.Is(err, domain.ErrAnswerKeyNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrNoDetections),
		errors.Is(err, domain.ErrScanNotReviewable):
		status, code = http.StatusConflict, "conflict"
	default:
		log.Printf("internal error: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: errorPayload{Code: code, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
