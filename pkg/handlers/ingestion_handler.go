package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/auth"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services/workqueue"
)

// SubmitDocumentRequest for POST /documents. Segments are the document's
// text already split into chunks by the uploader.
type SubmitDocumentRequest struct {
	FileName   string     `json:"file_name"`
	UploadDate *time.Time `json:"upload_date,omitempty"`
	Segments   []string   `json:"segments"`
	Mode       string     `json:"mode,omitempty"`
	// Trusted auto-approves discovered tags. Admin only.
	Trusted bool `json:"trusted,omitempty"`
}

// DocumentListResponse for GET /documents
type DocumentListResponse struct {
	Documents []*models.Document `json:"documents"`
	Total     int                `json:"total"`
}

// DocumentResponse for GET /documents/{did}. Run is the document's queue
// entry while this process still retains it.
type DocumentResponse struct {
	*models.Document
	Run *workqueue.TaskSnapshot `json:"run,omitempty"`
}

// QueueStatusResponse for GET /ingestion/queue
type QueueStatusResponse struct {
	Tasks []workqueue.TaskSnapshot `json:"tasks"`
}

// IngestionHandler accepts documents and reports ingestion progress.
type IngestionHandler struct {
	ingestionService services.IngestionService
	logger           *zap.Logger
}

// NewIngestionHandler creates a new ingestion handler.
func NewIngestionHandler(ingestionService services.IngestionService, logger *zap.Logger) *IngestionHandler {
	return &IngestionHandler{
		ingestionService: ingestionService,
		logger:           logger,
	}
}

// RegisterRoutes registers the ingestion handler's routes on the given mux.
func (h *IngestionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/projects/{pid}/sops/{sid}"
	project := authMiddleware.RequireProject("pid")
	reviewer := authMiddleware.RequireRole(auth.RoleReviewer)

	mux.HandleFunc("POST "+base+"/documents", project(reviewer(tenantMiddleware(h.Submit))))
	mux.HandleFunc("GET "+base+"/documents", project(tenantMiddleware(h.List)))
	mux.HandleFunc("GET "+base+"/documents/{did}", project(tenantMiddleware(h.Get)))
	mux.HandleFunc("GET "+base+"/ingestion/queue", project(h.QueueStatus))
}

// Submit handles POST /api/projects/{pid}/sops/{sid}/documents.
// The document is processed in the background; poll GET documents/{did}.
func (h *IngestionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}

	var req SubmitDocumentRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	claims, _ := auth.GetClaims(r.Context())
	if req.Trusted && !claims.HasRole(auth.RoleAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "Trusted ingestion requires the admin role", h.logger)
		return
	}

	uploadDate := time.Now().UTC()
	if req.UploadDate != nil {
		uploadDate = req.UploadDate.UTC()
	}

	doc, err := h.ingestionService.Submit(r.Context(), projectID, sopID, &services.IngestRequest{
		FileName:   req.FileName,
		UploadDate: uploadDate,
		Segments:   req.Segments,
		Mode:       req.Mode,
		Trusted:    req.Trusted,
		CreatedBy:  claims.Actor(),
	})
	if err != nil {
		writeServiceError(w, err, "submit document", h.logger,
			zap.String("sop_id", sopID.String()),
			zap.String("file", req.FileName))
		return
	}
	writeData(w, http.StatusAccepted, doc, h.logger)
}

// List handles GET /api/projects/{pid}/sops/{sid}/documents?limit=
func (h *IngestionHandler) List(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}

	docs, err := h.ingestionService.ListDocuments(r.Context(), sopID, parseLimit(r, 50, 500))
	if err != nil {
		writeServiceError(w, err, "list documents", h.logger, zap.String("sop_id", sopID.String()))
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	writeData(w, http.StatusOK, DocumentListResponse{Documents: docs, Total: len(docs)}, h.logger)
}

// Get handles GET /api/projects/{pid}/sops/{sid}/documents/{did}
func (h *IngestionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}
	docID, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}

	doc, err := h.ingestionService.GetDocument(r.Context(), docID)
	if err != nil {
		writeServiceError(w, err, "get document", h.logger, zap.String("document_id", docID.String()))
		return
	}
	if doc.SOPID != sopID {
		writeError(w, http.StatusNotFound, "not_found", "Document not found", h.logger)
		return
	}
	resp := DocumentResponse{Document: doc}
	if run, ok := h.ingestionService.DocumentRun(docID); ok {
		resp.Run = &run
	}
	writeData(w, http.StatusOK, resp, h.logger)
}

// QueueStatus handles GET /api/projects/{pid}/sops/{sid}/ingestion/queue.
// The queue is process-wide; only the SOP's own runs are returned.
func (h *IngestionHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	sopID, ok := ParseSOPID(w, r, h.logger)
	if !ok {
		return
	}

	tasks := []workqueue.TaskSnapshot{}
	for _, t := range h.ingestionService.QueueStatus() {
		if t.Key == sopID.String() {
			tasks = append(tasks, t)
		}
	}
	writeData(w, http.StatusOK, QueueStatusResponse{Tasks: tasks}, h.logger)
}
