package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/llm"
	"github.com/ekaya-inc/sop-rules-engine/pkg/logging"
	"github.com/ekaya-inc/sop-rules-engine/pkg/metrics"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/prompts"
	"github.com/ekaya-inc/sop-rules-engine/pkg/repositories"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services/workqueue"
)

// IngestRequest is a document submitted for rule extraction. Segments are
// the document's text, already extracted and chunked by the caller.
type IngestRequest struct {
	FileName   string    `json:"file_name"`
	UploadDate time.Time `json:"upload_date"`
	Segments   []string  `json:"segments"`
	Mode       string    `json:"mode"`
	Trusted    bool      `json:"trusted"`
	CreatedBy  string    `json:"-"`
}

// IngestResult reports one document run.
type IngestResult struct {
	Extracted int      `json:"extracted"`
	Added     int      `json:"added"`
	RuleIDs   []string `json:"rule_ids,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Conflicts int      `json:"conflicts"`
	NewTags   int      `json:"new_tags"`
}

// IngestionOptions tunes the ingestion service.
type IngestionOptions struct {
	// TagPolicy applies to untrusted runs. Trusted runs always auto-approve.
	TagPolicy   models.TagIngestPolicy
	MaxSegments int
}

// IngestionService extracts rules from documents into SOPs. Documents run
// in the background on the work queue.
type IngestionService interface {
	// Submit records the document and queues it. Runs in a tenant-scoped context.
	Submit(ctx context.Context, projectID, sopID uuid.UUID, req *IngestRequest) (*models.Document, error)

	// ProcessDocument runs one document synchronously. Candidate failures
	// become warnings; the run fails only when no segment could be extracted
	// or the rules cannot be stored. Runs in a tenant-scoped context.
	ProcessDocument(ctx context.Context, doc *models.Document) (*IngestResult, error)

	GetDocument(ctx context.Context, docID uuid.UUID) (*models.Document, error)
	ListDocuments(ctx context.Context, sopID uuid.UUID, limit int) ([]*models.Document, error)

	// QueueStatus returns the queued, running and recently finished runs.
	QueueStatus() []workqueue.TaskSnapshot

	// DocumentRun returns the queue entry of a document submitted by this
	// process. Entries are dropped once they fall out of the queue history.
	DocumentRun(docID uuid.UUID) (workqueue.TaskSnapshot, bool)
}

type ingestionService struct {
	sopRepo    repositories.SOPRepository
	docRepo    repositories.DocumentRepository
	store      *collectionStore
	registry   TagRegistry
	extractor  RuleExtractor
	normalizer *CandidateNormalizer
	queue      *workqueue.Queue
	getTenant  TenantContextFunc
	opts       IngestionOptions
	logger     *zap.Logger
	now        func() time.Time
}

// NewIngestionService creates an IngestionService.
func NewIngestionService(
	sopRepo repositories.SOPRepository,
	ruleRepo repositories.RuleRepository,
	resolvedRepo repositories.ResolvedConflictRepository,
	docRepo repositories.DocumentRepository,
	registry TagRegistry,
	extractor RuleExtractor,
	lock CollectionLock,
	detector *ConflictDetector,
	queue *workqueue.Queue,
	getTenant TenantContextFunc,
	opts IngestionOptions,
	logger *zap.Logger,
) IngestionService {
	named := logger.Named("ingestion")
	if opts.TagPolicy == "" {
		opts.TagPolicy = models.TagPolicyReview
	}
	// Runs under the queue lock; must not call back into the queue.
	queue.SetOnUpdate(func(t workqueue.TaskSnapshot) {
		metrics.RecordQueueTask(string(t.Status))
	})
	return &ingestionService{
		sopRepo:    sopRepo,
		docRepo:    docRepo,
		store:      newCollectionStore(sopRepo, ruleRepo, resolvedRepo, lock, detector, named),
		registry:   registry,
		extractor:  extractor,
		normalizer: NewCandidateNormalizer(logger),
		queue:      queue,
		getTenant:  getTenant,
		opts:       opts,
		logger:     named,
		now:        time.Now,
	}
}

var _ IngestionService = (*ingestionService)(nil)

func (s *ingestionService) Submit(ctx context.Context, projectID, sopID uuid.UUID, req *IngestRequest) (*models.Document, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if _, err := s.sopRepo.Get(ctx, sopID); err != nil {
		return nil, err
	}

	uploadDate := req.UploadDate
	if uploadDate.IsZero() {
		uploadDate = s.now().UTC()
	}
	doc := &models.Document{
		ProjectID:  projectID,
		SOPID:      sopID,
		FileName:   req.FileName,
		UploadDate: uploadDate,
		Mode:       req.Mode,
		Trusted:    req.Trusted,
		Segments:   req.Segments,
		Status:     models.DocumentStatusQueued,
		CreatedBy:  req.CreatedBy,
	}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, err
	}

	docID := doc.ID
	task := workqueue.NewFuncTaskWithID(docID.String(), "ingest "+doc.FileName, sopID.String(), func(taskCtx context.Context) error {
		return s.runDocument(taskCtx, projectID, docID)
	})
	if !s.queue.Enqueue(task) {
		return nil, fmt.Errorf("ingestion queue is shut down")
	}

	s.logger.Info("Document queued",
		zap.String("document_id", doc.ID.String()),
		zap.String("sop_id", sopID.String()),
		zap.String("file", doc.FileName),
		zap.String("mode", doc.Mode),
		zap.Int("segments", len(doc.Segments)))
	return doc, nil
}

func (s *ingestionService) validateRequest(req *IngestRequest) error {
	if req == nil {
		return fmt.Errorf("%w: ingest request is required", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(req.FileName) == "" {
		return fmt.Errorf("%w: file name is required", apperrors.ErrInvalidInput)
	}
	if req.Mode == "" {
		req.Mode = models.IngestModeNew
	}
	if req.Mode != models.IngestModeNew && req.Mode != models.IngestModeUpdate {
		return fmt.Errorf("%w: mode must be %q or %q, got %q", apperrors.ErrInvalidInput, models.IngestModeNew, models.IngestModeUpdate, req.Mode)
	}
	if len(req.Segments) == 0 {
		return fmt.Errorf("%w: document has no segments", apperrors.ErrInvalidInput)
	}
	if s.opts.MaxSegments > 0 && len(req.Segments) > s.opts.MaxSegments {
		return fmt.Errorf("%w: document has %d segments, limit is %d", apperrors.ErrInvalidInput, len(req.Segments), s.opts.MaxSegments)
	}
	return nil
}

// runDocument is the queued task body. It owns the document's status.
func (s *ingestionService) runDocument(ctx context.Context, projectID, docID uuid.UUID) error {
	tenantCtx, cleanup, err := s.getTenant(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer cleanup()

	doc, err := s.docRepo.Get(tenantCtx, docID)
	if err != nil {
		return err
	}
	doc.Status = models.DocumentStatusProcessing
	if err := s.docRepo.UpdateStatus(tenantCtx, doc); err != nil {
		return err
	}

	result, runErr := s.ProcessDocument(tenantCtx, doc)

	completed := s.now().UTC()
	doc.CompletedAt = &completed
	if runErr != nil {
		doc.Status = models.DocumentStatusFailed
		doc.Error = logging.SanitizeError(runErr)
	} else {
		doc.Status = models.DocumentStatusCompleted
		doc.Error = ""
		doc.Extracted = result.Extracted
		doc.Added = result.Added
		doc.Warnings = result.Warnings
	}
	if err := s.docRepo.UpdateStatus(tenantCtx, doc); err != nil {
		s.logger.Error("Failed to record document outcome",
			zap.String("document_id", docID.String()),
			zap.Error(err))
	}
	metrics.RecordDocument(doc.Mode, doc.Status)
	return runErr
}

// extractedCandidate is one payload and where it came from.
type extractedCandidate struct {
	segment int
	index   int
	payload json.RawMessage
}

func (s *ingestionService) ProcessDocument(ctx context.Context, doc *models.Document) (*IngestResult, error) {
	sop, err := s.sopRepo.Get(ctx, doc.SOPID)
	if err != nil {
		return nil, err
	}
	vocab, err := s.registry.Vocabulary(ctx, sop.ProjectID)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{}

	// Extraction talks to the model and runs without the collection lock.
	var candidates []extractedCandidate
	var lastErr error
	failedSegments := 0
	for i, text := range doc.Segments {
		if strings.TrimSpace(text) == "" {
			continue
		}
		elements, err := s.extractor.Extract(ctx, prompts.SegmentContext{
			FileName:     doc.FileName,
			SegmentIndex: i,
			SegmentCount: len(doc.Segments),
			Text:         text,
		}, vocab)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failedSegments++
			lastErr = err
			result.Warnings = append(result.Warnings, fmt.Sprintf("segment %d: %v", i, err))
			s.logger.Warn("Segment extraction failed",
				zap.String("document_id", doc.ID.String()),
				zap.Int("segment", i),
				zap.String("error_type", string(llm.GetErrorType(err))),
				zap.Error(err))
			continue
		}
		for j, el := range elements {
			candidates = append(candidates, extractedCandidate{segment: i, index: j, payload: el})
		}
	}
	if lastErr != nil && len(candidates) == 0 && failedSegments == countNonBlank(doc.Segments) {
		return nil, fmt.Errorf("no segment could be extracted: %w", lastErr)
	}
	result.Extracted = len(candidates)

	var discoveries []models.TagDiscovery
	ws, err := s.store.Mutate(ctx, doc.SOPID, func(ws *WorkingSet) error {
		ids := ws.IDAllocator()
		var dedup *RuleDeduplicator
		if doc.Mode == models.IngestModeUpdate {
			dedup = NewRuleDeduplicator(ws.Rules.Rules())
		}

		for _, c := range candidates {
			cctx := models.CandidateContext{
				ProjectID:    ws.SOP.ProjectID,
				SOPID:        ws.SOP.ID,
				ClientPrefix: ws.SOP.ClientPrefix,
				SegmentIndex: c.segment,
				SectionIndex: c.index,
				UploadDate:   doc.UploadDate,
				FileName:     doc.FileName,
				CreatedBy:    doc.CreatedBy,
			}
			trial := ids.Clone()
			norm, err := s.normalizer.NormalizeJSON(c.payload, cctx, trial, vocab)
			if err != nil {
				metrics.RecordCandidate("malformed")
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("segment %d candidate %d: %v", c.segment, c.index, err))
				continue
			}
			result.Warnings = append(result.Warnings, norm.Warnings...)

			if dedup != nil {
				if dupOf, ok := dedup.DuplicateOf(norm.Rule); ok {
					metrics.RecordCandidate("duplicate")
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("segment %d candidate %d: duplicate of %s", c.segment, c.index, dupOf))
					continue
				}
			}
			if err := ws.Rules.Append(norm.Rule); err != nil {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("segment %d candidate %d: %v", c.segment, c.index, err))
				continue
			}
			if dedup != nil {
				dedup.Remember(norm.Rule)
			}
			ids = trial
			metrics.RecordCandidate("added")
			result.RuleIDs = append(result.RuleIDs, norm.Rule.RuleID)
			discoveries = append(discoveries, norm.Discoveries...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Added = len(result.RuleIDs)
	result.Conflicts = len(ws.Conflicts())

	policy := s.opts.TagPolicy
	if doc.Trusted {
		policy = models.TagPolicyAutoApprove
	}
	for _, d := range discoveries {
		_, created, err := s.registry.Ingest(ctx, sop.ProjectID, d, policy)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("tag %s: %v", d.Tag, err))
			continue
		}
		if created {
			result.NewTags++
		}
	}

	s.logger.Info("Document ingested",
		zap.String("document_id", doc.ID.String()),
		zap.String("sop_id", doc.SOPID.String()),
		zap.String("mode", doc.Mode),
		zap.Int("extracted", result.Extracted),
		zap.Int("added", result.Added),
		zap.Int("warnings", len(result.Warnings)),
		zap.Int("conflicts", result.Conflicts))
	return result, nil
}

func countNonBlank(segments []string) int {
	n := 0
	for _, s := range segments {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

func (s *ingestionService) GetDocument(ctx context.Context, docID uuid.UUID) (*models.Document, error) {
	return s.docRepo.Get(ctx, docID)
}

func (s *ingestionService) ListDocuments(ctx context.Context, sopID uuid.UUID, limit int) ([]*models.Document, error) {
	return s.docRepo.ListBySOP(ctx, sopID, limit)
}

func (s *ingestionService) QueueStatus() []workqueue.TaskSnapshot {
	return s.queue.GetTasks()
}

func (s *ingestionService) DocumentRun(docID uuid.UUID) (workqueue.TaskSnapshot, bool) {
	return s.queue.Get(docID.String())
}
