package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/metrics"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/repositories"
)

// WorkingSet is everything a mutation of one SOP needs: the SOP, its rules,
// the resolved-conflict ids, and the resolutions recorded during this
// mutation.
type WorkingSet struct {
	SOP        *models.SOP
	Rules      *RuleCollection
	Resolved   *models.ResolvedConflictSet
	resolution []*models.ResolvedConflict
	conflicts  []models.Conflict
	sequences  map[string]int
}

// IDAllocator returns an allocator that continues after every rule id the
// SOP has ever issued, including ids of rules removed since.
func (w *WorkingSet) IDAllocator() *RuleIDAllocator {
	ids := NewRuleIDAllocator(w.SOP.ClientPrefix, w.Rules.IDs())
	for category, last := range w.sequences {
		ids.Raise(category, last)
	}
	return ids
}

// raisedSequences returns the high-water marks that moved past the stored
// ones once removed is taken into account.
func (w *WorkingSet) raisedSequences(removed []string) map[string]int {
	ids := w.IDAllocator()
	for _, id := range removed {
		ids.Observe(id)
	}
	var raised map[string]int
	for category, last := range ids.Sequences() {
		if last > w.sequences[category] {
			if raised == nil {
				raised = make(map[string]int)
			}
			raised[category] = last
		}
	}
	return raised
}

// RecordResolution queues a resolved-conflict record to be written with the
// rule changes.
func (w *WorkingSet) RecordResolution(rc *models.ResolvedConflict) {
	w.resolution = append(w.resolution, rc)
}

// Conflicts returns the conflicts of the final scan. Empty until the
// mutation completed.
func (w *WorkingSet) Conflicts() []models.Conflict {
	return w.conflicts
}

// collectionStore loads, mutates, rescans and persists rule collections.
// Mutations of one SOP are serialized by the collection lock; reads are not.
type collectionStore struct {
	sopRepo      repositories.SOPRepository
	ruleRepo     repositories.RuleRepository
	resolvedRepo repositories.ResolvedConflictRepository
	lock         CollectionLock
	detector     *ConflictDetector
	logger       *zap.Logger
}

func newCollectionStore(
	sopRepo repositories.SOPRepository,
	ruleRepo repositories.RuleRepository,
	resolvedRepo repositories.ResolvedConflictRepository,
	lock CollectionLock,
	detector *ConflictDetector,
	logger *zap.Logger,
) *collectionStore {
	return &collectionStore{
		sopRepo:      sopRepo,
		ruleRepo:     ruleRepo,
		resolvedRepo: resolvedRepo,
		lock:         lock,
		detector:     detector,
		logger:       logger,
	}
}

// Load reads the SOP's working set without taking the lock.
func (s *collectionStore) Load(ctx context.Context, sopID uuid.UUID) (*WorkingSet, error) {
	sop, err := s.sopRepo.Get(ctx, sopID)
	if err != nil {
		return nil, err
	}
	rules, err := s.ruleRepo.ListBySOP(ctx, sopID)
	if err != nil {
		return nil, err
	}
	coll, err := NewRuleCollection(rules)
	if err != nil {
		return nil, fmt.Errorf("sop %s: %w", sopID, err)
	}
	ids, err := s.resolvedRepo.ListIDs(ctx, sopID)
	if err != nil {
		return nil, err
	}
	seqs, err := s.ruleRepo.IDSequences(ctx, sopID)
	if err != nil {
		return nil, err
	}
	return &WorkingSet{
		SOP:       sop,
		Rules:     coll,
		Resolved:  models.NewResolvedConflictSet(ids...),
		sequences: seqs,
	}, nil
}

// Mutate runs fn on a freshly loaded working set under the collection lock,
// rescans, and persists the delta in one transaction. If fn fails nothing
// is written.
func (s *collectionStore) Mutate(ctx context.Context, sopID uuid.UUID, fn func(*WorkingSet) error) (*WorkingSet, error) {
	unlock, err := s.lock.Lock(ctx, sopID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ws, err := s.Load(ctx, sopID)
	if err != nil {
		return nil, err
	}
	if err := fn(ws); err != nil {
		return nil, err
	}

	ws.conflicts = s.scan(ws)

	changes := ws.Rules.Changes()
	set := &repositories.RuleChangeSet{
		Added:     changes.Added,
		Updated:   changes.Updated,
		Removed:   changes.Removed,
		Resolved:  ws.resolution,
		Sequences: ws.raisedSequences(changes.Removed),
	}
	if err := s.ruleRepo.ApplyChanges(ctx, sopID, set); err != nil {
		return nil, err
	}
	ws.Rules.ResetChanges()

	s.logger.Debug("Collection persisted",
		zap.String("sop_id", sopID.String()),
		zap.Int("added", len(set.Added)),
		zap.Int("updated", len(set.Updated)),
		zap.Int("removed", len(set.Removed)),
		zap.Int("resolved", len(set.Resolved)),
		zap.Int("conflicts", len(ws.conflicts)))
	return ws, nil
}

func (s *collectionStore) scan(ws *WorkingSet) []models.Conflict {
	start := time.Now()
	conflicts := s.detector.Scan(ws.Rules, ws.Resolved)
	types := make([]string, len(conflicts))
	for i, c := range conflicts {
		types[i] = string(c.Type)
	}
	metrics.RecordScan(time.Since(start).Seconds(), types)
	return conflicts
}
