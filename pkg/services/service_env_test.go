package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

// serviceEnv wires the engine services over one in-memory store with a
// seeded vocabulary and a single SOP with prefix CARD.
type serviceEnv struct {
	store     *memStore
	projectID uuid.UUID
	sop       *models.SOP
	registry  TagRegistry
	detector  *ConflictDetector
	lock      CollectionLock
	rules     RuleService
	conflicts ConflictService
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()
	store := newMemStore()
	projectID := uuid.New()
	sop := store.addSOP(projectID, "CARD")

	registry := NewTagRegistry(store.tagRepo(), zap.NewNop())
	seed, err := DefaultVocabularySeed()
	require.NoError(t, err)
	_, err = registry.Seed(context.Background(), projectID, seed)
	require.NoError(t, err)

	detector := NewConflictDetector(true, zap.NewNop())
	lock := NewCollectionLock(nil, time.Minute, zap.NewNop())

	return &serviceEnv{
		store:     store,
		projectID: projectID,
		sop:       sop,
		registry:  registry,
		detector:  detector,
		lock:      lock,
		rules: NewRuleService(store.sopRepo(), store.ruleRepo(), store.resolvedRepo(),
			registry, lock, detector, zap.NewNop()),
		conflicts: NewConflictService(store.sopRepo(), store.ruleRepo(), store.resolvedRepo(),
			lock, detector, zap.NewNop()),
	}
}

// seedRules stores rules for the env's SOP as if they had been persisted earlier.
func (e *serviceEnv) seedRules(rules ...*models.Rule) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	for _, r := range rules {
		c := r.Clone()
		c.ProjectID = e.projectID
		c.SOPID = e.sop.ID
		e.store.rules[e.sop.ID] = append(e.store.rules[e.sop.ID], c)
	}
}

func (e *serviceEnv) storedRule(t *testing.T, ruleID string) *models.Rule {
	t.Helper()
	for _, r := range e.store.storedRules(e.sop.ID) {
		if r.RuleID == ruleID {
			return r
		}
	}
	t.Fatalf("rule %s not stored", ruleID)
	return nil
}

func conflictIDs(conflicts []models.Conflict) []string {
	var ids []string
	for _, c := range conflicts {
		ids = appendUnique(ids, c.ID)
	}
	return ids
}
