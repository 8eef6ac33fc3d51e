package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/repositories"
)

// memStore is an in-memory stand-in for the engine tables. Each repository
// mock is a view over the same store so change sets land where reads see them.
type memStore struct {
	mu       sync.Mutex
	sops     map[uuid.UUID]*models.SOP
	rules    map[uuid.UUID][]*models.Rule
	resolved map[uuid.UUID][]*models.ResolvedConflict
	tags     map[uuid.UUID]*models.Tag
	docs     map[uuid.UUID]*models.Document
	seqs     map[uuid.UUID]map[string]int

	applyErr   error
	applyCalls int
}

func newMemStore() *memStore {
	return &memStore{
		sops:     make(map[uuid.UUID]*models.SOP),
		rules:    make(map[uuid.UUID][]*models.Rule),
		resolved: make(map[uuid.UUID][]*models.ResolvedConflict),
		tags:     make(map[uuid.UUID]*models.Tag),
		docs:     make(map[uuid.UUID]*models.Document),
		seqs:     make(map[uuid.UUID]map[string]int),
	}
}

func (m *memStore) sopRepo() *mockSOPRepository {
	return &mockSOPRepository{m}
}

func (m *memStore) ruleRepo() *mockRuleRepository {
	return &mockRuleRepository{m}
}

func (m *memStore) resolvedRepo() *mockResolvedConflictRepository {
	return &mockResolvedConflictRepository{m}
}

func (m *memStore) tagRepo() *mockTagRepository {
	return &mockTagRepository{m}
}

func (m *memStore) docRepo() *mockDocumentRepository {
	return &mockDocumentRepository{m}
}

// addSOP stores an SOP directly and returns it.
func (m *memStore) addSOP(projectID uuid.UUID, prefix string) *models.SOP {
	m.mu.Lock()
	defer m.mu.Unlock()
	sop := &models.SOP{
		ID:           uuid.New(),
		ProjectID:    projectID,
		Name:         prefix + " SOP",
		ClientPrefix: prefix,
	}
	m.sops[sop.ID] = sop
	return sop
}

// storedRules returns copies of the SOP's persisted rules in order.
func (m *memStore) storedRules(sopID uuid.UUID) []*models.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Rule, len(m.rules[sopID]))
	for i, r := range m.rules[sopID] {
		out[i] = r.Clone()
	}
	return out
}

// ============================================================================
// SOP repository
// ============================================================================

type mockSOPRepository struct{ m *memStore }

var _ repositories.SOPRepository = (*mockSOPRepository)(nil)

func (r *mockSOPRepository) Create(_ context.Context, sop *models.SOP) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.sops {
		if existing.ProjectID == sop.ProjectID && existing.Name == sop.Name {
			return apperrors.ErrConflict
		}
	}
	sop.ID = uuid.New()
	sop.CreatedAt = time.Now()
	sop.UpdatedAt = sop.CreatedAt
	copied := *sop
	r.m.sops[sop.ID] = &copied
	return nil
}

func (r *mockSOPRepository) Get(_ context.Context, sopID uuid.UUID) (*models.SOP, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	sop, ok := r.m.sops[sopID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *sop
	return &copied, nil
}

func (r *mockSOPRepository) List(_ context.Context, projectID uuid.UUID) ([]*models.SOP, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.SOP
	for _, sop := range r.m.sops {
		if sop.ProjectID == projectID {
			copied := *sop
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *mockSOPRepository) Update(_ context.Context, sop *models.SOP) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	existing, ok := r.m.sops[sop.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	existing.Name = sop.Name
	existing.Description = sop.Description
	return nil
}

func (r *mockSOPRepository) Delete(_ context.Context, sopID uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.sops[sopID]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.m.sops, sopID)
	delete(r.m.rules, sopID)
	delete(r.m.resolved, sopID)
	return nil
}

// ============================================================================
// Rule repository
// ============================================================================

type mockRuleRepository struct{ m *memStore }

var _ repositories.RuleRepository = (*mockRuleRepository)(nil)

func (r *mockRuleRepository) ListBySOP(_ context.Context, sopID uuid.UUID) ([]*models.Rule, error) {
	return r.m.storedRules(sopID), nil
}

func (r *mockRuleRepository) Get(_ context.Context, sopID uuid.UUID, ruleID string) (*models.Rule, error) {
	for _, rule := range r.m.storedRules(sopID) {
		if rule.RuleID == ruleID {
			return rule, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *mockRuleRepository) IDSequences(_ context.Context, sopID uuid.UUID) (map[string]int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[string]int, len(r.m.seqs[sopID]))
	for k, v := range r.m.seqs[sopID] {
		out[k] = v
	}
	return out, nil
}

func (r *mockRuleRepository) ApplyChanges(_ context.Context, sopID uuid.UUID, changes *repositories.RuleChangeSet) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.applyCalls++
	if r.m.applyErr != nil {
		return r.m.applyErr
	}

	removed := make(map[string]bool, len(changes.Removed))
	for _, id := range changes.Removed {
		removed[id] = true
	}
	updated := make(map[string]*models.Rule, len(changes.Updated))
	for _, u := range changes.Updated {
		updated[u.RuleID] = u
	}

	var next []*models.Rule
	seen := make(map[string]bool)
	for _, rule := range r.m.rules[sopID] {
		if removed[rule.RuleID] {
			continue
		}
		if u, ok := updated[rule.RuleID]; ok {
			rule = u.Clone()
		}
		seen[rule.RuleID] = true
		next = append(next, rule)
	}
	for _, a := range changes.Added {
		if seen[a.RuleID] {
			return fmt.Errorf("rule %s: %w", a.RuleID, apperrors.ErrDuplicateRuleID)
		}
		seen[a.RuleID] = true
		next = append(next, a.Clone())
	}
	r.m.rules[sopID] = next

	for _, rc := range changes.Resolved {
		dup := false
		for _, existing := range r.m.resolved[sopID] {
			if existing.ConflictID == rc.ConflictID {
				dup = true
				break
			}
		}
		if !dup {
			copied := *rc
			r.m.resolved[sopID] = append(r.m.resolved[sopID], &copied)
		}
	}

	if len(changes.Sequences) > 0 && r.m.seqs[sopID] == nil {
		r.m.seqs[sopID] = make(map[string]int)
	}
	for category, last := range changes.Sequences {
		r.m.seqs[sopID][category] = max(r.m.seqs[sopID][category], last)
	}
	return nil
}

// ============================================================================
// Resolved conflict repository
// ============================================================================

type mockResolvedConflictRepository struct{ m *memStore }

var _ repositories.ResolvedConflictRepository = (*mockResolvedConflictRepository)(nil)

func (r *mockResolvedConflictRepository) ListIDs(_ context.Context, sopID uuid.UUID) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var ids []string
	for _, rc := range r.m.resolved[sopID] {
		ids = append(ids, rc.ConflictID)
	}
	return ids, nil
}

func (r *mockResolvedConflictRepository) List(_ context.Context, sopID uuid.UUID) ([]*models.ResolvedConflict, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]*models.ResolvedConflict, len(r.m.resolved[sopID]))
	copy(out, r.m.resolved[sopID])
	return out, nil
}

// ============================================================================
// Tag repository
// ============================================================================

type mockTagRepository struct{ m *memStore }

var _ repositories.TagRepository = (*mockTagRepository)(nil)

func (r *mockTagRepository) findLocked(projectID uuid.UUID, tag string, tagType models.TagType) *models.Tag {
	for _, t := range r.m.tags {
		if t.ProjectID == projectID && t.Tag == tag && t.Type == tagType {
			return t
		}
	}
	return nil
}

func (r *mockTagRepository) Upsert(_ context.Context, tag *models.Tag) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if existing := r.findLocked(tag.ProjectID, tag.Tag, tag.Type); existing != nil {
		existing.UsageCount++
		*tag = *existing
		return false, nil
	}
	tag.ID = uuid.New()
	tag.UsageCount = 1
	tag.CreatedAt = time.Now()
	tag.UpdatedAt = tag.CreatedAt
	copied := *tag
	r.m.tags[tag.ID] = &copied
	return true, nil
}

func (r *mockTagRepository) Seed(_ context.Context, tags []*models.Tag) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	n := 0
	for _, t := range tags {
		if r.findLocked(t.ProjectID, t.Tag, t.Type) != nil {
			continue
		}
		copied := *t
		copied.ID = uuid.New()
		r.m.tags[copied.ID] = &copied
		n++
	}
	return n, nil
}

func (r *mockTagRepository) GetByID(_ context.Context, tagID uuid.UUID) (*models.Tag, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.tags[tagID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *mockTagRepository) GetByKey(_ context.Context, projectID uuid.UUID, tag string, tagType models.TagType) (*models.Tag, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t := r.findLocked(projectID, tag, tagType)
	if t == nil {
		return nil, apperrors.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *mockTagRepository) List(_ context.Context, projectID uuid.UUID, filter repositories.TagFilter) ([]*models.Tag, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Tag
	for _, t := range r.m.tags {
		if t.ProjectID != projectID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		copied := *t
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Tag < out[j].Tag
	})
	return out, nil
}

func (r *mockTagRepository) Update(_ context.Context, tag *models.Tag) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.tags[tag.ID]; !ok {
		return apperrors.ErrNotFound
	}
	copied := *tag
	r.m.tags[tag.ID] = &copied
	return nil
}

// tagByKey returns the stored tag or nil.
func (m *memStore) tagByKey(projectID uuid.UUID, tag string, tagType models.TagType) *models.Tag {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tags {
		if t.ProjectID == projectID && t.Tag == tag && t.Type == tagType {
			copied := *t
			return &copied
		}
	}
	return nil
}

// ============================================================================
// Document repository
// ============================================================================

type mockDocumentRepository struct{ m *memStore }

var _ repositories.DocumentRepository = (*mockDocumentRepository)(nil)

func (r *mockDocumentRepository) Create(_ context.Context, doc *models.Document) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	doc.ID = uuid.New()
	doc.CreatedAt = time.Now()
	if doc.Status == "" {
		doc.Status = models.DocumentStatusQueued
	}
	copied := *doc
	r.m.docs[doc.ID] = &copied
	return nil
}

func (r *mockDocumentRepository) Get(_ context.Context, docID uuid.UUID) (*models.Document, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	doc, ok := r.m.docs[docID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (r *mockDocumentRepository) ListBySOP(_ context.Context, sopID uuid.UUID, limit int) ([]*models.Document, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Document
	for _, doc := range r.m.docs {
		if doc.SOPID == sopID {
			copied := *doc
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockDocumentRepository) UpdateStatus(_ context.Context, doc *models.Document) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	existing, ok := r.m.docs[doc.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	existing.Status = doc.Status
	existing.Extracted = doc.Extracted
	existing.Added = doc.Added
	existing.Warnings = doc.Warnings
	existing.Error = doc.Error
	existing.CompletedAt = doc.CompletedAt
	return nil
}

// noTenant is a TenantContextFunc for tests that do not touch the database.
func noTenant(ctx context.Context, _ uuid.UUID) (context.Context, func(), error) {
	return ctx, func() {}, nil
}
