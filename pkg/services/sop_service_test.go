package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/repositories"
)

func newTestSOPService(t *testing.T) (SOPService, *memStore) {
	t.Helper()
	store := newMemStore()
	seed, err := ParseVocabularySeed([]byte(`
payer_group:
  - tag: "@MEDICARE"
    name: Medicare
    description: Traditional Medicare Part B
action: ["@HOLD"]
`))
	require.NoError(t, err)
	registry := NewTagRegistry(store.tagRepo(), zap.NewNop())
	return NewSOPService(store.sopRepo(), registry, seed, zap.NewNop()), store
}

func TestSOPService_CreateNormalizesAndSeeds(t *testing.T) {
	svc, store := newTestSOPService(t)
	ctx := context.Background()
	projectID := uuid.New()

	sop := &models.SOP{ProjectID: projectID, Name: "  Cardiology  ", ClientPrefix: " card "}
	require.NoError(t, svc.Create(ctx, sop))
	assert.Equal(t, "Cardiology", sop.Name)
	assert.Equal(t, "CARD", sop.ClientPrefix)
	assert.NotEqual(t, uuid.Nil, sop.ID)

	tag := store.tagByKey(projectID, "@MEDICARE", models.TagTypePayerGroup)
	require.NotNil(t, tag)
	assert.Equal(t, models.TagStatusActive, tag.Status)
	assert.Equal(t, "Traditional Medicare Part B", tag.Description)

	// A second SOP in the project does not duplicate the vocabulary.
	require.NoError(t, svc.Create(ctx, &models.SOP{ProjectID: projectID, Name: "Ortho", ClientPrefix: "ORTH"}))
	tags, err := store.tagRepo().List(ctx, projectID, repositories.TagFilter{})
	require.NoError(t, err)
	assert.Len(t, tags, 2)

	sops, err := svc.List(ctx, projectID)
	require.NoError(t, err)
	assert.Len(t, sops, 2)
}

func TestSOPService_CreateValidation(t *testing.T) {
	svc, _ := newTestSOPService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		sop  models.SOP
	}{
		{"missing name", models.SOP{ClientPrefix: "CARD"}},
		{"missing prefix", models.SOP{Name: "Cardiology"}},
		{"prefix with dash", models.SOP{Name: "Cardiology", ClientPrefix: "CA-RD"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sop := tt.sop
			sop.ProjectID = uuid.New()
			assert.Error(t, svc.Create(ctx, &sop))
		})
	}

	projectID := uuid.New()
	require.NoError(t, svc.Create(ctx, &models.SOP{ProjectID: projectID, Name: "Cardiology", ClientPrefix: "CARD"}))
	err := svc.Create(ctx, &models.SOP{ProjectID: projectID, Name: "Cardiology", ClientPrefix: "CARD2"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestSOPService_UpdateAndDelete(t *testing.T) {
	svc, _ := newTestSOPService(t)
	ctx := context.Background()
	sop := &models.SOP{ProjectID: uuid.New(), Name: "Cardiology", ClientPrefix: "CARD"}
	require.NoError(t, svc.Create(ctx, sop))

	sop.Name = " "
	assert.Error(t, svc.Update(ctx, sop))

	sop.Name = "Cardiology 2026"
	sop.Description = "Updated for the new fee schedule"
	require.NoError(t, svc.Update(ctx, sop))
	got, err := svc.Get(ctx, sop.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cardiology 2026", got.Name)
	assert.Equal(t, "CARD", got.ClientPrefix, "prefix is immutable")

	require.NoError(t, svc.Delete(ctx, sop.ID))
	_, err = svc.Get(ctx, sop.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, sop.ID), apperrors.ErrNotFound)
}
