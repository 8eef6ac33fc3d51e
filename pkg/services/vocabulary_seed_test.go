package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

func TestDefaultVocabularySeed(t *testing.T) {
	seed, err := DefaultVocabularySeed()
	require.NoError(t, err)

	vocab := seed.Vocabulary()
	assert.True(t, vocab.Has(models.TagTypePayerGroup, "@MEDICARE"))
	assert.True(t, vocab.Has(models.TagTypeAction, "@ADD"))
	assert.True(t, vocab.Has(models.TagTypeCodeGroup, "@EM"))
	assert.True(t, vocab.Has(models.TagTypeChartSection, "@ASSESSMENT_PLAN"))
	assert.False(t, vocab.Has(models.TagTypeAction, "@MEDICARE"))

	projectID := uuid.New()
	tags := seed.Tags(projectID)
	require.NotEmpty(t, tags)
	for _, tag := range tags {
		assert.Equal(t, projectID, tag.ProjectID)
		assert.Equal(t, models.TagStatusActive, tag.Status)
		assert.Equal(t, "seed", tag.CreatedBy)
		assert.True(t, tag.Type.Valid())
	}
	assert.Equal(t, "Medicare", tags[indexOfTag(tags, "@MEDICARE")].Name)
}

func indexOfTag(tags []*models.Tag, name string) int {
	for i, t := range tags {
		if t.Tag == name {
			return i
		}
	}
	return -1
}

func TestParseVocabularySeed_RejectsNonTags(t *testing.T) {
	_, err := ParseVocabularySeed([]byte(`payer_group: ["MEDICARE"]`))
	assert.Error(t, err)

	_, err = ParseVocabularySeed([]byte(`action: ["@E&M"]`))
	assert.Error(t, err)

	_, err = ParseVocabularySeed([]byte("payer_group: [\n"))
	assert.Error(t, err)
}

func TestLoadVocabularySeed(t *testing.T) {
	seed, err := LoadVocabularySeed("")
	require.NoError(t, err)
	assert.NotEmpty(t, seed.PayerGroups)

	path := filepath.Join(t.TempDir(), "vocab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider_group:
  - tag: "@NP"
    name: Nurse practitioners
`), 0o600))
	seed, err = LoadVocabularySeed(path)
	require.NoError(t, err)
	require.Len(t, seed.ProviderGroups, 1)
	assert.Equal(t, "Nurse practitioners", seed.ProviderGroups[0].Name)
	assert.Empty(t, seed.PayerGroups)

	_, err = LoadVocabularySeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
