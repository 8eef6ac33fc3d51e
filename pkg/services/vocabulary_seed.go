package services

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/taggrammar"
)

//go:embed vocabulary_default.yaml
var defaultVocabularyYAML []byte

// SeedTag is one vocabulary entry in a seed file.
type SeedTag struct {
	Tag         string `yaml:"tag"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// UnmarshalYAML accepts either a bare tag string or a mapping.
func (s *SeedTag) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Tag = node.Value
		return nil
	}
	type plain SeedTag
	return node.Decode((*plain)(s))
}

// VocabularySeed is the known tag vocabulary, one list per registry namespace.
type VocabularySeed struct {
	CodeGroups     []SeedTag `yaml:"code_group"`
	PayerGroups    []SeedTag `yaml:"payer_group"`
	ProviderGroups []SeedTag `yaml:"provider_group"`
	Actions        []SeedTag `yaml:"action"`
	ChartSections  []SeedTag `yaml:"chart_section"`
}

func (s *VocabularySeed) byType() map[models.TagType][]SeedTag {
	return map[models.TagType][]SeedTag{
		models.TagTypeCodeGroup:     s.CodeGroups,
		models.TagTypePayerGroup:    s.PayerGroups,
		models.TagTypeProviderGroup: s.ProviderGroups,
		models.TagTypeAction:        s.Actions,
		models.TagTypeChartSection:  s.ChartSections,
	}
}

// ParseVocabularySeed decodes a seed document and checks every entry is a tag.
func ParseVocabularySeed(data []byte) (*VocabularySeed, error) {
	var seed VocabularySeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary seed: %w", err)
	}
	for typ, entries := range seed.byType() {
		for _, e := range entries {
			if !taggrammar.IsTag(e.Tag) {
				return nil, fmt.Errorf("vocabulary seed: %q under %s is not a tag", e.Tag, typ)
			}
		}
	}
	return &seed, nil
}

// LoadVocabularySeed reads a seed file. An empty path yields the built-in seed.
func LoadVocabularySeed(path string) (*VocabularySeed, error) {
	if path == "" {
		return DefaultVocabularySeed()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary seed: %w", err)
	}
	return ParseVocabularySeed(data)
}

// DefaultVocabularySeed returns the built-in vocabulary.
func DefaultVocabularySeed() (*VocabularySeed, error) {
	return ParseVocabularySeed(defaultVocabularyYAML)
}

// Vocabulary returns the seed as an in-memory vocabulary.
func (s *VocabularySeed) Vocabulary() *taggrammar.StaticVocabulary {
	v := taggrammar.NewStaticVocabulary()
	for typ, entries := range s.byType() {
		for _, e := range entries {
			v.Add(typ, e.Tag)
		}
	}
	return v
}

// Tags converts the seed into ACTIVE registry rows for a project.
func (s *VocabularySeed) Tags(projectID uuid.UUID) []*models.Tag {
	var tags []*models.Tag
	for _, typ := range models.TagTypes {
		for _, e := range s.byType()[typ] {
			tags = append(tags, &models.Tag{
				ProjectID:   projectID,
				Tag:         e.Tag,
				Type:        typ,
				Name:        e.Name,
				Description: e.Description,
				Status:      models.TagStatusActive,
				CreatedBy:   "seed",
			})
		}
	}
	return tags
}
