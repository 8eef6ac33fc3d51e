package taggrammar

import (
	"sort"
	"strings"

	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

// Vocabulary is the set of authoritative tags per type consulted by Categorize.
type Vocabulary interface {
	Has(typ models.TagType, tag string) bool
	Tags(typ models.TagType) []string
}

// Categorize resolves the category of a bare tag. The order of the checks is
// significant; see the package documentation.
func Categorize(v Vocabulary, tag string) models.TagType {
	if v == nil || tag == "" {
		return models.TagTypeOther
	}
	if v.Has(models.TagTypePayerGroup, tag) {
		return models.TagTypePayerGroup
	}
	for _, action := range v.Tags(models.TagTypeAction) {
		if strings.HasPrefix(tag, action) {
			return models.TagTypeAction
		}
	}
	if v.Has(models.TagTypeCodeGroup, tag) {
		return models.TagTypeCodeGroup
	}
	needle := fuzzyKey(tag)
	for _, provider := range v.Tags(models.TagTypeProviderGroup) {
		key := fuzzyKey(provider)
		if key == "" || needle == "" {
			continue
		}
		if strings.Contains(key, needle) || strings.Contains(needle, key) {
			return models.TagTypeProviderGroup
		}
	}
	if v.Has(models.TagTypeChartSection, tag) {
		return models.TagTypeChartSection
	}
	return models.TagTypeOther
}

// CategorizeGroup resolves each member of a group individually.
func CategorizeGroup(v Vocabulary, g TagGroup) map[string]models.TagType {
	out := make(map[string]models.TagType, len(g.Tags)+1)
	for _, t := range g.Members() {
		out[t.String()] = Categorize(v, t.String())
	}
	return out
}

func fuzzyKey(tag string) string {
	return strings.ToUpper(strings.TrimPrefix(BaseName(tag), "@"))
}

// StaticVocabulary is an in-memory Vocabulary. The zero value is not usable;
// use NewStaticVocabulary.
type StaticVocabulary struct {
	byType map[models.TagType]map[string]struct{}
}

// NewStaticVocabulary returns an empty vocabulary.
func NewStaticVocabulary() *StaticVocabulary {
	return &StaticVocabulary{byType: make(map[models.TagType]map[string]struct{})}
}

// Add registers tags under typ.
func (v *StaticVocabulary) Add(typ models.TagType, tags ...string) *StaticVocabulary {
	set, ok := v.byType[typ]
	if !ok {
		set = make(map[string]struct{})
		v.byType[typ] = set
	}
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return v
}

func (v *StaticVocabulary) Has(typ models.TagType, tag string) bool {
	_, ok := v.byType[typ][tag]
	return ok
}

// Tags returns the tags of typ sorted longest first, so prefix checks prefer
// the most specific entry.
func (v *StaticVocabulary) Tags(typ models.TagType) []string {
	set := v.byType[typ]
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// Len returns the number of registered tags across all types.
func (v *StaticVocabulary) Len() int {
	n := 0
	for _, set := range v.byType {
		n += len(set)
	}
	return n
}

var _ Vocabulary = (*StaticVocabulary)(nil)
