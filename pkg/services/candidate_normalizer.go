package services

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/taggrammar"
)

// dateLayout is the wire format of effective and end dates.
const dateLayout = "2006-01-02"

// CandidateNormalizer turns raw extraction candidates into canonical rules.
type CandidateNormalizer struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewCandidateNormalizer creates a normalizer.
func NewCandidateNormalizer(logger *zap.Logger) *CandidateNormalizer {
	return &CandidateNormalizer{
		logger: logger.Named("candidate-normalizer"),
		now:    time.Now,
	}
}

// NormalizeJSON decodes, screens and normalizes one candidate payload.
// All failures wrap apperrors.ErrMalformedCandidate.
func (n *CandidateNormalizer) NormalizeJSON(
	data []byte,
	cctx models.CandidateContext,
	ids *RuleIDAllocator,
	vocab taggrammar.Vocabulary,
) (*models.NormalizeResult, error) {
	raw, err := models.DecodeRawCandidate(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedCandidate, err)
	}
	return n.Normalize(raw, cctx, ids, vocab)
}

// Normalize maps a raw candidate to a pending rule and the tags it references
// that the vocabulary does not know yet. The rule id is drawn from ids only
// once the candidate passed validation, so rejected candidates leave no gaps.
func (n *CandidateNormalizer) Normalize(
	raw *models.RawCandidate,
	cctx models.CandidateContext,
	ids *RuleIDAllocator,
	vocab taggrammar.Vocabulary,
) (*models.NormalizeResult, error) {
	if err := validateCandidate(raw); err != nil {
		return nil, err
	}

	actionText := models.Value(raw.ActionDescription)
	codes := models.Value(raw.Codes)
	now := n.now().UTC()

	rule := &models.Rule{
		ProjectID:            cctx.ProjectID,
		SOPID:                cctx.SOPID,
		Code:                 codes,
		CodeGroup:            models.Value(raw.CodeGroup),
		CodesSelected:        splitList(models.Value(raw.CodesSelected)),
		Action:               candidateAction(raw),
		PayerGroup:           models.Value(raw.Payers),
		ProviderGroup:        models.Value(raw.Providers),
		Description:          candidateDescription(raw),
		DocumentationTrigger: models.Value(raw.DocumentationTrigger),
		ChartSection:         models.Value(raw.ChartSection),
		EffectiveDate:        models.Value(raw.EffectiveDate),
		EndDate:              models.Value(raw.EndDate),
		Reference:            models.Value(raw.Reference),
		Status:               models.RuleStatusPending,
		Source:               models.RuleSourceAI,
		Confidence:           models.DefaultRuleConfidence,
		Version:              models.DefaultRuleVersion,
		CreatedBy:            cctx.CreatedBy,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if rule.CodeGroup == "" && taggrammar.IsTag(codes) {
		rule.CodeGroup = codes
	}
	if rule.EffectiveDate == "" && !cctx.UploadDate.IsZero() {
		rule.EffectiveDate = cctx.UploadDate.Format(dateLayout)
	}
	if rule.Reference == "" {
		rule.Reference = cctx.FileName
	}

	categoryText := actionText
	if categoryText == "" {
		categoryText = rule.Action
	}
	rule.RuleID = ids.Next(CategoryForAction(categoryText))

	result := &models.NormalizeResult{Rule: rule}
	n.discoverTags(result, cctx, vocab)
	return result, nil
}

// validateCandidate checks the hard-required inputs. A rule needs codes and
// something to build a description from.
func validateCandidate(raw *models.RawCandidate) error {
	if raw == nil {
		return fmt.Errorf("%w: candidate is empty", apperrors.ErrMalformedCandidate)
	}
	if strings.TrimSpace(models.Value(raw.Codes)) == "" {
		return fmt.Errorf("%w: codes are required", apperrors.ErrMalformedCandidate)
	}
	if models.Value(raw.ActionDescription) == "" && models.Value(raw.Description) == "" {
		return fmt.Errorf("%w: action description is required", apperrors.ErrMalformedCandidate)
	}
	if f := ScreenCandidate(raw); f != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrMalformedCandidate, f)
	}
	return nil
}

// candidateAction prefers an explicit action tag, then the first tag in the
// action text, then the text itself.
func candidateAction(raw *models.RawCandidate) string {
	if a := models.Value(raw.Action); a != "" {
		return a
	}
	text := models.Value(raw.ActionDescription)
	if tags := taggrammar.ExtractTags(text); len(tags) > 0 {
		return tags[0]
	}
	return text
}

func candidateDescription(raw *models.RawCandidate) string {
	if d := models.Value(raw.Description); d != "" {
		return d
	}
	desc := models.Value(raw.ActionDescription)
	if cond := models.Value(raw.Conditions); cond != "" {
		desc += " when " + cond
	}
	return desc
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type tagKey struct {
	tag string
	typ models.TagType
}

// discoverTags collects every tag the rule references, resolves its type and
// records the ones the vocabulary does not know. The description sentence is
// the most reliable signal for a tag's role, then the field the tag sits in,
// then the category precedence rules.
func (n *CandidateNormalizer) discoverTags(result *models.NormalizeResult, cctx models.CandidateContext, vocab taggrammar.Vocabulary) {
	rule := result.Rule

	roles := make(map[string]models.TagType)
	if sentence, err := taggrammar.Parse(rule.Description); err == nil {
		for tag, typ := range sentence.Roles() {
			roles[tag] = typ
		}
	}
	fieldRoles := []struct {
		value string
		typ   models.TagType
	}{
		{rule.PayerGroup, models.TagTypePayerGroup},
		{rule.Action, models.TagTypeAction},
		{rule.Code, models.TagTypeCodeGroup},
		{rule.CodeGroup, models.TagTypeCodeGroup},
		{rule.ProviderGroup, models.TagTypeProviderGroup},
		{rule.ChartSection, models.TagTypeChartSection},
	}
	for _, fr := range fieldRoles {
		assignFieldRoles(roles, fr.value, fr.typ)
	}

	var order []string
	seenTag := make(map[string]struct{})
	addTags := func(s string) {
		for _, tok := range taggrammar.Tokenize(s) {
			for _, t := range topTags(tok) {
				for _, name := range registryNames(t) {
					if _, ok := seenTag[name]; !ok {
						seenTag[name] = struct{}{}
						order = append(order, name)
					}
				}
			}
		}
	}
	addTags(rule.Description)
	for _, fr := range fieldRoles {
		addTags(fr.value)
	}

	seen := make(map[tagKey]struct{})
	for _, tag := range order {
		typ, ok := roles[tag]
		if !ok {
			typ = taggrammar.Categorize(vocab, tag)
		}
		if typ == models.TagTypeOther {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: tag %s has no resolvable category", rule.RuleID, tag))
			continue
		}
		key := tagKey{tag: tag, typ: typ}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if vocab != nil && vocab.Has(typ, tag) {
			continue
		}
		result.Discoveries = append(result.Discoveries, models.TagDiscovery{
			Tag:          tag,
			Type:         typ,
			OriginRuleID: rule.RuleID,
			OriginSOPID:  cctx.SOPID,
			CreatedAt:    rule.CreatedAt,
			Status:       models.TagStatusPendingReview,
		})
	}

	if len(result.Discoveries) > 0 {
		n.logger.Debug("Discovered unknown tags",
			zap.String("rule_id", rule.RuleID),
			zap.Int("count", len(result.Discoveries)))
	}
	rule.NewTags = discoveredNames(result.Discoveries)
}

// assignFieldRoles gives tags in a field the field's type unless the
// description already decided. Arguments of parameterized tags are codes.
func assignFieldRoles(roles map[string]models.TagType, value string, typ models.TagType) {
	for _, tok := range taggrammar.Tokenize(value) {
		for _, t := range topTags(tok) {
			if _, ok := roles[taggrammar.BaseName(t.String())]; !ok {
				roles[taggrammar.BaseName(t.String())] = typ
			}
			for _, arg := range t.Flatten()[1:] {
				if _, ok := roles[arg.String()]; !ok {
					roles[arg.String()] = models.TagTypeCodeGroup
				}
			}
		}
	}
}

// topTags returns the tags a token carries at the top level.
func topTags(tok taggrammar.Token) []taggrammar.Tag {
	switch t := tok.(type) {
	case taggrammar.Tag:
		return []taggrammar.Tag{t}
	case taggrammar.TagGroup:
		return t.Members()
	}
	return nil
}

// registryNames lists the names a tag is registered under: parameterized tags
// by their base name, plus every tag in the parameter.
func registryNames(t taggrammar.Tag) []string {
	flat := t.Flatten()
	names := make([]string, 0, len(flat))
	for _, f := range flat {
		if f.HasParam {
			names = append(names, taggrammar.BaseName(f.String()))
			continue
		}
		names = append(names, f.String())
	}
	return names
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func discoveredNames(ds []models.TagDiscovery) []string {
	var out []string
	for _, d := range ds {
		out = appendUnique(out, d.Tag)
	}
	return out
}
