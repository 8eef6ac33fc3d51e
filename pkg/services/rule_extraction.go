package services

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/llm"
	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/prompts"
	"github.com/ekaya-inc/sop-rules-engine/pkg/retry"
	"github.com/ekaya-inc/sop-rules-engine/pkg/taggrammar"
)

// RuleExtractor turns one document segment into raw candidate payloads.
// Payloads are returned undecoded so each can fail on its own.
type RuleExtractor interface {
	Extract(ctx context.Context, seg prompts.SegmentContext, vocab taggrammar.Vocabulary) ([]json.RawMessage, error)
}

// extractionTemperature keeps extraction close to deterministic.
const extractionTemperature = 0.1

type llmRuleExtractor struct {
	client   llm.LLMClient
	retryCfg *retry.Config
	logger   *zap.Logger
}

// NewLLMRuleExtractor creates an extractor backed by a language model.
// Transient model errors are retried per segment with retryCfg; nil uses
// retry.DefaultConfig.
func NewLLMRuleExtractor(client llm.LLMClient, retryCfg *retry.Config, logger *zap.Logger) RuleExtractor {
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &llmRuleExtractor{
		client:   client,
		retryCfg: retryCfg,
		logger:   logger.Named("rule-extractor"),
	}
}

func (e *llmRuleExtractor) Extract(
	ctx context.Context,
	seg prompts.SegmentContext,
	vocab taggrammar.Vocabulary,
) ([]json.RawMessage, error) {
	prompt := prompts.BuildRuleExtractionPrompt(seg, vocabularyContext(vocab))
	var result *llm.GenerateResponseResult
	err := retry.DoIfRetryable(ctx, e.retryCfg, func() error {
		var genErr error
		result, genErr = e.client.GenerateResponse(ctx, prompt, prompts.BuildRuleExtractionSystemMessage(), extractionTemperature)
		if genErr != nil && llm.IsRetryable(genErr) {
			e.logger.Warn("Retrying extraction call",
				zap.String("file", seg.FileName),
				zap.Int("segment", seg.SegmentIndex),
				zap.Error(genErr))
		}
		return genErr
	})
	if err != nil {
		return nil, fmt.Errorf("extract segment %d: %w", seg.SegmentIndex, err)
	}

	elements, err := llm.ExtractJSONElements(result.Content, "rules")
	if err != nil {
		return nil, fmt.Errorf("segment %d: unusable extraction response: %w", seg.SegmentIndex, err)
	}

	e.logger.Debug("Extracted candidates",
		zap.String("file", seg.FileName),
		zap.Int("segment", seg.SegmentIndex),
		zap.Int("candidates", len(elements)),
		zap.Int("total_tokens", result.TotalTokens))
	return elements, nil
}

type jsonSegmentExtractor struct{}

// NewJSONSegmentExtractor creates an extractor for segments that already
// hold candidate JSON, as produced by an upstream extraction pipeline.
func NewJSONSegmentExtractor() RuleExtractor {
	return jsonSegmentExtractor{}
}

func (jsonSegmentExtractor) Extract(_ context.Context, seg prompts.SegmentContext, _ taggrammar.Vocabulary) ([]json.RawMessage, error) {
	elements, err := llm.ExtractJSONElements(seg.Text, "rules")
	if err != nil {
		return nil, fmt.Errorf("segment %d is not candidate JSON: %w", seg.SegmentIndex, err)
	}
	return elements, nil
}

func vocabularyContext(v taggrammar.Vocabulary) prompts.VocabularyContext {
	if v == nil {
		return prompts.VocabularyContext{}
	}
	return prompts.VocabularyContext{
		PayerGroups:    v.Tags(models.TagTypePayerGroup),
		ProviderGroups: v.Tags(models.TagTypeProviderGroup),
		CodeGroups:     v.Tags(models.TagTypeCodeGroup),
		Actions:        v.Tags(models.TagTypeAction),
		ChartSections:  v.Tags(models.TagTypeChartSection),
	}
}
