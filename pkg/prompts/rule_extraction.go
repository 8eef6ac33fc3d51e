// Package prompts builds the text sent to the extraction model.
package prompts

import (
	"fmt"
	"strings"
)

// SegmentContext describes one chunk of a source document.
type SegmentContext struct {
	FileName     string
	SegmentIndex int
	SegmentCount int
	Text         string
}

// VocabularyContext lists known tags per namespace so the model reuses them
// instead of inventing near-duplicates.
type VocabularyContext struct {
	PayerGroups    []string
	ProviderGroups []string
	CodeGroups     []string
	Actions        []string
	ChartSections  []string
}

// BuildRuleExtractionPrompt creates the prompt that turns one document
// segment into raw rule candidates.
func BuildRuleExtractionPrompt(seg SegmentContext, vocab VocabularyContext) string {
	var prompt strings.Builder

	prompt.WriteString("# Billing Rule Extraction\n\n")
	prompt.WriteString("Extract every billing instruction from the document excerpt below.\n\n")

	prompt.WriteString("## Source\n\n")
	prompt.WriteString(fmt.Sprintf("File: %s\n", seg.FileName))
	if seg.SegmentCount > 0 {
		prompt.WriteString(fmt.Sprintf("Segment %d of %d\n", seg.SegmentIndex+1, seg.SegmentCount))
	}
	prompt.WriteString("\n```text\n")
	prompt.WriteString(seg.Text)
	prompt.WriteString("\n```\n\n")

	if !vocab.isEmpty() {
		prompt.WriteString("## Known Tags\n\n")
		prompt.WriteString("Prefer these tags when they fit. Introduce a new tag only when none applies.\n\n")
		writeTagList(&prompt, "Payer groups", vocab.PayerGroups)
		writeTagList(&prompt, "Provider groups", vocab.ProviderGroups)
		writeTagList(&prompt, "Code groups", vocab.CodeGroups)
		writeTagList(&prompt, "Actions", vocab.Actions)
		writeTagList(&prompt, "Chart sections", vocab.ChartSections)
		prompt.WriteString("\n")
	}

	prompt.WriteString("## Tag Syntax\n\n")
	prompt.WriteString("- A tag is `@` followed by uppercase letters, digits or underscores: `@MEDICARE`\n")
	prompt.WriteString("- A tag may take one parameter: `@ADD(@25)`\n")
	prompt.WriteString("- `|` means any of: `@MEDICARE|@MEDICAID`\n\n")

	prompt.WriteString("## Description Format\n\n")
	prompt.WriteString("Each `description` must be exactly one sentence of this shape:\n\n")
	prompt.WriteString("`For <payers> payers <action>(<codes>) when <trigger>; the <chart section> must include \"<phrase>\".`\n\n")
	prompt.WriteString("- Trigger text is lowercase except the quoted phrase\n")
	prompt.WriteString("- Do not write \"if ... then\"\n")
	prompt.WriteString("- End with a period\n\n")

	prompt.WriteString("## Output Format\n\n")
	prompt.WriteString("Respond in JSON with a `rules` array. Each element has these string fields, any of which may be null:\n")
	prompt.WriteString("- `codes`: comma-separated billing codes or a code group tag\n")
	prompt.WriteString("- `payers`: payer tag or pipe group\n")
	prompt.WriteString("- `providers`: provider tag or pipe group\n")
	prompt.WriteString("- `action_description`: what must be done, naming the kind of change (modifier, procedure, diagnosis, E&M, telehealth)\n")
	prompt.WriteString("- `action`: the action tag, e.g. `@ADD(@25)`\n")
	prompt.WriteString("- `description`: the sentence described above\n")
	prompt.WriteString("- `conditions`, `documentation_trigger`, `chart_section`\n")
	prompt.WriteString("- `effective_date`, `end_date` as YYYY-MM-DD\n")
	prompt.WriteString("- `reference`: section or page of the source\n\n")

	prompt.WriteString("Example:\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{
  "rules": [
    {
      "codes": "99213, 99214",
      "payers": "@MEDICARE|@MEDICAID",
      "providers": null,
      "action_description": "Append modifier 25 to the E&M code",
      "action": "@ADD(@25)",
      "description": "For @MEDICARE|@MEDICAID payers @ADD(@25) when a procedure is billed on the same day; the @ASSESSMENT_PLAN must include \"separately identifiable\".",
      "conditions": "procedure billed on the same date of service",
      "documentation_trigger": "separately identifiable",
      "chart_section": "@ASSESSMENT_PLAN",
      "effective_date": null,
      "end_date": null,
      "reference": "Section 4.2"
    }
  ]
}
`)
	prompt.WriteString("```\n\n")

	prompt.WriteString("If the excerpt contains no billing instructions, return `{\"rules\": []}`.\n")
	prompt.WriteString("Return ONLY the JSON, no additional text.\n")

	return prompt.String()
}

// BuildRuleExtractionSystemMessage returns the system message for extraction.
func BuildRuleExtractionSystemMessage() string {
	return `You are a medical billing compliance analyst. You read payer policies and client SOP documents and restate each billing instruction as a structured rule using the client's tag vocabulary.`
}

func (v VocabularyContext) isEmpty() bool {
	return len(v.PayerGroups)+len(v.ProviderGroups)+len(v.CodeGroups)+len(v.Actions)+len(v.ChartSections) == 0
}

func writeTagList(b *strings.Builder, label string, tags []string) {
	if len(tags) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("- %s: %s\n", label, strings.Join(tags, ", ")))
}
