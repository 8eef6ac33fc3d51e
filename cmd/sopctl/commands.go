package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/services"
	"github.com/ekaya-inc/sop-rules-engine/pkg/taggrammar"
)

// errFindings makes the process exit non-zero after the report is printed.
var errFindings = errors.New("findings reported")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sopctl",
		Short:         "Offline checks for billing SOP rule files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newLintCmd(), newScanCmd())
	return root
}

func newLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint [rules.json]",
		Short: "Check every rule description against the sentence grammar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := loadRules(args[0])
			if err != nil {
				return err
			}
			if lintRules(cmd.OutOrStdout(), rules) > 0 {
				return errFindings
			}
			return nil
		},
	}
}

func newScanCmd() *cobra.Command {
	var (
		resolved     []string
		canonicalIDs bool
	)
	cmd := &cobra.Command{
		Use:   "scan [rules.json]",
		Short: "Detect conflicts between the rules of one SOP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := loadRules(args[0])
			if err != nil {
				return err
			}
			detector := services.NewConflictDetector(canonicalIDs, zap.NewNop())
			conflicts := detector.Detect(rules, models.NewResolvedConflictSet(resolved...))
			if conflicts == nil {
				conflicts = []models.Conflict{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(conflicts); err != nil {
				return err
			}
			if len(conflicts) > 0 {
				return errFindings
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&resolved, "resolved", nil, "conflict ids already resolved")
	cmd.Flags().BoolVar(&canonicalIDs, "canonical-ids", true, "sort rule ids before deriving conflict ids")
	return cmd
}

// loadRules reads a JSON array of rules, or an object with a "rules" array.
func loadRules(path string) ([]*models.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules []*models.Rule
	if err := json.Unmarshal(data, &rules); err == nil {
		return rules, nil
	}
	var wrapped struct {
		Rules []*models.Rule `json:"rules"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return wrapped.Rules, nil
}

// lintRules prints one line per issue and returns the number of issues.
func lintRules(w io.Writer, rules []*models.Rule) int {
	count := 0
	for _, rule := range rules {
		for _, issue := range taggrammar.Validate(rule.Description) {
			fmt.Fprintf(w, "%s: %s: %s\n", rule.RuleID, issue.Code, issue.Message)
			count++
		}
	}
	fmt.Fprintf(w, "%d rules checked, %d issues\n", len(rules), count)
	return count
}
