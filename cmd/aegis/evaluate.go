package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
	"github.com/aegisgrc/aegis-oss/pkg/policy"
)

// newEvaluateCmd creates the evaluate subcommand: run one or all policies
// against a single evaluation context and print per-policy results.
func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate policies against an evaluation context",
		RunE:  runEvaluate,
	}

	cmd.Flags().StringP("policies", "p", "", "Directory of policy bundle YAML files")
	cmd.Flags().String("policy-id", "", "Evaluate only this policy")
	cmd.Flags().String("context", "", "YAML file holding the evaluation context")
	_ = cmd.MarkFlagRequired("policies")
	_ = cmd.MarkFlagRequired("context")

	return cmd
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	logger := loggerFromFlags(cmd)

	policiesDir, _ := cmd.Flags().GetString("policies")
	policyID, _ := cmd.Flags().GetString("policy-id")
	contextPath, _ := cmd.Flags().GetString("context")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	evalCtx, err := loadEvalContext(contextPath)
	if err != nil {
		return err
	}

	engine := policy.NewEngine(policy.EngineOptions{Logger: logger})
	if err := loadPolicies(ctx, engine, policiesDir, logger); err != nil {
		return err
	}

	report := newReporter(cmd.OutOrStdout())

	if policyID != "" {
		result, evalErr := engine.EvaluatePolicy(ctx, policyID, evalCtx)
		if evalErr != nil {
			return evalErr
		}
		p, _ := engine.GetPolicy(ctx, policyID)
		report.evaluation(p, result)
		return nil
	}

	results, err := engine.EvaluateAllPolicies(ctx, evalCtx)
	if err != nil {
		return err
	}
	for _, result := range results {
		p, _ := engine.GetPolicy(ctx, result.PolicyID)
		report.evaluation(p, result)
	}
	return nil
}

func loadEvalContext(path string) (domain.EvalContext, error) {
	//nolint:gosec // Context file path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read context file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse context file: %w", err)
	}
	return domain.EvalContext(raw), nil
}
