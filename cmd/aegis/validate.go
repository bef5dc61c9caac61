package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aegisgrc/aegis-oss/pkg/config"
	"github.com/aegisgrc/aegis-oss/pkg/domain"
	"github.com/aegisgrc/aegis-oss/pkg/logging"
	"github.com/aegisgrc/aegis-oss/pkg/policy"
	"github.com/aegisgrc/aegis-oss/pkg/validation"
)

// resourceFixture is one resource entry in a --resources YAML file.
type resourceFixture struct {
	ID      string         `yaml:"id"`
	Type    string         `yaml:"type"`
	Context map[string]any `yaml:"context"`
}

type resourceFile struct {
	Resources []resourceFixture `yaml:"resources"`
}

// newValidateCmd creates the validate subcommand: evaluate a set of resources
// against a policy bundle directory and print a compliance report.
func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate resources against compliance policies",
		RunE:  runValidate,
	}

	cmd.Flags().StringP("policies", "p", "", "Directory of policy bundle YAML files")
	cmd.Flags().StringP("resources", "r", "", "YAML file listing resources to validate")
	cmd.Flags().Bool("classification", false, "Require data classification on data stores")
	_ = cmd.MarkFlagRequired("resources")

	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	logger := loggerFromFlags(cmd)

	policiesDir, _ := cmd.Flags().GetString("policies")
	resourcesPath, _ := cmd.Flags().GetString("resources")
	classify, _ := cmd.Flags().GetBool("classification")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	engine := policy.NewEngine(policy.EngineOptions{Logger: logger})
	if policiesDir != "" {
		if err := loadPolicies(ctx, engine, policiesDir, logger); err != nil {
			return err
		}
	}

	resources, evalCtxs, err := loadResources(resourcesPath)
	if err != nil {
		return err
	}

	orch := validation.NewOrchestrator(validation.OrchestratorOptions{
		Engine: engine,
		Logger: logger,
	})

	report := newReporter(cmd.OutOrStdout())
	for i, ref := range resources {
		result, valErr := orch.ValidateResource(ctx, ref.ID, ref.Type, evalCtxs[i], validation.Options{
			ValidateDataClassification: classify,
		})
		if valErr != nil {
			logger.Error("validation failed", "resource_id", ref.ID, "error", valErr)
			continue
		}
		report.result(result)
	}
	report.summary(orch.Statistics())

	return nil
}

// loadPolicies feeds every policy in the bundle directory into the engine.
// Individually invalid policies are logged and skipped.
func loadPolicies(ctx context.Context, engine *policy.Engine, dir string, logger *slog.Logger) error {
	provider, err := config.NewBundleProvider(dir, logger)
	if err != nil {
		return fmt.Errorf("failed to load policy bundles: %w", err)
	}
	defer func() { _ = provider.Close() }()

	snapshot := provider.CurrentSnapshot()
	for i := range snapshot.Policies {
		p := snapshot.Policies[i]
		if _, createErr := engine.CreatePolicy(ctx, &p, "bundle_loader"); createErr != nil {
			logger.Warn("skipping invalid policy", "policy", p.Name, "error", createErr)
		}
	}
	return nil
}

func loadResources(path string) ([]validation.ResourceRef, []domain.EvalContext, error) {
	//nolint:gosec // Resource file path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read resources file: %w", err)
	}

	var file resourceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("failed to parse resources file: %w", err)
	}
	if len(file.Resources) == 0 {
		return nil, nil, fmt.Errorf("resources file %s lists no resources", path)
	}

	refs := make([]validation.ResourceRef, 0, len(file.Resources))
	ctxs := make([]domain.EvalContext, 0, len(file.Resources))
	for _, fixture := range file.Resources {
		refs = append(refs, validation.ResourceRef{ID: fixture.ID, Type: fixture.Type})
		ctxs = append(ctxs, domain.EvalContext(fixture.Context))
	}
	return refs, ctxs, nil
}

func loggerFromFlags(cmd *cobra.Command) *slog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	pretty, _ := cmd.Flags().GetBool("pretty")
	logger := logging.NewLogger(logging.Config{Level: level, Pretty: pretty})
	slog.SetDefault(logger)
	return logger
}
