package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

// WorkflowNotifier starts a Cloud Workflows execution after every run so
// downstream indexing can pick up the new artifacts.
type WorkflowNotifier struct {
	client   *executions.Client
	workflow string
	logger   *slog.Logger
}

// NewWorkflowNotifier accepts either a full workflow resource name or a bare
// workflow ID, which is resolved against projectID and location.
func NewWorkflowNotifier(ctx context.Context, projectID, location, workflow string, logger *slog.Logger, opts ...option.ClientOption) (*WorkflowNotifier, error) {
	name, err := workflowName(projectID, location, workflow)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := executions.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowNotifier{client: client, workflow: name, logger: logger}, nil
}

func (n *WorkflowNotifier) Close() error {
	return n.client.Close()
}

// Publish triggers the workflow with a summary of report as its argument.
func (n *WorkflowNotifier) Publish(ctx context.Context, report models.RunReport) error {
	logCtx := n.logger.With("workflow", n.workflow, "runId", report.RunID)
	logCtx.Info("Triggering workflow.")

	req, err := executionRequest(n.workflow, report)
	if err != nil {
		return err
	}
	exec, err := n.client.CreateExecution(ctx, req)
	if err != nil {
		logCtx.Error("Failed to trigger workflow execution", "error", err)
		return fmt.Errorf("%w: failed to trigger workflow execution: %w", models.ErrAPI, err)
	}
	logCtx.Info("Workflow triggered.", "execution", exec.GetName())
	return nil
}

func executionRequest(workflow string, report models.RunReport) (*executionspb.CreateExecutionRequest, error) {
	processed, skipped, failed := report.Totals()
	workflowPayload := map[string]interface{}{
		"runId":       report.RunID,
		"rootDir":     report.RootDir,
		"processed":   processed,
		"skipped":     skipped,
		"failed":      failed,
		"interrupted": report.Interrupted,
	}
	payloadBytes, err := json.Marshal(workflowPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	return &executionspb.CreateExecutionRequest{
		Parent: workflow,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}, nil
}

func workflowName(projectID, location, workflow string) (string, error) {
	if strings.HasPrefix(workflow, "projects/") {
		return workflow, nil
	}
	if projectID == "" || location == "" || workflow == "" {
		return "", fmt.Errorf("workflow notifier needs a project, location and workflow ID")
	}
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflow), nil
}
