package workflows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/internal/workflow"
	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/log"
)

type branch func(
	*workflow.Context, *api.BatchOrchestratorInput,
) (*api.WorkflowResultInfo, error)

const (
	RemoteWorkflowName   = "ServiceC-DataProcessing"
	ApprovalWorkflowName = "Approval"

	AllSucceededMessage = "All workflows completed successfully"
)

var ErrBranchPanic = errors.New("batch branch panicked")

// Batch runs five branches concurrently and joins all of them. A failing
// branch never cancels its siblings; an unexpected fault is folded into a
// failed output carrying whatever results had settled
func Batch(cfg *config.Config, acts Activities) workflow.Runner {
	o := &orchestrator{config: cfg, acts: acts}
	return o.run
}

type orchestrator struct {
	config *config.Config
	acts   Activities
}

func (o *orchestrator) run(c *workflow.Context) (any, error) {
	var in api.BatchOrchestratorInput
	if err := c.Input(&in); err != nil {
		return failedOutput(err, nil), nil
	}

	slog.Info("Batch orchestrator started",
		log.InstanceID(c.ID()),
		log.CorrelationID(in.CorrelationID),
		slog.String("requested_by", in.RequestedBy),
		slog.String("approve_with", string(c.ID())))

	branches := []branch{
		o.remoteRoundTrip,
		o.delay("Validation", api.SubTaskValidation,
			o.config.Activities.ValidationDelay),
		o.delay("Enrichment", api.SubTaskEnrichment,
			o.config.Activities.EnrichmentDelay),
		o.delay("Notification", api.SubTaskNotification,
			o.config.Activities.NotificationDelay),
		o.approval,
	}

	results := make([]*api.WorkflowResultInfo, len(branches))
	var g errgroup.Group
	for i, b := range branches {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrBranchPanic, r)
				}
			}()
			res, err := b(c, &in)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()

	settled := make([]*api.WorkflowResultInfo, 0, len(results))
	for _, r := range results {
		if r != nil {
			settled = append(settled, r)
		}
	}

	if err != nil {
		if ctxErr := c.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Error("Batch orchestrator failed",
			log.InstanceID(c.ID()),
			log.Error(err))
		return failedOutput(err, settled), nil
	}

	out := aggregate(settled)
	slog.Info("Batch orchestrator finished",
		log.InstanceID(c.ID()),
		log.CorrelationID(in.CorrelationID),
		slog.Bool("success", out.Success),
		slog.String("message", out.Message))
	return out, nil
}

func (o *orchestrator) remoteRoundTrip(
	c *workflow.Context, in *api.BatchOrchestratorInput,
) (*api.WorkflowResultInfo, error) {
	id := api.SubTaskID(api.SubTaskRemote, c.ID())
	timeout := o.config.RemoteTimeout
	wait, err := c.ExpectEvent(o.config.Events.RemoteComplete, timeout)
	if err != nil {
		return nil, err
	}

	_, err = workflow.CallActivity(c, "remote-request",
		func(ctx context.Context) (*api.WorkflowResultInfo, error) {
			return o.acts.SendRemoteRequest(ctx, api.CorrelationEnvelope{
				CorrelationID:      in.CorrelationID,
				WorkflowInstanceID: c.ID(),
			})
		},
	)
	if err != nil {
		wait.Cancel()
		return nil, err
	}

	done, err := workflow.ResultAs[api.RemoteComplete](wait)
	if errors.Is(err, workflow.ErrWaitTimeout) {
		return &api.WorkflowResultInfo{
			WorkflowName: RemoteWorkflowName,
			InstanceID:   id,
			Success:      false,
			Message: fmt.Sprintf(
				"Remote timeout - no completion within %s minutes",
				minutes(timeout),
			),
			CompletedAt: c.Now(),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return &api.WorkflowResultInfo{
		WorkflowName: RemoteWorkflowName,
		InstanceID:   id,
		Success:      done.Success,
		Message:      done.Message,
		CompletedAt:  c.Now(),
	}, nil
}

func (o *orchestrator) delay(
	name, prefix string, d time.Duration,
) branch {
	return func(
		c *workflow.Context, _ *api.BatchOrchestratorInput,
	) (*api.WorkflowResultInfo, error) {
		return workflow.CallActivity(c, prefix,
			func(ctx context.Context) (*api.WorkflowResultInfo, error) {
				return o.acts.Delay(ctx, api.DelayInput{
					WorkflowName: name,
					Delay:        d,
					InstanceID:   api.SubTaskID(prefix, c.ID()),
				})
			},
		)
	}
}

func (o *orchestrator) approval(
	c *workflow.Context, _ *api.BatchOrchestratorInput,
) (*api.WorkflowResultInfo, error) {
	id := api.SubTaskID(api.SubTaskApproval, c.ID())
	timeout := o.config.ApprovalTimeout
	ev, err := workflow.WaitForEventAs[api.ApprovalEvent](
		c, o.config.Events.Approval, timeout,
	)
	if errors.Is(err, workflow.ErrWaitTimeout) {
		return &api.WorkflowResultInfo{
			WorkflowName: ApprovalWorkflowName,
			InstanceID:   id,
			Success:      false,
			Message: fmt.Sprintf(
				"Approval timeout - no response within %s minutes",
				minutes(timeout),
			),
			CompletedAt: c.Now(),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	verdict := "Rejected"
	if ev.IsApproved {
		verdict = "Approved"
	}
	msg := fmt.Sprintf("%s by %s", verdict, ev.ApprovedBy)
	if ev.Comments != "" {
		msg += ": " + ev.Comments
	}
	return &api.WorkflowResultInfo{
		WorkflowName: ApprovalWorkflowName,
		InstanceID:   id,
		Success:      ev.IsApproved,
		Message:      msg,
		CompletedAt:  c.Now(),
	}, nil
}

func aggregate(results []*api.WorkflowResultInfo) *api.BatchOrchestratorOutput {
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	if failed == 0 {
		return &api.BatchOrchestratorOutput{
			Success: true,
			Message: AllSucceededMessage,
			Results: results,
		}
	}
	return &api.BatchOrchestratorOutput{
		Success: false,
		Message: fmt.Sprintf("Some workflows failed (%d/%d)",
			failed, len(results)),
		Results: results,
	}
}

func failedOutput(
	err error, results []*api.WorkflowResultInfo,
) *api.BatchOrchestratorOutput {
	if results == nil {
		results = []*api.WorkflowResultInfo{}
	}
	return &api.BatchOrchestratorOutput{
		Success: false,
		Message: "Orchestrator failed: " + err.Error(),
		Results: results,
	}
}
