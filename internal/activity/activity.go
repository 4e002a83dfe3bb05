package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/log"
)

type (
	// Kind identifies an activity. The set is closed; every kind is bound
	// to its behavior at compile time
	Kind uint8

	// Publisher sends a payload to a named topic
	Publisher interface {
		Publish(ctx context.Context, topic string, payload any) error
	}

	// Executor performs activities and reports their progress
	Executor struct {
		pub    Publisher
		config *config.Config
		now    func() time.Time
	}

	setupStep struct {
		duration func(*config.ActivityConfig) time.Duration
		message  string
		finished string
	}
)

const (
	InitializeSystem Kind = iota
	ConfigureParameters
	ValidateConfiguration
	FinalizeSetup
	Delay
	SendRemoteRequest
)

const (
	SetupWorkflowName = string(api.KindSetup)
	RemoteRequestSent = "ServiceC-RequestSent"
	RemoteRequestedBy = "orchestrator"
)

var ErrNotSetupStep = errors.New("activity is not a setup step")

var kindNames = map[Kind]string{
	InitializeSystem:      "InitializeSystemActivity",
	ConfigureParameters:   "ConfigureParametersActivity",
	ValidateConfiguration: "ValidateConfigurationActivity",
	FinalizeSetup:         "FinalizeSetupActivity",
	Delay:                 "DelayActivity",
	SendRemoteRequest:     "SendRemoteRequestActivity",
}

var setupSteps = map[Kind]setupStep{
	InitializeSystem: {
		duration: func(c *config.ActivityConfig) time.Duration {
			return c.InitializeDuration
		},
		message:  "System initialized successfully",
		finished: "System initialized successfully",
	},
	ConfigureParameters: {
		duration: func(c *config.ActivityConfig) time.Duration {
			return c.ConfigureDuration
		},
		message:  "Parameters configured successfully",
		finished: "Parameters configured successfully",
	},
	ValidateConfiguration: {
		duration: func(c *config.ActivityConfig) time.Duration {
			return c.ValidateDuration
		},
		message:  "Configuration validated successfully",
		finished: "Configuration validated successfully",
	},
	FinalizeSetup: {
		duration: func(c *config.ActivityConfig) time.Duration {
			return c.FinalizeDuration
		},
		message:  "Setup finalized successfully",
		finished: "Setup finalized successfully - Workflow complete!",
	},
}

// SetupSequence is the fixed order of the setup workflow's steps
var SetupSequence = []Kind{
	InitializeSystem, ConfigureParameters, ValidateConfiguration, FinalizeSetup,
}

// New creates an activity executor publishing progress through pub
func New(cfg *config.Config, pub Publisher) *Executor {
	return &Executor{
		pub:    pub,
		config: cfg,
		now:    time.Now,
	}
}

// String returns the activity name
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// StartPercent is the progress reported when a setup step begins. The fixed
// offset assumes four steps; other totals can fall outside 0-100
func StartPercent(step, total int) int {
	return CompletePercent(step, total) - 25 + 5
}

// CompletePercent is the progress reported when a setup step ends
func CompletePercent(step, total int) int {
	if total <= 0 {
		return 0
	}
	return step * 100 / total
}

// Execute runs one step of the setup sequence. Setup steps always succeed
// once invoked; only cancellation of ctx interrupts them
func (x *Executor) Execute(
	ctx context.Context, kind Kind, in *api.ActivityInput,
) (*api.ActivityResult, error) {
	step, ok := setupSteps[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSetupStep, kind)
	}

	x.progress(ctx, in.WorkflowInstanceID, SetupWorkflowName, kind.String(),
		StartPercent(in.StepNumber, in.TotalSteps),
		"Starting: "+in.Description,
	)
	slog.Info("Activity started",
		log.Activity(kind.String()),
		log.InstanceID(in.WorkflowInstanceID),
		slog.String("description", in.Description))

	if err := sleep(ctx, step.duration(&x.config.Activities)); err != nil {
		return nil, err
	}

	x.progress(ctx, in.WorkflowInstanceID, SetupWorkflowName, kind.String(),
		CompletePercent(in.StepNumber, in.TotalSteps), step.finished,
	)

	return &api.ActivityResult{
		ActivityName: kind.String(),
		Success:      true,
		Message:      step.message,
		CompletedAt:  x.now(),
	}, nil
}

// Delay simulates work of a fixed duration, reporting fractional progress
// every max(MinProgressInterval, duration/4)
func (x *Executor) Delay(
	ctx context.Context, in api.DelayInput,
) (*api.WorkflowResultInfo, error) {
	start := x.now()
	slog.Info("Delay activity started",
		log.Activity(in.WorkflowName),
		log.InstanceID(in.InstanceID),
		slog.Duration("duration", in.Delay))

	interval := max(x.config.Activities.MinProgressInterval, in.Delay/4)
	if interval <= 0 {
		interval = in.Delay
	}
	var elapsed time.Duration
	for elapsed < in.Delay {
		step := min(interval, in.Delay-elapsed)
		if err := sleep(ctx, step); err != nil {
			return nil, err
		}
		elapsed += step

		pct := int(elapsed * 100 / in.Delay)
		x.progress(ctx, in.InstanceID, in.WorkflowName, Delay.String(), pct,
			fmt.Sprintf("%s progress: %d%% (%dms / %dms)", in.WorkflowName,
				pct, elapsed.Milliseconds(), in.Delay.Milliseconds()),
		)
	}

	end := x.now()
	actual := end.Sub(start)
	slog.Info("Delay activity completed",
		log.Activity(in.WorkflowName),
		log.InstanceID(in.InstanceID),
		slog.Duration("actual", actual))

	return &api.WorkflowResultInfo{
		WorkflowName: in.WorkflowName,
		InstanceID:   in.InstanceID,
		Success:      true,
		Message: fmt.Sprintf("%s completed after %dms",
			in.WorkflowName, actual.Milliseconds()),
		CompletedAt: end,
	}, nil
}

// SendRemoteRequest publishes a correlated request to the remote data
// processor. It succeeds as soon as the publish is accepted; completion is
// reported later through a separate event
func (x *Executor) SendRemoteRequest(
	ctx context.Context, env api.CorrelationEnvelope,
) (*api.WorkflowResultInfo, error) {
	req := &api.RemoteRequest{
		CorrelationEnvelope: env,
		RequestedBy:         RemoteRequestedBy,
		RequestedAt:         x.now(),
	}
	if err := x.pub.Publish(ctx, x.config.Topics.RemoteRequest, req); err != nil {
		return nil, err
	}

	slog.Info("Remote request published",
		log.CorrelationID(env.CorrelationID),
		log.InstanceID(env.WorkflowInstanceID),
		log.Topic(x.config.Topics.RemoteRequest))

	return &api.WorkflowResultInfo{
		WorkflowName: RemoteRequestSent,
		InstanceID:   env.WorkflowInstanceID,
		Success:      true,
		Message:      "Request sent, waiting for completion",
		CompletedAt:  x.now(),
	}, nil
}

func (x *Executor) progress(
	ctx context.Context, id api.InstanceID, workflow, activity string,
	pct int, msg string,
) {
	ev := &api.ProgressEvent{
		WorkflowInstanceID: id,
		WorkflowName:       workflow,
		ActivityName:       activity,
		PercentComplete:    pct,
		Message:            msg,
		Timestamp:          x.now(),
	}
	topic := x.config.Topics.WorkflowProgress
	if err := x.pub.Publish(ctx, topic, ev); err != nil {
		slog.Warn("Failed to publish progress",
			log.InstanceID(id),
			log.Topic(topic),
			log.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
