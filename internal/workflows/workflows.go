package workflows

import (
	"context"
	"strconv"
	"time"

	"github.com/kfir-abbou/Dapr/internal/activity"
	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/internal/workflow"
	"github.com/kfir-abbou/Dapr/pkg/api"
)

// Activities performs the units of work the workflows are built from
type Activities interface {
	Execute(
		context.Context, activity.Kind, *api.ActivityInput,
	) (*api.ActivityResult, error)
	Delay(context.Context, api.DelayInput) (*api.WorkflowResultInfo, error)
	SendRemoteRequest(
		context.Context, api.CorrelationEnvelope,
	) (*api.WorkflowResultInfo, error)
}

// Runners binds every workflow kind to its body
func Runners(
	cfg *config.Config, acts Activities,
) map[api.WorkflowKind]workflow.Runner {
	return map[api.WorkflowKind]workflow.Runner{
		api.KindSetup: Setup(acts),
		api.KindBatch: Batch(cfg, acts),
	}
}

func minutes(d time.Duration) string {
	return strconv.FormatFloat(d.Minutes(), 'f', -1, 64)
}
