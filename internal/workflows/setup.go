package workflows

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kfir-abbou/Dapr/internal/activity"
	"github.com/kfir-abbou/Dapr/internal/workflow"
	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/log"
)

var setupDescriptions = map[activity.Kind]string{
	activity.InitializeSystem:      "Starting system initialization",
	activity.ConfigureParameters:   "Configuring system parameters",
	activity.ValidateConfiguration: "Validating configuration",
	activity.FinalizeSetup:         "Finalizing setup",
}

// Setup runs the four setup steps in order. A step that cannot be executed
// fails the whole instance
func Setup(acts Activities) workflow.Runner {
	return func(c *workflow.Context) (any, error) {
		total := len(activity.SetupSequence)
		results := make([]*api.ActivityResult, 0, total)

		for i, kind := range activity.SetupSequence {
			in := &api.ActivityInput{
				WorkflowInstanceID: c.ID(),
				Description:        setupDescriptions[kind],
				StepNumber:         i + 1,
				TotalSteps:         total,
			}
			res, err := workflow.CallActivity(c, kind.String(),
				func(ctx context.Context) (*api.ActivityResult, error) {
					return acts.Execute(ctx, kind, in)
				},
			)
			if err != nil {
				return nil, err
			}
			results = append(results, res)
		}

		slog.Info("Setup sequence finished",
			log.InstanceID(c.ID()),
			slog.Int("activities", len(results)))
		return fmt.Sprintf(
			"Setup completed successfully. %d activities executed.",
			len(results),
		), nil
	}
}
