package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kfir-abbou/Dapr/internal/bus"
	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/internal/workflow"
	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/log"
)

type (
	// Service binds the message bus topics to the workflow engine and the
	// result store
	Service struct {
		config   *config.Config
		bus      *bus.Bus
		engine   Engine
		results  ResultStore
		observer Observer
		clock    func() time.Time
		ctx      context.Context
		cancel   context.CancelFunc
		wg       sync.WaitGroup
	}

	// Dependencies are the collaborators a Service is built from
	Dependencies struct {
		Bus      *bus.Bus
		Engine   Engine
		Results  ResultStore
		Observer Observer
		Clock    func() time.Time
	}

	// Engine schedules workflow instances and routes events to them
	Engine interface {
		Schedule(
			ctx context.Context, id api.InstanceID, kind api.WorkflowKind,
			input any,
		) error
		WaitForCompletion(
			ctx context.Context, id api.InstanceID,
		) (*api.WorkflowState, error)
		RaiseEvent(
			ctx context.Context, id api.InstanceID, name string, payload any,
		) error
		Resumed() []*api.WorkflowState
	}

	// ResultStore persists terminal batch results
	ResultStore interface {
		SaveBatchResult(ctx context.Context, res *api.BatchResult) error
	}

	// Observer is told how each batch ended
	Observer interface {
		BatchFinished(success bool, d time.Duration)
	}

	noopObserver struct{}
)

var (
	ErrMissingCorrelationID = errors.New("batch request missing correlation id")
	ErrMissingInstanceID    = errors.New("message missing workflow instance id")
	ErrNoOutput             = errors.New("workflow finished without output")
)

// New creates a service over the provided dependencies
func New(cfg *config.Config, deps Dependencies) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	observer := deps.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &Service{
		config:   cfg,
		bus:      deps.Bus,
		engine:   deps.Engine,
		results:  deps.Results,
		observer: observer,
		clock:    clock,
	}
}

// Start subscribes every handler to its topic and awaits the batches the
// engine resumed
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	t := s.config.Topics
	handlers := map[string]bus.Handler{
		t.BatchRequest:     s.handleBatchRequest,
		t.BatchResponse:    s.handleBatchResponse,
		t.RemoteComplete:   s.handleRemoteComplete,
		t.RemoteProgress:   s.handleRemoteProgress,
		t.WorkflowProgress: s.handleWorkflowProgress,
		t.SystemEvents:     s.handleSystemEvent,
	}
	for name, h := range handlers {
		if err := s.bus.Handle(s.ctx, name, h); err != nil {
			s.cancel()
			return err
		}
	}
	slog.Info("Message handlers subscribed",
		slog.Int("topics", len(handlers)))
	s.resumeBatches()
	return nil
}

// Stop cancels in-flight batch requests and waits for them to return
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Service) handleBatchRequest(ctx context.Context, m *bus.Message) error {
	var req api.BatchProcessRequest
	if err := m.Decode(&req); err != nil {
		return err
	}
	cid := api.SanitizeID(req.CorrelationID)
	if cid == "" {
		return ErrMissingCorrelationID
	}

	slog.Info("Batch request received",
		log.CorrelationID(cid),
		slog.String("requested_by", req.RequestedBy))

	id := api.BatchInstanceID(cid)
	err := s.schedule(ctx, id, &api.BatchOrchestratorInput{
		CorrelationID: cid,
		RequestedBy:   req.RequestedBy,
		StartedAt:     s.clock(),
	})
	s.track(cid, id, err)
	return nil
}

// resumeBatches awaits the batch instances the engine resumed at startup,
// whose requests were delivered to a previous process
func (s *Service) resumeBatches() {
	for _, st := range s.engine.Resumed() {
		if st.Kind != api.KindBatch {
			continue
		}
		var in api.BatchOrchestratorInput
		if err := json.Unmarshal(st.Input, &in); err != nil {
			slog.Error("Failed to decode resumed batch input",
				log.InstanceID(st.ID),
				log.Error(err))
			continue
		}
		slog.Info("Awaiting resumed batch",
			log.InstanceID(st.ID),
			log.CorrelationID(in.CorrelationID))
		s.track(in.CorrelationID, st.ID, nil)
	}
}

func (s *Service) schedule(
	ctx context.Context, id api.InstanceID, in *api.BatchOrchestratorInput,
) error {
	err := s.engine.Schedule(ctx, id, api.KindBatch, in)
	switch {
	case errors.Is(err, workflow.ErrWorkflowExists):
		slog.Warn("Batch already scheduled, awaiting its outcome",
			log.InstanceID(id))
		return nil
	case err != nil:
		return err
	default:
		slog.Info("Batch orchestrator scheduled",
			log.InstanceID(id),
			slog.String("approval_id",
				string(api.SubTaskID(api.SubTaskApproval, id))))
		return nil
	}
}

// track publishes the outcome of a batch instance once it finishes
func (s *Service) track(
	cid api.CorrelationID, id api.InstanceID, schedErr error,
) {
	started := s.clock()
	s.wg.Go(func() {
		res := s.batchResult(s.ctx, cid, id, started, schedErr)
		if s.ctx.Err() != nil {
			return
		}
		s.observer.BatchFinished(res.Success, res.TotalDuration)
		if err := s.bus.Publish(
			s.ctx, s.config.Topics.BatchResponse, res,
		); err != nil {
			slog.Error("Failed to publish batch response",
				log.CorrelationID(cid),
				log.Error(err))
			return
		}
		slog.Info("Batch response published",
			log.CorrelationID(cid),
			slog.Bool("success", res.Success),
			slog.Duration("duration", res.TotalDuration))
	})
}

// batchResult waits for the instance and summarizes it. The duration runs
// from the instance's creation when it is known
func (s *Service) batchResult(
	ctx context.Context, cid api.CorrelationID, id api.InstanceID,
	started time.Time, schedErr error,
) *api.BatchResult {
	res := &api.BatchResult{
		CorrelationID:   cid,
		WorkflowResults: []*api.WorkflowResultInfo{},
	}
	finish := func(err error) *api.BatchResult {
		res.CompletedAt = s.clock()
		res.TotalDuration = res.CompletedAt.Sub(started)
		if err != nil {
			slog.Error("Batch request failed",
				log.CorrelationID(cid),
				log.Error(err))
			res.Success = false
			res.Message = "Error: " + err.Error()
		}
		return res
	}

	if schedErr != nil {
		return finish(schedErr)
	}
	st, err := s.engine.WaitForCompletion(ctx, id)
	if err != nil {
		return finish(err)
	}
	if !st.CreatedAt.IsZero() {
		started = st.CreatedAt
	}

	out, err := batchOutput(st)
	if err != nil {
		return finish(err)
	}
	res.Success = out.Success
	res.Message = out.Message
	if out.Results != nil {
		res.WorkflowResults = out.Results
	}
	return finish(nil)
}

func batchOutput(st *api.WorkflowState) (*api.BatchOrchestratorOutput, error) {
	if st.Status == api.WorkflowFailed {
		return nil, errors.New(st.Error)
	}
	if len(st.Output) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoOutput, st.ID)
	}

	var out api.BatchOrchestratorOutput
	if err := json.Unmarshal(st.Output, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) handleBatchResponse(
	ctx context.Context, m *bus.Message,
) error {
	var res api.BatchResult
	if err := m.Decode(&res); err != nil {
		return err
	}
	if res.CorrelationID == "" {
		return ErrMissingCorrelationID
	}
	if err := s.results.SaveBatchResult(ctx, &res); err != nil {
		return err
	}
	slog.Info("Batch result stored",
		log.CorrelationID(res.CorrelationID),
		slog.Bool("success", res.Success))
	return nil
}

func (s *Service) handleRemoteComplete(
	ctx context.Context, m *bus.Message,
) error {
	var done api.RemoteComplete
	if err := m.Decode(&done); err != nil {
		return err
	}
	if done.WorkflowInstanceID == "" {
		return ErrMissingInstanceID
	}

	slog.Info("Remote processing complete",
		log.InstanceID(done.WorkflowInstanceID),
		log.CorrelationID(done.CorrelationID),
		slog.Bool("success", done.Success))

	return s.engine.RaiseEvent(ctx,
		done.WorkflowInstanceID, s.config.Events.RemoteComplete, done,
	)
}

func (s *Service) handleRemoteProgress(_ context.Context, m *bus.Message) error {
	r := gjson.GetManyBytes(m.Data,
		"workflowInstanceId", "stepName", "stepNumber", "totalSteps",
		"percentComplete",
	)
	slog.Info("Remote progress",
		log.InstanceID(r[0].String()),
		slog.String("step", r[1].String()),
		slog.Int64("step_number", r[2].Int()),
		slog.Int64("total_steps", r[3].Int()),
		slog.Int64("percent", r[4].Int()))
	return nil
}

func (s *Service) handleWorkflowProgress(
	_ context.Context, m *bus.Message,
) error {
	r := gjson.GetManyBytes(m.Data,
		"workflowInstanceId", "workflowName", "activityName",
		"percentComplete", "message",
	)
	slog.Debug("Workflow progress",
		log.InstanceID(r[0].String()),
		slog.String("workflow", r[1].String()),
		slog.String("activity", r[2].String()),
		slog.Int64("percent", r[3].Int()),
		slog.String("message", r[4].String()))
	return nil
}

func (s *Service) handleSystemEvent(_ context.Context, m *bus.Message) error {
	r := gjson.GetManyBytes(m.Data, "eventType", "previousState", "newState")
	slog.Info("System event",
		slog.String("event_type", r[0].String()),
		slog.String("from", r[1].String()),
		log.Status(r[2].String()))
	return nil
}

func (noopObserver) BatchFinished(bool, time.Duration) {}
