package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kfir-abbou/Dapr/internal/bus"
	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/log"
)

type (
	// Processor simulates the remote data processing service. It consumes
	// correlated requests, reports progress step by step, and publishes a
	// completion carrying the requester's correlation envelope
	Processor struct {
		config *config.Config
		bus    *bus.Bus
		clock  func() time.Time
		ctx    context.Context
		cancel context.CancelFunc
		wg     sync.WaitGroup
	}

	// Step is one named stage of remote processing
	Step struct {
		Name    string
		Units   int
		Message string
	}
)

// Steps are the stages every request runs through, in order
var Steps = []Step{
	{"LoadingData", 5, "Loading data from source systems"},
	{"ValidatingSchema", 4, "Validating data schema and formats"},
	{"TransformingData", 6, "Applying data transformations"},
	{"EnrichingRecords", 5, "Enriching records with external data"},
	{"AggregatingResults", 4, "Aggregating and summarizing results"},
	{"PersistingOutput", 3, "Persisting output to storage"},
}

var ErrMissingInstanceID = errors.New("remote request missing workflow instance id")

// New creates a processor publishing to b
func New(cfg *config.Config, b *bus.Bus) *Processor {
	return &Processor{
		config: cfg,
		bus:    b,
		clock:  time.Now,
	}
}

// Start subscribes to remote requests. Each request is processed in the
// background so requests never queue behind each other
func (p *Processor) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	return p.bus.Handle(p.ctx, p.config.Topics.RemoteRequest, p.handleRequest)
}

// Stop abandons in-flight requests and waits for them to return
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Processor) handleRequest(_ context.Context, m *bus.Message) error {
	var req api.RemoteRequest
	if err := m.Decode(&req); err != nil {
		return err
	}
	if req.WorkflowInstanceID == "" {
		return ErrMissingInstanceID
	}
	if req.RequestedBy == "" {
		req.RequestedBy = "Unknown"
	}

	slog.Info("Remote request accepted",
		log.CorrelationID(req.CorrelationID),
		log.InstanceID(req.WorkflowInstanceID),
		slog.String("requested_by", req.RequestedBy),
		slog.Int("total_steps", len(Steps)))

	p.wg.Go(func() {
		p.Process(p.ctx, &req)
	})
	return nil
}

// Process runs every step for req and publishes the completion. Nothing is
// published when ctx ends first
func (p *Processor) Process(ctx context.Context, req *api.RemoteRequest) {
	start := p.clock()
	err := p.runSteps(ctx, req)
	if ctx.Err() != nil {
		slog.Warn("Remote processing abandoned",
			log.InstanceID(req.WorkflowInstanceID),
			log.Error(ctx.Err()))
		return
	}

	done := &api.RemoteComplete{
		CorrelationEnvelope: req.CorrelationEnvelope,
		Success:             true,
		Message: fmt.Sprintf(
			"All %d steps completed successfully", len(Steps),
		),
	}
	if err != nil {
		done.Success = false
		done.Message = "Processing failed: " + err.Error()
	}
	done.CompletedAt = p.clock()
	done.TotalDurationSeconds = done.CompletedAt.Sub(start).Seconds()

	topic := p.config.Topics.RemoteComplete
	if err := p.bus.Publish(ctx, topic, done); err != nil {
		slog.Error("Failed to publish remote completion",
			log.InstanceID(req.WorkflowInstanceID),
			log.Topic(topic),
			log.Error(err))
		return
	}
	slog.Info("Remote processing finished",
		log.CorrelationID(req.CorrelationID),
		log.InstanceID(req.WorkflowInstanceID),
		slog.Bool("success", done.Success),
		slog.Float64("duration_seconds", done.TotalDurationSeconds))
}

func (p *Processor) runSteps(ctx context.Context, req *api.RemoteRequest) error {
	total := len(Steps)
	intervals := max(p.config.Remote.Intervals, 1)

	for i, s := range Steps {
		n := i + 1
		if err := p.progress(ctx, req, s, n,
			i*100/total, "Starting: "+s.Message,
		); err != nil {
			return err
		}

		slice := p.config.Remote.StepUnit * time.Duration(s.Units) /
			time.Duration(intervals)
		for j := 1; j <= intervals; j++ {
			if err := sleep(ctx, slice); err != nil {
				return err
			}
			if j == intervals {
				break
			}
			pct := (i*intervals + j) * 100 / (total * intervals)
			if err := p.progress(ctx, req, s, n, pct,
				fmt.Sprintf("Processing: %s (%d%%)",
					s.Message, j*100/intervals),
			); err != nil {
				return err
			}
		}

		if err := p.progress(ctx, req, s, n,
			n*100/total, "Completed: "+s.Message,
		); err != nil {
			return err
		}
		slog.Debug("Remote step completed",
			log.InstanceID(req.WorkflowInstanceID),
			slog.String("step", s.Name),
			slog.Int("step_number", n))
	}
	return nil
}

func (p *Processor) progress(
	ctx context.Context, req *api.RemoteRequest, s Step, n, pct int,
	msg string,
) error {
	return p.bus.Publish(ctx, p.config.Topics.RemoteProgress,
		&api.RemoteProgress{
			CorrelationEnvelope: req.CorrelationEnvelope,
			StepName:            s.Name,
			StepNumber:          n,
			TotalSteps:          len(Steps),
			PercentComplete:     pct,
			Message:             msg,
			Timestamp:           p.clock(),
		},
	)
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
