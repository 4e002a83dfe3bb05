package dapr

const (
	// Name identifies the orchestration service in logs and health output
	Name = "setup-orchestrator"

	// Version is overridden at build time
	Version = "0.1.0"
)
