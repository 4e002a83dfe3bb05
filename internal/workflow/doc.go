// Package workflow is a small durable workflow engine. Instances are event
// sourced aggregates whose history records every activity result and every
// external event wait, and a Context replays that history so a workflow
// body resumes after a restart without repeating side effects
package workflow
