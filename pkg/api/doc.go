// Package api defines the shared data types of the orchestration service
//
// This package contains the system status model and its transition table,
// workflow instance state, activity inputs and results, batch requests and
// results, remote service envelopes, workflow history events, and HTTP
// messages
package api
