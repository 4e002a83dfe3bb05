// Package server implements the HTTP API of the orchestration service
//
// It exposes the shared status machine, starts batches by publishing to the
// message bus, delivers approvals to waiting workflows, and streams bus
// traffic to WebSocket clients
package server
