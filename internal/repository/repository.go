// Package repository defines the document-repository contracts the
// scenario executor depends on plus a Mongo-backed implementation: a thin
// interface over the driver, constructed via an Options struct, with
// required-field validation and a withTimeout helper around every
// operation.
package repository

import (
	"context"
	"errors"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/ctxval"
)

// Step is the persisted shape of one scenario step.
type Step struct {
	ID       string
	Type     string
	Params   ctxval.Map
	NextStep any
	Branches []Branch
}

// Branch is one (condition, next_step) pair of a branch step. NextStep is
// a step id (string) or step index (numeric), like Step.NextStep.
type Branch struct {
	Condition string
	NextStep  any
}

// Scenario is the persisted scenario document.
type Scenario struct {
	ScenarioID      string
	Name            string
	Version         string
	Description     string
	InitialContext  ctxval.Map
	Steps           []Step
	RequiredPlugins []string
}

// Agent is the persisted agent document.
type Agent struct {
	ID             string
	ScenarioID     string
	Plugins        []string
	Settings       ctxval.Map
	InitialContext ctxval.Map
}

// ErrNotFound is returned by lookups with no matching document.
var ErrNotFound = errors.New("repository: not found")

// ScenarioRepository loads Scenario documents by id.
type ScenarioRepository interface {
	GetByID(ctx context.Context, id string) (*Scenario, error)
}

// AgentRepository loads Agent documents by id.
type AgentRepository interface {
	GetByID(ctx context.Context, id string) (*Agent, error)
}
