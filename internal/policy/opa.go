// Package policy decides whether an actor may change a document.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/af-corp/inkwell/internal/config"
	"github.com/af-corp/inkwell/internal/types"
)

//go:embed default.rego
var defaultPolicy string

const query = "[data.inkwell.authz.allow, data.inkwell.authz.reason]"

// Checker answers capability questions for the suggestion lifecycle and
// history reverts.
type Checker interface {
	CanEdit(ctx context.Context, actor types.Actor, doc *types.Document) (bool, error)
}

// Input is the document sent to OPA for evaluation.
type Input struct {
	Action   string        `json:"action"`
	Actor    InputActor    `json:"actor"`
	Document InputDocument `json:"document"`
}

type InputActor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

type InputDocument struct {
	ID      string   `json:"id"`
	OwnerID string   `json:"owner_id"`
	Editors []string `json:"editors"`
}

// Evaluator implements Checker with a prepared Rego query.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	timeout  time.Duration
}

// NewEvaluator creates an evaluator. Call Load or LoadFromModules before use.
func NewEvaluator(cfg config.PolicyConfig) *Evaluator {
	timeout := cfg.EvaluationTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	return &Evaluator{timeout: timeout}
}

// Load compiles the .rego files under dir, or the built-in policy when dir
// is empty.
func (e *Evaluator) Load(dir string) error {
	if dir == "" {
		return e.LoadFromModules(map[string]string{"default.rego": defaultPolicy})
	}
	modules, err := LoadRegoFiles(dir)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		slog.Warn("no rego files found, using built-in policy", "path", dir)
		modules = map[string]string{"default.rego": defaultPolicy}
	}
	if err := e.LoadFromModules(modules); err != nil {
		return err
	}
	slog.Info("opa policies loaded", "modules", len(modules), "path", dir)
	return nil
}

// LoadFromModules compiles policies from module sources keyed by file name.
func (e *Evaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(query)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate runs the policy and returns the decision with its reason.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) (bool, string, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		// fail closed
		return false, "no policies loaded", nil
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, "policy evaluation error", fmt.Errorf("evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result", nil
	}

	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}
	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return allowed, reason, nil
}

// CanEdit implements Checker.
func (e *Evaluator) CanEdit(ctx context.Context, actor types.Actor, doc *types.Document) (bool, error) {
	roles := actor.Roles
	if roles == nil {
		roles = []string{}
	}
	editors := doc.Editors
	if editors == nil {
		editors = []string{}
	}
	allowed, reason, err := e.Evaluate(ctx, Input{
		Action:   "edit",
		Actor:    InputActor{ID: actor.ID, Roles: roles},
		Document: InputDocument{ID: doc.ID, OwnerID: doc.OwnerID, Editors: editors},
	})
	if err != nil {
		slog.Error("policy evaluation failed", "error", err, "document_id", doc.ID, "actor", actor.ID)
		return false, err
	}
	if !allowed {
		slog.Debug("edit denied by policy", "document_id", doc.ID, "actor", actor.ID, "reason", reason)
	}
	return allowed, nil
}

// Static is a Checker with a fixed answer.
type Static bool

func (s Static) CanEdit(context.Context, types.Actor, *types.Document) (bool, error) {
	return bool(s), nil
}
