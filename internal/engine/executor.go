// Package engine walks a flow definition: it resolves node inputs against the
// execution context, dispatches each node to its activity handler, routes
// along typed transitions, and emits one audit event per node plus the run's
// lifecycle events.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/flowmesh/flowmesh/internal/activity"
	"github.com/flowmesh/flowmesh/internal/audit"
	"github.com/flowmesh/flowmesh/internal/flow"
	"github.com/flowmesh/flowmesh/internal/secret"
)

// defaultRetryInterval is used when a retry policy carries no parseable
// interval.
const defaultRetryInterval = 2 * time.Second

// Executor runs flow definitions. It is stateless across runs and safe for
// concurrent use; all per-run state lives in the ExecutionContext.
type Executor struct {
	registry *activity.Registry
	emitter  audit.Emitter
	secrets  secret.Resolver
	log      *logrus.Entry
}

// New wires an executor. emitter and secrets may be audit.NopEmitter{} and
// secret.NopResolver{} when the bus or config DB are not configured.
func New(registry *activity.Registry, emitter audit.Emitter, secrets secret.Resolver) *Executor {
	return &Executor{
		registry: registry,
		emitter:  emitter,
		secrets:  secrets,
		log:      logrus.WithField("component", "engine"),
	}
}

// Execute runs proc end to end with triggerData as the run's trigger payload.
// The returned context is populated even when err is non-nil, so callers can
// inspect partial results.
func (e *Executor) Execute(ctx context.Context, proc *flow.Process, triggerData map[string]interface{}) (*flow.ExecutionContext, error) {
	run := flow.NewExecutionContext(uuid.New().String(), proc.Definition.ID)
	if triggerData == nil {
		triggerData = map[string]interface{}{}
	}
	run.SetTriggerData(triggerData)

	e.emitLifecycle(run, audit.NodeTypeProcess, "started", nil)
	err := e.walk(ctx, proc, run)
	if err != nil {
		e.emitLifecycle(run, audit.NodeTypeLifecycle, "failed", err)
		return run, err
	}
	e.emitLifecycle(run, audit.NodeTypeLifecycle, "completed", nil)
	return run, nil
}

// ExecuteFromJSON parses a raw DSL document and runs it. Used by the ad-hoc
// execution API and the command line runner.
func (e *Executor) ExecuteFromJSON(ctx context.Context, dsl []byte, triggerData map[string]interface{}) (*flow.ExecutionContext, error) {
	proc, err := flow.ParseProcess(dsl)
	if err != nil {
		return nil, fmt.Errorf("engine: parse DSL: %w", err)
	}
	return e.Execute(ctx, proc, triggerData)
}

// ExecuteFromNode replays a run from startNodeID: the node itself is not
// re-executed, its recorded output is injected with status "replayed", and
// execution continues along the node's outgoing routes. executionID may be
// empty, in which case a fresh one is minted.
func (e *Executor) ExecuteFromNode(ctx context.Context, proc *flow.Process, startNodeID string, output map[string]interface{}, executionID string) (*flow.ExecutionContext, error) {
	if executionID == "" {
		executionID = uuid.New().String()
	}
	run := flow.NewExecutionContext(executionID, proc.Definition.ID)

	w := newWalker(e, proc, run)
	start, ok := w.nodes[startNodeID]
	if !ok {
		return run, fmt.Errorf("engine: replay node %q not found in process %q", startNodeID, proc.Definition.ID)
	}

	run.SetNodeOutput(startNodeID, output)
	run.SetNodeStatus(startNodeID, flow.StatusReplayed)
	w.visited[startNodeID] = true
	e.emitNodeEvent(run, start, nil, output, flow.StatusReplayed, nil)

	e.emitLifecycle(run, audit.NodeTypeProcess, "started", nil)
	if err := w.routeOnward(ctx, start); err != nil {
		e.emitLifecycle(run, audit.NodeTypeLifecycle, "failed", err)
		return run, err
	}
	e.emitLifecycle(run, audit.NodeTypeLifecycle, "replayed", nil)
	return run, nil
}

// walk picks the execution mode. A definition with neither transitions nor
// next links runs its nodes in listed order; anything else is a graph walk
// from the start nodes.
func (e *Executor) walk(ctx context.Context, proc *flow.Process, run *flow.ExecutionContext) error {
	w := newWalker(e, proc, run)

	if len(proc.Transitions) == 0 && !w.hasNextLinks {
		for i := range proc.Nodes {
			node := &proc.Nodes[i]
			w.visited[node.ID] = true
			if err := w.runNode(ctx, node); err != nil {
				return err
			}
		}
		return nil
	}

	starts := w.startNodes()
	if len(starts) == 0 {
		return fmt.Errorf("engine: process %q has no start node", proc.Definition.ID)
	}
	for _, node := range starts {
		if err := w.visit(ctx, node); err != nil {
			return err
		}
	}
	return nil
}

// emitLifecycle publishes a run-level event. The started event carries the
// trigger payload as input; terminal events carry the run error, if any.
func (e *Executor) emitLifecycle(run *flow.ExecutionContext, nodeType, status string, runErr error) {
	ev := audit.Event{
		ExecutionID: run.ExecutionID,
		FlowID:      run.ProcessID,
		NodeID:      run.ProcessID,
		NodeType:    nodeType,
		Status:      status,
	}
	if nodeType == audit.NodeTypeProcess {
		ev.Input = run.Trigger
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	e.emitter.Emit(ev)
}

func (e *Executor) emitNodeEvent(run *flow.ExecutionContext, node *flow.Node, input, output map[string]interface{}, status string, nodeErr error) {
	ev := audit.Event{
		ExecutionID: run.ExecutionID,
		FlowID:      run.ProcessID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      status,
		Input:       input,
		Output:      output,
	}
	if nodeErr != nil {
		ev.Error = nodeErr.Error()
	}
	e.emitter.Emit(ev)
}

// walker is the per-run traversal state.
type walker struct {
	exec         *Executor
	proc         *flow.Process
	run          *flow.ExecutionContext
	nodes        map[string]*flow.Node
	outgoing     map[string][]flow.Transition
	visited      map[string]bool
	hasNextLinks bool
}

func newWalker(e *Executor, proc *flow.Process, run *flow.ExecutionContext) *walker {
	w := &walker{
		exec:     e,
		proc:     proc,
		run:      run,
		nodes:    make(map[string]*flow.Node, len(proc.Nodes)),
		outgoing: map[string][]flow.Transition{},
		visited:  map[string]bool{},
	}
	for i := range proc.Nodes {
		node := &proc.Nodes[i]
		w.nodes[node.ID] = node
		if len(node.Next) > 0 {
			w.hasNextLinks = true
		}
	}
	for _, t := range proc.Transitions {
		w.outgoing[t.From] = append(w.outgoing[t.From], t)
	}
	return w
}

// startNodes returns the nodes with no incoming transition from another
// node. Edges originating at the trigger do not count as incoming: a node
// wired only to the trigger is still a start node.
func (w *walker) startNodes() []*flow.Node {
	incoming := map[string]bool{}
	for _, t := range w.proc.Transitions {
		if _, fromIsNode := w.nodes[t.From]; fromIsNode {
			incoming[t.To] = true
		}
	}
	for _, node := range w.nodes {
		for _, next := range node.Next {
			incoming[next] = true
		}
	}

	var starts []*flow.Node
	for i := range w.proc.Nodes {
		node := &w.proc.Nodes[i]
		if !incoming[node.ID] {
			starts = append(starts, node)
		}
	}
	return starts
}

// visit executes node and recurses along its outgoing routes. Re-entering a
// visited node means the definition has a cycle, which aborts the run.
func (w *walker) visit(ctx context.Context, node *flow.Node) error {
	if w.visited[node.ID] {
		return fmt.Errorf("engine: cycle detected at node %q", node.ID)
	}
	w.visited[node.ID] = true

	nodeErr := w.runNode(ctx, node)
	if nodeErr != nil {
		errorTargets := w.targets(node, flow.TransitionError)
		if len(errorTargets) == 0 {
			return nodeErr
		}
		for _, target := range errorTargets {
			if err := w.visit(ctx, target); err != nil {
				return err
			}
		}
		return nil
	}

	return w.routeOnward(ctx, node)
}

// routeOnward follows a successful (or replayed) node's outgoing routes.
// Condition edges are an exclusive choice: the first one whose expression
// holds wins, nocondition edges are the collective else-branch, and when any
// of either kind is present the plain success edges are ignored. A node with
// no conditional edges continues down every success edge, or down its legacy
// next links when it has no transitions at all.
func (w *walker) routeOnward(ctx context.Context, node *flow.Node) error {
	var conditions, noconditions, successes []flow.Transition
	for _, t := range w.outgoing[node.ID] {
		switch t.Type {
		case flow.TransitionCondition:
			conditions = append(conditions, t)
		case flow.TransitionNoCondition:
			noconditions = append(noconditions, t)
		case flow.TransitionSuccess, "":
			successes = append(successes, t)
		}
	}

	if len(conditions) > 0 || len(noconditions) > 0 {
		for _, t := range conditions {
			if evaluateCondition(t.Condition, w.run, w.exec.log) {
				return w.visitTarget(ctx, t.To)
			}
		}
		for _, t := range noconditions {
			if err := w.visitTarget(ctx, t.To); err != nil {
				return err
			}
		}
		return nil
	}

	if len(successes) > 0 {
		for _, t := range successes {
			if err := w.visitTarget(ctx, t.To); err != nil {
				return err
			}
		}
		return nil
	}

	for _, next := range node.Next {
		if err := w.visitTarget(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) visitTarget(ctx context.Context, id string) error {
	target, ok := w.nodes[id]
	if !ok {
		return fmt.Errorf("engine: transition target %q is not a node", id)
	}
	return w.visit(ctx, target)
}

// targets resolves the destinations of node's outgoing edges of one type.
func (w *walker) targets(node *flow.Node, transitionType string) []*flow.Node {
	var out []*flow.Node
	for _, t := range w.outgoing[node.ID] {
		if t.Type != transitionType {
			continue
		}
		if target, ok := w.nodes[t.To]; ok {
			out = append(out, target)
		}
	}
	return out
}

// runNode executes a single node: input resolution, config preparation,
// handler dispatch with retries, context bookkeeping, and the audit event.
// The returned error is the node's soft failure, to be absorbed by error
// edges; it never carries secret material.
func (w *walker) runNode(ctx context.Context, node *flow.Node) error {
	log := w.exec.log.WithFields(logrus.Fields{
		"execution_id": w.run.ExecutionID,
		"node":         node.ID,
		"type":         node.Type,
	})

	// an errored node records only its status; the error string goes to the
	// audit event, so $.nodes.<id>.output stays unresolvable downstream
	fail := func(input map[string]interface{}, err error) error {
		log.WithError(err).Warn("node failed")
		w.run.SetNodeStatus(node.ID, flow.StatusError)
		w.exec.emitNodeEvent(w.run, node, input, nil, flow.StatusError, err)
		return err
	}

	input, err := w.run.ResolveInputMapping(node.InputMapping)
	if err != nil {
		return fail(nil, fmt.Errorf("resolve input mapping: %w", err))
	}

	config, err := w.nodeConfig(ctx, node)
	if err != nil {
		return fail(input, err)
	}

	handler, ok := w.exec.registry.Get(node.Type)
	if !ok {
		return fail(input, fmt.Errorf("unknown activity type %q", node.Type))
	}

	output, err := w.executeWithRetry(node, handler, input, config, log)
	if err != nil {
		return fail(input, err)
	}

	w.run.SetNodeOutput(node.ID, output)
	w.run.SetNodeStatus(node.ID, flow.StatusSuccess)
	w.exec.emitNodeEvent(w.run, node, input, output, flow.StatusSuccess, nil)
	log.Debug("node completed")
	return nil
}

// nodeConfig clones the node's config and layers in the inline script and the
// resolved secret. The clone keeps secret material out of the shared
// definition and out of later runs.
func (w *walker) nodeConfig(ctx context.Context, node *flow.Node) (map[string]interface{}, error) {
	config := make(map[string]interface{}, len(node.Config)+2)
	for k, v := range node.Config {
		config[k] = v
	}

	if node.Script != "" {
		config["script"] = node.Script
	}

	if node.SecretRef != "" {
		values, err := w.exec.secrets.Resolve(ctx, node.SecretRef)
		if err != nil {
			return nil, fmt.Errorf("resolve secret %q: %w", node.SecretRef, err)
		}
		for k, v := range values {
			config[k] = v
		}
	}
	return config, nil
}

// executeWithRetry dispatches to the handler under the node's retry policy.
// Without a policy a node runs exactly once. Intervals are fixed; an
// unparseable interval falls back to defaultRetryInterval.
func (w *walker) executeWithRetry(node *flow.Node, handler activity.Handler, input, config map[string]interface{}, log *logrus.Entry) (map[string]interface{}, error) {
	attempts := 1
	interval := defaultRetryInterval
	if p := node.RetryPolicy; p != nil {
		if p.MaxAttempts > 1 {
			attempts = p.MaxAttempts
		}
		if p.Interval != "" {
			if d, err := time.ParseDuration(p.Interval); err == nil && d > 0 {
				interval = d
			}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		output, err := handler.Execute(input, config, w.run)
		if err == nil {
			return output, nil
		}
		lastErr = err
		if attempt < attempts {
			log.WithError(err).WithField("attempt", attempt).Warn("node attempt failed, retrying")
			time.Sleep(interval)
		}
	}
	return nil, lastErr
}
