package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/followup/pkg/actions"
	"github.com/dukex/followup/pkg/events"
	"github.com/dukex/followup/pkg/log"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/otelhelper"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/dukex/followup/pkg/workflow"
	"go.opentelemetry.io/otel/attribute"
)

// AdvanceResult is the outcome of one Advance call. It is returned for every call, including rejected ones.
type AdvanceResult struct {
	ExecutionID        string                 `json:"execution_id"`
	Success            bool                   `json:"success"`
	Status             models.ExecutionStatus `json:"status"`
	CurrentActionIndex int                    `json:"current_action_index"`
	NextScheduledAt    *time.Time             `json:"next_scheduled_at,omitempty"`
	Error              string                 `json:"error,omitempty"`
}

// Advance claims a due PENDING or RETRYING execution and runs its program from the checkpoint until
// the execution completes, fails, waits on a delay or a retry, or is cancelled. The checkpoint is
// persisted after every instruction, so calling Advance again after a crash resumes where it stopped.
//
// Success is false when the call was rejected, when the engine hit an error, or when the execution
// ended FAILED. Panics outside action handlers are recovered and reported as ErrAdvancePanicked.
func (e *Engine) Advance(ctx context.Context, executionID string) (result AdvanceResult, err error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.advance",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	)
	defer span.End()

	result.ExecutionID = executionID

	var r *run

	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.ErrorContext(ctx, "advance panicked", "execution_id", executionID, "panic", recovered)

			err = fmt.Errorf("%w: %v", ErrAdvancePanicked, recovered)
		}

		if r != nil {
			result = r.result()
		}

		result.Success = err == nil && result.Status != models.ExecutionStatusFailed

		if err != nil {
			result.Error = err.Error()

			otelhelper.SetError(span, err)
		}

		span.SetAttributes(attribute.String(otelhelper.ExecutionStatusKey, string(result.Status)))
	}()

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return result, err
	}

	r = e.newRun(execution)

	if execution.Status != models.ExecutionStatusPending && execution.Status != models.ExecutionStatusRetrying {
		return result, fmt.Errorf("%w: status %s", ErrNotRunnable, execution.Status)
	}

	if !execution.IsDue(e.now()) {
		return result, fmt.Errorf("%w: resumes at %s", ErrNotDue, execution.NextScheduledAt.Format(time.RFC3339))
	}

	span.SetAttributes(
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.EntityIDKey, execution.EntityID),
	)

	return result, r.advance(ctx)
}

// run carries one execution through one Advance call.
type run struct {
	engine    *Engine
	execution *models.Execution
	lifecycle *lifecycle
	program   *workflow.Program
	logger    *slog.Logger
}

func (e *Engine) newRun(execution *models.Execution) *run {
	return &run{
		engine:    e,
		execution: execution,
		lifecycle: newLifecycle(execution),
		logger: e.logger.With(
			"execution_id", execution.ID,
			"workflow_id", execution.WorkflowID,
			"entity_id", execution.EntityID,
		),
	}
}

func (r *run) result() AdvanceResult {
	result := AdvanceResult{
		ExecutionID:        r.execution.ID,
		Status:             r.execution.Status,
		CurrentActionIndex: r.execution.CurrentActionIndex,
		Error:              r.execution.LastError,
	}

	if !r.execution.Status.IsTerminal() && r.execution.Status != models.ExecutionStatusRunning {
		next := r.execution.NextScheduledAt
		result.NextScheduledAt = &next
	}

	return result
}

func (r *run) advance(ctx context.Context) error {
	err := r.lifecycle.fire(ctx, triggerClaim)
	if err != nil {
		return err
	}

	if r.execution.StartedAt == nil {
		now := r.engine.now()
		r.execution.StartedAt = &now
	}

	err = r.save(ctx)
	if err != nil {
		return fmt.Errorf("failed to claim execution: %w", err)
	}

	ready, err := r.prepare(ctx)
	if err != nil || !ready {
		return err
	}

	for r.execution.CurrentActionIndex < r.program.Len() {
		cancelled, err := r.cancelled(ctx)
		if err != nil || cancelled {
			return err
		}

		instruction, _ := r.program.At(r.execution.CurrentActionIndex)

		stop, err := r.step(ctx, instruction)
		if err != nil {
			return r.lostRace(ctx, err)
		}

		if stop {
			return nil
		}
	}

	return r.lostRace(ctx, r.complete(ctx))
}

// lostRace swallows a save conflict caused by a cancel that landed while an action was running.
func (r *run) lostRace(ctx context.Context, err error) error {
	if !persistence.IsConcurrentUpdate(err) {
		return err
	}

	cancelled, checkErr := r.cancelled(ctx)
	if checkErr == nil && cancelled {
		return nil
	}

	return err
}

// prepare loads the program and rebuilds the context from current entity state.
// It returns false when the execution was failed instead.
func (r *run) prepare(ctx context.Context) (bool, error) {
	wf, err := r.engine.workflows.GetByID(ctx, r.execution.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return false, r.fail(ctx, err.Error())
		}

		return false, err
	}

	// The checkpoint indexes the program compiled at creation; it is meaningless in another revision.
	if r.execution.WorkflowVersion != 0 && wf.Version != r.execution.WorkflowVersion {
		return false, r.fail(ctx, fmt.Sprintf("%v: created with version %d, workflow is at version %d",
			ErrWorkflowVersionChanged, r.execution.WorkflowVersion, wf.Version))
	}

	r.program, err = r.engine.program(wf)
	if err != nil {
		return false, r.fail(ctx, err.Error())
	}

	data, err := r.engine.contexts.Build(ctx, r.execution.EntityType, r.execution.EntityID, r.execution.InputData)
	if err != nil {
		if persistence.IsEntityNotFound(err) {
			return false, r.fail(ctx, fmt.Sprintf("%s: %v", actions.KindEntityNotFound, err))
		}

		return false, err
	}

	data[ContextKeyExecution] = map[string]any{
		"id":          r.execution.ID,
		"workflow_id": r.execution.WorkflowID,
		"retry_count": r.execution.RetryConfig.RetryCount,
	}
	r.execution.Context = data

	return true, nil
}

// cancelled re-reads the stored execution before each instruction.
func (r *run) cancelled(ctx context.Context) (bool, error) {
	stored, err := r.engine.executions.GetByID(ctx, r.execution.ID)
	if err != nil {
		return false, err
	}

	if stored.Status == models.ExecutionStatusCancelled {
		r.logger.InfoContext(ctx, "execution cancelled, stopping", "current_action_index", stored.CurrentActionIndex)

		r.execution = stored

		return true, nil
	}

	if stored.Version != r.execution.Version {
		return false, persistence.NewExecutionError("Advance", r.execution.ID, persistence.ErrConcurrentUpdate)
	}

	return false, nil
}

// step runs one instruction and moves the program counter. It reports whether the run must stop.
func (r *run) step(ctx context.Context, instruction workflow.Instruction) (bool, error) {
	pc := r.execution.CurrentActionIndex

	switch instruction.Op {
	case workflow.OpJump:
		r.skip(pc+1, instruction.Target)

		return false, r.moveTo(ctx, instruction.Target)
	case workflow.OpBranch:
		if !instruction.Action.IsEnabled() {
			r.skip(pc, instruction.End)

			return false, r.moveTo(ctx, instruction.End)
		}

		startedAt := r.engine.now()

		result, err := r.execute(ctx, instruction)
		if err != nil {
			return r.failure(ctx, instruction, startedAt, err)
		}

		r.record(instruction, models.ActionResultCompleted, startedAt, result.Output, "")
		r.execution.RetryConfig.RetryCount = 0

		if result.ConditionsMet {
			return false, r.moveTo(ctx, pc+1)
		}

		r.skip(pc+1, instruction.FalseTarget)

		return false, r.moveTo(ctx, instruction.FalseTarget)
	default:
		if !instruction.Action.IsEnabled() {
			r.skip(pc, pc+1)

			return false, r.moveTo(ctx, pc+1)
		}

		startedAt := r.engine.now()

		result, err := r.execute(ctx, instruction)
		if err != nil {
			return r.failure(ctx, instruction, startedAt, err)
		}

		if result.Mutation != nil {
			r.apply(*result.Mutation)
		}

		if result.Delayed && result.ResumeAt.After(r.engine.now()) {
			r.record(instruction, models.ActionResultScheduled, startedAt, result.Output, "")
			r.execution.RetryConfig.RetryCount = 0
			r.execution.CurrentActionIndex = pc + 1

			return true, r.schedule(ctx, result.ResumeAt)
		}

		r.record(instruction, models.ActionResultCompleted, startedAt, result.Output, "")
		r.execution.RetryConfig.RetryCount = 0

		return false, r.moveTo(ctx, pc+1)
	}
}

func (r *run) execute(ctx context.Context, instruction workflow.Instruction) (actions.Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.engine.tracer, "engine.action",
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
		attribute.String(otelhelper.ActionIDKey, instruction.ActionID()),
		attribute.String(otelhelper.ActionTypeKey, string(instruction.Action.Type())),
		attribute.Int(otelhelper.ProgramCounterKey, r.execution.CurrentActionIndex),
	)
	defer span.End()

	logger := r.logger.With(
		"action_id", instruction.ActionID(),
		"action_type", instruction.Action.Type(),
		"pc", r.execution.CurrentActionIndex,
	)
	logger.DebugContext(ctx, "executing action")

	ctx = log.WithLogger(ctx, logger)

	result, err := r.engine.executor.Execute(ctx, instruction.Action, actions.Input{
		ExecutionID:    r.execution.ID,
		EntityType:     r.execution.EntityType,
		EntityID:       r.execution.EntityID,
		ProgramCounter: r.execution.CurrentActionIndex,
		Context:        r.execution.Context,
	})
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return result, err
}

// failure applies the failure taxonomy to a failed instruction.
func (r *run) failure(
	ctx context.Context,
	instruction workflow.Instruction,
	startedAt time.Time,
	err error,
) (bool, error) {
	actionErr := actions.AsError(err)
	pc := r.execution.CurrentActionIndex

	r.record(instruction, models.ActionResultFailed, startedAt, nil, actionErr.Error())
	r.execution.LastError = actionErr.Error()

	r.logger.WarnContext(ctx, "action failed",
		"action_id", instruction.ActionID(),
		"kind", actionErr.Kind,
		"class", actionErr.Kind.Class(),
		"error", actionErr,
	)

	if !instruction.Action.StopsOnFailure() {
		r.execution.RetryConfig.RetryCount = 0

		next := pc + 1
		if instruction.Op == workflow.OpBranch {
			r.skip(pc+1, instruction.End)
			next = instruction.End
		}

		return false, r.moveTo(ctx, next)
	}

	if actionErr.Retryable() && !r.execution.RetryConfig.Exhausted() {
		return true, r.retry(ctx, actionErr)
	}

	return true, r.fail(ctx, actionErr.Error())
}

// skip records every non-jump instruction in [from, to) as skipped.
func (r *run) skip(from, to int) {
	now := r.engine.now()

	for pc := from; pc < to; pc++ {
		instruction, ok := r.program.At(pc)
		if !ok || instruction.Op == workflow.OpJump {
			continue
		}

		r.execution.RecordResult(models.ActionResult{
			Index:      pc,
			ActionID:   instruction.ActionID(),
			Type:       instruction.Action.Type(),
			Status:     models.ActionResultSkipped,
			StartedAt:  now,
			FinishedAt: now,
		})
	}
}

func (r *run) record(
	instruction workflow.Instruction,
	status models.ActionResultStatus,
	startedAt time.Time,
	output map[string]any,
	errMsg string,
) {
	r.execution.RecordResult(models.ActionResult{
		Index:      r.execution.CurrentActionIndex,
		ActionID:   instruction.ActionID(),
		Type:       instruction.Action.Type(),
		Status:     status,
		Attempt:    r.execution.RetryConfig.RetryCount + 1,
		StartedAt:  startedAt,
		FinishedAt: r.engine.now(),
		Output:     output,
		Error:      errMsg,
	})
}

// apply mirrors an entity write into the context so later instructions of this run see it.
func (r *run) apply(mutation actions.Mutation) {
	snapshot, ok := r.execution.Context[string(mutation.EntityType)].(map[string]any)
	if !ok {
		return
	}

	if id, _ := snapshot["id"].(string); id != mutation.EntityID {
		return
	}

	snapshot[mutation.Field] = mutation.Value
}

func (r *run) moveTo(ctx context.Context, pc int) error {
	r.execution.CurrentActionIndex = pc

	return r.save(ctx)
}

func (r *run) schedule(ctx context.Context, resumeAt time.Time) error {
	err := r.lifecycle.fire(ctx, triggerSchedule)
	if err != nil {
		return err
	}

	r.execution.NextScheduledAt = resumeAt.UTC()

	err = r.save(ctx)
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "execution scheduled", "resume_at", r.execution.NextScheduledAt)

	r.engine.publish(ctx, r.execution.ID, events.ExecutionScheduled{
		ExecutionEvent: events.NewExecutionEvent(events.ExecutionScheduledEvent, r.execution),
		ResumeAt:       r.execution.NextScheduledAt,
	})

	return nil
}

func (r *run) retry(ctx context.Context, cause *actions.Error) error {
	err := r.lifecycle.fire(ctx, triggerRetry)
	if err != nil {
		return err
	}

	r.execution.RetryConfig.RetryCount++
	r.execution.NextScheduledAt = r.engine.now().Add(retryDelay(r.execution.RetryConfig))

	err = r.save(ctx)
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "execution will retry",
		"retry_count", r.execution.RetryConfig.RetryCount,
		"max_retries", r.execution.RetryConfig.MaxRetries,
		"next_retry_at", r.execution.NextScheduledAt,
	)

	r.engine.publish(ctx, r.execution.ID, events.ExecutionRetrying{
		ExecutionEvent: events.NewExecutionEvent(events.ExecutionRetryingEvent, r.execution),
		RetryCount:     r.execution.RetryConfig.RetryCount,
		NextRetryAt:    r.execution.NextScheduledAt,
		Error:          cause.Error(),
	})

	return nil
}

func (r *run) fail(ctx context.Context, message string) error {
	err := r.lifecycle.fire(ctx, triggerFail)
	if err != nil {
		return err
	}

	now := r.engine.now()
	r.execution.LastError = message
	r.execution.CompletedAt = &now

	err = r.save(ctx)
	if err != nil {
		return err
	}

	r.logger.WarnContext(ctx, "execution failed", "error", message)

	r.engine.publish(ctx, r.execution.ID, events.ExecutionFailed{
		ExecutionEvent: events.NewExecutionEvent(events.ExecutionFailedEvent, r.execution),
		Error:          message,
	})

	return nil
}

func (r *run) complete(ctx context.Context) error {
	err := r.lifecycle.fire(ctx, triggerComplete)
	if err != nil {
		return err
	}

	now := r.engine.now()
	r.execution.CompletedAt = &now

	err = r.save(ctx)
	if err != nil {
		return err
	}

	var duration time.Duration
	if r.execution.StartedAt != nil {
		duration = now.Sub(*r.execution.StartedAt)
	}

	r.logger.InfoContext(ctx, "execution completed", "duration", duration)

	r.engine.publish(ctx, r.execution.ID, events.ExecutionCompleted{
		ExecutionEvent: events.NewExecutionEvent(events.ExecutionCompletedEvent, r.execution),
		Duration:       duration,
	})

	return nil
}

func (r *run) save(ctx context.Context) error {
	r.execution.UpdatedAt = r.engine.now()

	return r.engine.executions.Save(ctx, r.execution)
}
