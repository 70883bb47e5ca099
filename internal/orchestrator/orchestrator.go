// Package orchestrator drives one search request through the two LLM
// phases: a tool-forced turn whose calls are executed against the domain's
// tools, then a tool-free answer turn streamed word by word. Any terminal
// failure ends the stream with the fallback frames instead.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/yurei/internal/domain"
	"github.com/mohammad-safakhou/yurei/internal/llm"
	"github.com/mohammad-safakhou/yurei/internal/logging"
	"github.com/mohammad-safakhou/yurei/internal/stream"
	"github.com/mohammad-safakhou/yurei/internal/telemetry"
	"github.com/mohammad-safakhou/yurei/internal/tools"
)

// State is a step of the request state machine.
type State string

const (
	StateAwaitingToolSelection State = "awaiting_tool_selection"
	StateExecutingTools        State = "executing_tools"
	StateAwaitingFinalAnswer   State = "awaiting_final_answer"
	StateStreaming             State = "streaming"
	StateDone                  State = "done"
	StateFailed                State = "failed"
	StateAborted               State = "aborted"
)

// Repairer fixes arguments that failed validation.
type Repairer interface {
	Repair(ctx context.Context, call llm.ToolCall, desc tools.Descriptor, cause error) (json.RawMessage, error)
}

// Request is one inbound search. Messages is the caller's conversation,
// already checked at the boundary.
type Request struct {
	ID       string
	Domain   string
	Messages []llm.Message
}

// Outcome summarises how a request ended.
type Outcome struct {
	Domain   string
	State    State
	Degraded bool
	// FailedIn names the state the request failed in, if any.
	FailedIn State
	Err      error
}

type Options struct {
	LLM      llm.Client
	Domains  *domain.Registry
	Tools    *tools.Registry
	Repairer Repairer
	Metrics  *telemetry.Metrics
	Logger   logrus.FieldLogger

	// Timeout bounds the whole request. Zero means no deadline of our own.
	Timeout time.Duration
	// WordDelay paces phase-2 text.
	WordDelay time.Duration
}

type Orchestrator struct {
	opts  Options
	now   func() time.Time
	newID func() string
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Orchestrator{
		opts:  opts,
		now:   time.Now,
		newID: func() string { return "call_" + uuid.NewString() },
	}
}

// Run executes req and writes every frame to sink. ctx is the caller's
// connection: once it is cancelled nothing more is written. Work runs
// under a derived context carrying the request deadline, so a timeout still
// leaves room to write the fallback frames.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink stream.Sink) Outcome {
	cfg := o.opts.Domains.Resolve(req.Domain)
	workCtx, cancel := o.workContext(ctx)
	defer cancel()

	t := &turn{
		o:      o,
		cfg:    cfg,
		req:    req,
		sink:   sink,
		out:    ctx,
		work:   workCtx,
		cancel: cancel,
		now:    o.now(),
		log: o.opts.Logger.WithFields(logrus.Fields{
			"domain":     cfg.ID,
			"request_id": req.ID,
		}),
	}
	outcome := t.run()
	o.opts.Metrics.SearchRequest(cfg.ID, outcomeLabel(outcome))
	return outcome
}

func (o *Orchestrator) workContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.Timeout > 0 {
		return context.WithTimeout(ctx, o.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func outcomeLabel(o Outcome) string {
	switch {
	case o.FailedIn != "":
		return telemetry.OutcomeFallback
	case o.Degraded:
		return telemetry.OutcomeDegraded
	default:
		return telemetry.OutcomeAnswered
	}
}

// errSinkClosed marks failures writing to the caller; they end the request
// without a fallback because nobody is listening.
var errSinkClosed = errors.New("caller stream closed")

type turn struct {
	o      *Orchestrator
	cfg    domain.Config
	req    Request
	sink   stream.Sink
	out    context.Context
	work   context.Context
	cancel context.CancelFunc
	now    time.Time
	log    logrus.FieldLogger

	state    State
	degraded bool
}

func (t *turn) transition(next State) {
	t.log.WithFields(logrus.Fields{"from": t.state, "to": next}).Debug("state change")
	t.state = next
}

func (t *turn) emit(e stream.Event) error {
	if err := t.sink.Emit(t.out, e); err != nil {
		t.cancel()
		return fmt.Errorf("%w: %v", errSinkClosed, err)
	}
	return nil
}

func (t *turn) run() Outcome {
	t.transition(StateAwaitingToolSelection)
	calls, err := t.selectTools()
	if err != nil {
		return t.fail(err)
	}

	t.transition(StateExecutingTools)
	executed, err := t.executeTools(calls)
	if err != nil {
		return t.fail(err)
	}

	t.transition(StateAwaitingFinalAnswer)
	if err := t.answer(executed); err != nil {
		return t.fail(err)
	}

	t.transition(StateDone)
	return Outcome{Domain: t.cfg.ID, State: StateDone, Degraded: t.degraded}
}

// fail routes to the fallback frames unless the caller is gone.
func (t *turn) fail(err error) Outcome {
	failedIn := t.state
	outcome := Outcome{Domain: t.cfg.ID, Degraded: t.degraded, FailedIn: failedIn, Err: err}
	if errors.Is(err, errSinkClosed) || t.out.Err() != nil {
		t.log.WithError(err).Info("caller went away, abandoning request")
		t.transition(StateAborted)
		outcome.State = StateAborted
		return outcome
	}

	t.transition(StateFailed)
	outcome.State = StateFailed
	t.log.WithError(err).WithField("stage", failedIn).Error("search failed, sending fallback")
	t.o.opts.Metrics.Fallback(t.cfg.ID, string(failedIn))
	if ferr := EmitFallback(t.out, t.sink, LastUserText(t.req.Messages), t.cfg); ferr != nil {
		t.log.WithError(ferr).Warn("could not write fallback")
	}
	return outcome
}

// selectTools runs phase 1. Text the model produces alongside its calls is
// dropped.
func (t *turn) selectTools() ([]llm.ToolCall, error) {
	started := time.Now()
	defer func() { t.o.opts.Metrics.LLMPhase("tool_selection", time.Since(started)) }()

	s, err := t.o.opts.LLM.Stream(t.work, llm.Request{
		System:      t.cfg.ToolPrompt(t.now),
		Messages:    t.req.Messages,
		Tools:       t.o.opts.Tools.Definitions(t.cfg.AllowedTools),
		ToolChoice:  llm.ToolChoiceRequired,
		Temperature: llm.Temperature(0),
	})
	if err != nil {
		return nil, fmt.Errorf("tool selection: %w", err)
	}
	defer s.Close()

	acc := llm.NewAccumulator()
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tool selection: %w", err)
		}
		acc.Add(chunk.ToolCalls)
	}
	calls := acc.Calls()
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = t.o.newID()
		}
	}
	if len(calls) == 0 {
		t.log.Warn("model selected no tool, answering without tool context")
		t.degraded = true
	}
	return calls, nil
}
