package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/yurei/internal/llm"
	"github.com/mohammad-safakhou/yurei/internal/stream"
	"github.com/mohammad-safakhou/yurei/internal/tools"
)

// pending tracks one call from validation to its result.
type pending struct {
	call     llm.ToolCall
	args     json.RawMessage
	rejected error

	prepared chan struct{}
	done     chan struct{}
	result   tools.Result
}

// executed is a call that ran, for the phase-2 transcript.
type executed struct {
	call   llm.ToolCall
	result tools.Result
}

// executeTools prepares and runs every call concurrently. Frames are
// written from this goroutine only and in the order the model issued the
// calls: first a tool-call (or error) frame per call, then each result as
// soon as it and every earlier result are ready.
func (t *turn) executeTools(calls []llm.ToolCall) ([]executed, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	work := make([]*pending, len(calls))
	for i, call := range calls {
		p := &pending{call: call, prepared: make(chan struct{}), done: make(chan struct{})}
		work[i] = p
		go t.process(p)
	}

	for _, p := range work {
		if err := t.wait(p.prepared); err != nil {
			return nil, err
		}
		if p.rejected != nil {
			t.degraded = true
			if err := t.emit(stream.Error{CallID: p.call.ID, ToolName: p.call.Name, Message: p.rejected.Error()}); err != nil {
				return nil, err
			}
			continue
		}
		if err := t.emit(stream.ToolCall{CallID: p.call.ID, ToolName: p.call.Name, Args: p.args}); err != nil {
			return nil, err
		}
	}

	var out []executed
	for _, p := range work {
		if p.rejected != nil {
			continue
		}
		if err := t.wait(p.done); err != nil {
			return nil, err
		}
		if p.result.Failed() {
			t.degraded = true
		}
		if err := t.emit(stream.ToolResult{CallID: p.call.ID, ToolName: p.call.Name, Result: p.result}); err != nil {
			return nil, err
		}
		call := p.call
		call.Arguments = string(p.args)
		out = append(out, executed{call: call, result: p.result})
	}
	return out, nil
}

// wait blocks until ch closes or the caller disconnects. The work context's
// deadline is not checked here: every tool and repair call is bounded by it
// and reports a result once it passes.
func (t *turn) wait(ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-t.out.Done():
		return fmt.Errorf("%w: %v", errSinkClosed, t.out.Err())
	}
}

func (t *turn) process(p *pending) {
	defer close(p.done)
	prepared := false
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("tool %s panicked: %v", p.call.Name, r)
		t.log.WithField("call_id", p.call.ID).WithError(err).Error("tool call recovered")
		if !prepared {
			p.rejected = err
			close(p.prepared)
			return
		}
		p.result = tools.ErrorResult(err)
		t.o.opts.Metrics.ToolExecuted(p.call.Name, "error", 0)
	}()

	p.args, p.rejected = t.prepare(p.call)
	prepared = true
	close(p.prepared)
	if p.rejected != nil {
		return
	}

	log := t.log.WithFields(logrus.Fields{"tool": p.call.Name, "call_id": p.call.ID})
	started := time.Now()
	p.result = t.o.opts.Tools.Execute(t.work, p.call.Name, p.args)
	outcome := "ok"
	if p.result.Failed() {
		outcome = "error"
		log.WithError(p.result.Err).Warn("tool failed")
	}
	t.o.opts.Metrics.ToolExecuted(p.call.Name, outcome, time.Since(started))
}

// prepare validates the call against the domain whitelist and the tool
// schema, routing schema failures through one repair attempt. The returned
// arguments are used even when a repair produced something still invalid;
// execution reports that as a tool error.
func (t *turn) prepare(call llm.ToolCall) (json.RawMessage, error) {
	if !t.cfg.Allows(call.Name) {
		return nil, fmt.Errorf("%w: %q is not available for %s", tools.ErrUnknownTool, call.Name, t.cfg.ID)
	}
	desc, ok := t.o.opts.Tools.Lookup(call.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", tools.ErrUnknownTool, call.Name)
	}
	args, err := t.o.opts.Tools.Validate(call.Name, call.Arguments)
	if err == nil {
		return args, nil
	}
	var verr *tools.ValidationError
	if !errors.As(err, &verr) || t.o.opts.Repairer == nil {
		return nil, err
	}

	log := t.log.WithFields(logrus.Fields{"tool": call.Name, "call_id": call.ID})
	log.WithError(err).Info("repairing tool arguments")
	repaired, rerr := t.o.opts.Repairer.Repair(t.work, call, desc, err)
	if rerr != nil {
		t.o.opts.Metrics.Repair(call.Name, "failed")
		log.WithError(rerr).Warn("argument repair failed")
		return nil, fmt.Errorf("could not repair arguments for %s: %w", call.Name, rerr)
	}
	t.o.opts.Metrics.Repair(call.Name, "repaired")
	return repaired, nil
}

// answer runs phase 2 and streams its text.
func (t *turn) answer(done []executed) error {
	messages := append([]llm.Message(nil), t.req.Messages...)
	if len(done) > 0 {
		assistant := llm.Message{Role: llm.RoleAssistant}
		var results []llm.Message
		for _, e := range done {
			assistant.ToolCalls = append(assistant.ToolCalls, e.call)
			content, err := json.Marshal(e.result)
			if err != nil {
				content = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
			}
			results = append(results, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: e.call.ID,
				Name:       e.call.Name,
				Content:    string(content),
			})
		}
		messages = append(messages, assistant)
		messages = append(messages, results...)
	}

	started := time.Now()
	defer func() { t.o.opts.Metrics.LLMPhase("answer", time.Since(started)) }()

	s, err := t.o.opts.LLM.Stream(t.work, llm.Request{
		System:   t.cfg.AnswerPrompt(t.now),
		Messages: messages,
	})
	if err != nil {
		return fmt.Errorf("answer: %w", err)
	}
	smooth := llm.SmoothWords(t.work, s, t.o.opts.WordDelay)
	defer smooth.Close()

	t.transition(StateStreaming)
	for {
		chunk, err := smooth.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("answer: %w", err)
		}
		if chunk.Content == "" {
			continue
		}
		if err := t.emit(stream.Text{Text: chunk.Content}); err != nil {
			return err
		}
	}
}
