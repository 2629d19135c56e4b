package callflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antoniostano/nessievoice/internal/agent"
	"github.com/antoniostano/nessievoice/internal/artifact"
	"github.com/antoniostano/nessievoice/internal/audio"
	"github.com/antoniostano/nessievoice/internal/banking"
	"github.com/antoniostano/nessievoice/internal/directory"
	"github.com/antoniostano/nessievoice/internal/observability"
	"github.com/antoniostano/nessievoice/internal/session"
	"github.com/antoniostano/nessievoice/internal/voice"
)

var (
	// ErrAttemptsExhausted ends a call whose security answers never matched.
	ErrAttemptsExhausted = errors.New("security attempts exhausted")
	// ErrOutOfOrder marks a callback that does not fit the session's phase.
	ErrOutOfOrder = errors.New("callback out of order")
	// ErrCallbackTimeout marks a callback that ran past its deadline.
	ErrCallbackTimeout = errors.New("callback deadline exceeded")
)

// RecordingFetcher downloads the caller audio behind a recording URL.
type RecordingFetcher interface {
	Fetch(ctx context.Context, recordingURL string) (voice.Audio, error)
}

// IdentityResolver maps a spoken name to a known caller.
type IdentityResolver interface {
	Resolve(name string) (directory.Identity, error)
}

// ArtifactStore keeps synthesized replies until the call fetches them.
type ArtifactStore interface {
	Put(ctx context.Context, callID string, turn int, audio voice.Audio) (string, error)
}

type Config struct {
	MaxAttempts      int
	RecordMaxLength  time.Duration
	SilenceTimeout   time.Duration
	MaxSilentPrompts int
	CallbackTimeout  time.Duration
	TransactionCount int
	PublicBaseURL    string
}

// Deps are the collaborators an Engine drives. Ledger and Metrics may be nil.
type Deps struct {
	Sessions    *session.Manager
	Recordings  RecordingFetcher
	Transcriber voice.Transcriber
	Synthesizer voice.Synthesizer
	Agent       agent.Agent
	Directory   IdentityResolver
	Ledger      banking.Ledger
	Artifacts   ArtifactStore
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Engine runs the call state machine: one Instruction per callback.
type Engine struct {
	cfg         Config
	sessions    *session.Manager
	recordings  RecordingFetcher
	transcriber voice.Transcriber
	synthesizer voice.Synthesizer
	agent       agent.Agent
	directory   IdentityResolver
	ledger      banking.Ledger
	artifacts   ArtifactStore
	metrics     *observability.Metrics
	logger      *slog.Logger

	// beforeReply runs between a worker finishing and its result being sent.
	beforeReply func()
}

func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Sessions == nil:
		return nil, fmt.Errorf("callflow: session manager is required")
	case deps.Recordings == nil:
		return nil, fmt.Errorf("callflow: recording fetcher is required")
	case deps.Transcriber == nil || deps.Synthesizer == nil:
		return nil, fmt.Errorf("callflow: transcriber and synthesizer are required")
	case deps.Agent == nil:
		return nil, fmt.Errorf("callflow: agent is required")
	case deps.Directory == nil:
		return nil, fmt.Errorf("callflow: identity directory is required")
	case deps.Artifacts == nil:
		return nil, fmt.Errorf("callflow: artifact store is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RecordMaxLength <= 0 {
		cfg.RecordMaxLength = 30 * time.Second
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = 3 * time.Second
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = 12 * time.Second
	}
	if cfg.TransactionCount <= 0 {
		cfg.TransactionCount = 10
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:         cfg,
		sessions:    deps.Sessions,
		recordings:  deps.Recordings,
		transcriber: deps.Transcriber,
		synthesizer: deps.Synthesizer,
		agent:       deps.Agent,
		directory:   deps.Directory,
		ledger:      deps.Ledger,
		artifacts:   deps.Artifacts,
		metrics:     deps.Metrics,
		logger:      logger,
	}, nil
}

// turnResult describes what a callback did, for logs and metrics.
type turnResult struct {
	inst    Instruction
	from    session.Phase
	to      session.Phase
	outcome string
	created bool
	err     error
}

// Handle answers one callback. It never fails: collaborator errors, a
// callback that does not fit the session, and the callback deadline all
// produce an apology followed by a hangup.
func (e *Engine) Handle(ctx context.Context, cb Callback) Instruction {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallbackTimeout)
	defer cancel()

	var res turnResult
	if strings.TrimSpace(cb.CallID) == "" {
		res = turnResult{inst: fatalInstruction(), outcome: "invalid", err: fmt.Errorf("callback without call id")}
	} else {
		done := make(chan turnResult, 1)
		go func() {
			res := e.run(ctx, cb)
			if e.beforeReply != nil {
				e.beforeReply()
			}
			done <- res
		}()
		select {
		case res = <-done:
		case <-ctx.Done():
			select {
			case res = <-done:
			default:
				res = turnResult{inst: fatalInstruction(), outcome: "timeout", err: ErrCallbackTimeout}
				go e.endAbandoned(cb.CallID, done)
			}
		}
	}

	elapsed := time.Since(started)
	e.metrics.ObserveStage(observability.StageTotal, elapsed)
	e.report(cb, res, elapsed)
	return res.inst
}

// endAbandoned waits for the worker of a callback that already timed out. The
// caller was told goodbye, so a phase the worker committed that still expects
// callbacks is ended here.
func (e *Engine) endAbandoned(callID string, done <-chan turnResult) {
	late := <-done
	if late.to.IsTerminal() {
		return
	}
	if _, err := e.sessions.End(callID); err == nil {
		e.logger.Warn("session ended after callback timeout", "call_id", callID, "phase", late.to)
	}
}

func (e *Engine) run(ctx context.Context, cb Callback) turnResult {
	var res turnResult
	created, _ := e.sessions.Do(cb.CallID, func(s *session.CallSession) error {
		res.from = s.Phase
		if !accepts(s, cb.Step) {
			s.Phase = session.PhaseTerminated
			res.inst, res.outcome, res.err = fatalInstruction(), "out_of_order", ErrOutOfOrder
			res.to = s.Phase
			return ErrOutOfOrder
		}

		inst, outcome, err := e.advance(ctx, s, cb)
		switch {
		case ctx.Err() != nil:
			inst, outcome, err = fatalInstruction(), "timeout", fmt.Errorf("%w: %w", ErrCallbackTimeout, ctx.Err())
			s.Phase = session.PhaseTerminated
		case err != nil && !errors.Is(err, ErrAttemptsExhausted) && !errors.Is(err, directory.ErrNotFound):
			inst, outcome = fatalInstruction(), "failed"
			s.Phase = session.PhaseTerminated
		}
		res.inst, res.outcome, res.err = inst, outcome, err
		res.to = s.Phase
		return nil
	})
	res.created = created
	return res
}

// accepts reports whether step is the callback the session is waiting for.
// Only a session created by this callback is still in the greeting phase.
func accepts(s *session.CallSession, step Step) bool {
	switch step {
	case StepStart:
		return s.Phase == session.PhaseGreeting
	case StepName:
		return s.Phase == session.PhaseCapturingName
	case StepSecurity:
		return s.Phase == session.PhaseVerifyingSecurity
	case StepConversation:
		return s.Phase == session.PhaseConversing
	default:
		return false
	}
}

func (e *Engine) advance(ctx context.Context, s *session.CallSession, cb Callback) (Instruction, string, error) {
	switch cb.Step {
	case StepStart:
		s.Phase = session.PhaseCapturingName
		return Instruction{Actions: []Action{
			Speak{Text: GreetingPrompt},
			e.record(CallbackRef{Step: StepName}),
		}}, "greeted", nil
	case StepName:
		return e.captureName(ctx, s, cb)
	case StepSecurity:
		return e.verifySecurity(ctx, s, cb)
	case StepConversation:
		return e.converse(ctx, s, cb)
	default:
		return Instruction{}, "", fmt.Errorf("unknown step %q", cb.Step)
	}
}

func (e *Engine) captureName(ctx context.Context, s *session.CallSession, cb Callback) (Instruction, string, error) {
	text, err := e.listen(ctx, cb.RecordingURL)
	if err != nil {
		return Instruction{}, "", err
	}
	if text == "" {
		return e.silent(s, []Action{Speak{Text: SilencePrompt}}, CallbackRef{Step: StepName})
	}
	s.SilentPrompts = 0

	identity, err := e.directory.Resolve(text)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			s.Phase = session.PhaseTerminated
			return hangupWith(UnknownCallerPrompt), "unknown_identity", err
		}
		return Instruction{}, "", err
	}
	if len(identity.Questions) == 0 {
		return Instruction{}, "", fmt.Errorf("caller %q has no security questions", identity.CustomerID)
	}

	s.CallerName = directory.Normalize(text)
	s.DisplayName = identity.Name
	s.CustomerID = identity.CustomerID
	s.AccountID = identity.AccountID
	s.Questions = identity.Questions
	s.SecurityAttempt = 1
	s.PendingQuestionIndex = 0
	s.Phase = session.PhaseVerifyingSecurity

	q, _ := s.PendingQuestion()
	return Instruction{Actions: []Action{
		Speak{Text: firstQuestionPrompt(identity.Name, q.Question)},
		e.securityRecord(s),
	}}, "identified", nil
}

func (e *Engine) verifySecurity(ctx context.Context, s *session.CallSession, cb Callback) (Instruction, string, error) {
	q, ok := s.PendingQuestion()
	if !ok {
		return Instruction{}, "", fmt.Errorf("no pending security question for call %s", s.CallID)
	}
	if cb.Attempt != 0 && cb.Attempt != s.SecurityAttempt {
		e.logger.Warn("security callback attempt differs from session",
			"call_id", s.CallID, "callback_attempt", cb.Attempt, "session_attempt", s.SecurityAttempt)
	}

	text, err := e.listen(ctx, cb.RecordingURL)
	if err != nil {
		return Instruction{}, "", err
	}
	if text == "" {
		e.countSecurity("silent")
		return e.silent(s, []Action{Speak{Text: SilencePrompt}, Speak{Text: q.Question}}, CallbackRef{
			Step: StepSecurity, CallerName: s.CallerName, Attempt: s.SecurityAttempt,
		})
	}
	s.SilentPrompts = 0

	if directory.Matches(text, q.Answer) {
		e.countSecurity("verified")
		s.Phase = session.PhaseConversing
		return Instruction{Actions: []Action{
			Speak{Text: verifiedPrompt(s.DisplayName)},
			e.record(CallbackRef{Step: StepConversation}),
		}}, "verified", nil
	}

	if s.SecurityAttempt < e.cfg.MaxAttempts {
		e.countSecurity("mismatch")
		s.SecurityAttempt++
		return Instruction{Actions: []Action{
			Speak{Text: MismatchPrompt},
			Speak{Text: q.Question},
			e.securityRecord(s),
		}}, "mismatch", nil
	}

	e.countSecurity("exhausted")
	s.Phase = session.PhaseTerminated
	return hangupWith(ExhaustedPrompt), "exhausted", ErrAttemptsExhausted
}

func (e *Engine) converse(ctx context.Context, s *session.CallSession, cb Callback) (Instruction, string, error) {
	if strings.TrimSpace(cb.RecordingURL) == "" {
		return e.silent(s, []Action{Speak{Text: SilencePrompt}}, CallbackRef{Step: StepConversation})
	}

	turn, err := e.gatherTurn(ctx, s, cb.RecordingURL)
	if err != nil {
		return Instruction{}, "", err
	}
	if strings.TrimSpace(turn.text) == "" {
		return e.silent(s, []Action{Speak{Text: SilencePrompt}}, CallbackRef{Step: StepConversation})
	}
	s.SilentPrompts = 0

	agentStarted := time.Now()
	reply, err := e.agent.Converse(ctx, agent.Request{
		CallID:   s.CallID,
		Turn:     s.Turn + 1,
		UserText: turn.text,
		Caller: agent.Caller{
			Name:       s.DisplayName,
			CustomerID: s.CustomerID,
			AccountID:  s.AccountID,
		},
		Transactions:      turn.transactions,
		Balance:           turn.balance,
		LedgerUnavailable: turn.ledgerUnavailable,
	})
	e.metrics.ObserveStage(observability.StageAgent, time.Since(agentStarted))
	if err != nil {
		return Instruction{}, "", providerError("agent", err)
	}

	// Replies that are only markup have nothing to synthesize.
	actions := make([]Action, 0, 3)
	if voice.SanitizeSpeechText(reply.Text) != "" {
		play, err := e.speakReply(ctx, s, reply.Text)
		if err != nil {
			return Instruction{}, "", err
		}
		actions = append(actions, play)
	}

	if reply.Terminate {
		s.Phase = session.PhaseTerminated
		return Instruction{Actions: append(actions, Hangup{})}, "completed", nil
	}
	return Instruction{Actions: append(actions,
		Speak{Text: FollowUpPrompt},
		e.record(CallbackRef{Step: StepConversation}),
	)}, "replied", nil
}

// speakReply synthesizes text, stores it as the call's next artifact and
// returns the Play action for it.
func (e *Engine) speakReply(ctx context.Context, s *session.CallSession, text string) (Play, error) {
	started := time.Now()
	speech, err := e.synthesizer.Synthesize(ctx, text)
	e.metrics.ObserveStage(observability.StageSynthesize, time.Since(started))
	if err != nil {
		return Play{}, providerError("synthesizer", err)
	}

	ref, err := e.artifacts.Put(ctx, s.CallID, s.Turn+1, speech)
	if err != nil {
		return Play{}, providerError("artifact", err)
	}
	s.Turn++
	return Play{URL: artifact.URLFor(e.cfg.PublicBaseURL, ref)}, nil
}

// listen fetches and transcribes a recording. An empty URL is silence.
func (e *Engine) listen(ctx context.Context, recordingURL string) (string, error) {
	if strings.TrimSpace(recordingURL) == "" {
		return "", nil
	}
	started := time.Now()
	rec, err := e.recordings.Fetch(ctx, recordingURL)
	e.metrics.ObserveStage(observability.StageFetch, time.Since(started))
	if err != nil {
		return "", providerError("recording", err)
	}
	if clip, err := audio.ParseWAV(rec.Data); err == nil && clip.Silent(audio.DefaultSilenceLevel) {
		e.metrics.ObserveIndicator("silent_recording")
		return "", nil
	}

	started = time.Now()
	text, err := e.transcriber.Transcribe(ctx, rec)
	e.metrics.ObserveStage(observability.StageTranscribe, time.Since(started))
	if err != nil {
		return "", providerError("transcriber", err)
	}
	return strings.TrimSpace(text), nil
}

// silent re-prompts without leaving the phase, or ends the call once the
// configured number of consecutive silent prompts has been used up.
func (e *Engine) silent(s *session.CallSession, prompt []Action, next CallbackRef) (Instruction, string, error) {
	e.metrics.ObserveIndicator("silent_reprompt")
	s.SilentPrompts++
	if e.cfg.MaxSilentPrompts > 0 && s.SilentPrompts > e.cfg.MaxSilentPrompts {
		s.Phase = session.PhaseTerminated
		return hangupWith(SilenceLimitPrompt), "silence_limit", nil
	}
	return Instruction{Actions: append(prompt, e.record(next))}, "silent", nil
}

func (e *Engine) record(next CallbackRef) Record {
	return Record{Next: next, MaxLength: e.cfg.RecordMaxLength, SilenceTimeout: e.cfg.SilenceTimeout}
}

func (e *Engine) securityRecord(s *session.CallSession) Record {
	return e.record(CallbackRef{Step: StepSecurity, CallerName: s.CallerName, Attempt: s.SecurityAttempt})
}

func (e *Engine) countSecurity(result string) {
	if e.metrics != nil {
		e.metrics.SecurityOutcomes.WithLabelValues(result).Inc()
	}
}

func fatalInstruction() Instruction {
	return hangupWith(FatalPrompt)
}

func hangupWith(text string) Instruction {
	return Instruction{Actions: []Action{Speak{Text: text}, Hangup{}}}
}
