package callflow

import "time"

// Step names the telephony callback being handled.
type Step string

const (
	StepStart        Step = "start"
	StepName         Step = "name"
	StepSecurity     Step = "security"
	StepConversation Step = "conversation"
)

// Callback is one inbound webhook after authentication.
type Callback struct {
	CallID       string
	Step         Step
	RecordingURL string
	// CallerName and Attempt echo the query of a security callback.
	CallerName string
	Attempt    int
}

// CallbackRef names the callback a recording should be delivered to.
type CallbackRef struct {
	Step       Step
	CallerName string
	Attempt    int
}

// Action is one verb of an instruction.
type Action interface {
	isAction()
}

type Speak struct {
	Text string
}

type Play struct {
	URL string
}

type Record struct {
	Next           CallbackRef
	MaxLength      time.Duration
	SilenceTimeout time.Duration
}

type Hangup struct{}

func (Speak) isAction()  {}
func (Play) isAction()   {}
func (Record) isAction() {}
func (Hangup) isAction() {}

// Instruction is the complete answer to a callback.
type Instruction struct {
	Actions []Action
}

// Terminal reports whether the instruction ends the call.
func (i Instruction) Terminal() bool {
	if len(i.Actions) == 0 {
		return false
	}
	_, ok := i.Actions[len(i.Actions)-1].(Hangup)
	return ok
}

// Texts returns the spoken text of every Speak action, in order.
func (i Instruction) Texts() []string {
	var out []string
	for _, a := range i.Actions {
		if s, ok := a.(Speak); ok {
			out = append(out, s.Text)
		}
	}
	return out
}

// NextRecording returns the Record action, if the instruction keeps listening.
func (i Instruction) NextRecording() (Record, bool) {
	for _, a := range i.Actions {
		if r, ok := a.(Record); ok {
			return r, true
		}
	}
	return Record{}, false
}
