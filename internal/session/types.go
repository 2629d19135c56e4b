package session

import "time"

// Phase is the position of a call in the verification and conversation flow.
type Phase string

const (
	PhaseGreeting          Phase = "greeting"
	PhaseCapturingName     Phase = "capturing_name"
	PhaseVerifyingSecurity Phase = "verifying_security"
	PhaseConversing        Phase = "conversing"
	PhaseTerminated        Phase = "terminated"
)

// IsTerminal reports whether no further callbacks are expected.
func (p Phase) IsTerminal() bool {
	return p == PhaseTerminated
}

// SecurityQuestion is one challenge question with its expected answer.
type SecurityQuestion struct {
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
}

// CallSession is the per-call state carried between telephony callbacks.
type CallSession struct {
	CallID      string `json:"call_id"`
	Phase       Phase  `json:"phase"`
	CallerName  string `json:"caller_name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	CustomerID  string `json:"customer_id,omitempty"`
	AccountID   string `json:"account_id,omitempty"`

	// SecurityAttempt is 1-based and stays within [1, max attempts].
	SecurityAttempt      int                `json:"security_attempt"`
	PendingQuestionIndex int                `json:"pending_question_index"`
	Questions            []SecurityQuestion `json:"-"`

	// Turn numbers the audio artifacts produced for this call.
	Turn          int `json:"turn"`
	SilentPrompts int `json:"silent_prompts"`

	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// PendingQuestion returns the security question awaiting an answer.
func (s *CallSession) PendingQuestion() (SecurityQuestion, bool) {
	if s.PendingQuestionIndex < 0 || s.PendingQuestionIndex >= len(s.Questions) {
		return SecurityQuestion{}, false
	}
	return s.Questions[s.PendingQuestionIndex], true
}
