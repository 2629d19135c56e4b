package telephony

import (
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go/twiml"

	"github.com/antoniostano/nessievoice/internal/callflow"
)

var stepPaths = map[callflow.Step]string{
	callflow.StepStart:        "/voice",
	callflow.StepName:         "/voice/name",
	callflow.StepSecurity:     "/voice/security",
	callflow.StepConversation: "/voice/conversation",
}

// PathFor returns the webhook route that serves step.
func PathFor(step callflow.Step) string {
	return stepPaths[step]
}

// Renderer turns call flow instructions into TwiML documents.
type Renderer struct {
	publicBaseURL string
}

func NewRenderer(publicBaseURL string) *Renderer {
	return &Renderer{publicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

func (r *Renderer) Render(inst callflow.Instruction) ([]byte, error) {
	if len(inst.Actions) == 0 {
		return nil, fmt.Errorf("empty instruction")
	}
	verbs := make([]twiml.Element, 0, len(inst.Actions))
	for _, action := range inst.Actions {
		switch a := action.(type) {
		case callflow.Speak:
			verbs = append(verbs, &twiml.VoiceSay{Message: a.Text})
		case callflow.Play:
			verbs = append(verbs, &twiml.VoicePlay{Url: a.URL})
		case callflow.Record:
			actionURL, err := r.ActionURL(a.Next)
			if err != nil {
				return nil, err
			}
			verbs = append(verbs, &twiml.VoiceRecord{
				Action:    actionURL,
				Method:    "POST",
				MaxLength: seconds(a.MaxLength.Seconds()),
				Timeout:   seconds(a.SilenceTimeout.Seconds()),
				PlayBeep:  "false",
			})
			// Twilio skips the action when nothing was recorded and moves on,
			// so the redirect delivers that silence to the same step.
			verbs = append(verbs, &twiml.VoiceRedirect{Url: actionURL, Method: "POST"})
		case callflow.Hangup:
			verbs = append(verbs, &twiml.VoiceHangup{})
		default:
			return nil, fmt.Errorf("unsupported action %T", action)
		}
	}

	doc, err := twiml.Voice(verbs)
	if err != nil {
		return nil, fmt.Errorf("render twiml: %w", err)
	}
	return []byte(doc), nil
}

// ActionURL is the absolute URL a recording for ref is posted to.
func (r *Renderer) ActionURL(ref callflow.CallbackRef) (string, error) {
	path, ok := stepPaths[ref.Step]
	if !ok || ref.Step == callflow.StepStart {
		return "", fmt.Errorf("no recording route for step %q", ref.Step)
	}
	target := r.publicBaseURL + path
	if ref.Step == callflow.StepSecurity {
		q := url.Values{}
		q.Set("caller", ref.CallerName)
		q.Set("attempt", strconv.Itoa(ref.Attempt))
		target += "?" + q.Encode()
	}
	return target, nil
}

// FallbackDocument apologizes and hangs up. It is served when rendering fails.
func FallbackDocument() []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?><Response><Say>` +
		html.EscapeString(callflow.FatalPrompt) + `</Say><Hangup/></Response>`)
}

func seconds(s float64) string {
	n := int(s + 0.5)
	if n < 1 {
		n = 1
	}
	return strconv.Itoa(n)
}
