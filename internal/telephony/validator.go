package telephony

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/twilio/twilio-go/client"
)

// ErrAuthentication marks a callback whose signature is missing or wrong.
var ErrAuthentication = errors.New("callback authentication failed")

const signatureHeader = "X-Twilio-Signature"

// Validator checks the request signature Twilio attaches to every webhook.
type Validator struct {
	enabled   bool
	validator client.RequestValidator
}

// NewValidator returns a validator for authToken. With enabled false every
// request passes, which is only meant for local development.
func NewValidator(authToken string, enabled bool) *Validator {
	return &Validator{
		enabled:   enabled,
		validator: client.NewRequestValidator(authToken),
	}
}

// Validate parses the form of r and checks its signature against the public
// URL Twilio called: publicBaseURL joined with the request URI.
func (v *Validator) Validate(r *http.Request, publicBaseURL string) error {
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("%w: parse form: %w", ErrAuthentication, err)
	}
	if !v.enabled {
		return nil
	}
	signature := strings.TrimSpace(r.Header.Get(signatureHeader))
	if signature == "" {
		return fmt.Errorf("%w: missing %s", ErrAuthentication, signatureHeader)
	}

	params := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	fullURL := strings.TrimRight(publicBaseURL, "/") + r.URL.RequestURI()
	if !v.validator.Validate(fullURL, params, signature) {
		return fmt.Errorf("%w: signature mismatch", ErrAuthentication)
	}
	return nil
}
