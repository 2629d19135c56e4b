package telephony

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antoniostano/nessievoice/internal/reliability"
	"github.com/antoniostano/nessievoice/internal/voice"
)

const maxRecordingBytes = 16 << 20

// RecordingClient downloads caller recordings from Twilio.
type RecordingClient struct {
	accountSID string
	authToken  string
	client     *http.Client
	policy     reliability.Policy
	// trusted decides which hosts receive account credentials.
	trusted func(host string) bool
}

func NewRecordingClient(accountSID, authToken string, httpClient *http.Client) *RecordingClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 6 * time.Second}
	}
	return &RecordingClient{
		accountSID: accountSID,
		authToken:  authToken,
		client:     httpClient,
		policy: reliability.Policy{
			Attempts: 4,
			Base:     150 * time.Millisecond,
			Cap:      800 * time.Millisecond,
			Retry:    retryRecording,
		},
		trusted: isTwilioHost,
	}
}

// Fetch downloads the recording at recordingURL. Twilio publishes a recording
// shortly after the callback fires, so a 404 is retried for a moment.
func (c *RecordingClient) Fetch(ctx context.Context, recordingURL string) (voice.Audio, error) {
	u, err := url.Parse(strings.TrimSpace(recordingURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return voice.Audio{}, fmt.Errorf("invalid recording url %q", recordingURL)
	}

	var audio voice.Audio
	err = reliability.Do(ctx, c.policy, func(ctx context.Context) error {
		var err error
		audio, err = c.fetchOnce(ctx, u)
		return err
	})
	if err != nil {
		return voice.Audio{}, fmt.Errorf("fetch recording: %w", err)
	}
	return audio, nil
}

func (c *RecordingClient) fetchOnce(ctx context.Context, u *url.URL) (voice.Audio, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return voice.Audio{}, fmt.Errorf("create request: %w", err)
	}
	if c.accountSID != "" && c.trusted(u.Hostname()) {
		req.SetBasicAuth(c.accountSID, c.authToken)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return voice.Audio{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<10))
		return voice.Audio{}, &reliability.StatusError{Service: "twilio recordings", Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, maxRecordingBytes))
	if err != nil {
		return voice.Audio{}, fmt.Errorf("read recording: %w", err)
	}
	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/wav"
	}
	return voice.Audio{Data: data, ContentType: contentType}, nil
}

func retryRecording(err error) bool {
	var se *reliability.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return true
	}
	return reliability.Retryable(err)
}

func isTwilioHost(host string) bool {
	host = strings.ToLower(host)
	return host == "twilio.com" || strings.HasSuffix(host, ".twilio.com")
}
