// Package notify reports gate events to the backend API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"metamakers.org/gate-agent/mqtt"
)

const userAgent = "gate-agent"

// maxBodyLog caps how much of the response body ends up in the log.
const maxBodyLog = 4096

type Notifier struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

func New(url string, timeout time.Duration, log zerolog.Logger) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// NotifyGateOpen posts {"event":"gate_open"} once. Any response is logged
// and classified as successful only on 200; a non-200 status is not an
// error. Failing to get a response at all is returned as an error.
func (notifier *Notifier) NotifyGateOpen(ctx context.Context) (bool, error) {
	body, err := json.Marshal(map[string]string{"event": mqtt.GateOpenEvent})
	if err != nil {
		return false, fmt.Errorf("encode notification: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, notifier.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build notification request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", userAgent)

	response, err := notifier.client.Do(request)
	if err != nil {
		return false, fmt.Errorf("post notification to %s: %w", notifier.url, err)
	}
	defer response.Body.Close()

	text, err := io.ReadAll(io.LimitReader(response.Body, maxBodyLog))
	if err != nil {
		return false, fmt.Errorf("read notification response: %w", err)
	}
	headers, _ := json.Marshal(response.Header)
	quoted, _ := json.Marshal(string(text))

	notifier.log.Info().
		Str("event", "NotifyResponse").
		Msg(fmt.Sprintf("API call response: status_code: %d, headers: %s, text: %s", response.StatusCode, headers, quoted))

	if response.StatusCode == http.StatusOK {
		notifier.log.Info().
			Str("event", "NotifySuccessful").
			Msg("API call successful")
		return true, nil
	}

	notifier.log.Warn().
		Str("event", "NotifyFailed").
		Int("status_code", response.StatusCode).
		Msg("API call failed")
	return false, nil
}
