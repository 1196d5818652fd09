package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"echopush/internal/domain"
)

const DefaultEndpoint = "https://fcm.googleapis.com/fcm/send"

// Client sends push notifications through the FCM legacy HTTP API, one
// device token per call so a fan-out can run every device independently.
type Client struct {
	ServerKey string
	Endpoint  string
	HTTP      *http.Client
}

type sendBody struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority"`
	Notification payloadNote       `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type payloadNote struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound"`
}

type sendResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// Send delivers one notification to one token. Failures come back as
// *domain.DeviceSendError so the caller can tell permanent token failures
// (deactivate) from transient transport problems (skip this delivery).
func (c *Client) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	reqBody, err := json.Marshal(sendBody{
		To:           token,
		Priority:     "high",
		Notification: payloadNote{Title: title, Body: body, Sound: "default"},
		Data:         data,
	})
	if err != nil {
		return err
	}

	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.ServerKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &domain.DeviceSendError{Reason: classifyTransportErr(err), Permanent: false}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 4xx other than auth problems never comes from the token itself
		// on this endpoint; treat every HTTP-level failure as transient.
		return &domain.DeviceSendError{
			Reason:    fmt.Sprintf("fcm http %d", resp.StatusCode),
			Permanent: false,
		}
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return &domain.DeviceSendError{Reason: "fcm unparseable response", Permanent: false}
	}
	if out.Failure == 0 {
		return nil
	}

	code := ""
	if len(out.Results) > 0 {
		code = out.Results[0].Error
	}
	return &domain.DeviceSendError{
		Reason:    "fcm: " + code,
		Permanent: IsInvalidToken(code),
	}
}

// IsInvalidToken reports whether an FCM error code means the registration
// token will never work again. The substring checks cover the hyphenated
// codes some SDK layers surface instead of the legacy names.
func IsInvalidToken(code string) bool {
	switch code {
	case "NotRegistered", "InvalidRegistration", "MismatchSenderId":
		return true
	}
	return strings.Contains(code, "registration-token-not-registered") ||
		strings.Contains(code, "invalid-registration-token")
}

func classifyTransportErr(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "fcm timeout"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "fcm timeout"
	}
	return "fcm transport: " + err.Error()
}
