package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Dispatcher performs the side effect of a due scheduled task.
// Implementations must return promptly; long-running dispatches should be
// fire-and-forget, which the Scheduler's tick loop already arranges by
// invoking Dispatch in its own goroutine.
type Dispatcher interface {
	Dispatch(ctx context.Context, t Task) error
}

// HTTPDispatcher implements Dispatcher over plain HTTP calls against the
// external API surface: each action type is a bare HTTP request with no
// retry of its own (retries happen one layer up, around persisting the
// post-dispatch task state).
type HTTPDispatcher struct {
	// APIBaseURL is the base URL of the HTTP API exposing
	// POST /agent-actions/{agent_id}/execute.
	APIBaseURL string
	// NotificationURL is the endpoint send_notification dispatch POSTs
	// {chat_id, text} to.
	NotificationURL string
	Client          *http.Client
}

var _ Dispatcher = (*HTTPDispatcher)(nil)

// NewHTTPDispatcher constructs an HTTPDispatcher with a bounded-timeout
// client if none is supplied.
func NewHTTPDispatcher(apiBaseURL, notificationURL string, client *http.Client) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPDispatcher{APIBaseURL: apiBaseURL, NotificationURL: notificationURL, Client: client}
}

// Dispatch routes t to the run_agent/send_notification/api_call action
// implementation.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, t Task) error {
	switch t.ActionType {
	case ActionRunAgent:
		return d.runAgent(ctx, t)
	case ActionSendNotification:
		return d.sendNotification(ctx, t)
	case ActionAPICall:
		return d.apiCall(ctx, t)
	default:
		return fmt.Errorf("scheduler: unknown action_type %q", t.ActionType)
	}
}

// runAgent POSTs to /agent-actions/{agent_id}/execute with context =
// action_config.initial_payload.context merged with user_id, chat_id.
func (d *HTTPDispatcher) runAgent(ctx context.Context, t Task) error {
	agentID, _ := t.ActionConfig["agent_id"].(string)
	if agentID == "" {
		return fmt.Errorf("scheduler: run_agent: missing action_config.agent_id")
	}
	chatID, _ := t.ActionConfig["chat_id"].(string)
	if chatID == "" {
		chatID = t.UserID
	}

	payload, _ := t.ActionConfig["initial_payload"].(map[string]any)
	taskContext := map[string]any{}
	if payload != nil {
		if c, ok := payload["context"].(map[string]any); ok {
			for k, v := range c {
				taskContext[k] = v
			}
		}
	}
	taskContext["user_id"] = t.UserID
	taskContext["chat_id"] = chatID

	body := map[string]any{"context": taskContext}
	url := fmt.Sprintf("%s/agent-actions/%s/execute", d.APIBaseURL, agentID)
	return d.postJSON(ctx, url, body)
}

// sendNotification POSTs to the messaging plugin endpoint.
func (d *HTTPDispatcher) sendNotification(ctx context.Context, t Task) error {
	text, _ := t.ActionConfig["text"].(string)
	if text == "" {
		return fmt.Errorf("scheduler: send_notification: missing action_config.text")
	}
	chatID, _ := t.ActionConfig["chat_id"].(string)
	if chatID == "" {
		chatID = t.UserID
	}
	return d.postJSON(ctx, d.NotificationURL, map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
}

// apiCall issues an arbitrary HTTP request per action_config (method,
// url, headers, data/body).
func (d *HTTPDispatcher) apiCall(ctx context.Context, t Task) error {
	url, _ := t.ActionConfig["url"].(string)
	if url == "" {
		return fmt.Errorf("scheduler: api_call: missing action_config.url")
	}
	method, _ := t.ActionConfig["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	var bodyReader io.Reader
	if data, ok := t.ActionConfig["data"]; ok {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("scheduler: api_call: encoding body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("scheduler: api_call: %w", err)
	}
	if headers, ok := t.ActionConfig["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("scheduler: api_call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("scheduler: api_call: %s returned status %d", url, resp.StatusCode)
	}
	return nil
}

func (d *HTTPDispatcher) postJSON(ctx context.Context, url string, body map[string]any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("scheduler: encoding request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("scheduler: dispatch POST %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("scheduler: dispatch POST %s returned status %d", url, resp.StatusCode)
	}
	return nil
}
