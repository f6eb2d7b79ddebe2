package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/jmylchreest/vertd/pkg/httpclient"
)

// maxErrorBody caps how much of a rejected response is kept for the error.
const maxErrorBody = 512

// Webhook posts notifications to a Discord-compatible webhook URL.
type Webhook struct {
	url    string
	client *httpclient.Client
}

// NewWebhook creates a webhook notifier. A nil client uses the defaults.
func NewWebhook(url string, client *httpclient.Client) *Webhook {
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	return &Webhook{url: url, client: client}
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
}

type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds"`
}

func payloadFor(n Notification) webhookPayload {
	e := embed{
		Title:       n.Title,
		Description: n.Description,
		Color:       n.Color,
	}
	for _, f := range n.Fields {
		e.Fields = append(e.Fields, embedField(f))
	}
	return webhookPayload{Content: n.Content, Embeds: []embed{e}}
}

// Notify sends n. Notifications with attachments are sent as multipart form
// data with the message in a payload_json field.
func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(payloadFor(n))
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	contentType := "application/json"
	body := payload
	if len(n.Attachments) > 0 {
		body, contentType, err = multipartBody(payload, n.Attachments)
		if err != nil {
			return err
		}
	}

	resp, err := w.client.Post(ctx, w.url, contentType, body)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("webhook rejected notification: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func multipartBody(payload []byte, attachments []Attachment) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("payload_json", string(payload)); err != nil {
		return nil, "", fmt.Errorf("writing payload field: %w", err)
	}
	for i, a := range attachments {
		part, err := mw.CreateFormFile(fmt.Sprintf("files[%d]", i), a.Name)
		if err != nil {
			return nil, "", fmt.Errorf("creating attachment %s: %w", a.Name, err)
		}
		if _, err := part.Write(a.Data); err != nil {
			return nil, "", fmt.Errorf("writing attachment %s: %w", a.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

var _ Notifier = (*Webhook)(nil)
