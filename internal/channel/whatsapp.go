package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// WhatsApp talks to an Evolution API gateway. One instance per deployment;
// the gateway pushes inbound traffic to our webhook endpoint.
type WhatsApp struct {
	apiURL       string
	apiKey       string
	instanceName string
	httpClient   *http.Client
}

func NewWhatsApp(apiURL, apiKey, instanceName string) *WhatsApp {
	return &WhatsApp{
		apiURL:       strings.TrimRight(apiURL, "/"),
		apiKey:       apiKey,
		instanceName: instanceName,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *WhatsApp) Type() Type { return TypeWhatsApp }

func (w *WhatsApp) Send(ctx context.Context, out Outgoing) error {
	payload := map[string]any{
		"number": out.PhoneNumber,
		"text":   out.Text,
	}
	_, err := w.post(ctx, "/message/sendText/"+w.instanceName, payload)
	if err != nil {
		return fmt.Errorf("whatsapp send failed: %w", err)
	}
	return nil
}

func (w *WhatsApp) Status(ctx context.Context) Status {
	body, err := w.get(ctx, "/instance/connectionState/"+w.instanceName)
	if err != nil {
		return Status{Channel: TypeWhatsApp, Connected: false, Detail: err.Error()}
	}

	var resp struct {
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Status{Channel: TypeWhatsApp, Connected: false, Detail: "unreadable gateway response"}
	}
	return Status{
		Channel:   TypeWhatsApp,
		Connected: resp.Instance.State == "open",
		Detail:    resp.Instance.State,
	}
}

// Connect creates the gateway instance if needed and returns the pairing
// payload (QR code data) for the operator to scan.
func (w *WhatsApp) Connect(ctx context.Context) (map[string]any, error) {
	createPayload := map[string]any{
		"instanceName": w.instanceName,
		"qrcode":       true,
		"integration":  "WHATSAPP-BAILEYS",
	}
	// Creation fails when the instance already exists; that is fine, we only
	// need the connect call below to succeed.
	_, _ = w.post(ctx, "/instance/create", createPayload)

	body, err := w.get(ctx, "/instance/connect/"+w.instanceName)
	if err != nil {
		return nil, fmt.Errorf("whatsapp connect failed: %w", err)
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse connect response failed: %w", err)
	}
	return result, nil
}

func (w *WhatsApp) Disconnect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, w.apiURL+"/instance/logout/"+w.instanceName, nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", w.apiKey)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp logout failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp logout failed: status %d", resp.StatusCode)
	}
	return nil
}

type evolutionWebhook struct {
	Event string `json:"event"`
	Data  struct {
		Key struct {
			RemoteJID string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		PushName string `json:"pushName"`
		Message  struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
		} `json:"message"`
		MessageTimestamp json.RawMessage `json:"messageTimestamp"`
	} `json:"data"`
}

// ParseInbound extracts user text messages from an Evolution webhook body.
// Echoes of our own sends, group chats and non-text payloads are dropped.
func (w *WhatsApp) ParseInbound(body []byte) ([]Incoming, error) {
	var hook evolutionWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("parse webhook body failed: %w", err)
	}

	if hook.Event != "messages.upsert" {
		return nil, nil
	}
	if hook.Data.Key.FromMe {
		return nil, nil
	}
	jid := hook.Data.Key.RemoteJID
	if jid == "" || strings.HasSuffix(jid, "@g.us") {
		return nil, nil
	}

	text := hook.Data.Message.Conversation
	if text == "" {
		text = hook.Data.Message.ExtendedTextMessage.Text
	}
	if text == "" {
		return nil, nil
	}

	phone := jid
	if at := strings.Index(jid, "@"); at >= 0 {
		phone = jid[:at]
	}

	return []Incoming{{
		Channel:     TypeWhatsApp,
		PhoneNumber: phone,
		SenderName:  hook.Data.PushName,
		Text:        text,
		Timestamp:   parseTimestamp(hook.Data.MessageTimestamp),
		MessageID:   hook.Data.Key.ID,
	}}, nil
}

// parseTimestamp tolerates both numeric and string epoch seconds; the
// gateway emits either depending on version.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Now()
	}
	var asInt int64
	if err := json.Unmarshal(raw, &asInt); err == nil && asInt > 0 {
		return time.Unix(asInt, 0)
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if v, err := strconv.ParseInt(asString, 10, 64); err == nil && v > 0 {
			return time.Unix(v, 0)
		}
	}
	return time.Now()
}

func (w *WhatsApp) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", w.apiKey)
	return w.do(req)
}

func (w *WhatsApp) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.apiURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", w.apiKey)
	return w.do(req)
}

func (w *WhatsApp) do(req *http.Request) ([]byte, error) {
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
