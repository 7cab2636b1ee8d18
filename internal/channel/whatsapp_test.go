package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upsertPayload(jid, text string, fromMe bool) string {
	return fmt.Sprintf(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": %q, "fromMe": %v, "id": "MSG123"},
			"pushName": "Ana",
			"message": {"conversation": %q},
			"messageTimestamp": 1700000000
		}
	}`, jid, fromMe, text)
}

func TestParseInboundTextMessage(t *testing.T) {
	w := NewWhatsApp("http://gateway", "key", "tienda")

	msgs, err := w.ParseInbound([]byte(upsertPayload("5491122334455@s.whatsapp.net", "hola, ¿tienen stock?", false)))
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	in := msgs[0]
	assert.Equal(t, TypeWhatsApp, in.Channel)
	assert.Equal(t, "5491122334455", in.PhoneNumber)
	assert.Equal(t, "Ana", in.SenderName)
	assert.Equal(t, "hola, ¿tienen stock?", in.Text)
	assert.Equal(t, "MSG123", in.MessageID)
	assert.Equal(t, time.Unix(1700000000, 0), in.Timestamp)
}

func TestParseInboundSkipsOwnMessages(t *testing.T) {
	w := NewWhatsApp("http://gateway", "key", "tienda")
	msgs, err := w.ParseInbound([]byte(upsertPayload("549111@s.whatsapp.net", "eco", true)))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestParseInboundSkipsGroups(t *testing.T) {
	w := NewWhatsApp("http://gateway", "key", "tienda")
	msgs, err := w.ParseInbound([]byte(upsertPayload("12036304@g.us", "mensaje de grupo", false)))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestParseInboundSkipsNonUpsertEvents(t *testing.T) {
	w := NewWhatsApp("http://gateway", "key", "tienda")
	msgs, err := w.ParseInbound([]byte(`{"event": "connection.update", "data": {}}`))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestParseInboundSkipsNonTextMessages(t *testing.T) {
	w := NewWhatsApp("http://gateway", "key", "tienda")
	payload := `{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "549111@s.whatsapp.net", "fromMe": false, "id": "A"},
			"message": {"imageMessage": {"url": "http://x"}}
		}
	}`
	msgs, err := w.ParseInbound([]byte(payload))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestParseInboundExtendedText(t *testing.T) {
	w := NewWhatsApp("http://gateway", "key", "tienda")
	payload := `{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "549111@s.whatsapp.net", "fromMe": false, "id": "B"},
			"message": {"extendedTextMessage": {"text": "respuesta citada"}},
			"messageTimestamp": "1700000123"
		}
	}`
	msgs, err := w.ParseInbound([]byte(payload))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "respuesta citada", msgs[0].Text)
	assert.Equal(t, time.Unix(1700000123, 0), msgs[0].Timestamp)
}

func TestParseInboundMalformedBody(t *testing.T) {
	w := NewWhatsApp("http://gateway", "key", "tienda")
	_, err := w.ParseInbound([]byte("not json"))
	assert.Error(t, err)
}

func TestSendPostsToGateway(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("apikey")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		rw.WriteHeader(http.StatusCreated)
		rw.Write([]byte(`{}`))
	}))
	defer server.Close()

	w := NewWhatsApp(server.URL, "secret", "tienda")
	err := w.Send(context.Background(), Outgoing{PhoneNumber: "549111", Text: "tu pedido salió"})
	require.NoError(t, err)

	assert.Equal(t, "/message/sendText/tienda", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "549111", gotBody["number"])
	assert.Equal(t, "tu pedido salió", gotBody["text"])
}

func TestStatusReportsConnectionState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instance/connectionState/tienda", r.URL.Path)
		rw.Write([]byte(`{"instance": {"state": "open"}}`))
	}))
	defer server.Close()

	w := NewWhatsApp(server.URL, "key", "tienda")
	status := w.Status(context.Background())
	assert.True(t, status.Connected)
	assert.Equal(t, TypeWhatsApp, status.Channel)

	down := NewWhatsApp("http://127.0.0.1:1", "key", "tienda")
	assert.False(t, down.Status(context.Background()).Connected)
}
