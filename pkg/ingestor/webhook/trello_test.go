package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"vaultproxy/pkg/ingestor"
)

func trelloSign(secret string, body []byte, callbackURL string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(callbackURL))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newTrelloWebhook(secret, callbackURL, board string) *Webhook {
	base := ingestor.NewBase("acme-trello", "", "webhook", "trello", 10, 1000)
	return &Webhook{
		Base:     base,
		provider: &trelloProvider{secret: secret, path: "trello", callbackURL: callbackURL, board: board},
	}
}

func TestTrelloAcceptsValidSignature(t *testing.T) {
	callback := "https://gateway.example.com/webhooks/trello"
	w := newTrelloWebhook("secret", callback, "")
	body := []byte(`{"action":{"id":"act-1","type":"createCard"}}`)
	headers := http.Header{}
	headers.Set("X-Trello-Webhook", trelloSign("secret", body, callback))

	accepted, reason := w.Accept(headers, body)
	assert.True(t, accepted, reason)

	events := w.GetEvents(0)
	if assert.Len(t, events, 1) {
		assert.Equal(t, "createCard", events[0].EventType)
		assert.Equal(t, "trello:act-1", events[0].IdempotencyKey)
	}
}

func TestTrelloRejectsWhenCallbackURLMissing(t *testing.T) {
	w := newTrelloWebhook("secret", "", "")
	body := []byte(`{"action":{"id":"act-1","type":"createCard"}}`)
	headers := http.Header{}
	headers.Set("X-Trello-Webhook", trelloSign("secret", body, "https://whatever"))

	accepted, reason := w.Accept(headers, body)
	assert.False(t, accepted)
	assert.Equal(t, "callback URL not configured", reason)
}

func TestTrelloBoardFilterRejectsOtherBoards(t *testing.T) {
	callback := "https://gateway.example.com/webhooks/trello"
	w := newTrelloWebhook("secret", callback, "board-a")
	body := []byte(`{"action":{"id":"act-1","type":"createCard","data":{"board":{"id":"board-b"}}}}`)
	headers := http.Header{}
	headers.Set("X-Trello-Webhook", trelloSign("secret", body, callback))

	accepted, _ := w.Accept(headers, body)
	assert.False(t, accepted)
}
