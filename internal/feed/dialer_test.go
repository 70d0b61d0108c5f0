package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/quotebot/quotegallery/internal/quotes"
	"github.com/quotebot/quotegallery/internal/quotesapi"
)

func TestDialerStreamsChanges(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/feed" || r.URL.Query().Get("owner") != "owner-1" {
			http.Error(w, "bad path", http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")
		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"eventId":"junk"}`))
		frame, _ := Encode(quotes.DeletedChange("evt-1", "owner-1", "q1"))
		_ = conn.Write(ctx, websocket.MessageText, frame)
		conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer server.Close()

	dialer := &Dialer{BaseURL: server.URL, Tokens: quotesapi.StaticToken("tok"), PingInterval: -1}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := dialer.Subscribe(ctx, "owner-1")
	require.NoError(t, err)
	defer stream.Close()

	change, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, quotes.ChangeDeleted, change.Kind)
	assert.Equal(t, "q1", change.ArtifactID)

	_, err = stream.Next(ctx)
	require.Error(t, err)
}

func TestDialerReportsRejectedHandshake(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	dialer := &Dialer{BaseURL: server.URL}
	_, err := dialer.Subscribe(context.Background(), "owner-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestFeedURL(t *testing.T) {
	got, err := feedURL("https://gallery.example.com/api/", "owner 1")
	require.NoError(t, err)
	assert.Equal(t, "wss://gallery.example.com/api/v1/feed?owner=owner+1", got)

	_, err = feedURL("ftp://nope", "o")
	require.Error(t, err)
}
