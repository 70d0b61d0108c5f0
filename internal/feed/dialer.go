package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	"github.com/quotebot/quotegallery/internal/observability"
	"github.com/quotebot/quotegallery/internal/quotes"
	"github.com/quotebot/quotegallery/internal/quotesapi"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultPingTimeout  = 10 * time.Second
	maxFrameBytes       = 1 << 20
)

// Dialer opens websocket change feeds against galleryd.
type Dialer struct {
	BaseURL    string
	Tokens     quotesapi.TokenSource
	HTTPClient *http.Client
	// PingInterval is how often a liveness ping is sent; zero means the
	// default and a negative value disables pings.
	PingInterval time.Duration
	PingTimeout  time.Duration
	Logger       logrus.FieldLogger
}

// Subscribe implements gallery.Transport.
func (d *Dialer) Subscribe(ctx context.Context, ownerID string) (quotes.ChangeStream, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, quotes.ErrInvalidInput
	}
	endpoint, err := feedURL(d.BaseURL, ownerID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if d.Tokens != nil {
		token, err := d.Tokens.Token(ownerID)
		if err != nil {
			return nil, fmt.Errorf("token for %s: %w", ownerID, err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}
	conn, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial feed: http %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial feed: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)

	logger := observability.OrDiscard(d.Logger).WithField("owner", ownerID)
	s := &stream{conn: conn, logger: logger, stop: make(chan struct{})}
	interval := d.PingInterval
	if interval == 0 {
		interval = defaultPingInterval
	}
	timeout := d.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	if interval > 0 {
		go s.keepalive(interval, timeout)
	}
	return s, nil
}

func feedURL(base, ownerID string) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = "http://127.0.0.1:8080"
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse feed base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported feed scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/feed"
	u.RawQuery = url.Values{"owner": {ownerID}}.Encode()
	return u.String(), nil
}

type stream struct {
	conn   *websocket.Conn
	logger logrus.FieldLogger

	closeOnce sync.Once
	stop      chan struct{}
}

// Next returns the next valid change. Frames that fail validation are
// logged and skipped.
func (s *stream) Next(ctx context.Context) (quotes.Change, error) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return quotes.Change{}, fmt.Errorf("feed closed by server: %w", err)
			}
			return quotes.Change{}, err
		}
		if typ != websocket.MessageText {
			continue
		}
		change, err := Decode(data)
		if err != nil {
			if errors.Is(err, ErrInvalidFrame) {
				s.logger.WithError(err).Warn("dropping invalid feed frame")
				continue
			}
			return quotes.Change{}, err
		}
		return change, nil
	}
}

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return err
}

// keepalive pings the server; a missed pong closes the connection so the
// pending Read fails and the subscriber reports the feed as disconnected.
func (s *stream) keepalive(interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := s.conn.Ping(ctx)
			cancel()
			if err != nil {
				s.logger.WithError(err).Warn("feed ping failed")
				_ = s.conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}
