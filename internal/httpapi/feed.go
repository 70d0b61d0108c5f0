package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/quotebot/quotegallery/internal/broker"
	"github.com/quotebot/quotegallery/internal/feed"
)

const feedWriteTimeout = 10 * time.Second

// handleFeed streams one owner's changes over a websocket. The broker
// subscription is open before the upgrade completes, so a client that sees
// the handshake succeed misses nothing published afterwards.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		owner = claims.Subject
	}
	if owner != claims.Subject && !claims.HasScope(ScopeModerate) {
		writeError(w, r, http.StatusForbidden, "forbidden", "feed owner does not match token subject")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub, err := s.service.Broker().Subscribe(ctx, owner)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	})
	if err != nil {
		s.logger.WithError(err).WithField("owner", owner).Warn("feed upgrade failed")
		return
	}
	s.metrics.AddFeedSubscribers(1)
	defer s.metrics.AddFeedSubscribers(-1)
	logger := s.logger.WithField("owner", owner)
	logger.Debug("feed subscriber connected")

	// Clients never send data frames; reading only services control frames
	// and notices the close.
	ctx = conn.CloseRead(ctx)
	for {
		change, err := sub.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				conn.Close(websocket.StatusNormalClosure, "")
			case errors.Is(err, broker.ErrSlowSubscriber):
				logger.Warn("feed subscriber dropped: too slow")
				conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
			default:
				logger.WithError(err).Warn("feed subscription failed")
				conn.Close(websocket.StatusInternalError, "subscription failed")
			}
			return
		}
		frame, err := feed.Encode(change)
		if err != nil {
			logger.WithError(err).WithField("event", change.EventID).Error("feed frame not encoded")
			continue
		}
		writeCtx, cancelWrite := context.WithTimeout(ctx, feedWriteTimeout)
		err = conn.Write(writeCtx, websocket.MessageText, frame)
		cancelWrite()
		if err != nil {
			logger.WithError(err).Debug("feed subscriber gone")
			return
		}
	}
}

// originPatterns turns CORS origins into the host patterns the websocket
// handshake checks.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		if i := strings.Index(origin, "://"); i >= 0 {
			origin = origin[i+3:]
		}
		out = append(out, origin)
	}
	return out
}
