package feeder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned by WSSource.Fetch before the first tick arrives or
// once the latest tick is older than MaxAge.
var ErrNoPrice = errors.New("feeder: no fresh price from stream")

// WSSourceConfig configures a streaming price source.
type WSSourceConfig struct {
	URL   string
	Field string
	// Subscribe, when set, is sent as a text frame right after connecting.
	Subscribe string
	// MaxAge bounds how stale the cached tick may be; 0 means 1 minute.
	MaxAge time.Duration
	// Backoff is the delay between reconnect attempts; 0 means 2 seconds.
	Backoff time.Duration
}

// WSSource keeps the latest price pushed by a WebSocket ticker stream.
// Frames that do not carry the configured field are ignored. Run must be
// running for Fetch to return anything.
type WSSource struct {
	cfg    WSSourceConfig
	field  []string
	dialer *websocket.Dialer
	now    func() time.Time
	logger *slog.Logger

	mu    sync.RWMutex
	price decimal.Decimal
	at    time.Time
}

// NewWSSource creates a WSSource.
func NewWSSource(cfg WSSourceConfig, logger *slog.Logger) *WSSource {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Minute
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	return &WSSource{
		cfg:    cfg,
		field:  strings.Split(cfg.Field, "."),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		now:    time.Now,
		logger: logger.With(slog.String("component", "ws_price_source")),
	}
}

// IsStreamURL reports whether url names a WebSocket endpoint.
func IsStreamURL(url string) bool {
	return strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://")
}

// Fetch implements Source with the most recent tick.
func (s *WSSource) Fetch(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.at.IsZero() || s.now().Sub(s.at) > s.cfg.MaxAge {
		return decimal.Zero, ErrNoPrice
	}
	return s.price, nil
}

// Run connects and reads ticks until ctx is cancelled, reconnecting after
// the configured backoff whenever the stream drops.
func (s *WSSource) Run(ctx context.Context) error {
	for {
		err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("price stream disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.Backoff):
		}
	}
}

func (s *WSSource) runConnection(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("feeder: dial stream: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if s.cfg.Subscribe != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(s.cfg.Subscribe)); err != nil {
			return fmt.Errorf("feeder: subscribe: %w", err)
		}
	}
	s.logger.Info("price stream connected", slog.String("url", s.cfg.URL))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feeder: read stream: %w", err)
		}
		s.handleFrame(data)
	}
}

func (s *WSSource) handleFrame(data []byte) {
	price, err := extractPrice(bytes.NewReader(data), s.field)
	if err != nil {
		s.logger.Debug("ignoring stream frame", slog.String("error", err.Error()))
		return
	}
	s.mu.Lock()
	s.price = price
	s.at = s.now()
	s.mu.Unlock()
}
