// Package feed implements the live price feed: a websocket client on the
// Binance combined stream that fans trade ticks out to subscribers (the
// order monitor, the broadcast hub, and the REST price cache).
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	dialTimeout      = 10 * time.Second
	readDeadline     = 90 * time.Second // Binance pings every ~3 minutes; trade streams tick far more often
	reconnectMin     = time.Second
	reconnectMax     = 30 * time.Second
	writeDeadline    = 5 * time.Second
	maxStreamsPerSub = 200
)

// Tick is one live price event.
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

// Listener receives every tick. Implementations must not block: the read
// loop delivers ticks synchronously.
type Listener func(Tick)

// ──────────────────────────────────────────────────────────────────────────────
// Stream
// ──────────────────────────────────────────────────────────────────────────────

// Stream maintains a single websocket connection to the combined trade
// stream, resubscribing to every tracked symbol after each reconnect.
// Subscribe is idempotent and safe before and after Run starts.
type Stream struct {
	url    string
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	symbols   map[string]struct{}
	listeners []Listener
	reqID     atomic.Int64
}

// NewStream creates a Stream for the given combined-stream endpoint
// (e.g. "wss://stream.binance.com:9443/stream").
func NewStream(url string, logger *slog.Logger) *Stream {
	return &Stream{
		url:     url,
		logger:  logger,
		symbols: make(map[string]struct{}),
	}
}

// AddListener registers a tick consumer. Call before Run.
func (s *Stream) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Subscribe starts tracking a symbol. Subscribing to an already-tracked
// symbol is a no-op. When connected, the subscription frame is sent
// immediately; otherwise it is replayed on the next (re)connect.
func (s *Stream) Subscribe(symbol string) error {
	symbol = strings.ToUpper(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.symbols[symbol]; ok {
		return nil
	}
	s.symbols[symbol] = struct{}{}

	if s.conn == nil {
		return nil // replayed by resubscribe on connect
	}
	return s.send(subscribeFrame{
		Method: "SUBSCRIBE",
		Params: []string{streamName(symbol)},
		ID:     s.reqID.Add(1),
	})
}

// Run connects and reads ticks until ctx is cancelled, reconnecting with
// exponential backoff on any error.
func (s *Stream) Run(ctx context.Context) {
	backoff := reconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("price stream disconnected, reconnecting", "err", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────────────────────────────────

type subscribeFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// combinedEvent is one message on the combined stream:
//
//	{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"87350.10","T":1700000000000}}
type combinedEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Price     string `json:"p"`
		TradeTime int64  `json:"T"`
	} `json:"data"`
}

func streamName(symbol string) string {
	return strings.ToLower(symbol) + "@trade"
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	s.mu.Lock()
	s.conn = conn
	err = s.resubscribeLocked()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}
	s.logger.Info("price stream connected", "url", s.url)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	conn.SetPingHandler(func(payload string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		return conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(writeDeadline))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			return err
		}
		s.handleMessage(msg)
	}
}

// resubscribeLocked replays subscriptions for every tracked symbol in chunks.
// Caller holds s.mu.
func (s *Stream) resubscribeLocked() error {
	if len(s.symbols) == 0 {
		return nil
	}
	var params []string
	for sym := range s.symbols {
		params = append(params, streamName(sym))
		if len(params) == maxStreamsPerSub {
			if err := s.send(subscribeFrame{Method: "SUBSCRIBE", Params: params, ID: s.reqID.Add(1)}); err != nil {
				return err
			}
			params = nil
		}
	}
	if len(params) > 0 {
		return s.send(subscribeFrame{Method: "SUBSCRIBE", Params: params, ID: s.reqID.Add(1)})
	}
	return nil
}

// send writes a control frame. Caller holds s.mu and s.conn is non-nil.
func (s *Stream) send(frame subscribeFrame) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.conn.WriteJSON(frame)
}

func (s *Stream) handleMessage(msg []byte) {
	var ev combinedEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return // subscription acks and unknown frames are ignored
	}
	if ev.Data.EventType != "trade" || ev.Data.Symbol == "" || ev.Data.Price == "" {
		return
	}
	price, err := decimal.NewFromString(ev.Data.Price)
	if err != nil || price.IsZero() {
		return
	}

	tick := Tick{
		Symbol: ev.Data.Symbol,
		Price:  price,
		At:     time.UnixMilli(ev.Data.TradeTime),
	}

	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()

	for _, l := range listeners {
		l(tick)
	}
}
