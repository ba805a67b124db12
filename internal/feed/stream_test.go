package feed

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
)

// TestHandleMessage_TradeEvent confirms a combined-stream trade frame is
// parsed and fanned out to listeners.
func TestHandleMessage_TradeEvent(t *testing.T) {
	s := NewStream("wss://example/stream", slog.New(slog.NewTextHandler(io.Discard, nil)))

	var got []Tick
	s.AddListener(func(tk Tick) { got = append(got, tk) })

	s.handleMessage([]byte(`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"87350.10","T":1700000000000}}`))

	if len(got) != 1 {
		t.Fatalf("listeners received %d ticks, want 1", len(got))
	}
	if got[0].Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q, want BTCUSDT", got[0].Symbol)
	}
	if !got[0].Price.Equal(decimal.RequireFromString("87350.10")) {
		t.Errorf("price = %s, want 87350.10", got[0].Price)
	}
	if got[0].At.UnixMilli() != 1700000000000 {
		t.Errorf("trade time = %d, want 1700000000000", got[0].At.UnixMilli())
	}
}

// TestHandleMessage_IgnoresNonTradeFrames: subscription acks, unknown events,
// and malformed prices must never reach the listeners.
func TestHandleMessage_IgnoresNonTradeFrames(t *testing.T) {
	s := NewStream("wss://example/stream", slog.New(slog.NewTextHandler(io.Discard, nil)))

	var count int
	s.AddListener(func(Tick) { count++ })

	frames := []string{
		`{"result":null,"id":1}`, // subscription ack
		`{"stream":"btcusdt@depth","data":{"e":"depthUpdate","s":"BTCUSDT"}}`,
		`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"not-a-number"}}`,
		`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"0"}}`,
		`not even json`,
	}
	for _, f := range frames {
		s.handleMessage([]byte(f))
	}

	if count != 0 {
		t.Errorf("listeners received %d ticks from junk frames, want 0", count)
	}
}

// TestSubscribe_Idempotent: subscribing twice to the same symbol tracks it
// once; case is normalised.
func TestSubscribe_Idempotent(t *testing.T) {
	s := NewStream("wss://example/stream", slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := s.Subscribe("btcusdt"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := s.Subscribe("BTCUSDT"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.symbols) != 1 {
		t.Errorf("tracked symbols = %d, want 1", len(s.symbols))
	}
	if _, ok := s.symbols["BTCUSDT"]; !ok {
		t.Error("symbol should be tracked in upper case")
	}
}
