package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tde/go-alor-collector/internal/calendar"
	"github.com/tde/go-alor-collector/internal/errs"
	"github.com/tde/go-alor-collector/internal/models"
)

const (
	// reconnectDelay is the fixed pause between reconnect attempts after
	// an unexpected socket close. Unbounded retries, no backoff growth.
	reconnectDelay = 2 * time.Second

	// progressEvery controls the buffer-occupancy progress log.
	progressEvery = 100

	opcodeOrderBook = "OrderBookGetAndSubscribe"
	opcodeAllTrades = "AllTradesGetAndSubscribe"
	wireFormat      = "Simple"
)

// TokenSource supplies a valid bearer token for subscription frames.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Sink persists one full buffer batch.
type Sink interface {
	Append(records []string) error
}

// Config carries the stream subscription parameters.
type Config struct {
	WSURL     string
	Exchange  string
	Symbol    string
	Depth     int
	Frequency int
	FlushSize int
	Sessions  []models.SessionRange
}

// Pipeline owns the live connection, the double buffer and the persistence
// sink. One read loop drives everything; only the flush runs on its own
// goroutine so a slow disk never blocks the socket.
type Pipeline struct {
	cfg    Config
	tokens TokenSource
	cal    *calendar.Calendar
	sink   Sink
	buffer *DoubleBuffer
	logger *slog.Logger
	dialer *websocket.Dialer
	now    func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source used for session filtering. Intended
// for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(p *Pipeline) { p.dialer = d }
}

// NewPipeline creates the ingestion pipeline.
func NewPipeline(cfg Config, tokens TokenSource, cal *calendar.Calendar, sink Sink,
	logger *slog.Logger, opts ...Option) *Pipeline {

	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:    cfg,
		tokens: tokens,
		cal:    cal,
		sink:   sink,
		buffer: NewDoubleBuffer(cfg.FlushSize),
		logger: logger,
		dialer: websocket.DefaultDialer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run connects, subscribes and ingests until ctx is canceled. Unexpected
// socket closes reconnect after a fixed delay, forever; an auth failure is
// fatal. Whatever remains buffered is flushed before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.flushRemaining()

	bo := backoff.WithContext(backoff.NewConstantBackOff(reconnectDelay), ctx)
	err := backoff.Retry(func() error {
		err := p.runConn(ctx)
		if err == nil {
			return nil
		}
		if errs.IsKind(err, errs.KindAuth) {
			return backoff.Permanent(err)
		}
		p.logger.Warn("stream disconnected, reconnecting",
			"delay", reconnectDelay, "error", err)
		return err
	}, bo)

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// runConn drives one connection: dial, subscribe, read until the socket
// closes or ctx is canceled. Returns nil only on graceful shutdown.
func (p *Pipeline) runConn(ctx context.Context) error {
	conn, _, err := p.dialer.DialContext(ctx, p.cfg.WSURL, nil)
	if err != nil {
		return errs.New(errs.KindStream, "dial", err)
	}
	defer conn.Close()

	p.logger.Info("stream connected", "url", p.cfg.WSURL)

	if err := p.subscribe(ctx, conn); err != nil {
		return err
	}

	// Unblock the read loop on shutdown by closing the socket politely.
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"), deadline)
			conn.Close()
		case <-readDone:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errs.New(errs.KindStream, "read", err)
		}
		p.handleMessage(raw)
	}
}

// subscribeRequest is the outbound frame for both feeds.
type subscribeRequest struct {
	Opcode    string `json:"opcode"`
	Code      string `json:"code"`
	Depth     int    `json:"depth,omitempty"`
	Exchange  string `json:"exchange"`
	Format    string `json:"format"`
	Frequency int    `json:"frequency,omitempty"`
	GUID      string `json:"guid"`
	Token     string `json:"token"`
}

// subscribe issues the order-book and all-trades subscriptions with a fresh
// token and unique correlation ids.
func (p *Pipeline) subscribe(ctx context.Context, conn *websocket.Conn) error {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return err
	}

	requests := []subscribeRequest{
		{
			Opcode:    opcodeOrderBook,
			Code:      p.cfg.Symbol,
			Depth:     p.cfg.Depth,
			Exchange:  p.cfg.Exchange,
			Format:    wireFormat,
			Frequency: p.cfg.Frequency,
			GUID:      "ob-" + uuid.NewString(),
			Token:     token,
		},
		{
			Opcode:   opcodeAllTrades,
			Code:     p.cfg.Symbol,
			Exchange: p.cfg.Exchange,
			Format:   wireFormat,
			GUID:     "tr-" + uuid.NewString(),
			Token:    token,
		},
	}

	for _, req := range requests {
		if err := conn.WriteJSON(req); err != nil {
			return errs.New(errs.KindStream, "subscribe", err)
		}
		p.logger.Info("subscription sent", "opcode", req.Opcode, "guid", req.GUID)
	}
	return nil
}

// messageEnvelope is the minimal view of an inbound frame needed for the
// ingestion decision. The full raw text is what gets persisted.
type messageEnvelope struct {
	Opcode string          `json:"opcode"`
	Data   json.RawMessage `json:"data"`
}

// handleMessage applies the ingestion rule to one inbound frame: drop
// outside the trading session, drop payload-less protocol messages, and
// append everything else to the active buffer as a single line of exact
// JSON text.
func (p *Pipeline) handleMessage(raw []byte) {
	if !p.cal.WithinSession(p.now().UnixMilli(), p.cfg.Sessions) {
		return
	}

	var env messageEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.logger.Debug("dropping unparsable frame", "error", err)
		return
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		opcode := env.Opcode
		if opcode == "" {
			opcode = "unknown"
		}
		p.logger.Info("service message received", "opcode", opcode)
		return
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		p.logger.Debug("dropping malformed frame", "error", err)
		return
	}

	if p.buffer.Len() > 0 && p.buffer.Len()%progressEvery == 0 {
		p.logger.Info("buffer progress", "records", p.buffer.Len())
	}

	full, needFlush := p.buffer.Append(compact.String())
	if needFlush {
		p.logger.Info("buffer full, flushing", "records", len(full))
		go p.flush(full)
	}
}

// flush hands one full slot to the sink. An append failure is logged and
// the records are dropped; there is no overflow path.
func (p *Pipeline) flush(records []string) {
	if err := p.sink.Append(records); err != nil {
		p.logger.Error("flush failed, records dropped",
			"count", len(records), "error", err)
	}
	p.buffer.CompleteFlush()
}

// flushRemaining persists whatever the active buffer holds, bypassing the
// size threshold. Called once on shutdown.
func (p *Pipeline) flushRemaining() {
	records := p.buffer.Drain()
	if len(records) == 0 {
		return
	}
	p.logger.Info("flushing remaining records on shutdown", "records", len(records))
	if err := p.sink.Append(records); err != nil {
		p.logger.Error("shutdown flush failed, records dropped",
			"count", len(records), "error", err)
	}
}
