package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/thereceipt/cafeprint/internal/dispatch"
	"github.com/thereceipt/cafeprint/internal/log"
	"github.com/thereceipt/cafeprint/internal/metrics"
	"github.com/thereceipt/cafeprint/pkg/receiptformat"
)

const (
	defaultJobTimeout = 2 * time.Minute
	outboxSize        = 64
)

var (
	errUnknownTarget = errors.New("unknown target")
	errMissingInput  = errors.New("input is required")
)

// Link is one established duplex connection to the relay. Close may be
// called more than once.
type Link interface {
	// Receive blocks until the next message arrives or the link fails
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Dialer opens links. Client calls it again after every disconnect.
type Dialer interface {
	Dial(ctx context.Context) (Link, error)
}

// Router is the print surface the relay drives
type Router interface {
	PrintReceipt(ctx context.Context, in *receiptformat.BuildInput) error
	PrintKitchenOrder(ctx context.Context, in *receiptformat.BuildInput) error
	PrintBoth(ctx context.Context, in *receiptformat.BuildInput) dispatch.BothResult
	PrintRaw(ctx context.Context, transport string, data []byte) error
	Status() dispatch.Status
	Subscribe(fn func(dispatch.Status)) (unsubscribe func())
}

// Handler receives events outside the printing namespace
type Handler func(ctx context.Context, data json.RawMessage)

// Options configures a Client
type Options struct {
	TerminalID string
	Name       string
	Backoff    Backoff
	// JobTimeout bounds a single print job
	JobTimeout time.Duration
}

// Client keeps the relay connection alive and turns inbound jobs into
// router calls. Every print:job and print:raw is answered exactly once.
type Client struct {
	dialer Dialer
	router Router
	opts   Options
	logger zerolog.Logger

	outbox    chan outboundMessage
	connected atomic.Bool
	// pending holds a result whose send failed; only the running
	// writeLoop touches it
	pending *outboundMessage

	mu       sync.RWMutex
	handlers map[string]Handler

	wg sync.WaitGroup // in-flight message handlers
}

// NewClient creates a client; call Run to connect
func NewClient(dialer Dialer, router Router, opts Options) *Client {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	opts.Backoff.applyDefaults()

	return &Client{
		dialer:   dialer,
		router:   router,
		opts:     opts,
		logger:   log.WithComponent("relay"),
		outbox:   make(chan outboundMessage, outboxSize),
		handlers: make(map[string]Handler),
	}
}

// Handle registers fn for event. Printing events cannot be overridden.
func (c *Client) Handle(event string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = fn
}

// Connected reports whether a link is currently up
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run connects and serves until ctx is cancelled, reconnecting with
// exponential backoff. It waits for in-flight jobs before returning.
func (c *Client) Run(ctx context.Context) error {
	unsubscribe := c.router.Subscribe(func(s dispatch.Status) {
		c.offer(EventPrinterStatus, s)
	})
	defer unsubscribe()
	defer c.wg.Wait()

	backoff := c.opts.Backoff
	for {
		link, err := c.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := backoff.Next()
			c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("relay connection failed")
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		backoff.Reset()
		metrics.IncRelayConnections()
		c.logger.Info().Str("terminal", c.opts.TerminalID).Msg("relay connected")

		err = c.serve(ctx, link)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := backoff.Next()
		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("relay disconnected")
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

// serve runs one connection: announce, then read until the link fails
func (c *Client) serve(ctx context.Context, link Link) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Not every link watches ctx in Receive; closing it unblocks the read
	stop := context.AfterFunc(connCtx, func() { link.Close() })
	defer stop()

	announce, err := encodeMessage(EventPresenceAnnounce, PresenceAnnounce{
		TerminalID: c.opts.TerminalID,
		Name:       c.opts.Name,
		Printers:   c.router.Status(),
	})
	if err != nil {
		return err
	}
	if err := link.Send(connCtx, announce); err != nil {
		return fmt.Errorf("failed to announce presence: %w", err)
	}

	c.connected.Store(true)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(connCtx, cancel, link)
	}()

	for {
		msg, err := link.Receive(connCtx)
		if err != nil {
			c.connected.Store(false)
			cancel()
			<-writerDone
			return err
		}

		// Handlers outlive the connection so a dropped link does not abort
		// a print halfway through
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.dispatch(ctx, msg)
		}()
	}
}

// outboundMessage is an encoded message waiting for a link. Results are
// kept across a failed send; status updates are not.
type outboundMessage struct {
	event  string
	data   []byte
	retain bool
}

// writeLoop drains the shared outbox onto link, starting with a result
// the previous link failed to deliver
func (c *Client) writeLoop(ctx context.Context, cancel context.CancelFunc, link Link) {
	if msg := c.pending; msg != nil {
		if !c.write(ctx, cancel, link, *msg) {
			return
		}
		c.pending = nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.outbox:
			if !c.write(ctx, cancel, link, msg) {
				return
			}
		}
	}
}

// write sends msg and reports success. On failure it tears the link down
// and keeps msg for the next link when it is a result.
func (c *Client) write(ctx context.Context, cancel context.CancelFunc, link Link, msg outboundMessage) bool {
	err := link.Send(ctx, msg.data)
	if err == nil {
		return true
	}

	if msg.retain {
		c.pending = &msg
		c.logger.Warn().Err(err).Str("event", msg.event).Msg("relay send failed, holding result for next connection")
	} else {
		c.logger.Warn().Err(err).Str("event", msg.event).Msg("relay send failed")
	}
	cancel()
	return false
}

// dispatch routes one inbound message by event
func (c *Client) dispatch(ctx context.Context, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		c.logger.Warn().Err(err).Int("bytes", len(msg)).Msg("malformed relay message")
		return
	}
	metrics.IncRelayMessages(env.Event)

	switch env.Event {
	case EventPrintJob:
		c.handlePrintJob(ctx, env.Data)
	case EventPrintRaw:
		c.handlePrintRaw(ctx, env.Data)
	case EventPing:
		c.send(ctx, EventPong, json.RawMessage(nonNull(env.Data)))
	default:
		c.mu.RLock()
		fn := c.handlers[env.Event]
		c.mu.RUnlock()
		if fn == nil {
			c.logger.Debug().Str("event", env.Event).Msg("ignoring relay event")
			return
		}
		defer func() {
			if p := recover(); p != nil {
				c.logger.Error().Str("event", env.Event).Interface("panic", p).Msg("relay handler panicked")
			}
		}()
		fn(ctx, env.Data)
	}
}

// handlePrintJob answers exactly once, whatever happens in between
func (c *Client) handlePrintJob(ctx context.Context, data json.RawMessage) {
	result := PrintJobResult{JobID: peekJobID(data)}
	logger := c.logger.With().Str("job", result.JobID).Logger()

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("print job panicked")
			result = PrintJobResult{JobID: result.JobID, Error: fmt.Sprintf("print job panicked: %v", p)}
		}
		c.send(ctx, EventPrintJobResult, result)
	}()

	var job PrintJob
	if err := json.Unmarshal(data, &job); err != nil {
		result.Error = fmt.Sprintf("malformed print job: %v", err)
		logger.Warn().Err(err).Msg("malformed print job")
		return
	}
	// Incomplete orders still print; the encoder fills the gaps
	if job.Input == nil {
		result.Error = errMissingInput.Error()
		logger.Warn().Str("target", job.Target).Msg("rejected print job without input")
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, c.opts.JobTimeout)
	defer cancel()

	result = c.runJob(jobCtx, job)
	logger.Info().
		Str("target", job.Target).
		Bool("success", result.Success).
		Str("error", result.Error).
		Msg("print job finished")
}

func (c *Client) runJob(ctx context.Context, job PrintJob) PrintJobResult {
	result := PrintJobResult{JobID: job.JobID}

	switch job.Target {
	case TargetReceipt:
		err := c.router.PrintReceipt(ctx, job.Input)
		ok := err == nil
		result.Success, result.Receipt = ok, &ok
		result.Error = errorString(err)
	case TargetKitchen:
		err := c.router.PrintKitchenOrder(ctx, job.Input)
		ok := err == nil
		result.Success, result.Kitchen = ok, &ok
		result.Error = errorString(err)
	case TargetBoth:
		res := c.router.PrintBoth(ctx, job.Input)
		result.Success = res.Success()
		result.Receipt = &res.Receipt
		result.Kitchen = &res.Kitchen
		result.Error = errorString(res.Err())
	default:
		result.Error = fmt.Sprintf("%v: %q", errUnknownTarget, job.Target)
	}
	return result
}

// handlePrintRaw answers exactly once, like handlePrintJob
func (c *Client) handlePrintRaw(ctx context.Context, data json.RawMessage) {
	result := PrintRawResult{JobID: peekJobID(data)}
	logger := c.logger.With().Str("job", result.JobID).Logger()

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("raw print panicked")
			result = PrintRawResult{JobID: result.JobID, Error: fmt.Sprintf("raw print panicked: %v", p)}
		}
		c.send(ctx, EventPrintRawResult, result)
	}()

	var job PrintRaw
	if err := json.Unmarshal(data, &job); err != nil {
		result.Error = fmt.Sprintf("malformed raw print: %v", err)
		logger.Warn().Err(err).Msg("malformed raw print")
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, c.opts.JobTimeout)
	defer cancel()

	err := c.router.PrintRaw(jobCtx, job.Target, job.Bytes)
	result.Success = err == nil
	result.Error = errorString(err)
	logger.Info().
		Str("target", job.Target).
		Int("bytes", len(job.Bytes)).
		Bool("success", result.Success).
		Msg("raw print finished")
}

// send queues a reply, waiting for room. Replies wait across reconnects
// until ctx ends, including one whose send failed.
func (c *Client) send(ctx context.Context, event string, data any) {
	msg, err := encodeMessage(event, data)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to encode relay message")
		return
	}

	select {
	case c.outbox <- outboundMessage{event: event, data: msg, retain: true}:
	case <-ctx.Done():
		c.logger.Warn().Str("event", event).Msg("relay message dropped on shutdown")
	}
}

// offer queues a message only when connected and there is room
func (c *Client) offer(event string, data any) {
	if !c.connected.Load() {
		return
	}
	msg, err := encodeMessage(event, data)
	if err != nil {
		return
	}
	select {
	case c.outbox <- outboundMessage{event: event, data: msg}:
	default:
		c.logger.Debug().Str("event", event).Msg("relay outbox full, dropping update")
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func nonNull(data json.RawMessage) []byte {
	if len(data) == 0 {
		return []byte("{}")
	}
	return data
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
