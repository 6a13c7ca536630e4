package channel

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"backend-stridelink/internal/message"

	"go.uber.org/zap"
)

type LinkState string

const (
	Disconnected LinkState = "disconnected"
	Connecting   LinkState = "connecting"
	Connected    LinkState = "connected"
)

type Options struct {
	Heartbeat      time.Duration
	LivenessMisses int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	OutboundCap    int
	InboundCap     int
	StopGrace      time.Duration
}

func (o Options) withDefaults() Options {
	if o.Heartbeat <= 0 {
		o.Heartbeat = 5 * time.Second
	}
	if o.LivenessMisses <= 0 {
		o.LivenessMisses = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 30 * time.Second
	}
	if o.OutboundCap <= 0 {
		o.OutboundCap = 500
	}
	if o.InboundCap <= 0 {
		o.InboundCap = 500
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 2 * time.Second
	}
	return o
}

// Stats is a point-in-time view of the link for diagnostics and warnings.
type Stats struct {
	State         LinkState
	Epoch         uint64
	Pending       int
	HighestAcked  uint64
	OverflowDrops uint64
	Duplicates    uint64
	InboundDrops  uint64
}

// Channel is the bidirectional telemetry link. Outbound messages ride the
// durable-until-acked SampleBuffer and are replayed on reconnect; inbound
// messages are deduplicated by sequence number and exposed as an ordered
// stream through Receive.
type Channel struct {
	opts   Options
	log    *zap.Logger
	dialer Dialer

	mu               sync.Mutex
	state            LinkState
	epoch            uint64
	conn             Conn
	nextSeq          uint64
	highestDelivered uint64
	lastLiveness     time.Time
	duplicates       uint64
	inboundDrops     uint64
	onState          func(LinkState)
	closed           bool
	connecting       bool

	buf   *SampleBuffer
	inbox chan message.Envelope
	done  chan struct{}
	wg    sync.WaitGroup
}

func New(dialer Dialer, opts Options, log *zap.Logger) *Channel {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{
		opts:   opts,
		log:    log,
		dialer: dialer,
		state:  Disconnected,
		buf:    NewSampleBuffer(opts.OutboundCap),
		inbox:  make(chan message.Envelope, opts.InboundCap),
		done:   make(chan struct{}),
	}
}

// OnStateChange registers a callback for link state transitions. Must be set
// before Connect/Run.
func (c *Channel) OnStateChange(fn func(LinkState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// Connect starts the dial/reconnect loop and returns immediately; link state
// transitions are reported through OnStateChange. Idempotent. Dial failures
// (ErrLinkUnavailable) are retried with jittered exponential backoff.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	go c.connectLoop(ctx)
	return nil
}

func (c *Channel) connectLoop(ctx context.Context) {
	backoff := c.opts.BackoffBase
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		c.setState(Connecting)
		conn, err := c.dialer.Dial(ctx)
		if err != nil {
			c.setState(Disconnected)
			c.log.Warn("dial failed", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-time.After(jitter(backoff)):
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
			backoff *= 2
			if backoff > c.opts.BackoffCap {
				backoff = c.opts.BackoffCap
			}
			continue
		}

		backoff = c.opts.BackoffBase
		c.Run(conn)
	}
}

// jitter spreads the sleep over [d/2, d) so both ends do not retry in
// lockstep.
func jitter(d time.Duration) time.Duration {
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// Run services one connection epoch: replays unacknowledged messages, pumps
// heartbeats, reads until the connection dies. Blocks. The accepting side
// calls this directly with each attached transport connection.
func (c *Channel) Run(conn Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.wg.Add(1)
	defer c.wg.Done()
	c.epoch++
	epoch := c.epoch
	c.conn = conn
	c.state = Connected
	c.lastLiveness = time.Now()
	c.mu.Unlock()
	c.notifyState(Connected)

	// Replay everything past the ack watermark, original order, new epoch.
	for _, env := range c.buf.Pending() {
		env.Epoch = epoch
		if err := c.write(conn, env); err != nil {
			break
		}
	}

	stopHeartbeat := make(chan struct{})
	go c.heartbeatLoop(conn, epoch, stopHeartbeat)

	c.readLoop(conn, epoch)
	close(stopHeartbeat)
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.state = Disconnected
	}
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.notifyState(Disconnected)
	}
}

func (c *Channel) heartbeatLoop(conn Conn, epoch uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			silent := time.Since(c.lastLiveness)
			c.mu.Unlock()
			if silent > time.Duration(c.opts.LivenessMisses)*c.opts.Heartbeat {
				c.log.Warn("liveness lost", zap.Duration("silent", silent))
				conn.Close()
				return
			}
			_ = c.write(conn, message.Envelope{Kind: message.KindHeartbeat, Epoch: epoch})
		}
	}
}

func (c *Channel) readLoop(conn Conn, epoch uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := message.Decode(data)
		if err != nil {
			c.log.Warn("undecodable frame dropped", zap.Error(err))
			continue
		}

		c.mu.Lock()
		c.lastLiveness = time.Now()
		c.mu.Unlock()

		switch env.Kind {
		case message.KindHeartbeat:
			continue
		case message.KindAck:
			c.buf.AckUpTo(env.AckSeq)
			continue
		}

		if !env.Sequenced() {
			c.deliver(env)
			continue
		}

		c.mu.Lock()
		duplicate := env.Seq <= c.highestDelivered
		if duplicate {
			c.duplicates++
		}
		c.mu.Unlock()
		if duplicate {
			// Already applied in a prior epoch; re-ack so the sender can
			// evict it.
			c.sendAck(conn, epoch)
			continue
		}

		if c.deliver(env) {
			c.mu.Lock()
			c.highestDelivered = env.Seq
			c.mu.Unlock()
			c.sendAck(conn, epoch)
		}
	}
}

// deliver hands env to the consumer stream. Control messages block (the
// reader provides backpressure); evictable messages are dropped when the
// inbound cap is hit, mirroring the outbound policy.
func (c *Channel) deliver(env message.Envelope) bool {
	if env.Control() {
		select {
		case c.inbox <- env:
			return true
		case <-c.done:
			return false
		}
	}
	select {
	case c.inbox <- env:
		return true
	default:
		c.mu.Lock()
		c.inboundDrops++
		c.mu.Unlock()
		return false
	}
}

func (c *Channel) sendAck(conn Conn, epoch uint64) {
	c.mu.Lock()
	watermark := c.highestDelivered
	c.mu.Unlock()
	_ = c.write(conn, message.Envelope{Kind: message.KindAck, Epoch: epoch, AckSeq: watermark})
}

func (c *Channel) write(conn Conn, env message.Envelope) error {
	data, err := message.Encode(env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(data)
}

// Send assigns the next sequence number, enqueues the message durably and
// transmits immediately when connected. Buffer pressure drops old Samples,
// never control messages; overflow is a counted warning, not an error.
func (c *Channel) Send(env message.Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.nextSeq++
	env.Seq = c.nextSeq
	env.Epoch = c.epoch
	env.SentAt = time.Now()
	conn := c.conn
	c.mu.Unlock()

	if dropped := c.buf.Push(env); dropped > 0 {
		c.log.Warn("outbound buffer overflow", zap.Int("dropped", dropped), zap.Uint64("seq", env.Seq))
	}
	if conn != nil {
		if err := c.write(conn, env); err != nil {
			// The reconnect replay picks it up; it stays buffered.
			c.log.Debug("transmit failed, message stays pending", zap.Uint64("seq", env.Seq), zap.Error(err))
		}
	}
	return nil
}

// Receive exposes the ordered, deduplicated inbound stream. The channel is
// closed when the telemetry channel shuts down.
func (c *Channel) Receive() <-chan message.Envelope {
	return c.inbox
}

// PendingControl reports how many control messages await peer
// acknowledgment; the session controller uses it for transition durability.
func (c *Channel) PendingControl() int {
	return c.buf.PendingControl()
}

func (c *Channel) State() LinkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		State:         c.state,
		Epoch:         c.epoch,
		Pending:       c.buf.Len(),
		HighestAcked:  c.buf.HighestAcked(),
		OverflowDrops: c.buf.Dropped(),
		Duplicates:    c.duplicates,
		InboundDrops:  c.inboundDrops,
	}
}

// Close cancels reconnection and gives pending control messages a short
// best-effort grace to drain; Samples are not flushed.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil && c.buf.PendingControl() > 0 {
		deadline := time.Now().Add(c.opts.StopGrace)
		for time.Now().Before(deadline) && c.buf.PendingControl() > 0 {
			time.Sleep(20 * time.Millisecond)
		}
	}

	close(c.done)
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
	close(c.inbox)
	return nil
}

func (c *Channel) setState(s LinkState) {
	c.mu.Lock()
	if c.state == s || c.closed {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.notifyState(s)
}

func (c *Channel) notifyState(s LinkState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
