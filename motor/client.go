// Package motor speaks the Applied-Motion-style ASCII-over-TCP protocol
// to a single stepper-motor controller. One Client owns one socket; all
// requests funnel through a single I/O-owner goroutine so foreground
// commands and the background heartbeat never interleave on the wire.
package motor

import (
	"bufio"
	"bytes"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/BaPSF/bapsf-motion/internal/actor"
)

// Frame layout: 2-byte header, ASCII command, carriage return.
var frameHeader = []byte{0x00, 0x07}

const (
	// DefaultPort is the controller's TCP command port (7775 is UDP).
	DefaultPort = 7776

	defaultMaxConnectionAttempts = 3
	defaultConnectTimeout        = time.Second

	// exchangeTimeout bounds one request/response round trip.
	exchangeTimeout = 5 * time.Second
)

var ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// Heartrate holds the heartbeat polling intervals.
type Heartrate struct {
	// Base is the idle polling interval.
	Base time.Duration
	// Active is the polling interval while the motor is moving.
	Active time.Duration
}

// DefaultHeartrate polls every 2s while idle and every 200ms during moves.
var DefaultHeartrate = Heartrate{Base: 2 * time.Second, Active: 200 * time.Millisecond}

// Config describes one physical controller.
type Config struct {
	// IP of the controller; must be a dotted-quad IPv4 address.
	IP string
	// Name identifies the client in logs. Optional.
	Name string
	// Port defaults to DefaultPort.
	Port int
	// MaxConnectionAttempts bounds Dial and reconnects. Defaults to 3.
	MaxConnectionAttempts int
	// ConnectTimeout is the per-attempt dial timeout. Defaults to 1s.
	ConnectTimeout time.Duration
	// Heartrate defaults to DefaultHeartrate.
	Heartrate Heartrate
}

func (cfg *Config) applyDefaults() error {
	if !ipv4Pattern.MatchString(cfg.IP) {
		return errors.Errorf("supplied IP address (%q) is not a valid IPv4", cfg.IP)
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxConnectionAttempts == 0 {
		cfg.MaxConnectionAttempts = defaultMaxConnectionAttempts
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Heartrate.Base == 0 {
		cfg.Heartrate.Base = DefaultHeartrate.Base
	}
	if cfg.Heartrate.Active == 0 {
		cfg.Heartrate.Active = DefaultHeartrate.Active
	}
	return nil
}

type request struct {
	payload string
	respCh  chan response
}

type response struct {
	raw string
	err error
}

// Client owns one TCP connection to one motor controller. Create with
// Dial; a Client is live until Close and never reconnects afterwards.
type Client struct {
	actor.Actor

	cfg  Config
	addr string

	connMu sync.Mutex
	conn   net.Conn
	rd     *bufio.Reader

	reqCh    chan *request
	urgentCh chan *request
	done     chan struct{}

	closeOnce sync.Once
	hbOnce    sync.Once

	mu     sync.Mutex
	status DeviceStatus

	gearing           int
	encoderResolution int
	speed             float64
	accel             float64
	decel             float64
	protocolSettings  []string

	statusChanged    Signal
	movementStarted  Signal
	movementFinished Signal
}

// Dial connects to the controller, configures its reply format, snapshots
// the motor parameters, and returns a ready Client. The heartbeat is not
// started; call Run.
func Dial(cfg Config) (*Client, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	c := &Client{
		Actor:    actor.New("motor", cfg.Name),
		cfg:      cfg,
		addr:     net.JoinHostPort(cfg.IP, strconv.Itoa(cfg.Port)),
		reqCh:    make(chan *request),
		urgentCh: make(chan *request, 1),
		done:     make(chan struct{}),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.ioLoop()

	if err := c.configure(); err != nil {
		c.Close()
		return nil, errors.Wrapf(err, "configure motor %s", c.addr)
	}
	return c, nil
}

// OnStatusChanged registers a handler invoked whenever any DeviceStatus
// field changes.
func (c *Client) OnStatusChanged(fn func(DeviceStatus)) { c.statusChanged.Connect(fn) }

// OnMovementStarted registers a handler for the idle→moving edge.
func (c *Client) OnMovementStarted(fn func(DeviceStatus)) { c.movementStarted.Connect(fn) }

// OnMovementFinished registers a handler for the moving→idle edge.
func (c *Client) OnMovementFinished(fn func(DeviceStatus)) { c.movementFinished.Connect(fn) }

// Status returns the last known device status.
func (c *Client) Status() DeviceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsMoving reports the cached moving flag without touching the wire.
func (c *Client) IsMoving() bool { return c.Status().Moving }

// StepsPerRev returns the gearing (EG) snapshot taken at Dial.
func (c *Client) StepsPerRev() int { return c.gearing }

// EncoderResolution returns the ER snapshot taken at Dial.
func (c *Client) EncoderResolution() int { return c.encoderResolution }

// ProtocolSettings returns descriptions of the protocol bits set on the
// controller.
func (c *Client) ProtocolSettings() []string {
	out := make([]string, len(c.protocolSettings))
	copy(out, c.protocolSettings)
	return out
}

// Speed returns the VE snapshot taken at Dial, in rev/s.
func (c *Client) Speed() float64 { return c.speed }

// Acceleration returns the AC snapshot taken at Dial, in rev/s/s.
func (c *Client) Acceleration() float64 { return c.accel }

// Deceleration returns the DE snapshot taken at Dial, in rev/s/s.
func (c *Client) Deceleration() float64 { return c.decel }

// Heartrate returns the configured heartbeat intervals.
func (c *Client) Heartrate() Heartrate { return c.cfg.Heartrate }

// SendCommand encodes and dispatches a named command, classifies the
// reply, and returns the decoded value text. A Nack is returned as a
// *ProtocolError, never panics; socket failures are retried once through
// a reconnect before turning fatal for the call.
func (c *Client) SendCommand(name string, args ...float64) (string, error) {
	spec, ok := commands[name]
	if !ok {
		return "", errors.Errorf("unknown command %q", name)
	}
	payload, perr := c.encodeCommand(name, spec, args)
	if perr != nil {
		return "", perr
	}

	raw, err := c.roundTrip(payload, false)
	if err != nil {
		return "", err
	}

	kind, nack := classifyReply(name, raw)
	switch kind {
	case replyNack:
		c.Log().Errorf("motor returned nack from command %s: %d - %s", name, nack.Code, nack.Message)
		return "", nack
	case replyAckExecuted, replyAckBuffered:
		return raw, nil
	}
	return decodeReply(spec, raw)
}

func (c *Client) encodeCommand(name string, spec CommandSpec, args []float64) (string, *ProtocolError) {
	if spec.Encode == nil {
		if len(args) != 0 {
			c.Log().Errorf("command %q requires 0 arguments to send, got %d", name, len(args))
		}
		return spec.Code, nil
	}
	if len(args) == 0 {
		if spec.TwoWay {
			// acting as a getter
			return spec.Code, nil
		}
		c.Log().Errorf("command %q is a setting command, but no arguments were given", name)
		return "", &ProtocolError{Command: name, Code: 3, Message: nackCodes[3]}
	}
	return spec.Code + spec.Encode(args[0]), nil
}

// commandInt dispatches a command and parses the reply as an integer.
func (c *Client) commandInt(name string, args ...float64) (int, error) {
	text, err := c.SendCommand(name, args...)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s reply %q", name, text)
	}
	return v, nil
}

// commandFloat dispatches a command and parses the reply as a float.
func (c *Client) commandFloat(name string, args ...float64) (float64, error) {
	text, err := c.SendCommand(name, args...)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s reply %q", name, text)
	}
	return v, nil
}

// Position reads the current step position (IP) and folds it into the
// cached status.
func (c *Client) Position() (int, error) {
	pos, err := c.commandInt("get_position")
	if err != nil {
		return 0, err
	}
	st := c.Status()
	st.Position = pos
	c.updateStatus(st)
	return pos, nil
}

// RefreshStatus polls RS and IP (and AL when the alarm flag is set),
// emits movement edge signals on transitions, and stores the snapshot.
func (c *Client) RefreshStatus() (DeviceStatus, error) {
	letters, err := c.SendCommand("request_status")
	if err != nil {
		return DeviceStatus{}, err
	}
	st := statusFromLetters(letters)
	st.Connected = true

	pos, err := c.commandInt("get_position")
	if err != nil {
		return DeviceStatus{}, err
	}
	st.Position = pos

	if st.Alarm {
		msg, aerr := c.retrieveAlarm()
		if aerr != nil {
			c.Log().WithError(aerr).Warn("alarm detail fetch failed")
		} else {
			st.AlarmMessage = msg
		}
	}

	old := c.Status()
	if st.Moving && !old.Moving {
		c.movementStarted.emit(st)
	} else if !st.Moving && old.Moving {
		c.movementFinished.emit(st)
	}

	c.updateStatus(st)
	return st, nil
}

func (c *Client) retrieveAlarm() (string, error) {
	code, err := c.SendCommand("alarm")
	if err != nil {
		return "", err
	}
	msg := decodeAlarm(code)
	if msg != "" {
		c.Log().Errorf("motor returned alarm(s): %s", msg)
	}
	return msg, nil
}

// Enable raises the drive output and refreshes status.
func (c *Client) Enable() error {
	if _, err := c.SendCommand("enable"); err != nil {
		return err
	}
	_, err := c.RefreshStatus()
	return err
}

// Disable drops the drive output and refreshes status.
func (c *Client) Disable() error {
	if _, err := c.SendCommand("disable"); err != nil {
		return err
	}
	_, err := c.RefreshStatus()
	return err
}

// MoveTo commands an absolute move to the given step position. An active
// alarm gets one reset attempt with a 1.2×active-heartbeat wait; a stuck
// alarm leaves the motor un-moved and returns ErrAlarmActive.
func (c *Client) MoveTo(steps int) error {
	if c.Status().Alarm {
		if _, err := c.SendCommand("alarm_reset"); err != nil {
			return err
		}
		time.Sleep(time.Duration(1.2 * float64(c.cfg.Heartrate.Active)))
		st, err := c.RefreshStatus()
		if err != nil {
			return err
		}
		if st.Alarm {
			c.Log().Error("motor alarm could not be reset")
			return ErrAlarmActive
		}
	}

	// Ethernet drives reject a position payload on FP; the target must
	// be staged with DI first.
	if err := c.Enable(); err != nil {
		return err
	}
	if _, err := c.SendCommand("target_distance", float64(steps)); err != nil {
		return err
	}
	if _, err := c.SendCommand("feed"); err != nil {
		return err
	}
	_, err := c.RefreshStatus()
	return err
}

// Stop sends SK ahead of anything queued on the normal path.
func (c *Client) Stop() error {
	raw, err := c.roundTrip("SK", true)
	if err != nil {
		return err
	}
	if _, nack := classifyReply("stop", raw); nack != nil {
		c.Log().Errorf("motor returned nack from stop: %d - %s", nack.Code, nack.Message)
		return nack
	}
	return nil
}

// Run starts the background heartbeat. Safe to call more than once.
func (c *Client) Run() {
	c.hbOnce.Do(func() { go c.heartbeat() })
}

func (c *Client) heartbeat() {
	interval := c.cfg.Heartrate.Base
	beats := 0
	for {
		next := c.cfg.Heartrate.Base
		if c.IsMoving() {
			next = c.cfg.Heartrate.Active
		}
		if next != interval {
			c.Log().Infof("heartbeat interval changed to %s - previous interval beat %d times", next, beats)
			beats = 0
		}

		if _, err := c.RefreshStatus(); err != nil {
			c.Log().WithError(err).Warn("heartbeat status refresh failed")
		}

		beats++
		interval = next
		select {
		case <-time.After(next):
		case <-c.done:
			return
		}
	}
}

// Close cancels the heartbeat and I/O loop and closes the socket. It is
// idempotent; the client never reconnects afterwards.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.connMu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
			c.conn = nil
			c.rd = nil
		}
		c.connMu.Unlock()

		st := c.Status()
		st.Connected = false
		c.updateStatus(st)
		c.Log().Debug("client closed")
	})
	return err
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) updateStatus(st DeviceStatus) {
	c.mu.Lock()
	old := c.status
	c.status = st
	c.mu.Unlock()

	if old != st {
		c.Log().Debugf("motor status changed: %+v", st)
		c.statusChanged.emit(st)
	}
}

// configure brings the controller up: decimal reply format, ack/nack
// protocol bit, parameter snapshot, first status poll.
func (c *Client) configure() error {
	if _, err := c.roundTrip("IFD", false); err != nil {
		return errors.Wrap(err, "set decimal reply format")
	}
	if err := c.readAndSetProtocol(); err != nil {
		return err
	}
	if err := c.snapshotParameters(); err != nil {
		return err
	}
	_, err := c.RefreshStatus()
	return err
}

// protocolBits describes the PR register, indexed by bit number.
var protocolBits = [9]string{
	"Default ('Standard SCL')",
	"Always use Address Character",
	"Always return Ack/Nack",
	"Checksum",
	"(reserved)",
	"3-digit numeric register addressing",
	"Checksum Type (step-servo and SV200 only)",
	"Little/Big Endian in Modbus Mode",
	"Full Duplex in RS-422",
}

const ackNackBit = 1 << 2

func (c *Client) readAndSetProtocol() error {
	v, err := c.commandInt("protocol")
	if err != nil {
		return err
	}
	if v&ackNackBit == 0 {
		if _, err := c.SendCommand("protocol", float64(v|ackNackBit)); err != nil {
			return err
		}
		if v, err = c.commandInt("protocol"); err != nil {
			return err
		}
	}

	var settings []string
	for bit := 0; bit < len(protocolBits); bit++ {
		if v>>bit&1 == 1 {
			settings = append(settings, protocolBits[bit])
		}
	}
	c.protocolSettings = settings
	return nil
}

func (c *Client) snapshotParameters() error {
	var err error
	if c.gearing, err = c.commandInt("gearing"); err != nil {
		return err
	}
	if c.encoderResolution, err = c.commandInt("encoder_resolution"); err != nil {
		return err
	}
	if c.speed, err = c.commandFloat("speed"); err != nil {
		return err
	}
	if c.accel, err = c.commandFloat("acceleration"); err != nil {
		return err
	}
	c.decel, err = c.commandFloat("deceleration")
	return err
}

// roundTrip hands one framed payload to the I/O owner and waits for the
// raw reply. Urgent requests (stop) jump the queue.
func (c *Client) roundTrip(payload string, urgent bool) (string, error) {
	req := &request{payload: payload, respCh: make(chan response, 1)}
	ch := c.reqCh
	if urgent {
		ch = c.urgentCh
	}
	select {
	case ch <- req:
	case <-c.done:
		return "", ErrClosed
	}
	select {
	case resp := <-req.respCh:
		return resp.raw, resp.err
	case <-c.done:
		return "", ErrClosed
	}
}

// ioLoop is the single owner of the socket. Requests complete in
// submission order; the urgent channel is drained first.
func (c *Client) ioLoop() {
	for {
		var req *request
		select {
		case req = <-c.urgentCh:
		default:
			select {
			case req = <-c.urgentCh:
			case req = <-c.reqCh:
			case <-c.done:
				return
			}
		}

		raw, err := c.exchange(req.payload)
		req.respCh <- response{raw: raw, err: err}
	}
}

// exchange performs one write/read round trip, transparently reconnecting
// and retrying exactly once on an I/O failure.
func (c *Client) exchange(payload string) (string, error) {
	if c.currentConn() == nil {
		if err := c.connect(); err != nil {
			return "", err
		}
	}

	raw, err := c.tryExchange(payload)
	if err == nil {
		return raw, nil
	}
	if c.closed() {
		return "", ErrClosed
	}

	c.Log().WithError(err).Warnf("exchange %q failed, reconnecting", payload)
	c.setDisconnected()
	if cerr := c.connect(); cerr != nil {
		return "", cerr
	}
	return c.tryExchange(payload)
}

func (c *Client) tryExchange(payload string) (string, error) {
	c.connMu.Lock()
	conn, rd := c.conn, c.rd
	c.connMu.Unlock()
	if conn == nil {
		return "", errors.New("not connected")
	}

	if err := conn.SetDeadline(time.Now().Add(exchangeTimeout)); err != nil {
		return "", err
	}

	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, frameHeader...)
	frame = append(frame, payload...)
	frame = append(frame, '\r')
	if _, err := conn.Write(frame); err != nil {
		return "", err
	}

	msg, err := rd.ReadBytes('\r')
	if err != nil {
		return "", err
	}
	msg = bytes.TrimSuffix(msg, []byte{'\r'})
	if i := bytes.Index(msg, frameHeader); i >= 0 {
		msg = msg[i+len(frameHeader):]
	}
	return string(msg), nil
}

func (c *Client) connect() error {
	if c.closed() {
		return ErrClosed
	}

	attempts := c.cfg.MaxConnectionAttempts
	var lastErr error
	for i := 1; i <= attempts; i++ {
		c.Log().Debugf("connecting to %s (attempt %d of %d)", c.addr, i, attempts)
		conn, err := net.DialTimeout("tcp", c.addr, c.cfg.ConnectTimeout)
		if err == nil {
			c.connMu.Lock()
			c.conn = conn
			c.rd = bufio.NewReader(conn)
			c.connMu.Unlock()

			st := c.Status()
			st.Connected = true
			c.updateStatus(st)
			return nil
		}

		lastErr = err
		if i < attempts {
			c.Log().Warnf("connection attempt %d of %d failed", i, attempts)
		} else {
			c.Log().Errorf("connection attempt %d of %d failed", i, attempts)
		}
	}
	return &ConnectError{Addr: c.addr, Attempts: attempts, Err: lastErr}
}

func (c *Client) setDisconnected() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.rd = nil
	}
	c.connMu.Unlock()

	st := c.Status()
	st.Connected = false
	c.updateStatus(st)
}

func (c *Client) currentConn() net.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}
