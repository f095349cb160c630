package motor

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeController emulates the controller's framed ASCII protocol over a
// real TCP socket so the client code path under test is the production
// one end to end.
type fakeController struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	conn     net.Conn
	received []string
	letters  string
	alarm    string
	position int
	replies  map[string]string // payload prefix -> canned reply
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeController{
		t:       t,
		ln:      ln,
		letters: "RP",
		alarm:   "0000",
		replies: map[string]string{},
	}
	go s.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeController) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeController) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *fakeController) serve(conn net.Conn) {
	rd := bufio.NewReader(conn)
	for {
		msg, err := rd.ReadBytes('\r')
		if err != nil {
			return
		}
		msg = bytes.TrimSuffix(msg, []byte{'\r'})
		msg = bytes.TrimPrefix(msg, frameHeader)
		payload := string(msg)

		s.mu.Lock()
		s.received = append(s.received, payload)
		reply := s.replyFor(payload)
		s.mu.Unlock()

		frame := append([]byte{0x00, 0x07}, reply...)
		frame = append(frame, '\r')
		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

// replyFor is called with s.mu held.
func (s *fakeController) replyFor(payload string) string {
	for prefix, reply := range s.replies {
		if strings.HasPrefix(payload, prefix) {
			return reply
		}
	}
	switch payload {
	case "IFD", "ME", "MD", "AR", "SK", "FP":
		return "%"
	case "PR":
		return "PR=13" // ack/nack bit already set
	case "EG":
		return "EG=20000"
	case "ER":
		return "ER=4000"
	case "VE":
		return "VE=12.5000"
	case "AC":
		return "AC=25.000"
	case "DE":
		return "DE=25.000"
	case "IP":
		return fmt.Sprintf("IP=%d", s.position)
	case "RS":
		return "RS=" + s.letters
	case "AL":
		return "AL=" + s.alarm
	}
	if strings.HasPrefix(payload, "DI") {
		return "%"
	}
	return "?11"
}

func (s *fakeController) setLetters(letters string) {
	s.mu.Lock()
	s.letters = letters
	s.mu.Unlock()
}

func (s *fakeController) setAlarm(alarm string) {
	s.mu.Lock()
	s.alarm = alarm
	s.mu.Unlock()
}

func (s *fakeController) setReply(prefix, reply string) {
	s.mu.Lock()
	s.replies[prefix] = reply
	s.mu.Unlock()
}

func (s *fakeController) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	copy(out, s.received)
	return out
}

func (s *fakeController) dropConn() {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

func dialFake(t *testing.T, s *fakeController) *Client {
	t.Helper()
	c, err := Dial(Config{
		IP:        "127.0.0.1",
		Port:      s.port(),
		Name:      "test-motor",
		Heartrate: Heartrate{Base: time.Hour, Active: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialSnapshotsParameters(t *testing.T) {
	s := newFakeController(t)
	c := dialFake(t, s)

	if got := c.StepsPerRev(); got != 20000 {
		t.Errorf("StepsPerRev() = %d, want 20000", got)
	}
	if got := c.EncoderResolution(); got != 4000 {
		t.Errorf("EncoderResolution() = %d, want 4000", got)
	}
	if got := c.Speed(); got != 12.5 {
		t.Errorf("Speed() = %g, want 12.5", got)
	}
	if got := c.Acceleration(); got != 25 {
		t.Errorf("Acceleration() = %g, want 25", got)
	}
	if got := c.Deceleration(); got != 25 {
		t.Errorf("Deceleration() = %g, want 25", got)
	}

	st := c.Status()
	if !st.Connected || !st.Enabled || !st.InPosition {
		t.Errorf("status after dial = %+v", st)
	}
}

func TestDialSetsAckNackProtocolBit(t *testing.T) {
	s := newFakeController(t)
	s.setReply("PR", "PR=9") // bit 2 clear
	dialFake(t, s)

	var wrote bool
	for _, cmd := range s.commands() {
		if cmd == "PR13" {
			wrote = true
		}
	}
	if !wrote {
		t.Errorf("expected PR13 write to set the ack/nack bit, got %v", s.commands())
	}
}

func TestPosition(t *testing.T) {
	s := newFakeController(t)
	c := dialFake(t, s)

	s.mu.Lock()
	s.position = -1200
	s.mu.Unlock()

	pos, err := c.Position()
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos != -1200 {
		t.Errorf("Position() = %d, want -1200", pos)
	}
	if got := c.Status().Position; got != -1200 {
		t.Errorf("cached status position = %d, want -1200", got)
	}
}

func TestMoveToCommandSequence(t *testing.T) {
	s := newFakeController(t)
	c := dialFake(t, s)

	if err := c.MoveTo(787401); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}

	cmds := s.commands()
	me, di, fp := -1, -1, -1
	for i, cmd := range cmds {
		switch cmd {
		case "ME":
			me = i
		case "DI787401":
			di = i
		case "FP":
			fp = i
		}
	}
	if me < 0 || di < 0 || fp < 0 {
		t.Fatalf("missing move commands in %v", cmds)
	}
	if !(me < di && di < fp) {
		t.Errorf("move commands out of order: ME@%d DI@%d FP@%d", me, di, fp)
	}
}

func TestMoveToStuckAlarm(t *testing.T) {
	s := newFakeController(t)
	c := dialFake(t, s)

	s.setLetters("AR")
	s.setAlarm("0004")
	if _, err := c.RefreshStatus(); err != nil {
		t.Fatalf("RefreshStatus: %v", err)
	}

	err := c.MoveTo(100)
	if !errors.Is(err, ErrAlarmActive) {
		t.Fatalf("MoveTo with stuck alarm = %v, want ErrAlarmActive", err)
	}
	for _, cmd := range s.commands() {
		if strings.HasPrefix(cmd, "DI") || cmd == "FP" {
			t.Errorf("motor was commanded to move despite stuck alarm: %v", s.commands())
		}
	}
}

func TestMoveToClearsAlarm(t *testing.T) {
	s := newFakeController(t)
	c := dialFake(t, s)

	s.setLetters("AR")
	s.setAlarm("0004")
	if _, err := c.RefreshStatus(); err != nil {
		t.Fatalf("RefreshStatus: %v", err)
	}
	if msg := c.Status().AlarmMessage; !strings.Contains(msg, "CW limit") {
		t.Errorf("alarm message = %q, want CW limit", msg)
	}

	// the reset works this time
	s.setLetters("RP")
	s.setAlarm("0000")
	if err := c.MoveTo(100); err != nil {
		t.Fatalf("MoveTo after reset: %v", err)
	}

	var reset bool
	for _, cmd := range s.commands() {
		if cmd == "AR" {
			reset = true
		}
	}
	if !reset {
		t.Errorf("expected an AR reset attempt, got %v", s.commands())
	}
}

func TestStopSendsSK(t *testing.T) {
	s := newFakeController(t)
	c := dialFake(t, s)

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	cmds := s.commands()
	if cmds[len(cmds)-1] != "SK" {
		t.Errorf("last command = %q, want SK", cmds[len(cmds)-1])
	}
}

func TestSendCommandNack(t *testing.T) {
	s := newFakeController(t)
	c := dialFake(t, s)

	s.setReply("VE", "?5")
	_, err := c.SendCommand("speed", 5000)

	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("SendCommand = %v, want *ProtocolError", err)
	}
	if perr.Code != 5 || perr.Message != "parameters out of range" {
		t.Errorf("nack = %d %q, want 5 \"parameters out of range\"", perr.Code, perr.Message)
	}
}

func TestMovementEdgeSignals(t *testing.T) {
	s := newFakeController(t)
	c := dialFake(t, s)

	var started, finished int
	c.OnMovementStarted(func(DeviceStatus) { started++ })
	c.OnMovementFinished(func(DeviceStatus) { finished++ })

	s.setLetters("FMP")
	if _, err := c.RefreshStatus(); err != nil {
		t.Fatalf("RefreshStatus: %v", err)
	}
	if started != 1 || finished != 0 {
		t.Fatalf("after start edge: started=%d finished=%d", started, finished)
	}
	if !c.IsMoving() {
		t.Error("IsMoving() = false while FMP")
	}

	// no edge while the state holds
	if _, err := c.RefreshStatus(); err != nil {
		t.Fatalf("RefreshStatus: %v", err)
	}
	if started != 1 {
		t.Fatalf("started fired again without an edge: %d", started)
	}

	s.setLetters("RP")
	if _, err := c.RefreshStatus(); err != nil {
		t.Fatalf("RefreshStatus: %v", err)
	}
	if finished != 1 {
		t.Errorf("after stop edge: finished=%d, want 1", finished)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	s := newFakeController(t)
	c := dialFake(t, s)

	s.dropConn()

	pos, err := c.Position()
	if err != nil {
		t.Fatalf("Position after drop: %v", err)
	}
	if pos != 0 {
		t.Errorf("Position() = %d, want 0", pos)
	}
	if !c.Status().Connected {
		t.Error("status not marked connected after reconnect")
	}
}

func TestDialConnectError(t *testing.T) {
	// grab a port that nothing is listening on
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = Dial(Config{
		IP:                    "127.0.0.1",
		Port:                  port,
		MaxConnectionAttempts: 2,
		ConnectTimeout:        100 * time.Millisecond,
	})
	var cerr *ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("Dial = %v, want *ConnectError", err)
	}
	if cerr.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", cerr.Attempts)
	}
}

func TestDialRejectsBadIP(t *testing.T) {
	if _, err := Dial(Config{IP: "localhost"}); err == nil {
		t.Error("expected error for non-IPv4 address")
	}
}

func TestOperationsAfterClose(t *testing.T) {
	s := newFakeController(t)
	c := dialFake(t, s)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := c.Position(); !errors.Is(err, ErrClosed) {
		t.Errorf("Position after close = %v, want ErrClosed", err)
	}
	if c.Status().Connected {
		t.Error("status still connected after close")
	}
}

func TestHeartbeatPollsStatus(t *testing.T) {
	s := newFakeController(t)
	c, err := Dial(Config{
		IP:        "127.0.0.1",
		Port:      s.port(),
		Heartrate: Heartrate{Base: 10 * time.Millisecond, Active: 5 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	before := len(s.commands())
	c.Run()
	c.Run() // idempotent

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(s.commands()) > before {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("heartbeat never polled the controller")
}
