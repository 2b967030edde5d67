// Package gdbremote implements probe.Session over the GDB remote serial
// protocol, as served by QEMU's gdbstub, OpenOCD, pyOCD or a J-Link GDB
// server.
package gdbremote

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zjy-dev/fwcrash/internal/logger"
	"github.com/zjy-dev/fwcrash/internal/probe"
	"github.com/zjy-dev/fwcrash/internal/symbols"
)

const (
	// DefaultTimeout bounds every request/response exchange.
	DefaultTimeout = 5 * time.Second
	// maxChunk keeps memory packets under typical stub packet limits.
	maxChunk = 0x200
	// pendingPoll is how long Halt waits for an unsolicited stop reply.
	pendingPoll = 20 * time.Millisecond
)

// ARMv7MRegisters is the Cortex-M register numbering used by GDB.
var ARMv7MRegisters = map[string]int{
	"r0": 0, "r1": 1, "r2": 2, "r3": 3, "r4": 4, "r5": 5, "r6": 6,
	"r7": 7, "r8": 8, "r9": 9, "r10": 10, "r11": 11, "r12": 12,
	"sp": 13, "lr": 14, "pc": 15, "xpsr": 25,
}

// Config describes how to talk to one stub.
type Config struct {
	Addr    string
	Timeout time.Duration
	// Registers maps register names to GDB register numbers.
	Registers map[string]int
	// PrimaryReset and SecondaryReset are monitor commands; empty means
	// that reset kind is unsupported.
	PrimaryReset   string
	SecondaryReset string
	// Symbols resolves handler names; nil resolves nothing.
	Symbols symbols.Resolver
}

// Session is a connection to one GDB stub. Only Close and Connected may
// be called concurrently with other methods.
type Session struct {
	cfg     Config
	conn    net.Conn
	rd      *bufio.Reader
	closed  atomic.Bool
	running bool
}

var _ probe.Session = (*Session)(nil)

// Dial connects to the stub at cfg.Addr and checks it answers.
func Dial(cfg Config) (*Session, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := net.DialTimeout("tcp", cfg.Addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to gdb stub at %s: %v", probe.ErrNotConnected, cfg.Addr, err)
	}
	s := NewSession(conn, cfg)
	if err := s.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewSession wraps an established connection. The target is assumed halted.
func NewSession(conn net.Conn, cfg Config) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Registers == nil {
		cfg.Registers = ARMv7MRegisters
	}
	return &Session{cfg: cfg, conn: conn, rd: bufio.NewReader(conn)}
}

// handshake asks for the halt reason, which every stub must answer.
func (s *Session) handshake() error {
	reply, err := s.request("?")
	if err != nil {
		return err
	}
	if strings.HasPrefix(reply, "W") || strings.HasPrefix(reply, "X") {
		return fmt.Errorf("%w: target has exited (%s)", probe.ErrNotConnected, reply)
	}
	logger.Debug("gdb stub %s halted: %s", s.cfg.Addr, reply)
	return nil
}

// Close drops the connection.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

func (s *Session) Connected() bool {
	return !s.closed.Load()
}

// transportErr marks the session dead after an I/O failure.
func (s *Session) transportErr(err error) error {
	s.closed.Store(true)
	s.conn.Close()
	return fmt.Errorf("%w: %v", probe.ErrNotConnected, err)
}

func (s *Session) deadline() {
	s.conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
}

// request sends one packet and returns the reply payload. Console output
// packets ("O...") sent during monitor commands are logged and skipped.
func (s *Session) request(payload string) (string, error) {
	if s.closed.Load() {
		return "", probe.ErrNotConnected
	}
	s.deadline()
	if err := writePacket(s.conn, s.rd, payload); err != nil {
		return "", s.transportErr(err)
	}
	for {
		reply, err := readPacket(s.conn, s.rd)
		if err != nil {
			return "", s.transportErr(err)
		}
		if logConsole(reply) {
			continue
		}
		return reply, nil
	}
}

// logConsole logs reply and reports true if it is console output ("O"
// followed by hex text) rather than a real reply.
func logConsole(reply string) bool {
	if len(reply) < 2 || reply[0] != 'O' || reply == "OK" {
		return false
	}
	text, err := hex.DecodeString(reply[1:])
	if err != nil {
		return false
	}
	logger.Debug("stub: %s", strings.TrimSpace(string(text)))
	return true
}

// isStopReply reports whether reply announces that the target stopped.
func isStopReply(reply string) bool {
	if reply == "" {
		return false
	}
	switch reply[0] {
	case 'S', 'T', 'W', 'X':
		return true
	}
	return false
}

func isErrorReply(reply string) bool {
	return len(reply) == 3 && reply[0] == 'E'
}

func (s *Session) WriteMemory(addr uint64, data []byte) error {
	for off := 0; off < len(data); off += maxChunk {
		end := min(off+maxChunk, len(data))
		chunk := data[off:end]
		reply, err := s.request(fmt.Sprintf("M%x,%x:%s", addr+uint64(off), len(chunk), hex.EncodeToString(chunk)))
		if err != nil {
			return fmt.Errorf("%w: %w", probe.ErrWriteFault, err)
		}
		if reply != "OK" {
			return fmt.Errorf("%w: stub replied %q at 0x%x", probe.ErrWriteFault, reply, addr+uint64(off))
		}
	}
	return nil
}

func (s *Session) ReadMemory(addr uint64, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for off := 0; off < n; off += maxChunk {
		size := min(maxChunk, n-off)
		reply, err := s.request(fmt.Sprintf("m%x,%x", addr+uint64(off), size))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", probe.ErrReadFault, err)
		}
		if isErrorReply(reply) {
			return nil, fmt.Errorf("%w: stub replied %q at 0x%x", probe.ErrReadFault, reply, addr+uint64(off))
		}
		chunk, err := hex.DecodeString(reply)
		if err != nil || len(chunk) != size {
			return nil, fmt.Errorf("%w: malformed reply at 0x%x", probe.ErrReadFault, addr+uint64(off))
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// ReadRegister reads one register with the 'p' packet. Values arrive in
// target byte order, which is little-endian for Cortex-M.
func (s *Session) ReadRegister(name string) (uint64, error) {
	num, ok := s.cfg.Registers[name]
	if !ok {
		return 0, fmt.Errorf("%w: no register number for %s", probe.ErrUnreadable, name)
	}
	reply, err := s.request(fmt.Sprintf("p%x", num))
	if err != nil {
		return 0, err
	}
	if reply == "" || isErrorReply(reply) {
		return 0, fmt.Errorf("%w: %s: stub replied %q", probe.ErrUnreadable, name, reply)
	}
	raw, err := hex.DecodeString(reply)
	if err != nil || len(raw) == 0 || len(raw) > 8 {
		// "xxxxxxxx" marks a value the stub cannot provide.
		return 0, fmt.Errorf("%w: %s: unusable reply %q", probe.ErrUnreadable, name, reply)
	}
	var v uint64
	for i := len(raw) - 1; i >= 0; i-- {
		v = v<<8 | uint64(raw[i])
	}
	return v, nil
}

func (s *Session) ResolveSymbol(name string) (uint64, error) {
	if s.cfg.Symbols == nil {
		return 0, fmt.Errorf("%w: %s: no symbol source", probe.ErrUnresolved, name)
	}
	return s.cfg.Symbols.Resolve(name)
}

// Resume sends 'c'. The stop reply only arrives once the target halts.
func (s *Session) Resume() error {
	if s.closed.Load() {
		return probe.ErrNotConnected
	}
	s.deadline()
	if err := writePacket(s.conn, s.rd, "c"); err != nil {
		return s.transportErr(err)
	}
	s.running = true
	return nil
}

// Halt interrupts a running target. If the target already stopped on its
// own, its pending stop reply is consumed and ErrAlreadyHalted returned.
// Console output sent while the target runs does not count as a stop.
func (s *Session) Halt() error {
	if s.closed.Load() {
		return probe.ErrNotConnected
	}
	if !s.running {
		return probe.ErrAlreadyHalted
	}

	for {
		s.conn.SetReadDeadline(time.Now().Add(pendingPoll))
		_, peekErr := s.rd.Peek(1)
		if peekErr != nil {
			var netErr net.Error
			if !errors.As(peekErr, &netErr) || !netErr.Timeout() {
				return s.transportErr(peekErr)
			}
			break
		}
		s.deadline()
		reply, err := readPacket(s.conn, s.rd)
		if err != nil {
			return s.transportErr(err)
		}
		if isStopReply(reply) {
			s.running = false
			logger.Debug("target stopped on its own: %s", reply)
			return probe.ErrAlreadyHalted
		}
		if !logConsole(reply) {
			logger.Debug("ignoring unexpected packet while running: %q", reply)
		}
	}

	s.deadline()
	if _, err := s.conn.Write([]byte{0x03}); err != nil {
		return s.transportErr(err)
	}
	for {
		reply, err := readPacket(s.conn, s.rd)
		if err != nil {
			return s.transportErr(err)
		}
		if isStopReply(reply) {
			s.running = false
			logger.Debug("target interrupted: %s", reply)
			return nil
		}
		if !logConsole(reply) {
			logger.Debug("ignoring unexpected packet while halting: %q", reply)
		}
	}
}

// Reset issues the configured monitor command for kind.
func (s *Session) Reset(kind probe.ResetKind) error {
	cmd := s.cfg.PrimaryReset
	if kind == probe.ResetSecondary {
		cmd = s.cfg.SecondaryReset
	}
	if cmd == "" {
		return fmt.Errorf("%w: no %s reset command", probe.ErrUnsupported, kind)
	}
	reply, err := s.request("qRcmd," + hex.EncodeToString([]byte(cmd)))
	if err != nil {
		return err
	}
	switch {
	case reply == "":
		return fmt.Errorf("%w: monitor %q", probe.ErrUnsupported, cmd)
	case reply == "OK":
		return nil
	default:
		return fmt.Errorf("monitor %q failed: %s", cmd, reply)
	}
}
