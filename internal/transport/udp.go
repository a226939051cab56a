package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Socket defaults.
const (
	// defaultReadTimeout bounds each blocking read so the loop can
	// observe shutdown promptly.
	defaultReadTimeout = 1 * time.Second

	// readBufferSize is sized for the largest LIFX message (extended
	// colour zones) with generous headroom.
	readBufferSize = 1024
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Datagram is one received UDP packet tagged with its source address.
type Datagram struct {
	Addr *net.UDPAddr
	Data []byte
}

// Stats holds per-socket operational counters.
type Stats struct {
	DatagramsTx  uint64
	DatagramsRx  uint64
	ErrorsTotal  uint64
	LastActivity time.Time
}

// Config holds socket configuration.
type Config struct {
	// Endpoint is the interface this socket binds to.
	Endpoint Endpoint

	// Port is the remote device port for broadcasts. Default 56700.
	Port int

	// ReadTimeout is the per-read deadline used to poll for shutdown.
	// Default 1 second.
	ReadTimeout time.Duration
}

// Socket is one UDP socket bound to a local interface address.
//
// The socket binds an ephemeral local port: devices reply unicast to
// the source of whatever request they heard, broadcast or not, so no
// well-known listening port is needed on our side.
//
// Thread safety: all methods are safe for concurrent use. The
// OnDatagram callback is invoked from the single read goroutine.
type Socket struct {
	cfg  Config
	conn *net.UDPConn

	// Datagram handler callback
	onDatagram func(Datagram)
	callbackMu sync.RWMutex

	// Shutdown coordination
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	datagramsTx  atomic.Uint64
	datagramsRx  atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64 // Unix timestamp
}

// Open binds a UDP socket on the endpoint's interface address.
//
// The socket has SO_BROADCAST set so discovery packets can be sent to
// the subnet broadcast address. The read loop starts immediately;
// datagrams arriving before SetOnDatagram are counted and dropped.
func Open(ctx context.Context, cfg Config) (*Socket, error) {
	if cfg.Port == 0 {
		cfg.Port = 56700
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	lc := net.ListenConfig{Control: setBroadcastOption}

	local := &net.UDPAddr{IP: cfg.Endpoint.IP, Port: 0}
	pc, err := lc.ListenPacket(ctx, "udp4", local.String())
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s: %w", ErrOpenFailed, local, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("%w: unexpected conn type %T", ErrOpenFailed, pc)
	}

	s := &Socket{
		cfg:  cfg,
		conn: conn,
		done: newCloseOnce(),
	}
	s.lastActivity.Store(time.Now().Unix())

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

// setBroadcastOption enables SO_BROADCAST on the socket before bind.
// Linux refuses sends to broadcast addresses without it.
func setBroadcastOption(_, _ string, c syscall.RawConn) error {
	var opErr error
	if err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return opErr
}

// readLoop drains the socket until shutdown.
func (s *Socket) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-s.done.Done():
			return
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			s.logError("set read deadline failed", err)
			return
		}

		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.isClosed() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue // deadline poll, go around
			}
			// UDP read errors are transient (ICMP unreachable surfacing,
			// buffer pressure); count and keep reading.
			s.errorsTotal.Add(1)
			s.logDebug("read failed", "error", err)
			continue
		}

		s.datagramsRx.Add(1)
		s.lastActivity.Store(time.Now().Unix())

		s.callbackMu.RLock()
		callback := s.onDatagram
		s.callbackMu.RUnlock()

		if callback == nil {
			continue
		}

		// The buffer is reused; hand the callback its own copy.
		data := make([]byte, n)
		copy(data, buf[:n])

		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logError("datagram callback panic", fmt.Errorf("%v", r))
				}
			}()
			callback(Datagram{Addr: addr, Data: data})
		}()
	}
}

// Send transmits a datagram to a unicast device address.
//
// Best-effort: an error means a local problem (closed socket, resource
// exhaustion, unroutable address), never a lost packet. Loss is
// detected by the retry layer, not here.
func (s *Socket) Send(addr *net.UDPAddr, data []byte) error {
	if s.isClosed() {
		return ErrClosed
	}

	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		s.errorsTotal.Add(1)
		return fmt.Errorf("send to %s: %w", addr, err)
	}

	s.datagramsTx.Add(1)
	s.lastActivity.Store(time.Now().Unix())
	return nil
}

// Broadcast transmits a datagram to the endpoint's subnet broadcast
// address on the configured device port.
func (s *Socket) Broadcast(data []byte) error {
	return s.Send(&net.UDPAddr{IP: s.cfg.Endpoint.Broadcast, Port: s.cfg.Port}, data)
}

// SetOnDatagram sets the callback for received datagrams.
//
// The callback runs on the read goroutine: keep it quick and move any
// blocking work behind a channel.
func (s *Socket) SetOnDatagram(callback func(Datagram)) {
	s.callbackMu.Lock()
	s.onDatagram = callback
	s.callbackMu.Unlock()
}

// SetLogger sets the logger for this socket.
func (s *Socket) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Endpoint returns the interface this socket is bound to.
func (s *Socket) Endpoint() Endpoint {
	return s.cfg.Endpoint
}

// LocalAddr returns the bound local address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	addr, _ := s.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// Stats returns current operational statistics.
func (s *Socket) Stats() Stats {
	return Stats{
		DatagramsTx:  s.datagramsTx.Load(),
		DatagramsRx:  s.datagramsRx.Load(),
		ErrorsTotal:  s.errorsTotal.Load(),
		LastActivity: time.Unix(s.lastActivity.Load(), 0),
	}
}

// isClosed returns true if the socket has been closed.
func (s *Socket) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// Close shuts down the read loop and releases the socket.
// Safe to call multiple times.
func (s *Socket) Close() error {
	s.done.Close()
	err := s.conn.Close()
	s.wg.Wait()

	s.logDebug("socket closed", "interface", s.cfg.Endpoint.Interface)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// logDebug logs a debug message if logger is set.
func (s *Socket) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (s *Socket) logError(msg string, err error) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
