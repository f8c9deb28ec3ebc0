//go:build linux

package httpd

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-httpd/internal/constants"
	"github.com/ehrlich-b/go-httpd/internal/epoll"
	"github.com/ehrlich-b/go-httpd/internal/http"
	"github.com/ehrlich-b/go-httpd/internal/queue"
	"github.com/ehrlich-b/go-httpd/internal/timer"
)

// Trigger modes select which sockets use edge-triggered readiness.
const (
	TrigLevelAll   = 0 // listen LT, connections LT
	TrigConnEdge   = 1 // listen LT, connections ET
	TrigListenEdge = 2 // listen ET, connections LT
	TrigEdgeAll    = 3 // listen ET, connections ET
)

// closeReason is the typed cause carried by every connection close. Closes
// run centrally on the reactor goroutine; workers only request one.
type closeReason int

const (
	reasonIdleTimeout closeReason = iota
	reasonPeerHangup
	reasonIOError
	reasonWriteDone
	reasonShutdown
)

func (r closeReason) String() string {
	switch r {
	case reasonIdleTimeout:
		return "idle timeout"
	case reasonPeerHangup:
		return "peer hangup"
	case reasonIOError:
		return "io error"
	case reasonWriteDone:
		return "write done"
	case reasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

type closeRequest struct {
	fd     int
	reason closeReason
}

// Params contains parameters for creating a server
type Params struct {
	Port     int
	TrigMode int           // one of the Trig* modes
	Timeout  time.Duration // idle timeout per connection; 0 disables
	Linger   bool          // carried for config compatibility; unused

	SrcDir   string // static asset root (default {cwd}/resources)
	Workers  int    // worker pool size
	Backlog  int    // worker task queue depth
	MaxConns int    // connection cap; excess clients are turned away
}

// DefaultParams returns default server parameters
func DefaultParams() Params {
	return Params{
		Port:     constants.DefaultPort,
		TrigMode: TrigEdgeAll,
		Timeout:  constants.DefaultTimeout,
		Workers:  constants.DefaultWorkers,
		Backlog:  constants.DefaultTaskBacklog,
		MaxConns: constants.MaxOpenConns,
	}
}

// Options contains additional collaborators for a server. Every field may
// be nil.
type Options struct {
	// Context for cancellation (if nil, uses context.Background())
	Context context.Context

	// Logger for server records (if nil, no logging)
	Logger Logger

	// Observer for metrics collection (if nil, uses a no-op observer)
	Observer Observer

	// Store backs the login/register form (if nil, every verify fails)
	Store UserStore
}

// Server is the reactor: it owns the multiplexer, the timer and the
// connection table, and dispatches per-connection work to its pool.
type Server struct {
	params Params

	listenFd     int
	port         int
	wakeFd       int
	listenEvents epoll.Events
	connEvents   epoll.Events

	poller *epoll.Poller
	heap   *timer.Heap
	pool   *queue.Pool
	conns  map[int]*http.Conn

	pendingClose chan closeRequest
	users        atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	logger   Logger
	observer Observer
	store    UserStore
}

// New creates a server listening on params.Port. A socket, bind or listen
// failure is returned as a configuration error and no loop ever starts.
func New(params Params, options *Options) (*Server, error) {
	if options == nil {
		options = &Options{}
	}
	if params.Workers <= 0 {
		params.Workers = constants.DefaultWorkers
	}
	if params.Backlog <= 0 {
		params.Backlog = constants.DefaultTaskBacklog
	}
	if params.MaxConns <= 0 || params.MaxConns > constants.MaxOpenConns {
		params.MaxConns = constants.MaxOpenConns
	}
	if params.SrcDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, WrapError("getwd", err)
		}
		params.SrcDir = filepath.Join(cwd, "resources")
	}

	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	observer := options.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	s := &Server{
		params:       params,
		listenFd:     -1,
		wakeFd:       -1,
		conns:        make(map[int]*http.Conn),
		pendingClose: make(chan closeRequest, params.MaxConns),
		ctx:          ctx,
		cancel:       cancel,
		logger:       options.Logger,
		observer:     observer,
		store:        options.Store,
	}
	s.initEventMode(params.TrigMode)

	var err error
	s.poller, err = epoll.New(constants.MaxEvents)
	if err != nil {
		cancel()
		return nil, WrapError("epoll_create", err)
	}
	if err := s.initWakeFd(); err != nil {
		s.poller.Close()
		cancel()
		return nil, err
	}
	if err := s.initSocket(); err != nil {
		unix.Close(s.wakeFd)
		s.poller.Close()
		cancel()
		if se, ok := err.(*Error); ok {
			se.Code = ErrCodeConfig
		}
		return nil, err
	}

	s.heap = timer.New()
	s.pool = queue.NewPool(queue.PoolConfig{
		Workers: params.Workers,
		Backlog: params.Backlog,
		Logger:  options.Logger,
	})

	if s.logger != nil {
		s.logger.Infof("========== server init ==========")
		s.logger.Infof("port %d, listen %s, conns %s", s.port,
			trigName(s.listenEvents), trigName(s.connEvents))
		s.logger.Infof("src dir %s", params.SrcDir)
		s.logger.Infof("workers %d, timeout %v", params.Workers, params.Timeout)
	}
	return s, nil
}

func trigName(ev epoll.Events) string {
	if ev&epoll.EdgeTriggered != 0 {
		return "ET"
	}
	return "LT"
}

// initEventMode derives the listen and connection interest bits from the
// trigger mode. Connection fds always carry oneshot so a single worker
// owns a connection at a time.
func (s *Server) initEventMode(trigMode int) {
	s.listenEvents = epoll.PeerHangup
	s.connEvents = epoll.OneShot | epoll.PeerHangup
	switch trigMode {
	case TrigLevelAll:
	case TrigConnEdge:
		s.connEvents |= epoll.EdgeTriggered
	case TrigListenEdge:
		s.listenEvents |= epoll.EdgeTriggered
	default:
		s.listenEvents |= epoll.EdgeTriggered
		s.connEvents |= epoll.EdgeTriggered
	}
}

// initWakeFd registers the eventfd that lets workers and Shutdown interrupt
// a blocked wait.
func (s *Server) initWakeFd() error {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return WrapError("eventfd", err)
	}
	if err := s.poller.Add(fd, epoll.Readable); err != nil {
		unix.Close(fd)
		return WrapError("epoll_add wake", err)
	}
	s.wakeFd = fd
	return nil
}

func (s *Server) initSocket() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("create socket: %v", err)
		}
		return WrapError("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return WrapError("setsockopt", err)
	}
	sa := &unix.SockaddrInet4{Port: s.params.Port}
	if err := unix.Bind(fd, sa); err != nil {
		if s.logger != nil {
			s.logger.Errorf("bind port %d: %v", s.params.Port, err)
		}
		unix.Close(fd)
		return WrapError("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		if s.logger != nil {
			s.logger.Errorf("listen port %d: %v", s.params.Port, err)
		}
		unix.Close(fd)
		return WrapError("listen", err)
	}
	if err := s.poller.Add(fd, s.listenEvents|epoll.Readable); err != nil {
		unix.Close(fd)
		return WrapError("epoll_add listen", err)
	}

	s.port = s.params.Port
	if bound, err := unix.Getsockname(fd); err == nil {
		if inet, ok := bound.(*unix.SockaddrInet4); ok {
			s.port = inet.Port
		}
	}
	s.listenFd = fd
	if s.logger != nil {
		s.logger.Infof("server port %d", s.port)
	}
	return nil
}

// Port returns the bound port, useful when Params.Port was 0.
func (s *Server) Port() int { return s.port }

// UserCount returns the number of live connections.
func (s *Server) UserCount() int64 {
	return s.users.Load()
}

// Serve runs the reactor loop until Shutdown. It owns the multiplexer, the
// timer and the connection table; nothing else mutates the timer or the
// table, and workers touch the multiplexer only to re-arm their connection.
func (s *Server) Serve() error {
	if s.logger != nil {
		s.logger.Infof("========== server start ==========")
	}
	for s.ctx.Err() == nil {
		timeout := -1
		if s.params.Timeout > 0 {
			timeout = s.heap.NextTick()
		}
		n, err := s.poller.Wait(timeout)
		if err != nil {
			if s.logger != nil {
				s.logger.Errorf("poll wait: %v", err)
			}
			continue
		}
		s.drainPendingCloses()
		for i := 0; i < n; i++ {
			fd := s.poller.EventFd(i)
			ev := s.poller.EventMask(i)
			switch {
			case fd == s.listenFd:
				s.dealListen()
			case fd == s.wakeFd:
				s.drainWake()
			case ev&(epoll.PeerHangup|epoll.Hangup|epoll.Error) != 0:
				s.finishClose(fd, reasonPeerHangup)
			case ev&epoll.Readable != 0:
				s.dealRead(fd)
			case ev&epoll.Writable != 0:
				s.dealWrite(fd)
			default:
				if s.logger != nil {
					s.logger.Errorf("unexpected event %#x on fd %d", ev, fd)
				}
			}
		}
	}
	s.teardown()
	return nil
}

// Shutdown stops the loop after its current iteration.
func (s *Server) Shutdown() {
	s.cancel()
	s.wake()
}

func (s *Server) wake() {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	unix.Write(s.wakeFd, one[:])
}

func (s *Server) drainWake() {
	var buf [8]byte
	unix.Read(s.wakeFd, buf[:])
}

// requestClose hands a close over to the reactor. Safe from workers.
// Oneshot dispatch means at most one outstanding request per connection,
// and the channel is sized to the table, so the send never drops.
func (s *Server) requestClose(fd int, reason closeReason) {
	select {
	case s.pendingClose <- closeRequest{fd: fd, reason: reason}:
	default:
	}
	s.wake()
}

func (s *Server) drainPendingCloses() {
	for {
		select {
		case req := <-s.pendingClose:
			s.finishClose(req.fd, req.reason)
		default:
			return
		}
	}
}

// finishClose runs on the reactor: it cancels the idle timer and retires
// the connection. Idle expiry itself arrives through the timer callback
// instead.
func (s *Server) finishClose(fd int, reason closeReason) {
	if _, ok := s.conns[fd]; !ok {
		return
	}
	s.heap.Cancel(fd)
	s.closeConn(fd, reason)
}

// closeConn deregisters fd, closes the connection, and drops it from the
// table. It leaves the timer alone: callers cancel the node first, and on
// idle expiry the heap removes it after this callback returns.
func (s *Server) closeConn(fd int, reason closeReason) {
	conn, ok := s.conns[fd]
	if !ok {
		return
	}
	if s.logger != nil {
		s.logger.Infof("client[%d] close: %s", fd, reason)
	}
	s.poller.Del(fd)
	conn.Close()
	delete(s.conns, fd)
	s.users.Add(-1)
	s.observer.ObserveClose()
	if reason == reasonIdleTimeout {
		s.observer.ObserveTimeout()
	}
}

// dealListen accepts a burst of connections. Under an edge-triggered
// listen socket the burst must be drained to exhaustion.
func (s *Server) dealListen() {
	for {
		nfd, sa, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err != unix.EAGAIN && s.logger != nil {
				s.logger.Errorf("accept: %v", err)
			}
			return
		}
		if s.users.Load() >= int64(s.params.MaxConns) {
			s.sendBusy(nfd)
			continue
		}
		s.addClient(nfd, sa)
		if s.listenEvents&epoll.EdgeTriggered == 0 {
			return
		}
	}
}

// sendBusy turns a client away once the fd cap is reached.
func (s *Server) sendBusy(fd int) {
	if _, err := unix.Write(fd, []byte("Server busy!")); err != nil && s.logger != nil {
		s.logger.Warnf("send busy to client[%d]: %v", fd, err)
	}
	unix.Close(fd)
	s.observer.ObserveReject()
	if s.logger != nil {
		s.logger.Warnf("clients are full")
	}
}

func (s *Server) addClient(fd int, sa unix.Sockaddr) {
	ip, port := peerAddr(sa)
	conn, ok := s.conns[fd]
	if !ok {
		conn = http.NewConn(http.ConnConfig{
			SrcDir:        s.params.SrcDir,
			EdgeTriggered: s.connEvents&epoll.EdgeTriggered != 0,
			Store:         s.store,
			Logger:        s.logger,
		})
		s.conns[fd] = conn
	}
	conn.Init(fd, ip, port)
	s.users.Add(1)
	s.observer.ObserveAccept()

	if s.params.Timeout > 0 {
		s.heap.Add(fd, s.params.Timeout, func() {
			s.closeConn(fd, reasonIdleTimeout)
		})
	}
	if err := s.poller.Add(fd, s.connEvents|epoll.Readable); err != nil {
		if s.logger != nil {
			s.logger.Errorf("register client[%d]: %v", fd, err)
		}
		s.heap.Cancel(fd)
		s.closeConn(fd, reasonIOError)
		return
	}
	if s.logger != nil {
		s.logger.Infof("client[%d](%s:%d) in, users %d", fd, ip, port, s.users.Load())
	}
}

func peerAddr(sa unix.Sockaddr) (string, int) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String(), a.Port
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String(), a.Port
	default:
		return "", 0
	}
}

// extendTime pushes a live connection's idle deadline out.
func (s *Server) extendTime(fd int) {
	if s.params.Timeout > 0 {
		s.heap.Adjust(fd, s.params.Timeout)
	}
}

// dealRead refreshes the idle deadline and hands the connection to a
// worker. The oneshot registration keeps further events away until the
// worker re-arms.
func (s *Server) dealRead(fd int) {
	conn, ok := s.conns[fd]
	if !ok {
		return
	}
	s.extendTime(fd)
	s.pool.Submit(func() { s.onRead(conn) })
}

func (s *Server) dealWrite(fd int) {
	conn, ok := s.conns[fd]
	if !ok {
		return
	}
	s.extendTime(fd)
	s.pool.Submit(func() { s.onWrite(conn) })
}

// onRead runs on a worker: drain the socket, then try to make a response.
func (s *Server) onRead(conn *http.Conn) {
	before := conn.Pending()
	n, err := conn.Read()
	if n <= 0 && !isWouldBlock(err) {
		s.requestClose(conn.Fd(), reasonIOError)
		return
	}
	if got := conn.Pending() - before; got > 0 {
		s.observer.ObserveRead(uint64(got))
	}
	s.onProcess(conn)
}

// onProcess re-arms the connection for writing when a full request has
// been parsed, or for reading when more bytes are needed.
func (s *Server) onProcess(conn *http.Conn) {
	if conn.Process(s.ctx) {
		if conn.StatusCode() == 400 {
			s.observer.ObserveParseError()
		}
		s.observer.ObserveWrite(uint64(conn.ToWriteBytes()))
		s.poller.Mod(conn.Fd(), s.connEvents|epoll.Writable)
	} else {
		s.poller.Mod(conn.Fd(), s.connEvents|epoll.Readable)
	}
}

// onWrite runs on a worker: flush the response; keep-alive connections go
// back to reading, everything else closes through the reactor.
func (s *Server) onWrite(conn *http.Conn) {
	n, err := conn.Write()
	if conn.ToWriteBytes() == 0 {
		latency := uint64(time.Since(conn.RequestStart()))
		s.observer.ObserveRequest(conn.StatusCode(), latency)
		if conn.IsKeepAlive() {
			s.poller.Mod(conn.Fd(), s.connEvents|epoll.Readable)
			return
		}
		s.requestClose(conn.Fd(), reasonWriteDone)
		return
	}
	if n < 0 && isWouldBlock(err) {
		// the socket buffer is full; resume on the next writable event
		s.poller.Mod(conn.Fd(), s.connEvents|epoll.Writable)
		return
	}
	s.requestClose(conn.Fd(), reasonIOError)
}

// teardown closes every live connection and releases the reactor's
// resources. In-flight worker tasks finish first.
func (s *Server) teardown() {
	s.pool.Close()
	s.drainPendingCloses()
	for fd := range s.conns {
		s.finishClose(fd, reasonShutdown)
	}
	s.heap.Clear()
	unix.Close(s.listenFd)
	unix.Close(s.wakeFd)
	s.poller.Close()
	if s.logger != nil {
		s.logger.Infof("========== server stop ==========")
	}
}
