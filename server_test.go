//go:build linux

package httpd

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	pages := map[string]string{
		"index.html":   "<html>index</html>",
		"welcome.html": "<html>welcome</html>",
		"error.html":   "<html>error</html>",
		"400.html":     "<html>bad request</html>",
		"403.html":     "<html>forbidden</html>",
		"404.html":     "<html>not found</html>",
	}
	for name, body := range pages {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

// startServer runs a server on an ephemeral port and tears it down with the
// test.
func startServer(t *testing.T, params Params, options *Options) *Server {
	t.Helper()
	params.Port = 0
	if params.SrcDir == "" {
		params.SrcDir = writeSite(t)
	}
	srv, err := New(params, options)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		srv.Serve()
		close(done)
	}()
	t.Cleanup(func() {
		srv.Shutdown()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

func dialServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// readResponse parses one status line, headers, and a Content-length body.
func readResponse(t *testing.T, br *bufio.Reader) (string, map[string]string, string) {
	t.Helper()
	status, err := br.ReadString('\n')
	require.NoError(t, err, "reading status line")
	headers := map[string]string{}
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err, "reading header line")
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ": ")
		require.True(t, ok, "malformed header %q", line)
		headers[name] = value
	}
	n, _ := strconv.Atoi(headers["Content-length"])
	body := make([]byte, n)
	_, err = io.ReadFull(br, body)
	require.NoError(t, err, "reading body")
	return strings.TrimRight(status, "\r\n"), headers, string(body)
}

func TestGetIndex(t *testing.T) {
	srv := startServer(t, DefaultParams(), nil)
	conn := dialServer(t, srv)

	fmt.Fprintf(conn, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	br := bufio.NewReader(conn)
	status, headers, body := readResponse(t, br)

	assert.Equal(t, "HTTP/1.1 200 OK", status)
	assert.Equal(t, "close", headers["Connection"])
	assert.Equal(t, "text/html", headers["Content-type"])
	assert.Equal(t, "<html>index</html>", body)

	// without keep-alive the server closes after the response
	_, err := br.ReadByte()
	assert.Equal(t, io.EOF, err)
}

func TestKeepAliveReuse(t *testing.T) {
	srv := startServer(t, DefaultParams(), nil)
	conn := dialServer(t, srv)
	br := bufio.NewReader(conn)

	for i := 0; i < 2; i++ {
		fmt.Fprintf(conn, "GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
		status, headers, body := readResponse(t, br)
		require.Equal(t, "HTTP/1.1 200 OK", status, "request %d", i)
		require.Equal(t, "keep-alive", headers["Connection"])
		require.Equal(t, "max=6, timeout=120", headers["keep-alive"])
		require.Equal(t, "<html>index</html>", body)
	}
}

func TestNotFound(t *testing.T) {
	srv := startServer(t, DefaultParams(), nil)
	conn := dialServer(t, srv)

	fmt.Fprintf(conn, "GET /nope HTTP/1.1\r\n\r\n")
	status, _, body := readResponse(t, bufio.NewReader(conn))
	assert.Equal(t, "HTTP/1.1 404 Not Found", status)
	assert.Equal(t, "<html>not found</html>", body)
}

func TestBadRequest(t *testing.T) {
	srv := startServer(t, DefaultParams(), nil)
	conn := dialServer(t, srv)

	fmt.Fprintf(conn, "GARBAGE\r\n\r\n")
	status, headers, _ := readResponse(t, bufio.NewReader(conn))
	assert.Equal(t, "HTTP/1.1 400 Bad Request", status)
	assert.Equal(t, "close", headers["Connection"])
}

func TestRegisterThenLogin(t *testing.T) {
	store := NewMockUserStore()
	srv := startServer(t, DefaultParams(), &Options{Store: store})

	post := func(target, user, pwd string) (string, string) {
		conn := dialServer(t, srv)
		body := "username=" + user + "&password=" + pwd
		fmt.Fprintf(conn, "POST %s HTTP/1.1\r\n"+
			"Content-Type: application/x-www-form-urlencoded\r\n"+
			"Content-Length: %d\r\n\r\n%s", target, len(body), body)
		status, _, respBody := readResponse(t, bufio.NewReader(conn))
		return status, respBody
	}

	status, body := post("/register.html", "alice", "pw")
	require.Equal(t, "HTTP/1.1 200 OK", status)
	assert.Equal(t, "<html>welcome</html>", body, "fresh register lands on welcome")

	status, body = post("/login.html", "alice", "pw")
	require.Equal(t, "HTTP/1.1 200 OK", status)
	assert.Equal(t, "<html>welcome</html>", body, "login with the right password")

	_, body = post("/login.html", "alice", "wrong")
	assert.Equal(t, "<html>error</html>", body, "login with the wrong password")

	assert.Equal(t, 1, store.RegisterCalls())
	assert.Equal(t, 2, store.LoginCalls())
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	params := DefaultParams()
	params.Timeout = 200 * time.Millisecond
	metrics := NewMetrics()
	srv := startServer(t, params, &Options{Observer: metrics})

	conn := dialServer(t, srv)
	start := time.Now()

	// send nothing; the server must hang up on its own
	one := make([]byte, 1)
	_, err := conn.Read(one)
	require.Equal(t, io.EOF, err)
	elapsed := time.Since(start)
	assert.Greater(t, elapsed, 150*time.Millisecond, "closed before the timeout")
	assert.Less(t, elapsed, 3*time.Second, "closed far too late")

	require.Eventually(t, func() bool { return srv.UserCount() == 0 },
		2*time.Second, 10*time.Millisecond, "user count should return to 0")
	assert.Equal(t, uint64(1), metrics.IdleTimeouts.Load())
}

func TestConcurrentKeepAliveClients(t *testing.T) {
	const clients = 8
	const requests = 5

	metrics := NewMetrics()
	srv := startServer(t, DefaultParams(), &Options{Observer: metrics})

	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
			if err != nil {
				t.Error(err)
				return
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(10 * time.Second))
			br := bufio.NewReader(conn)
			for r := 0; r < requests; r++ {
				fmt.Fprintf(conn, "GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
				status, _, body := readResponse(t, br)
				if status != "HTTP/1.1 200 OK" || body != "<html>index</html>" {
					t.Errorf("client got %q / %q", status, body)
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return srv.UserCount() == 0 },
		5*time.Second, 10*time.Millisecond, "user count should drain to 0")
	assert.Equal(t, uint64(clients*requests), metrics.Requests2xx.Load())
	assert.Equal(t, uint64(clients), metrics.AcceptedConns.Load())
}

func TestBusyRejection(t *testing.T) {
	params := DefaultParams()
	params.MaxConns = 1
	srv := startServer(t, params, nil)

	first := dialServer(t, srv)
	// make sure the first connection is fully registered
	fmt.Fprintf(first, "GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	readResponse(t, bufio.NewReader(first))

	second := dialServer(t, srv)
	data, err := io.ReadAll(second)
	require.NoError(t, err)
	assert.Equal(t, "Server busy!", string(data))
}

func TestTriggerModes(t *testing.T) {
	for mode := 0; mode <= 3; mode++ {
		t.Run(fmt.Sprintf("mode_%d", mode), func(t *testing.T) {
			params := DefaultParams()
			params.TrigMode = mode
			srv := startServer(t, params, nil)
			conn := dialServer(t, srv)
			fmt.Fprintf(conn, "GET / HTTP/1.1\r\n\r\n")
			status, _, body := readResponse(t, bufio.NewReader(conn))
			assert.Equal(t, "HTTP/1.1 200 OK", status)
			assert.Equal(t, "<html>index</html>", body)
		})
	}
}

func TestConfigFailureOnBusyPort(t *testing.T) {
	srv := startServer(t, DefaultParams(), nil)

	params := DefaultParams()
	params.Port = srv.Port()
	_, err := New(params, nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeConfig), "bind failure should be a config error: %v", err)
}
