// Package testhelpers provides common utilities shared by the relay's tests:
// test servers, HTTP assertions and WebSocket helpers for the plain-text
// room protocol.
package testhelpers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the Origin header sent by ConnectWebSocket. It matches the
// default allow-list.
const TestOrigin = "http://localhost:8080"

// CreateTestServer creates a test HTTP server with the given handler and
// closes it when the test ends.
func CreateTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

// RoomURL converts an httptest server URL into the WebSocket URL for a room.
func RoomURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// ConnectWebSocket dials url with TestOrigin. The handshake response is
// returned so callers can inspect rejected upgrades.
func ConnectWebSocket(url string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials url and fails the test on error. The connection is closed
// when the test ends.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(url)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendText sends a text frame.
func SendText(conn *websocket.Conn, text string) error {
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// ReadText reads the next text frame, waiting at most timeout.
func ReadText(conn *websocket.Conn, timeout time.Duration) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	_, data, err := conn.ReadMessage()
	return string(data), err
}

// ExpectText reads the next frame and fails the test unless it equals want.
func ExpectText(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	got, err := ReadText(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("Expected %q, got error: %v", want, err)
	}
	if got != want {
		t.Fatalf("Expected %q, got %q", want, got)
	}
}

// ExpectNoText fails the test if a frame arrives within wait.
func ExpectNoText(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	got, err := ReadText(conn, wait)
	if err == nil {
		t.Fatalf("Expected no message, got %q", got)
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
