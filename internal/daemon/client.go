package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrNotRunning means no daemon answered at the socket address. Callers
// recover locally by running the pipeline standalone.
var ErrNotRunning = errors.New("daemon: not reachable")

// Send dispatches one request to the daemon and waits for its response.
// responseTimeout bounds the wait for the response line; zero means wait
// indefinitely (stop blocks for the full transcription, which carries its
// own server-side bound).
func Send(socketPath string, req Request, responseTimeout time.Duration) (Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrNotRunning, err)
	}
	defer conn.Close()

	if responseTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(responseTimeout))
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("daemon: send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Response{}, fmt.Errorf("daemon: connection closed before response")
		}
		return Response{}, fmt.Errorf("daemon: read response: %w", err)
	}
	return resp, nil
}
