// Package daemon hosts the long-lived session behind a unix socket and
// provides the client side of the same wire contract.
//
// The protocol is request/response: a connection carries exactly one
// newline-delimited JSON request and receives exactly one newline-delimited
// JSON response before the daemon closes it. A connection closed before the
// response line arrives means the command did not resolve.
package daemon

import "time"

// Actions a client may request.
const (
	ActionStart    = "start"
	ActionStop     = "stop"
	ActionStatus   = "status"
	ActionShutdown = "shutdown"
)

// Request is a command sent client->daemon. Immutable once built.
type Request struct {
	Action    string `json:"action"`
	Model     string `json:"model,omitempty"`
	Backend   string `json:"backend,omitempty"`
	Accel     string `json:"accel,omitempty"`
	AudioFile string `json:"audio_file,omitempty"`
	NoTyping  bool   `json:"no_typing,omitempty"`
}

// Response is the daemon's reply. Exactly one of the three transcription
// outcomes holds for a resolved stop: text delivered, empty, or failed
// (OK=false with ErrorKind).
type Response struct {
	OK        bool    `json:"ok"`
	State     string  `json:"state,omitempty"`
	Model     string  `json:"model,omitempty"`
	Backend   string  `json:"backend,omitempty"`
	Accel     string  `json:"accel,omitempty"`
	Loaded    bool    `json:"loaded,omitempty"`
	UptimeSec float64 `json:"uptime_sec,omitempty"`
	Text      string  `json:"text,omitempty"`
	Empty     bool    `json:"empty,omitempty"`
	ErrorKind string  `json:"error_kind,omitempty"` // conflict, device, engine, timeout, internal
	Error     string  `json:"error,omitempty"`
}

// dialTimeout bounds connecting to the socket; requests that transcribe
// block far longer and carry their own deadline.
const dialTimeout = 2 * time.Second
