package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/codemodehq/codemode/pkg/errors"
	"github.com/codemodehq/codemode/pkg/logger"
)

const (
	// dialHandshakeTimeout bounds a single WebSocket handshake attempt.
	dialHandshakeTimeout = 10 * time.Second

	// dialInitialInterval is the first retry delay when the channels
	// endpoint is not accepting connections yet.
	dialInitialInterval = 500 * time.Millisecond

	// dialMaxInterval caps the retry delay.
	dialMaxInterval = 5 * time.Second

	// dialMaxTries bounds the number of handshake attempts.
	dialMaxTries = 5

	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
)

// Conn is an open channels WebSocket to one kernel. Reads are blocking;
// callers that need timeouts or cancellation pump frames on their own
// goroutine and close the connection to unblock it.
type Conn struct {
	ws *websocket.Conn
}

// DialChannels opens the channels socket for a kernel. Gateways acknowledge
// kernel creation before the channels endpoint accepts connections, so the
// handshake is retried with exponential backoff.
func (c *Client) DialChannels(ctx context.Context, kernelID string) (*Conn, error) {
	wsURL, header := c.ChannelsURL(kernelID)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = dialInitialInterval
	expBackoff.MaxInterval = dialMaxInterval

	operation := func() (*websocket.Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: dialHandshakeTimeout}
		ws, resp, err := dialer.DialContext(ctx, wsURL, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("handshake returned status %d: %w", resp.StatusCode, err)
			}
			return nil, err
		}
		return ws, nil
	}

	ws, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(dialMaxTries),
		backoff.WithNotify(func(_ error, duration time.Duration) {
			logger.Debugf("Retrying channels dial for kernel %s in %s", kernelID, duration)
		}))
	if err != nil {
		return nil, errors.NewUpstreamError(
			fmt.Sprintf("failed to open channels socket for kernel %s", kernelID), err)
	}
	return &Conn{ws: ws}, nil
}

// SendExecuteRequest sends an execute_request frame for the given code on the
// shell channel. The msg_id must come from NewExecuteMsgID so replies can be
// correlated.
func (co *Conn) SendExecuteRequest(msgID, code string) error {
	payload, err := marshalExecuteRequest(newExecuteRequest(msgID, code))
	if err != nil {
		return err
	}

	_ = co.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := co.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.NewUpstreamError("failed to send execute request", err)
	}
	return nil
}

// ReadFrame blocks until the next frame arrives or the socket fails. A read
// error means the connection is unusable.
func (co *Conn) ReadFrame() ([]byte, error) {
	_, data, err := co.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close tears the socket down, unblocking any in-flight ReadFrame.
func (co *Conn) Close() error {
	return co.ws.Close()
}
