// Package transports serves the media stream websocket and the HTTP
// endpoints around it.
package transports

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/square-key-labs/strawgo-screener/src/frames"
	"github.com/square-key-labs/strawgo-screener/src/logger"
	"github.com/square-key-labs/strawgo-screener/src/metrics"
	"github.com/square-key-labs/strawgo-screener/src/serializers"
)

const inboundBuffer = 64

// Conn is one media stream connection. Send is safe for concurrent use.
type Conn struct {
	id         string
	ws         *websocket.Conn
	serializer serializers.FrameSerializer
	metrics    *metrics.Metrics
	writeMu    sync.Mutex // protect concurrent writes to the websocket
	closeOnce  sync.Once
	log        *logger.Logger
}

func newConn(ws *websocket.Conn, serializer serializers.FrameSerializer, m *metrics.Metrics) *Conn {
	id := fmt.Sprintf("ws-%p", ws)
	return &Conn{
		id:         id,
		ws:         ws,
		serializer: serializer,
		metrics:    m,
		log:        logger.WithPrefix("WebSocket").WithPrefix(id),
	}
}

// ID identifies the connection in logs.
func (c *Conn) ID() string { return c.id }

// Send serializes frame and writes it as one message.
func (c *Conn) Send(frame frames.Frame) error {
	data, err := c.serializer.Serialize(frame)
	if err != nil {
		return err
	}
	if frames.CategoryOf(frame) == frames.ControlCategory {
		c.log.Debug("Sending %s", frame.Name())
	}
	msgType := websocket.TextMessage
	if c.serializer.Type() == serializers.SerializerTypeBinary {
		msgType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(msgType, data)
}

// Frames starts reading the connection and returns the decoded inbound
// frames. Unknown events and malformed media are skipped. When the
// connection fails or closes a ClosedFrame is delivered and the channel
// is closed.
func (c *Conn) Frames(ctx context.Context) <-chan frames.Frame {
	out := make(chan frames.Frame, inboundBuffer)
	go func() {
		defer close(out)
		for {
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				var closeErr error
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Warn("Read error: %v", err)
					closeErr = err
				}
				select {
				case out <- frames.NewClosedFrame(closeErr):
				case <-ctx.Done():
				}
				return
			}

			frame, err := c.serializer.Deserialize(data)
			switch {
			case errors.Is(err, serializers.ErrUnknownEvent):
				c.log.Debug("Ignoring message: %v", err)
				continue
			case errors.Is(err, serializers.ErrMalformedPayload):
				c.log.Warn("Dropping frame: %v", err)
				c.metrics.RecordFrameDropped("malformed")
				continue
			case err != nil:
				c.log.Warn("Deserialization error: %v", err)
				c.metrics.RecordFrameDropped("malformed")
				continue
			}

			if frames.CategoryOf(frame) == frames.SystemCategory {
				c.log.Debug("Received %s", frame.Name())
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close sends a close message and closes the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
