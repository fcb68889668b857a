package signal

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/veilcall/veilcall/shared"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is the websocket connection to the signaling relay.
type Client struct {
	logger    shared.LoggerAdapter
	serverURL string

	conn     *websocket.Conn
	incoming chan *Envelope
	outgoing chan *Envelope

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

var _ Relay = (*Client)(nil)

func NewClient(logger shared.LoggerAdapter, serverURL string) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &Client{
		logger:    logger,
		serverURL: serverURL,
		incoming:  make(chan *Envelope, 64),
		outgoing:  make(chan *Envelope, 64),
		done:      make(chan struct{}),
	}, nil
}

// Connect dials the relay and starts the read/write pumps.
func (c *Client) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}
	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug("relay read ended", zap.Error(err))
			return
		}
		env := new(Envelope)
		if err := sonic.Unmarshal(raw, env); err != nil {
			c.logger.Warn("dropping malformed relay message", zap.Error(err))
			continue
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			raw, err := sonic.Marshal(env)
			if err != nil {
				c.logger.Error("marshaling relay message", err, zap.String("type", string(env.Type)))
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) Send(env *Envelope) error {
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return shared.ErrRelayDisconnected
	}
}

func (c *Client) Incoming() <-chan *Envelope {
	return c.incoming
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

// ICEServer mirrors the relay's /ice response entries.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceResponse struct {
	ICEServers []ICEServer `json:"iceServers"`
}

// FetchICEServers retrieves the ICE server configuration published by the
// relay over HTTP, before the websocket is established.
func FetchICEServers(baseURL string) ([]ICEServer, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(baseURL + "/ice")
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := fasthttp.Do(req, resp); err != nil {
		return nil, fmt.Errorf("performing HTTP request: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}
	var parsed iceResponse
	if err := sonic.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshaling ICE config: %w", err)
	}
	return parsed.ICEServers, nil
}
