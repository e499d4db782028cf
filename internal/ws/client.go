package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldsync/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// входящие кадры: только sync_request и mark_read со списком id
	readLimit  = 4096
	outboxSize = 64
)

// Client: одно websocket-соединение, подписанное на события партиции.
// Живёт не дольше хаба: ctx порождён от контекста хаба, и shutdown хаба
// останавливает обе горутины соединения.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	partitionID string
	out         chan OutgoingMessage

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	loops     sync.WaitGroup
}

func newClient(h *Hub, conn *websocket.Conn, partitionID string) *Client {
	ctx, cancel := context.WithCancel(h.ctx)
	return &Client{
		hub:         h,
		conn:        conn,
		partitionID: partitionID,
		out:         make(chan OutgoingMessage, outboxSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (c *Client) PartitionID() string { return c.partitionID }

func (c *Client) start() {
	c.loops.Add(2)
	go c.writeLoop()
	go c.readLoop()
}

// Wait ждёт выхода readLoop и writeLoop.
func (c *Client) Wait() {
	c.loops.Wait()
}

// Close останавливает соединение; повторные вызовы ничего не делают.
// writeLoop отправляет close-кадр и закрывает conn, это же прерывает ReadMessage в readLoop.
func (c *Client) Close() {
	c.closeOnce.Do(c.cancel)
}

// readLoop читает кадры и отдаёт их хабу. Разбор и ошибки событий на стороне хаба.
func (c *Client) readLoop() {
	defer c.loops.Done()
	defer func() {
		c.Close()
		c.hub.Unregister(c)
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("ws partition=%s: read: %v", c.partitionID, err)
			}
			return
		}
		c.hub.dispatch(c.ctx, c, raw)
	}
}

func (c *Client) writeLoop() {
	defer c.loops.Done()
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			bye := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, bye, time.Now().Add(writeWait))
			return
		case msg := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Debugf("ws partition=%s: write %s: %v", c.partitionID, msg.Type, err)
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
