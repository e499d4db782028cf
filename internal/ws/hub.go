package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldsync/internal/logger"
	"github.com/fieldsync/internal/model"
	"github.com/fieldsync/internal/service"
)

const syncRequestTimeout = 5 * time.Minute

// Syncer запускает проход синхронизации (service.SyncService).
type Syncer interface {
	SyncMessages(ctx context.Context, partitionID string) (*service.SyncReport, error)
}

// Reader помечает сообщения прочитанными (service.MessageService).
type Reader interface {
	MarkRead(ctx context.Context, partitionID string, ids ...string) error
}

// Hub рассылает события синхронизации подписчикам партиции. Реализует service.Notifier.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	total      int
	maxConns   int
	syncer     Syncer
	reader     Reader
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// ctx отменяется в shutdown: от него порождены соединения и проходы по sync_request.
	ctx    context.Context
	cancel context.CancelFunc
	// closing выставляется под mu; после него новые проходы не запускаются и wg не растёт.
	closing bool
	wg      sync.WaitGroup
}

func NewHub(maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		ctx:        ctx,
		cancel:     cancel,
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Bind подключает обработчики входящих событий. Вызывать до Run.
func (h *Hub) Bind(syncer Syncer, reader Reader) {
	h.syncer = syncer
	h.reader = reader
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	h.closing = true
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	h.cancel()
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
	h.wg.Wait()
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.total >= h.maxConns {
		logger.Errorf("ws connection limit reached (%d), rejecting partition=%s", h.maxConns, c.partitionID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.partitionID]; !ok {
		h.clients[c.partitionID] = make(map[*Client]struct{})
	}
	h.clients[c.partitionID][c] = struct{}{}
	h.total++
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.partitionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.partitionID)
	}
	h.mu.Unlock()

	c.Close()
}

// Subscribers: число открытых соединений партиции.
func (h *Hub) Subscribers(partitionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[partitionID])
}

// dispatch разбирает кадр клиента и передаёт событие в HandleMessage.
// Битый JSON, как и любая ошибка обработки события, уходит клиенту событием error: соединение не рвётся.
func (h *Hub) dispatch(ctx context.Context, c *Client, raw []byte) {
	var msg IncomingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reject(c, "invalid json")
		return
	}
	h.HandleMessage(ctx, c, msg)
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventSyncRequest:
		h.handleSyncRequest(c)
	case EventMarkRead:
		h.handleMarkRead(ctx, c, msg)
	default:
		h.reject(c, "unknown event type")
	}
}

// reject отвечает одному клиенту событием error.
func (h *Hub) reject(c *Client, reason string) {
	logger.Debugf("ws partition=%s: reject: %s", c.partitionID, reason)
	h.sendToClient(c, OutgoingMessage{Type: EventError, PartitionID: c.partitionID, Payload: reason})
}

// track учитывает фоновую работу хаба в wg. После начала shutdown возвращает false.
func (h *Hub) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.wg.Add(1)
	return true
}

// handleSyncRequest запускает проход в отдельной горутине: readLoop не блокируется,
// а результат приходит всем подписчикам через SyncCompleted/SyncFailed.
// Проход живёт на контексте хаба и отменяется при его остановке.
func (h *Hub) handleSyncRequest(c *Client) {
	if h.syncer == nil {
		h.reject(c, "sync unavailable")
		return
	}
	if !h.track() {
		h.reject(c, "server shutting down")
		return
	}
	h.sendToPartition(c.partitionID, OutgoingMessage{Type: EventSyncStarted, PartitionID: c.partitionID})
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(h.ctx, syncRequestTimeout)
		defer cancel()
		_, err := h.syncer.SyncMessages(ctx, c.partitionID)
		switch {
		case errors.Is(err, service.ErrSyncInProgress):
			h.reject(c, "sync already in progress")
		case errors.Is(err, service.ErrMissingIdentifier), errors.Is(err, service.ErrPartitionNotFound):
			// SyncFailed хаб получает только для начатых проходов
			h.sendToClient(c, OutgoingMessage{Type: EventSyncFailed, PartitionID: c.partitionID,
				Payload: SyncFailedPayload{Error: err.Error(), At: time.Now().UTC()}})
		}
	}()
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, msg IncomingMessage) {
	switch {
	case h.reader == nil:
		h.reject(c, "mark read unavailable")
		return
	case len(msg.MessageIDs) == 0:
		h.reject(c, "message_ids required")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.reader.MarkRead(ctx, c.partitionID, msg.MessageIDs...); err != nil {
		logger.Errorf("ws mark read partition=%s: %v", c.partitionID, err)
		h.reject(c, "mark read failed")
		return
	}
	h.sendToPartition(c.partitionID, OutgoingMessage{Type: EventMarkRead, PartitionID: c.partitionID,
		Payload: MarkReadPayload{MessageIDs: msg.MessageIDs}})
}

// SyncCompleted implements service.Notifier.
func (h *Hub) SyncCompleted(report *service.SyncReport) {
	h.sendToPartition(report.PartitionID, OutgoingMessage{Type: EventSyncCompleted, PartitionID: report.PartitionID, Payload: report})
}

// SyncFailed implements service.Notifier.
func (h *Hub) SyncFailed(partitionID string, err error) {
	h.sendToPartition(partitionID, OutgoingMessage{Type: EventSyncFailed, PartitionID: partitionID,
		Payload: SyncFailedPayload{Error: err.Error(), At: time.Now().UTC()}})
}

// MessageCreated implements service.Notifier.
func (h *Hub) MessageCreated(rec *model.MessageRecord) {
	h.sendToPartition(rec.PartitionID, OutgoingMessage{Type: EventMessageCreated, PartitionID: rec.PartitionID, Payload: rec})
}

func (h *Hub) sendToPartition(partitionID string, msg OutgoingMessage) {
	h.mu.RLock()
	clients, ok := h.clients[partitionID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.out <- msg:
	case <-c.ctx.Done():
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client partition=%s", c.partitionID)
		c.Close()
	}
}

// Attach подписывает принятое websocket-соединение на события партиции и запускает его циклы.
func (h *Hub) Attach(conn *websocket.Conn, partitionID string) *Client {
	c := newClient(h, conn, partitionID)
	c.start()
	h.Register(c)
	return c
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}
