// Package websocket is the event hub: it tracks connections per user, feeds
// client messages to a handler and fans note events out to the users that
// can see the note.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"webnotes-server/internal/logging"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

type Manager struct {
	clients        map[string]*Client
	userIndex      map[int64]map[string]bool
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	maxConnPerUser int
	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	messageHandler MessageHandler
	log            logging.Logger
}

type MessageHandler interface {
	HandleWebSocketMessage(ctx context.Context, client *Client, msg *Message) error
	// HandleDisconnect runs after the client left the hub.
	HandleDisconnect(ctx context.Context, client *Client)
}

type Options struct {
	MaxConnPerUser int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
}

func NewManager(opts Options, log logging.Logger) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		userIndex:      make(map[int64]map[string]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		HandleMessage:  make(chan *ClientMessage),
		maxConnPerUser: opts.MaxConnPerUser,
		maxMessageSize: opts.MaxMessageSize,
		writeWait:      opts.WriteWait,
		pongWait:       opts.PongWait,
		pingPeriod:     opts.PingPeriod,
		log:            log.With("component", "websocket"),
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// Run serves registrations and client messages until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return

		case client := <-m.Register:
			m.registerClient(ctx, client)

		case client := <-m.Unregister:
			m.unregisterClient(ctx, client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(ctx, clientMsg)
		}
	}
}

func (m *Manager) registerClient(ctx context.Context, client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.userIndex[client.UserID] == nil {
		m.userIndex[client.UserID] = make(map[string]bool)
	}

	if m.maxConnPerUser > 0 && len(m.userIndex[client.UserID]) >= m.maxConnPerUser {
		m.log.Warn(ctx, "max connections reached", "user", client.Username)
		// WritePump sends the close frame and drops the connection.
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.userIndex[client.UserID][client.ID] = true
	go m.dispatch(ctx, client)

	m.log.Info(ctx, "client registered", "client_id", client.ID, "user", client.Username)
}

func (m *Manager) unregisterClient(ctx context.Context, client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; !ok {
		return
	}

	delete(m.clients, client.ID)
	delete(m.userIndex[client.UserID], client.ID)
	if len(m.userIndex[client.UserID]) == 0 {
		delete(m.userIndex, client.UserID)
	}

	client.left = true
	close(client.inbox)
	close(client.Send)
	m.log.Info(ctx, "client unregistered", "client_id", client.ID, "user", client.Username)
}

func (m *Manager) closeAll() {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	for id, client := range m.clients {
		close(client.inbox)
		close(client.Send)
		delete(m.clients, id)
	}
	m.userIndex = make(map[int64]map[string]bool)
}

// processMessage queues a decoded message on the sender's inbox. Messages
// from connections that are not registered are dropped.
func (m *Manager) processMessage(ctx context.Context, clientMsg *ClientMessage) {
	client := clientMsg.Client

	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		m.log.Warn(ctx, "error unmarshaling message", "client_id", client.ID, "error", err)
		return
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if m.clients[client.ID] != client {
		m.log.Warn(ctx, "message from unregistered client", "client_id", client.ID, "type", msg.Type)
		return
	}
	select {
	case client.inbox <- &msg:
	default:
		m.log.Warn(ctx, "client inbox full", "client_id", client.ID, "type", msg.Type)
	}
}

// dispatch hands a client's messages to the handler in arrival order, off the
// Run loop. Once the client has been unregistered and its inbox drained, the
// disconnect handler runs.
func (m *Manager) dispatch(ctx context.Context, client *Client) {
	for msg := range client.inbox {
		if m.messageHandler == nil {
			continue
		}
		if err := m.messageHandler.HandleWebSocketMessage(ctx, client, msg); err != nil {
			m.log.Warn(ctx, "error handling message", "client_id", client.ID, "type", msg.Type, "error", err)
		}
	}

	if client.left && m.messageHandler != nil {
		m.messageHandler.HandleDisconnect(context.WithoutCancel(ctx), client)
	}
}

// NotifyUsers sends an event to every connection of the given users. Slow
// connections whose buffer is full miss the event.
func (m *Manager) NotifyUsers(userIDs []int64, msgType MessageType, payload interface{}) {
	message, err := NewMessage(msgType, payload)
	if err != nil {
		m.log.Error(context.Background(), "error building message", "type", msgType, "error", err)
		return
	}
	messageBytes, err := json.Marshal(message)
	if err != nil {
		m.log.Error(context.Background(), "error marshaling message", "type", msgType, "error", err)
		return
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	for _, userID := range userIDs {
		for clientID := range m.userIndex[userID] {
			select {
			case m.clients[clientID].Send <- messageBytes:
			default:
				m.log.Warn(context.Background(), "client send buffer full", "client_id", clientID)
			}
		}
	}
}

// Send delivers a message to a single registered connection.
func (m *Manager) Send(client *Client, msgType MessageType, payload interface{}) error {
	message, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if _, ok := m.clients[client.ID]; !ok {
		return nil
	}
	select {
	case client.Send <- messageBytes:
	default:
		m.log.Warn(context.Background(), "client send buffer full", "client_id", client.ID)
	}
	return nil
}

// OpenedElsewhere reports whether another connection of the same user still
// has noteID open.
func (m *Manager) OpenedElsewhere(client *Client, noteID int64) bool {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	for clientID := range m.userIndex[client.UserID] {
		if clientID != client.ID && m.clients[clientID].HasOpened(noteID) {
			return true
		}
	}
	return false
}

func (m *Manager) GetUserConnections(userID int64) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	return len(m.userIndex[userID])
}
