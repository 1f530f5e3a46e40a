package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const inboxSize = 32

// Client is one websocket connection of an authenticated user. It remembers
// the notes it opened so their locks can be released when it goes away.
type Client struct {
	ID       string
	UserID   int64
	Username string
	Conn     *websocket.Conn
	Manager  *Manager
	Send     chan []byte

	// inbox feeds the client's dispatch goroutine while it is registered.
	inbox chan *Message
	// left is set before inbox is closed by an unregister.
	left bool

	mu     sync.Mutex
	opened map[int64]struct{}
}

func NewClient(id string, userID int64, username string, conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		Username: username,
		Conn:     conn,
		Manager:  manager,
		Send:     make(chan []byte, 256),
		inbox:    make(chan *Message, inboxSize),
		opened:   make(map[int64]struct{}),
	}
}

func (c *Client) MarkOpened(noteID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened[noteID] = struct{}{}
}

func (c *Client) MarkClosed(noteID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.opened, noteID)
}

func (c *Client) HasOpened(noteID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.opened[noteID]
	return ok
}

// OpenedNotes returns the opened note ids in ascending order.
func (c *Client) OpenedNotes() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int64, 0, len(c.opened))
	for id := range c.opened {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Client) ReadPump() {
	defer func() {
		c.Manager.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Manager.log.Warn(context.Background(), "websocket read error", "client_id", c.ID, "error", err)
			}
			break
		}

		c.Manager.HandleMessage <- &ClientMessage{
			Client:  c,
			Message: message,
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Manager.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
