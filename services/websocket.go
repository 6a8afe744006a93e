package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CrowderSoup/devtrack/models"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// ErrHubStopped is returned by Publish once the hub has shut down.
var ErrHubStopped = errors.New("hub stopped")

// Client represents a connected WebSocket client
type Client struct {
	Hub   *Hub
	Conn  *websocket.Conn
	Send  chan []byte
	Email string
}

func NewClient(hub *Hub, conn *websocket.Conn, email string) *Client {
	return &Client{
		Hub:   hub,
		Conn:  conn,
		Send:  make(chan []byte, sendBuffer),
		Email: email,
	}
}

// ReadPump reads control frames from the connection until it closes.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn().Err(err).Str("email", c.Email).Msg("websocket read failed")
			}
			return
		}

		var frame models.ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.Hub.logger.Debug().Err(err).Str("email", c.Email).Msg("ignoring malformed frame")
			continue
		}

		switch frame.Type {
		case models.FramePing:
			c.Hub.reply(c, "", models.EventPong)
		case models.FrameSubscribe, models.FrameUnsubscribe:
			if frame.Channel == "" {
				continue
			}
			c.Hub.subscribe(subscription{client: c, channel: frame.Channel, on: frame.Type == models.FrameSubscribe})
		default:
			c.Hub.logger.Debug().Str("type", frame.Type).Str("email", c.Email).Msg("ignoring unknown frame")
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One event per frame so subscribers can decode each independently.
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type subscription struct {
	client  *Client
	channel string
	on      bool
}

type publication struct {
	channel string
	payload []byte
	// only, when set, limits delivery to a single client.
	only *Client
}

// Hub keeps per-channel subscriber sets and fans published events out to them.
// All maps are owned by the Run goroutine.
type Hub struct {
	clients       map[*Client]map[string]bool
	channels      map[string]map[*Client]bool
	broadcast     chan publication
	register      chan *Client
	unregister    chan *Client
	subscriptions chan subscription
	done          chan struct{}
	logger        zerolog.Logger
}

// NewHub creates a new hub instance
func NewHub() *Hub {
	return &Hub{
		clients:       make(map[*Client]map[string]bool),
		channels:      make(map[string]map[*Client]bool),
		broadcast:     make(chan publication, sendBuffer),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscriptions: make(chan subscription),
		done:          make(chan struct{}),
		logger:        log.With().Str("component", "hub").Logger(),
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister removes a client and all of its subscriptions.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) subscribe(s subscription) {
	select {
	case h.subscriptions <- s:
	case <-h.done:
	}
}

// Publish sends event with data to every subscriber of channel.
func (h *Hub) Publish(channel, event string, data any) error {
	payload, err := encodeEvent(channel, event, data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- publication{channel: channel, payload: payload}:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) reply(c *Client, channel, event string) {
	payload, err := encodeEvent(channel, event, nil)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- publication{channel: channel, payload: payload, only: c}:
	case <-h.done:
	}
}

// Run starts the hub's main loop. It returns when ctx is cancelled, after
// closing every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			close(client.Send)
		}
		h.clients = nil
		h.channels = nil
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = make(map[string]bool)
			h.logger.Info().Str("email", client.Email).Msg("client connected")
		case client := <-h.unregister:
			h.drop(client)
		case s := <-h.subscriptions:
			h.applySubscription(s)
		case p := <-h.broadcast:
			if p.only != nil {
				h.deliver(p.only, p.payload)
				continue
			}
			subscribers := h.channels[p.channel]
			h.logger.Debug().Str("channel", p.channel).Int("subscribers", len(subscribers)).Msg("broadcasting")
			for client := range subscribers {
				h.deliver(client, p.payload)
			}
		}
	}
}

func (h *Hub) applySubscription(s subscription) {
	subs, ok := h.clients[s.client]
	if !ok {
		return
	}

	if s.on {
		subs[s.channel] = true
		if h.channels[s.channel] == nil {
			h.channels[s.channel] = make(map[*Client]bool)
		}
		h.channels[s.channel][s.client] = true
	} else {
		delete(subs, s.channel)
		h.removeFromChannel(s.channel, s.client)
	}

	event := models.EventUnsubscribed
	if s.on {
		event = models.EventSubscribed
	}
	if payload, err := encodeEvent(s.channel, event, nil); err == nil {
		h.deliver(s.client, payload)
	}
}

// deliver queues payload for client, dropping the client if its buffer is full.
func (h *Hub) deliver(client *Client, payload []byte) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.Send <- payload:
	default:
		h.logger.Warn().Str("email", client.Email).Msg("client send buffer full, removing client")
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	subs, ok := h.clients[client]
	if !ok {
		return
	}
	for channel := range subs {
		h.removeFromChannel(channel, client)
	}
	delete(h.clients, client)
	close(client.Send)
	h.logger.Info().Str("email", client.Email).Msg("client disconnected")
}

func (h *Hub) removeFromChannel(channel string, client *Client) {
	members := h.channels[channel]
	delete(members, client)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}

func encodeEvent(channel, event string, data any) ([]byte, error) {
	raw := json.RawMessage("null")
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		raw = b
	}

	payload, err := json.Marshal(models.Event{Channel: channel, Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return payload, nil
}
