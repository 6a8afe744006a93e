package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CrowderSoup/devtrack/models"
	"github.com/CrowderSoup/devtrack/store"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait = 10 * time.Second
	ackWait   = 10 * time.Second
)

// Subscription feeds the events of one channel into the client's store until
// Close is called, its context ends, or the connection drops.
type Subscription struct {
	channel string
	conn    *websocket.Conn
	store   *store.Store
	logger  zerolog.Logger

	writeMu   sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// SubscribeProject subscribes to the board events of projectID.
func (c *Client) SubscribeProject(ctx context.Context, projectID string) (*Subscription, error) {
	return c.Subscribe(ctx, models.ProjectChannel(projectID))
}

// Subscribe opens a websocket, joins channel and returns once the server has
// acknowledged the subscription.
func (c *Client) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	endpoint, err := c.websocketURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", channel, err)
	}

	sub := &Subscription{
		channel: channel,
		conn:    conn,
		store:   c.store,
		logger:  c.logger.With().Str("channel", channel).Logger(),
		done:    make(chan struct{}),
	}

	if err := sub.write(models.ClientFrame{Type: models.FrameSubscribe, Channel: channel}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	if err := sub.awaitAck(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	go sub.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	sub.logger.Debug().Msg("subscribed")
	return sub, nil
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// awaitAck reads until the subscription is confirmed. Events for the channel
// that arrive first are applied.
func (s *Subscription) awaitAck(ctx context.Context) error {
	deadline := time.Now().Add(ackWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetReadDeadline(deadline)
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		var ev models.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("waiting for %s acknowledgement: %w", s.channel, err)
		}
		if ev.Event == models.EventSubscribed && ev.Channel == s.channel {
			return nil
		}
		s.apply(ev)
	}
}

func (s *Subscription) readLoop() {
	defer s.finish(nil)
	for {
		var ev models.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			if !s.closing.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !isClosedConn(err) {
				s.finish(err)
			}
			return
		}
		s.apply(ev)
	}
}

// apply turns an inbound event into a full-replace store action.
func (s *Subscription) apply(ev models.Event) {
	if ev.Channel != s.channel {
		return
	}

	var err error
	switch ev.Event {
	case models.EventTasksUpdated:
		var tasks []models.Task
		if err = json.Unmarshal(ev.Data, &tasks); err == nil {
			s.store.Dispatch(store.SetTasks{ProjectID: channelProject(ev.Channel), Tasks: tasks})
		}
	case models.EventColumnsUpdated:
		var columns []models.StatusColumn
		if err = json.Unmarshal(ev.Data, &columns); err == nil {
			s.store.Dispatch(store.SetStatusColumns{ProjectID: channelProject(ev.Channel), Columns: columns})
		}
	case models.EventProjectsUpdated:
		var projects []models.Project
		if err = json.Unmarshal(ev.Data, &projects); err == nil {
			s.store.Dispatch(store.SetProjects{Projects: projects})
		}
	case models.EventProjectDeleted:
		var deleted models.ProjectDeleted
		if err = json.Unmarshal(ev.Data, &deleted); err == nil {
			s.store.Dispatch(store.DeleteProject{ID: deleted.ID})
		}
	default:
		return
	}

	if err != nil {
		s.logger.Warn().Err(err).Str("event", ev.Event).Msg("dropping undecodable event")
	}
}

func channelProject(channel string) string {
	return strings.TrimPrefix(channel, "project-")
}

func (s *Subscription) write(frame models.ClientFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(frame)
}

// Close unsubscribes and waits for the read loop to stop. It is safe to call
// more than once.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		if err := s.write(models.ClientFrame{Type: models.FrameUnsubscribe, Channel: s.channel}); err != nil {
			s.logger.Debug().Err(err).Msg("unsubscribe not sent")
		}
		s.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		s.writeMu.Unlock()
		s.conn.Close()
	})
	<-s.done
	return s.Err()
}

// Done is closed when the read loop has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the read loop stopped. It is nil after a clean Close.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Subscription) finish(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("subscription ended")
	}
	s.err = err
	close(s.done)
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
