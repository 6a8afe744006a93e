package handlers

import (
	"context"
	"sync"

	"github.com/CrowderSoup/devtrack/database"
	"github.com/CrowderSoup/devtrack/models"
	"github.com/rs/zerolog"
)

// Broadcaster fans an event out to the subscribers of a channel.
type Broadcaster interface {
	Publish(channel, event string, data any) error
}

// ChannelLocks serialises the read-and-publish of each channel across
// handlers, so the last broadcast on a channel carries the last commit.
type ChannelLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewChannelLocks() *ChannelLocks {
	return &ChannelLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until channel is free and returns its unlock function.
func (l *ChannelLocks) Lock(channel string) func() {
	l.mu.Lock()
	m, ok := l.locks[channel]
	if !ok {
		m = &sync.Mutex{}
		l.locks[channel] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// canonical re-reads committed state and publishes it in full. A failed
// publish is logged but does not fail the request that caused it; the
// mutation is already committed and the next broadcast carries it anyway.
type canonical struct {
	db          *database.Database
	broadcaster Broadcaster
	locks       *ChannelLocks
	logger      zerolog.Logger
}

func (c canonical) tasks(ctx context.Context, projectID string) {
	channel := models.ProjectChannel(projectID)
	defer c.locks.Lock(channel)()

	tasks, err := c.db.Tasks().ListByProject(ctx, projectID)
	if err != nil {
		c.logger.Error().Err(err).Str("projectId", projectID).Msg("failed to load tasks for broadcast")
		return
	}
	c.publish(channel, models.EventTasksUpdated, tasks)
}

func (c canonical) columns(ctx context.Context, projectID string) {
	channel := models.ProjectChannel(projectID)
	defer c.locks.Lock(channel)()

	columns, err := c.db.Columns().ListByProject(ctx, projectID)
	if err != nil {
		c.logger.Error().Err(err).Str("projectId", projectID).Msg("failed to load columns for broadcast")
		return
	}
	c.publish(channel, models.EventColumnsUpdated, columns)
}

func (c canonical) projects(ctx context.Context) {
	defer c.locks.Lock(models.ProjectsChannel)()

	projects, err := c.db.Projects().FindAll(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to load projects for broadcast")
		return
	}
	c.publish(models.ProjectsChannel, models.EventProjectsUpdated, projects)
}

func (c canonical) projectDeleted(projectID string) {
	defer c.locks.Lock(models.ProjectsChannel)()
	c.publish(models.ProjectsChannel, models.EventProjectDeleted, models.ProjectDeleted{ID: projectID})
}

func (c canonical) publish(channel, event string, data any) {
	if err := c.broadcaster.Publish(channel, event, data); err != nil {
		c.logger.Warn().Err(err).Str("channel", channel).Str("event", event).Msg("broadcast failed")
	}
}
