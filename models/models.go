package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

type StatusColumn struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	Order     int    `json:"order"`
}

type Task struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"projectId"`
	StatusID    string   `json:"statusId"`
	Title       string   `json:"title"`
	Description *string  `json:"description"`
	Assignee    string   `json:"assignee"`
	DueDate     *string  `json:"dueDate"`
	Priority    Priority `json:"priority"`
	Tags        Tags     `json:"tags"`
	GithubLink  *string  `json:"githubLink"`
	Order       int      `json:"order"`
}

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
	AvatarURL    string `json:"avatarUrl"`
}

// Board is the full view of a single project.
type Board struct {
	Statuses []StatusColumn `json:"statuses"`
	Tasks    []Task         `json:"tasks"`
}

// Tags accepts either a JSON array of strings or a single comma separated string.
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Tags{}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = cleanTags(list)
		return nil
	}

	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("tags must be an array or a comma separated string")
	}
	*t = cleanTags(strings.Split(joined, ","))
	return nil
}

func (t Tags) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(t))
}

func cleanTags(in []string) Tags {
	out := make(Tags, 0, len(in))
	for _, tag := range in {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// TaskOrder is one entry of a task reorder batch.
type TaskOrder struct {
	ID        string `json:"id"`
	StatusID  string `json:"statusId"`
	Order     int    `json:"order"`
	ProjectID string `json:"projectId,omitempty"`
}

// ColumnOrder is one entry of a status column reorder batch.
type ColumnOrder struct {
	ID        string `json:"id"`
	Order     int    `json:"order"`
	ProjectID string `json:"projectId,omitempty"`
}

// Broadcast channels and events.
const (
	ProjectsChannel = "projects"

	EventTasksUpdated    = "tasks-updated"
	EventColumnsUpdated  = "columns-updated"
	EventProjectsUpdated = "projects-updated"
	EventProjectDeleted  = "project-deleted"
)

// ProjectChannel returns the channel carrying board events for a project.
func ProjectChannel(projectID string) string {
	return "project-" + projectID
}

// Frame types a subscriber sends, and the hub's replies to them.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"

	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventPong         = "pong"
)

// ClientFrame is a control message sent by a subscriber.
type ClientFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// Event is the frame pushed to subscribers of a channel.
type Event struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// ProjectDeleted is the payload of EventProjectDeleted.
type ProjectDeleted struct {
	ID string `json:"id"`
}
