// Package memory implements the tiered memory streams shared by the turn dispatcher and
// the supervisor.
package memory

import "time"

// Status is the lifecycle state of a stream. active -> archived is one-way.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// UserAgent is the agent name recorded for externally injected frames.
const UserAgent = "User"

// Frame is one logged turn. Frames are immutable once appended.
type Frame struct {
	ID        string    `json:"id"`
	StreamID  string    `json:"stream_id"`
	Timestamp time.Time `json:"timestamp"`
	AgentName string    `json:"agent_name"`
	Input     string    `json:"input"`
	Thought   string    `json:"thought"`
	Action    string    `json:"action"`
	Output    string    `json:"output"`
	Tags      []string  `json:"tags,omitempty"`
}

// Stream is one isolated simulation run with its own goal and frame history.
type Stream struct {
	ID         string     `json:"id"`
	Goal       string     `json:"goal"`
	Status     Status     `json:"status"`
	Frames     []Frame    `json:"frames"`
	StartedAt  time.Time  `json:"started_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// StreamSummary is a stream without its frames, used for listings.
type StreamSummary struct {
	ID         string     `json:"id"`
	Goal       string     `json:"goal"`
	Status     Status     `json:"status"`
	FrameCount int        `json:"frame_count"`
	StartedAt  time.Time  `json:"started_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// ArchiveEvent is published when a stream is archived.
type ArchiveEvent struct {
	StreamID   string    `json:"stream_id"`
	Goal       string    `json:"goal"`
	FrameCount int       `json:"frame_count"`
	ArchivedAt time.Time `json:"archived_at"`
}

func (s *Stream) clone() Stream {
	out := *s
	out.Frames = append([]Frame(nil), s.Frames...)
	if s.ArchivedAt != nil {
		t := *s.ArchivedAt
		out.ArchivedAt = &t
	}
	return out
}

func (s *Stream) summary() StreamSummary {
	return StreamSummary{
		ID:         s.ID,
		Goal:       s.Goal,
		Status:     s.Status,
		FrameCount: len(s.Frames),
		StartedAt:  s.StartedAt,
		ArchivedAt: s.ArchivedAt,
	}
}
