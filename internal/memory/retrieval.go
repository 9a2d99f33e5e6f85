package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	// DefaultShortTermLimit is the frame window used when ShortTerm is given a non-positive limit.
	DefaultShortTermLimit = 3

	// peekFrames is the number of recent frames a cross-stream peek reveals.
	peekFrames = 5

	// PeekNotFound is returned by SharePeek for unknown streams.
	PeekNotFound = "Stream not found or access denied."
)

// ShortTerm renders the last limit frames of the stream, oldest first. Unknown streams
// render as the empty string.
func (s *Store) ShortTerm(streamID string, limit int) string {
	if limit <= 0 {
		limit = DefaultShortTermLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stream, ok := s.streams[streamID]
	if !ok {
		s.logger.Debug("short-term read of unknown stream", zap.String("stream_id", streamID))
		return ""
	}

	frames := stream.Frames
	if len(frames) > limit {
		frames = frames[len(frames)-limit:]
	}
	lines := make([]string, 0, len(frames))
	for _, f := range frames {
		lines = append(lines, fmt.Sprintf("[ShortTerm] %s: %s -> Action: %s -> Output: %s",
			f.AgentName, f.Thought, f.Action, f.Output))
	}
	return strings.Join(lines, "\n")
}

// MediumTerm renders the stream goal followed by one step line per frame.
func (s *Store) MediumTerm(streamID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream, ok := s.streams[streamID]
	if !ok {
		s.logger.Debug("medium-term read of unknown stream", zap.String("stream_id", streamID))
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[MediumTerm] Goal: %s", stream.Goal)
	for _, f := range stream.Frames {
		fmt.Fprintf(&b, "\nStep: %s by %s", f.Action, f.AgentName)
	}
	return b.String()
}

// LongTerm lists archived streams whose goal or log contains query, in creation order.
// Results are cached per query until the next archive.
func (s *Store) LongTerm(_ context.Context, query string) string {
	if s.longTerm != nil {
		if v, ok := s.longTerm.Get(query); ok {
			return v.(string)
		}
	}

	matches, gen := s.archivedMatching(query)
	lines := make([]string, 0, len(matches))
	for _, stream := range matches {
		lines = append(lines, fmt.Sprintf("[Archived Stream %s]: Goal - %s", stream.ID, stream.Goal))
	}
	out := strings.Join(lines, "\n")

	s.cacheLongTerm(query, out, gen)
	return out
}

// SharePeek summarizes another stream's goal and its most recent activity. It is read-only
// and works on archived streams too.
func (s *Store) SharePeek(targetStreamID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream, ok := s.streams[targetStreamID]
	if !ok {
		return PeekNotFound
	}

	frames := stream.Frames
	if len(frames) > peekFrames {
		frames = frames[len(frames)-peekFrames:]
	}
	activity := make([]string, 0, len(frames))
	for _, f := range frames {
		activity = append(activity, fmt.Sprintf("%s did %s", f.AgentName, f.Action))
	}
	return fmt.Sprintf("Stream Goal: %s. Recent Activity: %s", stream.Goal, strings.Join(activity, ", "))
}
