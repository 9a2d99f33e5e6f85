package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/hpungsan/overseer/internal/broadcast"
	"github.com/hpungsan/overseer/internal/errors"
	"github.com/hpungsan/overseer/internal/ids"
	"github.com/hpungsan/overseer/internal/kv"
	"github.com/hpungsan/overseer/internal/logging"
	"github.com/hpungsan/overseer/internal/worker"
)

// Options configures a Store.
type Options struct {
	// KV persists the stream map. Defaults to an in-memory store.
	KV kv.Store

	// Ingestor receives archived stream logs. Defaults to a no-op.
	Ingestor Ingestor

	// Pool runs archival ingestion. When nil the store owns a single-worker pool.
	Pool *worker.Pool

	// LongTermCacheTTL caches LongTerm results until the next archive. 0 disables caching.
	LongTermCacheTTL time.Duration

	Logger *zap.Logger
}

// Store owns every memory stream. It is safe for concurrent use: readers never observe a
// partially applied mutation.
type Store struct {
	mu       sync.RWMutex
	streams  map[string]*Stream
	order    []string
	archives []ArchiveEvent // most recent first
	// archiveGen changes whenever the set of archived streams does. Guarded by mu.
	archiveGen uint64

	persistMu sync.Mutex
	kv        kv.Store

	ingestor Ingestor
	pool     *worker.Pool
	ownsPool bool
	longTerm *cache.Cache
	events   *broadcast.Broadcaster[ArchiveEvent]
	logger   *zap.Logger
}

// Open creates a store and loads any previously persisted streams.
func Open(ctx context.Context, opts Options) (*Store, error) {
	s := &Store{
		streams:  make(map[string]*Stream),
		kv:       opts.KV,
		ingestor: opts.Ingestor,
		pool:     opts.Pool,
		logger:   logging.OrNop(opts.Logger),
	}
	if s.kv == nil {
		s.kv = kv.NewMemory()
	}
	if s.ingestor == nil {
		s.ingestor = IngestFunc(func(context.Context, ArchiveDocument) error { return nil })
	}
	if s.pool == nil {
		s.pool = worker.New(worker.Options{Concurrency: 1, Logger: s.logger})
		s.ownsPool = true
	}
	if opts.LongTermCacheTTL > 0 {
		s.longTerm = cache.New(opts.LongTermCacheTTL, 2*opts.LongTermCacheTTL)
	}
	s.events = broadcast.New(s.archiveSnapshot, s.logger)

	if err := s.load(ctx); err != nil {
		s.events.Close()
		return nil, err
	}
	return s, nil
}

// Close stops archive event delivery and, if the store owns it, drains its worker pool.
func (s *Store) Close(ctx context.Context) error {
	s.events.Close()
	if s.ownsPool {
		return s.pool.Close(ctx)
	}
	return nil
}

// Events returns the archive event broadcaster.
func (s *Store) Events() *broadcast.Broadcaster[ArchiveEvent] {
	return s.events
}

// CreateStream allocates a new active stream and returns its id.
func (s *Store) CreateStream(ctx context.Context, goal string) string {
	stream := &Stream{
		ID:        ids.New(),
		Goal:      goal,
		Status:    StatusActive,
		Frames:    []Frame{},
		StartedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.streams[stream.ID] = stream
	s.order = append(s.order, stream.ID)
	s.mu.Unlock()

	s.logger.Info("stream created", zap.String("stream_id", stream.ID), zap.String("goal", goal))
	s.persist(ctx)
	return stream.ID
}

// AppendFrame appends f to the stream, assigning its id, stream id and timestamp.
// Unknown or archived streams are a logged no-op; the returned bool reports whether the
// frame was appended.
func (s *Store) AppendFrame(ctx context.Context, streamID string, f Frame) (Frame, bool) {
	s.mu.Lock()
	stream, ok := s.streams[streamID]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("append to unknown stream ignored", zap.String("stream_id", streamID))
		return Frame{}, false
	}
	if stream.Status == StatusArchived {
		s.mu.Unlock()
		s.logger.Warn("append to archived stream ignored", zap.String("stream_id", streamID))
		return Frame{}, false
	}

	f.ID = ids.New()
	f.StreamID = streamID
	f.Timestamp = time.Now().UTC()
	f.Tags = slices.Clone(f.Tags)
	stream.Frames = append(stream.Frames, f)
	s.mu.Unlock()

	s.persist(ctx)
	return f, true
}

// Inject appends a frame authored by the user rather than an agent role.
func (s *Store) Inject(ctx context.Context, streamID, text string) (Frame, bool) {
	return s.AppendFrame(ctx, streamID, Frame{
		AgentName: UserAgent,
		Input:     text,
		Thought:   "External input",
		Action:    "USER_INPUT",
		Output:    text,
		Tags:      []string{"user"},
	})
}

// Get returns a snapshot of the stream.
func (s *Store) Get(streamID string) (Stream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream, ok := s.streams[streamID]
	if !ok {
		return Stream{}, false
	}
	return stream.clone(), true
}

// List returns every stream in creation order.
func (s *Store) List() []StreamSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StreamSummary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.streams[id].summary())
	}
	return out
}

// Archive transitions the stream to archived and hands its log to the ingestor.
// Archiving an archived stream is a no-op. Ingestion is best-effort: its failure never
// reverts the transition.
func (s *Store) Archive(ctx context.Context, streamID string) error {
	s.mu.Lock()
	stream, ok := s.streams[streamID]
	if !ok {
		s.mu.Unlock()
		return errors.NewNotFound(streamID)
	}
	if stream.Status == StatusArchived {
		s.mu.Unlock()
		return nil
	}

	now := time.Now().UTC()
	stream.Status = StatusArchived
	stream.ArchivedAt = &now
	snapshot := stream.clone()
	event := ArchiveEvent{
		StreamID:   stream.ID,
		Goal:       stream.Goal,
		FrameCount: len(stream.Frames),
		ArchivedAt: now,
	}
	s.archives = append([]ArchiveEvent{event}, s.archives...)
	history := slices.Clone(s.archives)
	s.invalidateLongTerm()
	s.mu.Unlock()

	s.persist(ctx)

	doc, err := NewArchiveDocument(snapshot)
	if err != nil {
		s.logger.Error("archive document encoding failed", zap.String("stream_id", streamID), zap.Error(err))
	} else {
		s.pool.Submit("archive_ingest", func(ctx context.Context) error {
			if err := s.ingestor.Ingest(ctx, doc); err != nil {
				return fmt.Errorf("ingest stream %s: %w", streamID, err)
			}
			return nil
		})
	}

	s.logger.Info("stream archived", zap.String("stream_id", streamID), zap.Int("frames", event.FrameCount))
	s.events.Publish(history)
	return nil
}

// RestoreMode controls what Restore does with streams whose id already exists.
type RestoreMode string

const (
	RestoreError   RestoreMode = "error"   // fail without changes on any collision
	RestoreSkip    RestoreMode = "skip"    // keep the existing stream
	RestoreReplace RestoreMode = "replace" // overwrite the existing stream
)

// RestoreResult reports what Restore did.
type RestoreResult struct {
	Restored []string `json:"restored"`
	Skipped  []string `json:"skipped"`
}

// Restore inserts previously exported streams, keeping their ids, frames and status.
// With RestoreError, a collision fails the whole batch and nothing is inserted. With
// RestoreReplace, an archived stream is only replaced by an archived copy; an active copy
// is skipped.
func (s *Store) Restore(ctx context.Context, streams []Stream, mode RestoreMode) (RestoreResult, error) {
	if mode == "" {
		mode = RestoreError
	}
	if mode != RestoreError && mode != RestoreSkip && mode != RestoreReplace {
		return RestoreResult{}, errors.NewInvalidRequest("mode must be one of: error, skip, replace")
	}
	for _, stream := range streams {
		if stream.ID == "" {
			return RestoreResult{}, errors.NewInvalidRequest("stream id is required")
		}
		if stream.Status != StatusActive && stream.Status != StatusArchived {
			return RestoreResult{}, errors.NewInvalidRequest(fmt.Sprintf("stream %s has invalid status %q", stream.ID, stream.Status))
		}
	}

	result := RestoreResult{Restored: []string{}, Skipped: []string{}}

	s.mu.Lock()
	if mode == RestoreError {
		var conflicts []string
		for _, stream := range streams {
			if _, exists := s.streams[stream.ID]; exists {
				conflicts = append(conflicts, stream.ID)
			}
		}
		if len(conflicts) > 0 {
			s.mu.Unlock()
			return RestoreResult{}, errors.NewInvalidRequest(fmt.Sprintf("streams already exist: %s", strings.Join(conflicts, ", ")))
		}
	}

	for _, stream := range streams {
		existing, exists := s.streams[stream.ID]
		if exists && mode == RestoreSkip {
			result.Skipped = append(result.Skipped, stream.ID)
			continue
		}
		// archived is terminal: an active copy never replaces an archived stream
		if exists && existing.Status == StatusArchived && stream.Status != StatusArchived {
			result.Skipped = append(result.Skipped, stream.ID)
			continue
		}
		restored := stream.clone()
		if restored.Frames == nil {
			restored.Frames = []Frame{}
		}
		for i := range restored.Frames {
			restored.Frames[i].StreamID = restored.ID
		}
		s.streams[restored.ID] = &restored
		if !exists {
			s.order = append(s.order, restored.ID)
		}
		result.Restored = append(result.Restored, restored.ID)
	}
	if len(result.Restored) == 0 {
		s.mu.Unlock()
		return result, nil
	}
	slices.Sort(s.order)
	s.rebuildArchives()
	history := slices.Clone(s.archives)
	s.invalidateLongTerm()
	s.mu.Unlock()

	s.persist(ctx)

	s.logger.Info("streams restored", zap.Int("restored", len(result.Restored)), zap.Int("skipped", len(result.Skipped)))
	s.events.Publish(history)
	return result, nil
}

func (s *Store) archiveSnapshot() []ArchiveEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.archives)
}

// persist writes the full stream map. Failures are logged; in-memory state stays authoritative.
// persistMu orders writers so a later snapshot is never overwritten by an earlier one.
func (s *Store) persist(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	data, err := json.Marshal(s.streams)
	s.mu.RUnlock()
	if err != nil {
		s.logger.Error("stream map encoding failed", zap.Error(err))
		return
	}

	if err := s.kv.Set(context.WithoutCancel(ctx), kv.StreamsKey, data); err != nil {
		s.logger.Error("stream map persistence failed", zap.Error(err))
	}
}

func (s *Store) load(ctx context.Context) error {
	data, ok, err := s.kv.Get(ctx, kv.StreamsKey)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("load streams: %w", err))
	}
	if !ok || len(data) == 0 {
		return nil
	}

	var streams map[string]*Stream
	if err := json.Unmarshal(data, &streams); err != nil {
		return errors.NewInternal(fmt.Errorf("decode streams: %w", err))
	}

	for id, stream := range streams {
		if stream == nil {
			continue
		}
		if stream.Frames == nil {
			stream.Frames = []Frame{}
		}
		s.streams[id] = stream
		s.order = append(s.order, id)
	}
	// ULIDs sort by creation time
	slices.Sort(s.order)
	s.rebuildArchives()

	s.logger.Debug("streams loaded", zap.Int("count", len(s.order)))
	return nil
}

// rebuildArchives recomputes the archive history from the stream map. Callers hold mu.
func (s *Store) rebuildArchives() {
	s.archives = s.archives[:0]
	for _, id := range s.order {
		stream := s.streams[id]
		if stream.Status == StatusArchived && stream.ArchivedAt != nil {
			s.archives = append(s.archives, ArchiveEvent{
				StreamID:   stream.ID,
				Goal:       stream.Goal,
				FrameCount: len(stream.Frames),
				ArchivedAt: *stream.ArchivedAt,
			})
		}
	}
	slices.SortFunc(s.archives, func(a, b ArchiveEvent) int {
		return b.ArchivedAt.Compare(a.ArchivedAt)
	})
}

// invalidateLongTerm bumps the archive generation and drops cached LongTerm results.
// Callers hold mu for writing.
func (s *Store) invalidateLongTerm() {
	s.archiveGen++
	if s.longTerm != nil {
		s.longTerm.Flush()
	}
}

// cacheLongTerm stores a LongTerm result computed at archive generation gen, unless the
// archived set has changed since.
func (s *Store) cacheLongTerm(query, result string, gen uint64) {
	if s.longTerm == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.archiveGen == gen {
		s.longTerm.SetDefault(query, result)
	}
}

// archivedMatching returns archived streams whose goal or serialized log contains query,
// with the archive generation they were read at.
func (s *Store) archivedMatching(query string) ([]*Stream, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Stream
	for _, id := range s.order {
		stream := s.streams[id]
		if stream.Status != StatusArchived {
			continue
		}
		if strings.Contains(stream.Goal, query) {
			out = append(out, stream)
			continue
		}
		log, err := json.Marshal(stream.Frames)
		if err == nil && strings.Contains(string(log), query) {
			out = append(out, stream)
		}
	}
	return out, s.archiveGen
}
