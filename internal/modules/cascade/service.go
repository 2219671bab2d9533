// Package cascade deletes a book or a session together with every row and
// blob it transitively owns.
//
// A deep delete runs in two phases. Discovery reads the whole dependent graph
// first; any read failure aborts before a single write. The write phase then
// runs independent steps in foreign-key order, collecting a count or an error
// per step, and finally removes the discovered blobs. The root row is kept as
// a tombstone so a repeated call resolves the same owner and converges to an
// all-zero report.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storyloom/core/internal/models"
	"github.com/storyloom/core/internal/pkg/apperr"
	redisc "github.com/storyloom/core/internal/pkg/redis"
	"github.com/storyloom/core/internal/store"
	"go.uber.org/zap"
)

const defaultLockTTL = 30 * time.Second

var bookKeys = []string{
	KeyStoryGroup, KeyStories, KeySessions, KeyChapters, KeyRecordings, KeyTranscripts,
	KeyTurns, KeyImages, KeyStoryEmbeddings, KeyAudioFiles, KeyImageFiles, KeyTTSFiles,
}

var sessionKeys = []string{
	KeySession, KeyChapters, KeyRecordings, KeyTranscripts, KeyTurns,
	KeyImages, KeyAudioFiles, KeyImageFiles, KeyTTSFiles,
}

// Service runs deep deletes.
type Service struct {
	rows    store.Rows
	blobs   store.Blobs
	buckets Buckets
	indexes []DerivedIndex
	locker  Locker
	lockTTL time.Duration
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*Service)

// WithDerivedIndex registers a secondary index purged with the stories.
func WithDerivedIndex(idx DerivedIndex) Option {
	return func(s *Service) {
		if idx != nil {
			s.indexes = append(s.indexes, idx)
		}
	}
}

// WithLocker guards concurrent deletes of the same root.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Service) {
		s.locker = l
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func NewService(rows store.Rows, blobs store.Blobs, buckets Buckets, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		rows:    rows,
		blobs:   blobs,
		buckets: buckets,
		lockTTL: defaultLockTTL,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// graph is the dependent closure found by discovery.
type graph struct {
	sessionIDs   []string
	storyIDs     []string
	chapterIDs   []string
	recordingIDs []string
	turnIDs      []string
	audioPaths   []string
	ttsPaths     []string
	imagePaths   []string
}

// DeleteBook deletes a book and everything it owns.
func (s *Service) DeleteBook(ctx context.Context, bookID, callerID string) (*Report, error) {
	if callerID == "" {
		return nil, apperr.ErrAuthentication
	}
	var books []models.Book
	if err := s.rows.Select(ctx, models.TableBooks, store.Where(store.Eq("id", bookID)), &books, store.Limit(1)); err != nil {
		return nil, fmt.Errorf("load book: %w", err)
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("book %s: %w", bookID, apperr.ErrNotFound)
	}
	if books[0].UserID != callerID {
		return nil, fmt.Errorf("book %s: %w", bookID, apperr.ErrAuthorization)
	}

	release, err := s.lock(ctx, "storyloom:cascade:book:"+bookID)
	if err != nil {
		return nil, err
	}
	defer release()

	g, err := s.discoverBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("discover book %s: %w", bookID, err)
	}

	steps := s.childSteps(g, true)
	steps = append(steps,
		step{label: "Sessions", key: KeySessions, run: s.deleteIn(models.TableSessions, "id", g.sessionIDs)},
		step{label: "StoryEmbeddings", key: KeyStoryEmbeddings, run: s.purgeIndexes(g.storyIDs)},
		step{label: "Stories", key: KeyStories, run: s.deleteIn(models.TableStories, "id", g.storyIDs)},
		step{label: "StoryGroups", key: KeyStoryGroup, run: s.tombstone(models.TableBooks, bookID)},
	)
	steps = append(steps, s.storageSteps(g)...)

	report := buildReport(bookKeys, runSteps(ctx, s.log, steps))
	s.logReport("book", bookID, report)
	return report, nil
}

// DeleteSession deletes one session and everything it owns.
func (s *Service) DeleteSession(ctx context.Context, sessionID, callerID string) (*Report, error) {
	if callerID == "" {
		return nil, apperr.ErrAuthentication
	}
	var sessions []models.Session
	if err := s.rows.Select(ctx, models.TableSessions, store.Where(store.Eq("id", sessionID)), &sessions, store.Limit(1)); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, apperr.ErrNotFound)
	}
	if sessions[0].UserID != callerID {
		return nil, fmt.Errorf("session %s: %w", sessionID, apperr.ErrAuthorization)
	}

	release, err := s.lock(ctx, "storyloom:cascade:session:"+sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	g := &graph{sessionIDs: []string{sessionID}}
	if err := s.discoverSessions(ctx, g); err != nil {
		return nil, fmt.Errorf("discover session %s: %w", sessionID, err)
	}

	steps := s.childSteps(g, false)
	steps = append(steps, step{label: "Sessions", key: KeySession, run: s.tombstone(models.TableSessions, sessionID)})
	steps = append(steps, s.storageSteps(g)...)

	report := buildReport(sessionKeys, runSteps(ctx, s.log, steps))
	s.logReport("session", sessionID, report)
	return report, nil
}

func (s *Service) discoverBook(ctx context.Context, bookID string) (*graph, error) {
	g := &graph{}
	var err error
	byBook := store.Where(store.Eq("story_group_id", bookID))
	if g.sessionIDs, err = s.rows.Pluck(ctx, models.TableSessions, "id", byBook); err != nil {
		return nil, err
	}
	if g.storyIDs, err = s.rows.Pluck(ctx, models.TableStories, "id", byBook); err != nil {
		return nil, err
	}
	if err := s.discoverSessions(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// discoverSessions fills in everything hanging off g.sessionIDs and, when
// set, g.storyIDs.
func (s *Service) discoverSessions(ctx context.Context, g *graph) error {
	var err error
	bySession := store.Where(store.In("session_id", g.sessionIDs))
	if g.chapterIDs, err = s.rows.Pluck(ctx, models.TableChapters, "id", bySession); err != nil {
		return err
	}

	var recordings []models.Recording
	if err := s.rows.Select(ctx, models.TableRecordings, bySession, &recordings); err != nil {
		return err
	}
	for _, r := range recordings {
		g.recordingIDs = append(g.recordingIDs, r.ID)
		g.audioPaths = append(g.audioPaths, r.StoragePath)
	}

	var turns []models.Turn
	if err := s.rows.Select(ctx, models.TableTurns, bySession, &turns); err != nil {
		return err
	}
	for _, t := range turns {
		g.turnIDs = append(g.turnIDs, t.ID)
		if t.TTSAudioPath != nil {
			g.ttsPaths = append(g.ttsPaths, *t.TTSAudioPath)
		}
	}

	seen := map[string]struct{}{}
	lookups := []store.Filter{
		store.Where(store.In("story_id", g.storyIDs)),
		store.Where(store.In("chapter_id", g.chapterIDs)),
		store.Where(store.In("turn_id", g.turnIDs)),
	}
	for _, f := range lookups {
		var images []models.StoryImage
		if err := s.rows.Select(ctx, models.TableStoryImages, f, &images); err != nil {
			return err
		}
		for _, img := range images {
			if _, dup := seen[img.ID]; dup {
				continue
			}
			seen[img.ID] = struct{}{}
			g.imagePaths = append(g.imagePaths, img.StoragePath)
			if img.ThumbnailPath != nil {
				g.imagePaths = append(g.imagePaths, *img.ThumbnailPath)
			}
		}
	}
	return nil
}

// childSteps are the deletes below a session, in dependency order.
func (s *Service) childSteps(g *graph, withStories bool) []step {
	steps := []step{
		{label: "Transcripts", key: KeyTranscripts, run: s.deleteIn(models.TableTranscripts, "recording_id", g.recordingIDs)},
	}
	if withStories {
		steps = append(steps, step{label: "StoryImages", key: KeyImages, run: s.deleteIn(models.TableStoryImages, "story_id", g.storyIDs)})
	}
	return append(steps,
		step{label: "StoryImages", key: KeyImages, run: s.deleteIn(models.TableStoryImages, "chapter_id", g.chapterIDs)},
		step{label: "StoryImages", key: KeyImages, run: s.deleteIn(models.TableStoryImages, "turn_id", g.turnIDs)},
		step{label: "Turns", key: KeyTurns, run: s.deleteIn(models.TableTurns, "session_id", g.sessionIDs)},
		step{label: "Chapters", key: KeyChapters, run: s.deleteIn(models.TableChapters, "session_id", g.sessionIDs)},
		step{label: "Recordings", key: KeyRecordings, run: s.deleteIn(models.TableRecordings, "session_id", g.sessionIDs)},
	)
}

func (s *Service) storageSteps(g *graph) []step {
	return []step{
		{label: "AudioStorage", key: KeyAudioFiles, run: s.removeBlobs(s.buckets.Audio, g.audioPaths)},
		{label: "ImageStorage", key: KeyImageFiles, run: s.removeBlobs(s.buckets.Images, g.imagePaths)},
		{label: "TTSStorage", key: KeyTTSFiles, run: s.removeBlobs(s.buckets.TTS, g.ttsPaths)},
	}
}

func (s *Service) deleteIn(table, column string, ids []string) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		if len(ids) == 0 {
			return 0, nil
		}
		return s.rows.Delete(ctx, table, store.Where(store.In(column, ids)))
	}
}

func (s *Service) tombstone(table, id string) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		return s.rows.Update(ctx, table,
			store.Where(store.Eq("id", id), store.IsNull("deleted_at")),
			map[string]any{"deleted_at": s.now()})
	}
}

func (s *Service) purgeIndexes(storyIDs []string) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		if len(storyIDs) == 0 {
			return 0, nil
		}
		var total int64
		var errs []error
		for _, idx := range s.indexes {
			n, err := idx.DeleteForStories(ctx, storyIDs)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", idx.Name(), err))
				continue
			}
			total += n
		}
		return total, errors.Join(errs...)
	}
}

func (s *Service) removeBlobs(bucket string, paths []string) func(context.Context) (int64, error) {
	keys := store.UniqueKeys(paths)
	return func(ctx context.Context) (int64, error) {
		if len(keys) == 0 {
			return 0, nil
		}
		if err := s.blobs.Remove(ctx, bucket, keys); err != nil {
			return 0, err
		}
		return int64(len(keys)), nil
	}
}

// lock takes the advisory lock for key. A held lock is a conflict; an
// unreachable lock backend degrades to running unguarded.
func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.TryLock(ctx, key, s.lockTTL)
	if errors.Is(err, redisc.ErrLockHeld) {
		return nil, fmt.Errorf("delete of %s: %w", key, apperr.ErrConflict)
	}
	if err != nil {
		s.log.Warn("cascade lock unavailable, continuing without it", zap.String("key", key), zap.Error(err))
		return func() {}, nil
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("cascade lock release failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (s *Service) logReport(kind, id string, r *Report) {
	fields := []zap.Field{
		zap.String("root", kind),
		zap.String("id", id),
		zap.Any("counts", r.DeletedCounts),
	}
	if r.Success {
		s.log.Info("cascade delete finished", fields...)
		return
	}
	s.log.Warn("cascade delete finished with errors", append(fields, zap.Strings("errors", r.Errors))...)
}
