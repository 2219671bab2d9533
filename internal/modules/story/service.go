// Package story manages books, assembles stories from session chapters,
// renders them and stores their images.
package story

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/storyloom/core/internal/models"
	"github.com/storyloom/core/internal/modules/processing/ai"
	"github.com/storyloom/core/internal/pkg/apperr"
	"github.com/storyloom/core/internal/store"
	"go.uber.org/zap"
)

const (
	defaultURLTTL        = 15 * time.Minute
	defaultMaxImageBytes = 10 << 20
)

type Service struct {
	rows        store.Rows
	blobs       store.Blobs
	imageBucket string
	composer    Composer
	indexer     *Indexer
	urlTTL      time.Duration
	maxImage    int
	log         *zap.Logger
}

type Option func(*Service)

// WithIndexer embeds stories after every assemble and text edit.
func WithIndexer(x *Indexer) Option {
	return func(s *Service) { s.indexer = x }
}

func WithURLTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.urlTTL = ttl
		}
	}
}

func WithMaxImageBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxImage = n
		}
	}
}

func NewService(rows store.Rows, blobs store.Blobs, imageBucket string, composer Composer, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		rows:        rows,
		blobs:       blobs,
		imageBucket: imageBucket,
		composer:    composer,
		urlTTL:      defaultURLTTL,
		maxImage:    defaultMaxImageBytes,
		log:         log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxImageBytes is the upload limit for story images.
func (s *Service) MaxImageBytes() int { return s.maxImage }

func (s *Service) CreateBook(ctx context.Context, userID string, req CreateBookRequest) (*models.Book, error) {
	if userID == "" {
		return nil, apperr.ErrAuthentication
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("title is required: %w", apperr.ErrInvalid)
	}
	book := &models.Book{UserID: userID, Title: title, Description: strings.TrimSpace(req.Description)}
	if err := s.rows.Insert(ctx, models.TableBooks, book); err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	return book, nil
}

func (s *Service) ListBooks(ctx context.Context, userID string) ([]models.Book, error) {
	if userID == "" {
		return nil, apperr.ErrAuthentication
	}
	var books []models.Book
	err := s.rows.Select(ctx, models.TableBooks,
		store.Where(store.Eq("user_id", userID), store.IsNull("deleted_at")),
		&books, store.OrderByDesc("created_at"))
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

func (s *Service) ownedBook(ctx context.Context, userID, bookID string) (*models.Book, error) {
	if userID == "" {
		return nil, apperr.ErrAuthentication
	}
	var books []models.Book
	if err := s.rows.Select(ctx, models.TableBooks, store.Where(store.Eq("id", bookID), store.IsNull("deleted_at")), &books); err != nil {
		return nil, fmt.Errorf("load book: %w", err)
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("book %s: %w", bookID, apperr.ErrNotFound)
	}
	if books[0].UserID != userID {
		return nil, apperr.ErrAuthorization
	}
	return &books[0], nil
}

func (s *Service) ownedSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	var sessions []models.Session
	if err := s.rows.Select(ctx, models.TableSessions, store.Where(store.Eq("id", sessionID), store.IsNull("deleted_at")), &sessions); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, apperr.ErrNotFound)
	}
	if sessions[0].UserID != userID {
		return nil, apperr.ErrAuthorization
	}
	return &sessions[0], nil
}

// Assemble writes a new story for a book from the chapters of the given
// sessions, or of every completed session filed under the book.
func (s *Service) Assemble(ctx context.Context, userID string, req AssembleRequest) (*models.Story, error) {
	book, err := s.ownedBook(ctx, userID, req.BookID)
	if err != nil {
		return nil, err
	}

	sessionIDs := req.SessionIDs
	if len(sessionIDs) == 0 {
		sessionIDs, err = s.rows.Pluck(ctx, models.TableSessions, "id", store.Where(
			store.Eq("story_group_id", book.ID),
			store.Eq("status", string(models.SessionCompleted)),
			store.IsNull("deleted_at"),
		))
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
	}
	for _, id := range sessionIDs {
		if _, err := s.ownedSession(ctx, userID, id); err != nil {
			return nil, err
		}
	}

	drafts, err := s.chapterDrafts(ctx, sessionIDs)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("no chapters to assemble: %w", apperr.ErrConflict)
	}

	draft, err := s.composer.AssembleStory(ctx, drafts, req.Language)
	if err != nil {
		return nil, apperr.Network("assemble story", err)
	}
	st := &models.Story{
		StoryGroupID: book.ID,
		Title:        draft.Title,
		RawText:      draft.Text,
		EditedText:   draft.Text,
	}
	if err := s.rows.Insert(ctx, models.TableStories, st); err != nil {
		return nil, fmt.Errorf("insert story: %w", err)
	}
	s.index(ctx, st)
	return st, nil
}

// chapterDrafts keeps the session order of ids, then chapter order.
func (s *Service) chapterDrafts(ctx context.Context, sessionIDs []string) ([]ai.ChapterDraft, error) {
	var chapters []models.Chapter
	if err := s.rows.Select(ctx, models.TableChapters, store.Where(store.In("session_id", sessionIDs)), &chapters, store.OrderBy("order_index")); err != nil {
		return nil, fmt.Errorf("load chapters: %w", err)
	}
	bySession := make(map[string][]models.Chapter, len(sessionIDs))
	for _, ch := range chapters {
		bySession[ch.SessionID] = append(bySession[ch.SessionID], ch)
	}
	drafts := make([]ai.ChapterDraft, 0, len(chapters))
	for _, id := range sessionIDs {
		for _, ch := range bySession[id] {
			drafts = append(drafts, ai.ChapterDraft{
				Title:          ch.Title,
				Summary:        ch.Summary,
				OverallSummary: ch.OverallSummary,
				Quotes:         ch.Quotes,
				ImageHints:     ch.ImageHints,
			})
		}
		delete(bySession, id)
	}
	return drafts, nil
}

func (s *Service) index(ctx context.Context, st *models.Story) {
	if s.indexer == nil {
		return
	}
	// Failures are logged by the indexer.
	_ = s.indexer.Index(ctx, st)
}

// Story loads a story whose book the caller owns.
func (s *Service) Story(ctx context.Context, userID, id string) (*models.Story, error) {
	if userID == "" {
		return nil, apperr.ErrAuthentication
	}
	var stories []models.Story
	if err := s.rows.Select(ctx, models.TableStories, store.Where(store.Eq("id", id)), &stories); err != nil {
		return nil, fmt.Errorf("load story: %w", err)
	}
	if len(stories) == 0 {
		return nil, fmt.Errorf("story %s: %w", id, apperr.ErrNotFound)
	}
	if _, err := s.ownedBook(ctx, userID, stories[0].StoryGroupID); err != nil {
		return nil, err
	}
	return &stories[0], nil
}

func (s *Service) ListStories(ctx context.Context, userID, bookID string) ([]models.Story, error) {
	if _, err := s.ownedBook(ctx, userID, bookID); err != nil {
		return nil, err
	}
	var stories []models.Story
	if err := s.rows.Select(ctx, models.TableStories, store.Where(store.Eq("story_group_id", bookID)), &stories, store.OrderBy("created_at")); err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	return stories, nil
}

func (s *Service) UpdateStory(ctx context.Context, userID, id string, req UpdateStoryRequest) (*models.Story, error) {
	st, err := s.Story(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	patch := map[string]any{}
	if req.Title != nil {
		st.Title = strings.TrimSpace(*req.Title)
		patch["title"] = st.Title
	}
	if req.EditedText != nil {
		st.EditedText = *req.EditedText
		patch["edited_text"] = st.EditedText
	}
	if req.Approved != nil {
		st.Approved = *req.Approved
		patch["approved"] = st.Approved
	}
	if len(patch) == 0 {
		return st, nil
	}
	if _, err := s.rows.Update(ctx, models.TableStories, store.Where(store.Eq("id", st.ID)), patch); err != nil {
		return nil, fmt.Errorf("update story: %w", err)
	}
	if req.Title != nil || req.EditedText != nil {
		s.index(ctx, st)
	}
	return st, nil
}

// RenderHTML renders the edited text of a story with its images.
func (s *Service) RenderHTML(ctx context.Context, userID, id string) (string, error) {
	st, err := s.Story(ctx, userID, id)
	if err != nil {
		return "", err
	}
	images, err := s.imagesFor(ctx, st.ID)
	if err != nil {
		return "", err
	}
	figures := make([]Figure, 0, len(images))
	for _, img := range images {
		figures = append(figures, Figure{URL: img.URL, Caption: img.Caption})
	}
	text := st.EditedText
	if strings.TrimSpace(text) == "" {
		text = st.RawText
	}
	footer := ""
	if st.Approved {
		footer = "Approved " + st.UpdatedAt.Format("2 January 2006")
	}
	return RenderDocument(st.Title, text, figures, footer), nil
}
