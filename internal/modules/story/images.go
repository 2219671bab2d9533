package story

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/storyloom/core/internal/models"
	"github.com/storyloom/core/internal/pkg/apperr"
	"github.com/storyloom/core/internal/store"
	"go.uber.org/zap"
)

// ImagePath is the object key of a story image.
func ImagePath(userID, imageID, contentType string) string {
	return userID + "/" + imageID + store.ExtensionFor(contentType)
}

// AddImage stores an image for a story, chapter or turn. Every referenced
// owner is checked before anything is written, and the uploaded object is
// removed again when the row cannot be inserted.
func (s *Service) AddImage(ctx context.Context, userID string, in ImageUpload) (*Image, error) {
	if userID == "" {
		return nil, apperr.ErrAuthentication
	}
	img := &models.StoryImage{
		StoryID:   blankToNil(in.StoryID),
		ChapterID: blankToNil(in.ChapterID),
		TurnID:    blankToNil(in.TurnID),
		Caption:   strings.TrimSpace(in.Caption),
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalid, err)
	}
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("empty image: %w", apperr.ErrInvalid)
	}
	if len(in.Data) > s.maxImage {
		return nil, fmt.Errorf("image exceeds %d bytes: %w", s.maxImage, apperr.ErrInvalid)
	}
	declared := in.MimeType
	if strings.HasPrefix(declared, "application/octet-stream") {
		declared = ""
	}
	contentType := store.DetectContentType(in.Filename, in.Data, declared)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("unsupported content type %q: %w", contentType, apperr.ErrInvalid)
	}
	if err := s.checkImageOwners(ctx, userID, img); err != nil {
		return nil, err
	}

	img.ID = uuid.NewString()
	img.StoragePath = ImagePath(userID, img.ID, contentType)
	if err := s.blobs.Upload(ctx, s.imageBucket, img.StoragePath, in.Data, contentType); err != nil {
		return nil, apperr.Network("upload image", err)
	}
	if err := s.rows.Insert(ctx, models.TableStoryImages, img); err != nil {
		if rmErr := s.blobs.Remove(context.WithoutCancel(ctx), s.imageBucket, []string{img.StoragePath}); rmErr != nil {
			s.log.Warn("remove orphaned image failed", zap.String("path", img.StoragePath), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("insert image: %w", err)
	}

	url, err := s.blobs.SignedURL(ctx, s.imageBucket, img.StoragePath, s.urlTTL)
	if err != nil {
		s.log.Warn("sign image url failed", zap.String("path", img.StoragePath), zap.Error(err))
	}
	return &Image{StoryImage: *img, URL: url}, nil
}

func (s *Service) checkImageOwners(ctx context.Context, userID string, img *models.StoryImage) error {
	if img.StoryID != nil {
		if _, err := s.Story(ctx, userID, *img.StoryID); err != nil {
			return err
		}
	}
	if img.ChapterID != nil {
		var chapters []models.Chapter
		if err := s.rows.Select(ctx, models.TableChapters, store.Where(store.Eq("id", *img.ChapterID)), &chapters); err != nil {
			return fmt.Errorf("load chapter: %w", err)
		}
		if len(chapters) == 0 {
			return fmt.Errorf("chapter %s: %w", *img.ChapterID, apperr.ErrNotFound)
		}
		if _, err := s.ownedSession(ctx, userID, chapters[0].SessionID); err != nil {
			return err
		}
	}
	if img.TurnID != nil {
		var turns []models.Turn
		if err := s.rows.Select(ctx, models.TableTurns, store.Where(store.Eq("id", *img.TurnID)), &turns); err != nil {
			return fmt.Errorf("load turn: %w", err)
		}
		if len(turns) == 0 {
			return fmt.Errorf("turn %s: %w", *img.TurnID, apperr.ErrNotFound)
		}
		if _, err := s.ownedSession(ctx, userID, turns[0].SessionID); err != nil {
			return err
		}
	}
	return nil
}

// Images lists the images attached directly to a story.
func (s *Service) Images(ctx context.Context, userID, storyID string) ([]Image, error) {
	if _, err := s.Story(ctx, userID, storyID); err != nil {
		return nil, err
	}
	return s.imagesFor(ctx, storyID)
}

func (s *Service) imagesFor(ctx context.Context, storyID string) ([]Image, error) {
	var rows []models.StoryImage
	if err := s.rows.Select(ctx, models.TableStoryImages, store.Where(store.Eq("story_id", storyID)), &rows, store.OrderBy("created_at")); err != nil {
		return nil, fmt.Errorf("load images: %w", err)
	}
	out := make([]Image, 0, len(rows))
	for _, row := range rows {
		url, err := s.blobs.SignedURL(ctx, s.imageBucket, row.StoragePath, s.urlTTL)
		if err != nil {
			if !errors.Is(err, store.ErrBlobNotFound) {
				s.log.Warn("sign image url failed", zap.String("image_id", row.ID), zap.Error(err))
			}
			continue
		}
		out = append(out, Image{StoryImage: row, URL: url})
	}
	return out, nil
}

// DeleteImage removes an image row and its objects.
func (s *Service) DeleteImage(ctx context.Context, userID, id string) error {
	if userID == "" {
		return apperr.ErrAuthentication
	}
	var rows []models.StoryImage
	if err := s.rows.Select(ctx, models.TableStoryImages, store.Where(store.Eq("id", id)), &rows); err != nil {
		return fmt.Errorf("load image: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("image %s: %w", id, apperr.ErrNotFound)
	}
	img := rows[0]
	if err := s.checkImageOwners(ctx, userID, &img); err != nil {
		return err
	}
	if _, err := s.rows.Delete(ctx, models.TableStoryImages, store.Where(store.Eq("id", img.ID))); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	paths := []string{img.StoragePath}
	if img.ThumbnailPath != nil {
		paths = append(paths, *img.ThumbnailPath)
	}
	if err := s.blobs.Remove(ctx, s.imageBucket, paths); err != nil {
		s.log.Warn("remove image objects failed", zap.String("image_id", img.ID), zap.Error(err))
	}
	return nil
}

func blankToNil(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
