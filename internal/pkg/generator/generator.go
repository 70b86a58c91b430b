package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"gorm.io/gorm"

	"github.com/artspark/artspark/app/models"
	"github.com/artspark/artspark/internal/pkg/credits"
	"github.com/artspark/artspark/internal/pkg/entitlements"
	"github.com/artspark/artspark/internal/pkg/storage"
)

// CreditsPerGeneration is the price of a single image generation.
const CreditsPerGeneration = 1

// ErrSizeNotAllowed is returned when the requested size exceeds the user's
// plan.
var ErrSizeNotAllowed = errors.New("generator: image size not allowed for plan")

// ImageClient is the remote image generation surface. Implemented by the
// OpenAI client; tests substitute a fake.
type ImageClient interface {
	GenerateImage(ctx context.Context, prompt, size string) (string, error)
}

// OpenAIImageClient generates images through the OpenAI Images API.
type OpenAIImageClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIImageClient creates an image client for the given API key.
func NewOpenAIImageClient(apiKey, model string) *OpenAIImageClient {
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	return &OpenAIImageClient{client: openai.NewClient(apiKey), model: model}
}

func (c *OpenAIImageClient) GenerateImage(ctx context.Context, prompt, size string) (string, error) {
	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.model,
		Size:           size,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", errors.New("image generation returned no data")
	}
	return resp.Data[0].URL, nil
}

// Service runs the generation flow: consume a credit, call the provider,
// persist the artwork and optionally mirror it into object storage. A failed
// provider call refunds the credit.
type Service struct {
	db      *gorm.DB
	images  ImageClient
	credits *credits.Service
	store   *storage.Client
	httpDo  func(req *http.Request) (*http.Response, error)
}

// NewService creates a generation service. store may be nil when artwork
// mirroring is disabled.
func NewService(db *gorm.DB, images ImageClient, creditService *credits.Service, store *storage.Client) *Service {
	return &Service{
		db:      db,
		images:  images,
		credits: creditService,
		store:   store,
		httpDo:  http.DefaultClient.Do,
	}
}

// Generate creates one artwork for the user.
func (s *Service) Generate(ctx context.Context, user *models.User, prompt, size string) (*models.Artwork, error) {
	settings, err := models.GetOrCreateUserSettings(s.db, user.ID)
	if err != nil {
		return nil, err
	}
	plan := entitlements.ParsePlan(settings.Plan)
	if size == "" {
		size = entitlements.MaxImageSize(plan)
	}
	if !sizeAllowed(plan, size) {
		return nil, ErrSizeNotAllowed
	}

	if err := s.credits.Consume(ctx, user.ID, CreditsPerGeneration); err != nil {
		return nil, err
	}

	artwork := &models.Artwork{
		UUID:   uuid.New().String(),
		UserID: user.ID,
		Prompt: prompt,
		Size:   size,
		Status: models.ArtworkStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(artwork).Error; err != nil {
		if rerr := s.credits.Refund(ctx, user.ID, CreditsPerGeneration); rerr != nil {
			log.Errorf("[Generator] credit refund after create failure for user %d failed: %v", user.ID, rerr)
		}
		return nil, err
	}

	providerURL, err := s.images.GenerateImage(ctx, prompt, size)
	if err != nil {
		artwork.Status = models.ArtworkStatusFailed
		artwork.ErrorText = err.Error()
		if uerr := s.db.WithContext(ctx).Save(artwork).Error; uerr != nil {
			log.Errorf("[Generator] failed to mark artwork %s as failed: %v", artwork.UUID, uerr)
		}
		if rerr := s.credits.Refund(ctx, user.ID, CreditsPerGeneration); rerr != nil {
			log.Errorf("[Generator] credit refund for user %d failed: %v", user.ID, rerr)
		}
		return nil, err
	}

	artwork.ProviderURL = providerURL
	artwork.Status = models.ArtworkStatusCompleted

	// Provider URLs expire, so completed artworks are mirrored into our own
	// bucket when storage is configured. Mirror failures keep the artwork
	// usable through the provider URL.
	if s.store != nil {
		if key, merr := s.mirror(ctx, artwork); merr != nil {
			log.Warnf("[Generator] mirroring artwork %s failed: %v", artwork.UUID, merr)
		} else {
			artwork.StorageKey = key
		}
	}

	if err := s.db.WithContext(ctx).Save(artwork).Error; err != nil {
		return nil, err
	}
	return artwork, nil
}

func (s *Service) mirror(ctx context.Context, artwork *models.Artwork) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artwork.ProviderURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpDo(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	key := storage.ObjectKeyFor(artwork.UUID, time.Now())
	if _, err := s.store.Upload(ctx, key, resp.Body, "image/png"); err != nil {
		return "", err
	}
	return key, nil
}

// ListUserArtworks returns the user's artworks, newest first.
func (s *Service) ListUserArtworks(ctx context.Context, userID uint, limit, offset int) ([]models.Artwork, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var artworks []models.Artwork
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&artworks).Error
	return artworks, err
}

// GetUserArtwork loads one artwork by UUID, scoped to its owner.
func (s *Service) GetUserArtwork(ctx context.Context, userID uint, artworkUUID string) (*models.Artwork, error) {
	var artwork models.Artwork
	err := s.db.WithContext(ctx).
		Where("uuid = ? AND user_id = ?", artworkUUID, userID).
		First(&artwork).Error
	if err != nil {
		return nil, err
	}
	return &artwork, nil
}

// DeleteUserArtwork soft-deletes an artwork and removes its mirror.
func (s *Service) DeleteUserArtwork(ctx context.Context, userID uint, artworkUUID string) error {
	artwork, err := s.GetUserArtwork(ctx, userID, artworkUUID)
	if err != nil {
		return err
	}
	if s.store != nil && artwork.StorageKey != "" {
		if derr := s.store.Delete(ctx, artwork.StorageKey); derr != nil {
			log.Warnf("[Generator] deleting mirror for artwork %s failed: %v", artwork.UUID, derr)
		}
	}
	return s.db.WithContext(ctx).Delete(artwork).Error
}

func sizeAllowed(plan entitlements.Plan, size string) bool {
	allowed := map[entitlements.Plan][]string{
		entitlements.PlanFree:    {"256x256", "512x512"},
		entitlements.PlanCreator: {"256x256", "512x512", "1024x1024"},
		entitlements.PlanStudio:  {"256x256", "512x512", "1024x1024", "1792x1024", "1024x1792"},
	}
	for _, s := range allowed[plan] {
		if s == size {
			return true
		}
	}
	return false
}
