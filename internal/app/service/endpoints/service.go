package endpoints

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/jordancrombie/nsim/internal/models"
	"github.com/jordancrombie/nsim/internal/repository"
	"github.com/jordancrombie/nsim/pkg/types"
)

type CreateRequest struct {
	MerchantID string   `json:"merchant_id"`
	URL        string   `json:"url"`
	Events     []string `json:"events"`
}

type UpdateRequest struct {
	URL    *string   `json:"url,omitempty"`
	Events *[]string `json:"events,omitempty"`
	Active *bool     `json:"active,omitempty"`
}

// CreateResult carries the signing secret exactly once, at creation time.
type CreateResult struct {
	Endpoint *models.NotificationEndpoint `json:"endpoint"`
	Secret   string                       `json:"secret"`
}

// Service manages merchant notification endpoints.
type Service struct {
	repo repository.EndpointRepository
	log  *zap.SugaredLogger
}

func NewService(repo repository.EndpointRepository, log *zap.SugaredLogger) *Service {
	return &Service{repo: repo, log: log}
}

func (s *Service) Create(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	if req.MerchantID == "" || req.URL == "" {
		return nil, fmt.Errorf("merchant_id and url are required")
	}
	for _, e := range req.Events {
		if !types.ValidEventType(e) {
			return nil, fmt.Errorf("unknown event type: %s", e)
		}
	}

	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	ep := &models.NotificationEndpoint{
		ID:         uuid.NewString(),
		MerchantID: req.MerchantID,
		URL:        req.URL,
		Events:     datatypes.NewJSONType(req.Events),
		Secret:     secret,
		Active:     true,
	}
	if err := s.repo.Create(ctx, ep); err != nil {
		return nil, err
	}
	s.log.Infow("notification endpoint created", "endpoint_id", ep.ID, "merchant_id", ep.MerchantID)
	return &CreateResult{Endpoint: ep, Secret: secret}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.NotificationEndpoint, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) ListByMerchant(ctx context.Context, merchantID string) ([]*models.NotificationEndpoint, error) {
	return s.repo.FindByMerchant(ctx, merchantID)
}

func (s *Service) Update(ctx context.Context, id string, req *UpdateRequest) (*models.NotificationEndpoint, error) {
	ep, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.URL != nil {
		ep.URL = *req.URL
	}
	if req.Events != nil {
		for _, e := range *req.Events {
			if !types.ValidEventType(e) {
				return nil, fmt.Errorf("unknown event type: %s", e)
			}
		}
		ep.Events = datatypes.NewJSONType(*req.Events)
	}
	if req.Active != nil {
		ep.Active = *req.Active
	}
	if err := s.repo.Update(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) Stats(ctx context.Context, id string) (*repository.EndpointStats, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetStats(ctx, id)
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate endpoint secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}

var Module = fx.Options(
	fx.Provide(NewService),
)
