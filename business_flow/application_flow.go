package businessflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/Kotodama/app/dto"
	"github.com/amirphl/Kotodama/models"
	"github.com/amirphl/Kotodama/repository"
)

// ApplicationFlow manages the administrative lifecycle of applications.
// Applications are the root parents: they are created directly (no
// sequencing involved) and may only be deleted once no chats reference
// them. The chat counter is owned by the sequencer and never touched here.
type ApplicationFlow interface {
	CreateApplication(ctx context.Context, req *dto.CreateApplicationRequest) (*dto.ApplicationDTO, error)
	GetApplication(ctx context.Context, token string) (*dto.ApplicationDTO, error)
	ListApplications(ctx context.Context, limit, offset int) ([]dto.ApplicationDTO, error)
	DeleteApplication(ctx context.Context, token string) error
}

// ApplicationFlowImpl implements ApplicationFlow
type ApplicationFlowImpl struct {
	appRepo repository.ApplicationRepository
}

// NewApplicationFlow creates a new application flow
func NewApplicationFlow(appRepo repository.ApplicationRepository) ApplicationFlow {
	return &ApplicationFlowImpl{appRepo: appRepo}
}

func (s *ApplicationFlowImpl) CreateApplication(ctx context.Context, req *dto.CreateApplicationRequest) (*dto.ApplicationDTO, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrApplicationNameRequired
	}

	app := models.Application{Name: name}
	if err := s.appRepo.Save(ctx, &app); err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return toApplicationDTO(&app), nil
}

func (s *ApplicationFlowImpl) GetApplication(ctx context.Context, token string) (*dto.ApplicationDTO, error) {
	app, err := s.appRepo.ByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	if app == nil {
		return nil, ErrApplicationNotFound
	}

	return toApplicationDTO(app), nil
}

func (s *ApplicationFlowImpl) ListApplications(ctx context.Context, limit, offset int) ([]dto.ApplicationDTO, error) {
	apps, err := s.appRepo.ByFilter(ctx, models.ApplicationFilter{}, "id ASC", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}

	out := make([]dto.ApplicationDTO, 0, len(apps))
	for _, app := range apps {
		out = append(out, *toApplicationDTO(app))
	}
	return out, nil
}

// DeleteApplication removes an application without chats. An application
// that still owns chats is rejected, never cascaded, and its counter keeps
// its final value either way.
func (s *ApplicationFlowImpl) DeleteApplication(ctx context.Context, token string) error {
	app, err := s.appRepo.ByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to load application: %w", err)
	}
	if app == nil {
		return ErrApplicationNotFound
	}

	hasChats, err := s.appRepo.HasChats(ctx, app.ID)
	if err != nil {
		return fmt.Errorf("failed to check application chats: %w", err)
	}
	if hasChats {
		return ErrApplicationHasChats
	}

	return s.appRepo.Delete(ctx, app.ID)
}

func toApplicationDTO(app *models.Application) *dto.ApplicationDTO {
	return &dto.ApplicationDTO{
		Token:      app.Token.String(),
		Name:       app.Name,
		ChatsCount: app.ChatsCount,
		CreatedAt:  app.CreatedAt.Format(time.RFC3339),
	}
}
