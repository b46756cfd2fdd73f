package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"bonus_system/internal/model"
	"bonus_system/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const webhookSecretBytes = 24

type ProjectInput struct {
	Name            string
	Domain          string
	BonusPercentage decimal.Decimal
	BonusExpiryDays int
	WelcomeBonus    decimal.Decimal
	BotToken        string
	BotUsername     string
	IsActive        *bool
}

func (in ProjectInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name is required")
	}
	if !validPercent(in.BonusPercentage) {
		return invalid("bonus percentage must be within 0..100")
	}
	if in.BonusExpiryDays < 0 {
		return invalid("bonus expiry days must not be negative")
	}
	if in.WelcomeBonus.IsNegative() {
		return invalid("welcome bonus must not be negative")
	}
	return nil
}

type ProjectService struct {
	repo ProjectRepository
}

func NewProjectService(repo ProjectRepository) *ProjectService {
	return &ProjectService{
		repo: repo,
	}
}

func newWebhookSecret() (string, error) {
	b := make([]byte, webhookSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *ProjectService) CreateProject(ctx context.Context, in ProjectInput) (*model.Project, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	secret, err := newWebhookSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	project := &model.Project{
		ID:              uuid.New(),
		Name:            strings.TrimSpace(in.Name),
		Domain:          in.Domain,
		WebhookSecret:   secret,
		BonusPercentage: in.BonusPercentage,
		BonusExpiryDays: in.BonusExpiryDays,
		WelcomeBonus:    in.WelcomeBonus,
		BotToken:        in.BotToken,
		BotUsername:     in.BotUsername,
		IsActive:        in.IsActive == nil || *in.IsActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	levels := DefaultLevels()
	for i := range levels {
		levels[i].ID = uuid.New()
		levels[i].ProjectID = project.ID
		levels[i].CreatedAt = now
	}

	if err := s.repo.CreateProject(ctx, project, levels); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return project, nil
}

func (s *ProjectService) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	project, err := s.repo.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return project, nil
}

// activeProject is the guard every ledger operation goes through.
func (s *ProjectService) activeProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	project, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if !project.IsActive {
		return nil, ErrProjectInactive
	}
	return project, nil
}

func (s *ProjectService) ListProjects(ctx context.Context) ([]*model.Project, error) {
	projects, err := s.repo.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

func (s *ProjectService) UpdateProject(ctx context.Context, id uuid.UUID, in ProjectInput) (*model.Project, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	project, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	project.Name = strings.TrimSpace(in.Name)
	project.Domain = in.Domain
	project.BonusPercentage = in.BonusPercentage
	project.BonusExpiryDays = in.BonusExpiryDays
	project.WelcomeBonus = in.WelcomeBonus
	project.BotToken = in.BotToken
	project.BotUsername = in.BotUsername
	if in.IsActive != nil {
		project.IsActive = *in.IsActive
	}
	project.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateProject(ctx, project); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return project, nil
}

func (s *ProjectService) DeleteProject(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteProject(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

func (s *ProjectService) RotateWebhookSecret(ctx context.Context, id uuid.UUID) (string, error) {
	secret, err := newWebhookSecret()
	if err != nil {
		return "", err
	}
	if err := s.repo.RotateWebhookSecret(ctx, id, secret); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrProjectNotFound
		}
		return "", fmt.Errorf("failed to rotate webhook secret: %w", err)
	}
	return secret, nil
}

func (s *ProjectService) GetLevels(ctx context.Context, projectID uuid.UUID) ([]model.BonusLevel, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	levels, err := s.repo.ListLevels(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list levels: %w", err)
	}
	return levels, nil
}

func (s *ProjectService) ReplaceLevels(ctx context.Context, projectID uuid.UUID, levels []model.BonusLevel) ([]model.BonusLevel, error) {
	sorted, err := ValidateLevels(levels)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range sorted {
		sorted[i].ID = uuid.New()
		sorted[i].ProjectID = projectID
		sorted[i].CreatedAt = now
	}

	if err := s.repo.ReplaceLevels(ctx, projectID, sorted); err != nil {
		return nil, fmt.Errorf("failed to replace levels: %w", err)
	}
	return sorted, nil
}

// GetReferralProgram returns the stored program or an inactive placeholder.
func (s *ProjectService) GetReferralProgram(ctx context.Context, projectID uuid.UUID) (*model.ReferralProgram, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	program, err := s.referralProgram(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if program == nil {
		return &model.ReferralProgram{ProjectID: projectID}, nil
	}
	return program, nil
}

func (s *ProjectService) referralProgram(ctx context.Context, projectID uuid.UUID) (*model.ReferralProgram, error) {
	program, err := s.repo.GetReferralProgram(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get referral program: %w", err)
	}
	return program, nil
}

func (s *ProjectService) UpdateReferralProgram(ctx context.Context, program *model.ReferralProgram) (*model.ReferralProgram, error) {
	if !validPercent(program.ReferrerBonus) {
		return nil, invalid("referrer bonus must be within 0..100")
	}
	if program.RefereeBonus.IsNegative() || program.MinPurchaseAmount.IsNegative() {
		return nil, invalid("referral amounts must not be negative")
	}
	if _, err := s.GetProject(ctx, program.ProjectID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if program.ID == uuid.Nil {
		program.ID = uuid.New()
		program.CreatedAt = now
	}
	program.UpdatedAt = now

	if err := s.repo.UpsertReferralProgram(ctx, program); err != nil {
		return nil, fmt.Errorf("failed to save referral program: %w", err)
	}
	return program, nil
}
