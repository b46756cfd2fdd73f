package service

import (
	"context"
	"errors"
	"testing"

	"bonus_system/internal/model"
	"bonus_system/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestProjectService_CreateProject(t *testing.T) {
	f := newFixture(t)

	f.projectRepo.On("CreateProject", mock.Anything, mock.MatchedBy(func(p *model.Project) bool {
		return p.Name == "Coffee Shop" && len(p.WebhookSecret) == 2*webhookSecretBytes && p.IsActive
	}), mock.MatchedBy(func(levels []model.BonusLevel) bool {
		if len(levels) != 3 {
			return false
		}
		for _, l := range levels {
			if l.ProjectID == uuid.Nil || l.ID == uuid.Nil {
				return false
			}
		}
		return levels[0].Name == "Base" && levels[1].Name == "Silver" && levels[2].Name == "Gold"
	})).Return(nil)

	project, err := f.projects.CreateProject(context.Background(), ProjectInput{
		Name:            " Coffee Shop ",
		BonusPercentage: dec("5"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Coffee Shop", project.Name)
}

func TestProjectService_CreateProject_Validation(t *testing.T) {
	f := newFixture(t)

	for name, in := range map[string]ProjectInput{
		"no name":          {BonusPercentage: dec("5")},
		"percent over 100": {Name: "x", BonusPercentage: dec("120")},
		"negative expiry":  {Name: "x", BonusExpiryDays: -1},
		"negative welcome": {Name: "x", WelcomeBonus: dec("-1")},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.projects.CreateProject(context.Background(), in)
			assert.True(t, errors.Is(err, ErrInvalidPayload))
		})
	}
}

func TestProjectService_RotateWebhookSecret(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	var stored string
	f.projectRepo.On("RotateWebhookSecret", mock.Anything, id, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { stored = args.String(2) }).
		Return(nil)

	secret, err := f.projects.RotateWebhookSecret(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, stored, secret)
	assert.Len(t, secret, 48)

	missing := uuid.New()
	f.projectRepo.On("RotateWebhookSecret", mock.Anything, missing, mock.Anything).Return(repository.ErrNotFound)
	_, err = f.projects.RotateWebhookSecret(context.Background(), missing)
	assert.True(t, errors.Is(err, ErrProjectNotFound))
}

func TestProjectService_ReplaceLevels(t *testing.T) {
	f := newFixture(t)
	project := testProject()
	f.withProject(project)

	levels := DefaultLevels()
	levels[0], levels[2] = levels[2], levels[0]
	f.projectRepo.On("ReplaceLevels", mock.Anything, project.ID, mock.MatchedBy(func(ls []model.BonusLevel) bool {
		return len(ls) == 3 && ls[0].Name == "Base" && ls[0].ProjectID == project.ID && ls[2].Order == 3
	})).Return(nil)

	saved, err := f.projects.ReplaceLevels(context.Background(), project.ID, levels)
	require.NoError(t, err)
	assert.Equal(t, "Gold", saved[2].Name)
}

func TestProjectService_GetReferralProgram_Default(t *testing.T) {
	f := newFixture(t)
	project := testProject()
	f.withProject(project)
	f.projectRepo.On("GetReferralProgram", mock.Anything, project.ID).Return(nil, repository.ErrNotFound)

	program, err := f.projects.GetReferralProgram(context.Background(), project.ID)
	require.NoError(t, err)
	assert.False(t, program.IsActive)
	assert.Equal(t, project.ID, program.ProjectID)
}

func TestProjectService_GetProject_NotFound(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	f.projectRepo.On("GetProject", mock.Anything, id).Return(nil, repository.ErrNotFound)

	_, err := f.projects.GetProject(context.Background(), id)
	assert.True(t, errors.Is(err, ErrProjectNotFound))
}
