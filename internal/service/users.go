package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bonus_system/internal/cache"
	"bonus_system/internal/model"
	"bonus_system/internal/repository"
	"bonus_system/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type UserService struct {
	projects *ProjectService
	repo     UserRepository
	ledger   LedgerRepository
	cache    cache.BalanceCache
	jobs     followUps
}

func NewUserService(projects *ProjectService, repo UserRepository, ledger LedgerRepository, balances cache.BalanceCache, q Enqueuer) *UserService {
	return &UserService{
		projects: projects,
		repo:     repo,
		ledger:   ledger,
		cache:    balances,
		jobs:     followUps{queue: q, cache: balances},
	}
}

func userErr(err error, action string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, repository.ErrTelegramIDTaken):
		return ErrTelegramIDTaken
	case errors.Is(err, repository.ErrContactConflict):
		return ErrContactConflict
	case errors.Is(err, repository.ErrAlreadyExists):
		return ErrUserExists
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

const referralCodeAttempts = 5

func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// RegisterUser creates a user with the welcome and referee grants. A user that
// already exists under the same email or phone is returned with created=false.
func (s *UserService) RegisterUser(ctx context.Context, projectID uuid.UUID, reg Registration) (*model.User, bool, error) {
	birthDate, err := reg.Validate()
	if err != nil {
		return nil, false, err
	}

	project, err := s.projects.activeProject(ctx, projectID)
	if err != nil {
		return nil, false, err
	}

	contact := reg.contact()
	existing, err := s.repo.FindUserByContact(ctx, projectID, contact.toModel())
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, userErr(err, "look up user")
	}

	if reg.TelegramID != nil {
		if _, err := s.repo.FindUserByTelegramID(ctx, projectID, *reg.TelegramID); err == nil {
			return nil, false, ErrTelegramIDTaken
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("failed to look up telegram id: %w", err)
		}
	}

	levels, err := s.projects.repo.ListLevels(ctx, projectID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list levels: %w", err)
	}
	rate := RateFor(project, levels, decimal.Zero)

	now := time.Now().UTC()
	user := &model.User{
		ID:               uuid.New(),
		ProjectID:        projectID,
		FirstName:        strings.TrimSpace(reg.FirstName),
		LastName:         strings.TrimSpace(reg.LastName),
		BirthDate:        birthDate,
		TelegramID:       reg.TelegramID,
		TelegramUsername: reg.TelegramUsername,
		IsActive:         true,
		TotalPurchases:   decimal.Zero,
		CurrentLevel:     rate.Level,
		ReferralCode:     newReferralCode(),
		UTMSource:        reg.UTMSource,
		UTMMedium:        reg.UTMMedium,
		UTMCampaign:      reg.UTMCampaign,
		RegisteredAt:     now,
		UpdatedAt:        now,
	}
	if contact.Email != "" {
		user.Email = &contact.Email
	}
	if contact.Phone != "" {
		user.Phone = &contact.Phone
	}

	var grants []model.Grant
	if project.WelcomeBonus.IsPositive() {
		grants = append(grants, model.Grant{
			UserID:      user.ID,
			Amount:      project.WelcomeBonus,
			BonusType:   model.BonusWelcome,
			Description: "welcome bonus",
			ExpiresAt:   project.BonusExpiry(now),
			Metadata:    model.Metadata{"source": "registration"},
			UserLevel:   rate.Level,
		})
	}

	referrer, program, err := s.resolveReferrer(ctx, projectID, reg.ReferralCode)
	if err != nil {
		return nil, false, err
	}
	if referrer != nil {
		user.ReferredBy = &referrer.ID
		if program.RefereeBonus.IsPositive() {
			grants = append(grants, model.Grant{
				UserID:          user.ID,
				Amount:          program.RefereeBonus,
				BonusType:       model.BonusReferral,
				Description:     "referral sign-up bonus",
				ExpiresAt:       project.BonusExpiry(now),
				Metadata:        model.Metadata{"source": "referral", "referral_code": reg.ReferralCode},
				UserLevel:       rate.Level,
				IsReferralBonus: true,
				ReferralUserID:  &referrer.ID,
			})
		}
	}

	if err := s.createUser(ctx, user, grants); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			// lost a race with a concurrent registration of the same contact
			if existing, findErr := s.repo.FindUserByContact(ctx, projectID, contact.toModel()); findErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, userErr(err, "create user")
	}

	granted := decimal.Zero
	for _, g := range grants {
		granted = granted.Add(g.Amount)
	}

	s.jobs.notify(ctx, model.Notification{
		ProjectID: projectID,
		UserID:    user.ID,
		Type:      model.NotifyWelcome,
		Message:   welcomeMessage(project, granted),
		Data:      map[string]any{"bonus": granted.StringFixed(2), "referral_code": user.ReferralCode},
	})
	s.jobs.analytics(ctx, AnalyticsJob{
		ProjectID:     projectID,
		NewUsers:      1,
		BonusesEarned: granted,
	})

	return user, true, nil
}

// createUser inserts the user, drawing a fresh referral code when the
// generated one is already taken.
func (s *UserService) createUser(ctx context.Context, user *model.User, grants []model.Grant) error {
	var err error
	for attempt := 1; attempt <= referralCodeAttempts; attempt++ {
		err = s.repo.CreateUser(ctx, user, grants)
		if !errors.Is(err, repository.ErrReferralCodeTaken) {
			return err
		}
		logger.Logger().Info("referral code collision, regenerating",
			zap.String("user_id", user.ID.String()),
			zap.Int("attempt", attempt))
		user.ReferralCode = newReferralCode()
	}
	return err
}

// resolveReferrer returns the owner of code when the project runs an active
// referral program. Unknown codes are ignored.
func (s *UserService) resolveReferrer(ctx context.Context, projectID uuid.UUID, code string) (*model.User, *model.ReferralProgram, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil, nil
	}

	program, err := s.projects.referralProgram(ctx, projectID)
	if err != nil || program == nil || !program.IsActive {
		return nil, nil, err
	}

	referrer, err := s.repo.FindUserByReferralCode(ctx, projectID, strings.ToUpper(code))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to look up referral code: %w", err)
	}
	if !referrer.IsActive {
		return nil, nil, nil
	}
	return referrer, program, nil
}

func welcomeMessage(project *model.Project, granted decimal.Decimal) string {
	if granted.IsPositive() {
		return fmt.Sprintf("Welcome to %s! You received %s bonuses.", project.Name, granted.StringFixed(2))
	}
	return fmt.Sprintf("Welcome to %s!", project.Name)
}

func (s *UserService) getUser(ctx context.Context, projectID, userID uuid.UUID) (*model.User, error) {
	user, err := s.repo.GetUser(ctx, projectID, userID)
	if err != nil {
		return nil, userErr(err, "get user")
	}
	return user, nil
}

func (s *UserService) withBalance(ctx context.Context, user *model.User) (*model.UserWithBalance, error) {
	balance, err := s.GetBalance(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &model.UserWithBalance{User: user, Balance: balance}, nil
}

func (s *UserService) GetUser(ctx context.Context, projectID, userID uuid.UUID) (*model.UserWithBalance, error) {
	user, err := s.getUser(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	return s.withBalance(ctx, user)
}

func (s *UserService) GetUserByTelegramID(ctx context.Context, projectID uuid.UUID, telegramID int64) (*model.UserWithBalance, error) {
	user, err := s.repo.FindUserByTelegramID(ctx, projectID, telegramID)
	if err != nil {
		return nil, userErr(err, "get user by telegram id")
	}
	return s.withBalance(ctx, user)
}

func (s *UserService) GetUserByContact(ctx context.Context, projectID uuid.UUID, contact model.Contact) (*model.User, error) {
	c := Contact{Email: contact.Email, Phone: contact.Phone}.normalize()
	if c.Email == "" && c.Phone == "" {
		return nil, invalid("email or phone is required")
	}
	user, err := s.repo.FindUserByContact(ctx, projectID, c.toModel())
	if err != nil {
		return nil, userErr(err, "find user")
	}
	return user, nil
}

func (s *UserService) ListUsers(ctx context.Context, projectID uuid.UUID, filter model.UserFilter) ([]*model.User, int, error) {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return nil, 0, err
	}
	filter.Page = filter.Page.Normalize()
	users, total, err := s.repo.ListUsers(ctx, projectID, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	return users, total, nil
}

func (s *UserService) UpdateUser(ctx context.Context, projectID, userID uuid.UUID, in UserUpdate) (*model.User, error) {
	user, err := s.getUser(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	if in.Email != nil {
		c := Contact{Email: *in.Email}.normalize()
		user.Email = nil
		if c.Email != "" {
			user.Email = &c.Email
		}
	}
	if in.Phone != nil {
		c := Contact{Phone: *in.Phone}.normalize()
		user.Phone = nil
		if c.Phone != "" {
			user.Phone = &c.Phone
		}
	}

	c := Contact{}
	if user.Email != nil {
		c.Email = *user.Email
	}
	if user.Phone != nil {
		c.Phone = *user.Phone
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	if in.FirstName != nil {
		user.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		user.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.BirthDate != nil {
		birthDate, err := parseBirthDate(*in.BirthDate)
		if err != nil {
			return nil, err
		}
		user.BirthDate = birthDate
	}
	if in.IsActive != nil {
		user.IsActive = *in.IsActive
	}
	user.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, userErr(err, "update user")
	}
	return user, nil
}

func (s *UserService) DeleteUser(ctx context.Context, projectID, userID uuid.UUID) error {
	if err := s.repo.DeleteUser(ctx, projectID, userID); err != nil {
		return userErr(err, "delete user")
	}
	dropBalances(ctx, s.cache, userID)
	return nil
}

// LinkTelegram attaches a Telegram account. A telegram id belongs to at most
// one user per project.
func (s *UserService) LinkTelegram(ctx context.Context, projectID, userID uuid.UUID, telegramID int64, username string) error {
	if telegramID <= 0 {
		return invalid("telegram_id must be positive")
	}

	owner, err := s.repo.FindUserByTelegramID(ctx, projectID, telegramID)
	switch {
	case err == nil && owner.ID != userID:
		return ErrTelegramIDTaken
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("failed to look up telegram id: %w", err)
	}

	if err := s.repo.LinkTelegram(ctx, projectID, userID, telegramID, username); err != nil {
		return userErr(err, "link telegram")
	}
	return nil
}

// GetBalance reads through the balance cache.
func (s *UserService) GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error) {
	if s.cache != nil {
		if b, ok := s.cache.Get(ctx, userID); ok {
			return b, nil
		}
	}

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, balance)
	}
	return balance, nil
}

func (s *UserService) GetTransactions(ctx context.Context, projectID, userID uuid.UUID, page model.Page) ([]model.Transaction, int, error) {
	if _, err := s.getUser(ctx, projectID, userID); err != nil {
		return nil, 0, err
	}
	txs, total, err := s.ledger.ListTransactions(ctx, userID, page.Normalize())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, total, nil
}

func (s *UserService) GetBonuses(ctx context.Context, projectID, userID uuid.UUID, activeOnly bool) ([]model.Bonus, error) {
	if _, err := s.getUser(ctx, projectID, userID); err != nil {
		return nil, err
	}
	bonuses, err := s.ledger.ListBonuses(ctx, userID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list bonuses: %w", err)
	}
	return bonuses, nil
}

// GetReferrals lists the users who registered with the user's referral code.
func (s *UserService) GetReferrals(ctx context.Context, projectID, userID uuid.UUID) ([]*model.User, error) {
	if _, err := s.getUser(ctx, projectID, userID); err != nil {
		return nil, err
	}
	referrals, err := s.repo.ListReferrals(ctx, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	return referrals, nil
}
