package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bonus_system/internal/cache"
	"bonus_system/internal/model"
	"bonus_system/internal/queue"

	"github.com/google/uuid"
)

var (
	ErrProjectNotFound     = errors.New("project not found")
	ErrProjectInactive     = errors.New("project is inactive")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserExists          = errors.New("user already exists")
	ErrTelegramIDTaken     = errors.New("telegram id is already linked to another user in this project")
	ErrContactConflict     = errors.New("email and phone belong to different users")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrInsufficientBalance = errors.New("insufficient bonus balance")
	ErrPaymentLimit        = errors.New("amount exceeds the share of the order payable with bonuses")
	ErrDuplicateOrder      = errors.New("order has already been processed")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidToken        = errors.New("invalid token")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}

// Service bundles the services wired over one repository and queue.
type Service struct {
	Projects   *ProjectService
	Users      *UserService
	Bonuses    *BonusService
	Webhooks   *WebhookService
	Analytics  *AnalyticsService
	Auth       *AuthService
	Notifier   *NotificationService
	Processors *Processors
}

type Repository interface {
	ProjectRepository
	UserRepository
	LedgerRepository
	WebhookLogRepository
	StatsRepository
	AdminRepository
}

type Deps struct {
	Repo      Repository
	Queue     Enqueuer
	Cache     cache.BalanceCache
	Sender    TelegramSender
	Publisher EventPublisher
	JWTSecret string
	TokenTTL  time.Duration
}

func New(d Deps) *Service {
	projects := NewProjectService(d.Repo)
	users := NewUserService(projects, d.Repo, d.Repo, d.Cache, d.Queue)
	bonuses := NewBonusService(projects, d.Repo, d.Repo, d.Cache, d.Queue)
	analytics := NewAnalyticsService(projects, d.Repo)
	notifier := NewNotificationService(d.Repo, d.Repo, d.Sender, d.Publisher)

	return &Service{
		Projects:   projects,
		Users:      users,
		Bonuses:    bonuses,
		Webhooks:   NewWebhookService(d.Repo, d.Repo, d.Queue),
		Analytics:  analytics,
		Auth:       NewAuthService(d.Repo, d.JWTSecret, d.TokenTTL),
		Notifier:   notifier,
		Processors: NewProcessors(users, bonuses, notifier, analytics, d.Cache),
	}
}

type ProjectServiceI interface {
	CreateProject(ctx context.Context, in ProjectInput) (*model.Project, error)
	GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error)
	ListProjects(ctx context.Context) ([]*model.Project, error)
	UpdateProject(ctx context.Context, id uuid.UUID, in ProjectInput) (*model.Project, error)
	DeleteProject(ctx context.Context, id uuid.UUID) error
	RotateWebhookSecret(ctx context.Context, id uuid.UUID) (string, error)
	GetLevels(ctx context.Context, projectID uuid.UUID) ([]model.BonusLevel, error)
	ReplaceLevels(ctx context.Context, projectID uuid.UUID, levels []model.BonusLevel) ([]model.BonusLevel, error)
	GetReferralProgram(ctx context.Context, projectID uuid.UUID) (*model.ReferralProgram, error)
	UpdateReferralProgram(ctx context.Context, program *model.ReferralProgram) (*model.ReferralProgram, error)
}

type UserServiceI interface {
	RegisterUser(ctx context.Context, projectID uuid.UUID, reg Registration) (*model.User, bool, error)
	GetUser(ctx context.Context, projectID, userID uuid.UUID) (*model.UserWithBalance, error)
	ListUsers(ctx context.Context, projectID uuid.UUID, filter model.UserFilter) ([]*model.User, int, error)
	UpdateUser(ctx context.Context, projectID, userID uuid.UUID, in UserUpdate) (*model.User, error)
	DeleteUser(ctx context.Context, projectID, userID uuid.UUID) error
	LinkTelegram(ctx context.Context, projectID, userID uuid.UUID, telegramID int64, username string) error
	GetUserByTelegramID(ctx context.Context, projectID uuid.UUID, telegramID int64) (*model.UserWithBalance, error)
	GetUserByContact(ctx context.Context, projectID uuid.UUID, contact model.Contact) (*model.User, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error)
	GetTransactions(ctx context.Context, projectID, userID uuid.UUID, page model.Page) ([]model.Transaction, int, error)
	GetBonuses(ctx context.Context, projectID, userID uuid.UUID, activeOnly bool) ([]model.Bonus, error)
	GetReferrals(ctx context.Context, projectID, userID uuid.UUID) ([]*model.User, error)
}

type BonusServiceI interface {
	AwardPurchase(ctx context.Context, projectID, userID uuid.UUID, order Order) (*PurchaseResult, error)
	SpendBonuses(ctx context.Context, projectID, userID uuid.UUID, spend SpendOrder) (*model.Transaction, error)
	GrantBonus(ctx context.Context, projectID, userID uuid.UUID, in ManualGrant) (*model.Transaction, error)
	RefundBonuses(ctx context.Context, projectID, userID uuid.UUID, order Order) (*model.Transaction, error)
}

type WebhookServiceI interface {
	HandleWebhook(ctx context.Context, secret string, req WebhookRequest) (*WebhookResult, error)
	ListWebhookLogs(ctx context.Context, projectID uuid.UUID, page model.Page) ([]model.WebhookLog, error)
}

type AnalyticsServiceI interface {
	GetStats(ctx context.Context, projectID uuid.UUID, from, to time.Time) (*StatsReport, error)
}

type AuthServiceI interface {
	Login(ctx context.Context, email, password string) (string, error)
	ParseToken(token string) (*Claims, error)
}

type ProjectRepository interface {
	CreateProject(ctx context.Context, project *model.Project, levels []model.BonusLevel) error
	GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error)
	GetProjectByWebhookSecret(ctx context.Context, secret string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]*model.Project, error)
	UpdateProject(ctx context.Context, project *model.Project) error
	RotateWebhookSecret(ctx context.Context, id uuid.UUID, secret string) error
	DeleteProject(ctx context.Context, id uuid.UUID) error
	ListLevels(ctx context.Context, projectID uuid.UUID) ([]model.BonusLevel, error)
	ReplaceLevels(ctx context.Context, projectID uuid.UUID, levels []model.BonusLevel) error
	GetReferralProgram(ctx context.Context, projectID uuid.UUID) (*model.ReferralProgram, error)
	UpsertReferralProgram(ctx context.Context, p *model.ReferralProgram) error
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User, grants []model.Grant) error
	GetUser(ctx context.Context, projectID, userID uuid.UUID) (*model.User, error)
	FindUserByContact(ctx context.Context, projectID uuid.UUID, contact model.Contact) (*model.User, error)
	FindUserByTelegramID(ctx context.Context, projectID uuid.UUID, telegramID int64) (*model.User, error)
	FindUserByReferralCode(ctx context.Context, projectID uuid.UUID, code string) (*model.User, error)
	ListUsers(ctx context.Context, projectID uuid.UUID, filter model.UserFilter) ([]*model.User, int, error)
	UpdateUser(ctx context.Context, user *model.User) error
	LinkTelegram(ctx context.Context, projectID, userID uuid.UUID, telegramID int64, username string) error
	DeleteUser(ctx context.Context, projectID, userID uuid.UUID) error
	ListReferrals(ctx context.Context, projectID, referrerID uuid.UUID) ([]*model.User, error)
}

type LedgerRepository interface {
	RecordPurchase(ctx context.Context, p model.Purchase) (*model.PurchaseRecord, error)
	SpendBonuses(ctx context.Context, s model.Spend) (*model.SpendRecord, error)
	GrantBonus(ctx context.Context, g model.Grant, orderID string) (*model.Transaction, error)
	ExpireBonuses(ctx context.Context, now time.Time) ([]model.ExpiredBonus, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, page model.Page) ([]model.Transaction, int, error)
	ListBonuses(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]model.Bonus, error)
}

type WebhookLogRepository interface {
	CreateWebhookLog(ctx context.Context, l *model.WebhookLog) error
	ListWebhookLogs(ctx context.Context, projectID uuid.UUID, page model.Page) ([]model.WebhookLog, error)
}

type StatsRepository interface {
	IncrementDailyStats(ctx context.Context, d model.StatsDelta) error
	ListDailyStats(ctx context.Context, projectID uuid.UUID, from, to time.Time) ([]model.DailyStats, error)
}

type AdminRepository interface {
	CreateAdmin(ctx context.Context, a *model.Admin) error
	GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error)
}

// Enqueuer is the producing half of queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts ...queue.Option) (string, error)
}
