package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"bonus_system/internal/model"
	"bonus_system/internal/repository"
	"bonus_system/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type TelegramSender interface {
	Send(token string, chatID int64, text string) error
}

type EventPublisher interface {
	Publish(n model.Notification)
}

// NotificationService delivers notifications through the project's Telegram
// bot and the project's live event feed.
type NotificationService struct {
	projects  ProjectRepository
	users     UserRepository
	sender    TelegramSender
	publisher EventPublisher
}

func NewNotificationService(projects ProjectRepository, users UserRepository, sender TelegramSender, publisher EventPublisher) *NotificationService {
	return &NotificationService{
		projects:  projects,
		users:     users,
		sender:    sender,
		publisher: publisher,
	}
}

func (s *NotificationService) Deliver(ctx context.Context, n model.Notification) error {
	log := logger.Logger()

	user, err := s.users.GetUser(ctx, n.ProjectID, n.UserID)
	if err != nil {
		return userErr(err, "get notification recipient")
	}

	if user.TelegramID != nil && s.sender != nil {
		project, err := s.projects.GetProject(ctx, n.ProjectID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrProjectNotFound
			}
			return fmt.Errorf("failed to get project: %w", err)
		}

		if project.BotToken != "" {
			err := s.sender.Send(project.BotToken, *user.TelegramID, n.Message)
			var tgErr *tgbotapi.Error
			switch {
			case errors.As(err, &tgErr) && tgErr.Code == http.StatusForbidden:
				log.Info("telegram user blocked the bot",
					zap.String("user_id", user.ID.String()),
					zap.Int64("telegram_id", *user.TelegramID))
			case err != nil:
				return fmt.Errorf("failed to send telegram message: %w", err)
			}
		}
	}

	if s.publisher != nil {
		s.publisher.Publish(n)
	}
	return nil
}

// BotSender keeps one Telegram client per bot token.
type BotSender struct {
	mu       sync.Mutex
	bots     map[string]*tgbotapi.BotAPI
	endpoint string
}

// NewBotSender uses the public Bot API unless endpoint is set.
func NewBotSender(endpoint string) *BotSender {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return &BotSender{
		bots:     make(map[string]*tgbotapi.BotAPI),
		endpoint: endpoint,
	}
}

func (b *BotSender) bot(token string) (*tgbotapi.BotAPI, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bot, ok := b.bots[token]; ok {
		return bot, nil
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, b.endpoint, &http.Client{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bot: %w", err)
	}
	b.bots[token] = bot
	return bot, nil
}

func (b *BotSender) Send(token string, chatID int64, text string) error {
	bot, err := b.bot(token)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := bot.Send(msg); err != nil {
		return err
	}
	return nil
}
