// Package bot is the operator's Telegram front end to the analyzer.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/opinion-topics/internal/analyzer"
	"github.com/xaenox/opinion-topics/internal/models"
	"github.com/xaenox/opinion-topics/internal/storage"
)

const (
	historyLimit  = 5
	defaultReason = "requested via telegram"
)

// Runner is the part of analyzer.Service the bot drives.
type Runner interface {
	Run(ctx context.Context, projectID string, opts analyzer.Options) (*analyzer.RunResult, error)
	Running(projectID string) (string, bool)
	Progress(ctx context.Context, sessionID string) (*models.SessionProgress, bool, error)
}

// Store is the read side the bot reports from.
type Store interface {
	storage.ProjectStorage
	storage.TopicStorage
	storage.HistoryStorage
}

type Bot struct {
	api    *tgbotapi.BotAPI
	runner Runner
	store  Store
	admins map[int64]bool
	logger *zap.Logger

	// send delivers a MarkdownV2 message.
	send func(chatID int64, text string)
	wg   sync.WaitGroup
}

func New(token string, runner Runner, store Store, adminIDs []int64, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	b := newBot(runner, store, adminIDs, logger)
	b.api = api
	b.send = b.sendMarkdown
	return b, nil
}

func newBot(runner Runner, store Store, adminIDs []int64, logger *zap.Logger) *Bot {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Bot{
		runner: runner,
		store:  store,
		admins: admins,
		logger: logger,
	}
}

// Start polls for updates until ctx is done, then waits for runs it started.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Bot started", zap.String("username", b.api.Self.UserName))

	b.serve(ctx, updates, b.api.StopReceivingUpdates)
	return nil
}

// serve dispatches commands until ctx is done or updates is closed. It
// returns once every handler and every run a handler started has finished.
func (b *Bot) serve(ctx context.Context, updates tgbotapi.UpdatesChannel, stop func()) {
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer b.wg.Done()
				b.handleMessage(ctx, msg)
			}(update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	var userID int64
	if message.From != nil {
		userID = message.From.ID
	}
	b.handleCommand(ctx, message.Chat.ID, userID, message.Command(), message.CommandArguments())
}

func (b *Bot) handleCommand(ctx context.Context, chatID, userID int64, command, args string) {
	switch command {
	case "start":
		b.send(chatID, welcomeText)
		return
	case "help":
		b.send(chatID, helpText)
		return
	}

	if !b.admins[userID] {
		b.logger.Warn("Rejected command from non-admin",
			zap.Int64("user_id", userID),
			zap.String("command", command))
		b.send(chatID, escapeMarkdown("You are not allowed to run operator commands."))
		return
	}

	fields := strings.Fields(args)
	switch command {
	case "analyze", "status", "topics", "history":
		if len(fields) == 0 {
			b.send(chatID, escapeMarkdown(fmt.Sprintf("Usage: /%s <project>", command)))
			return
		}
	}

	switch command {
	case "analyze":
		b.handleAnalyze(ctx, chatID, userID, fields)
	case "status":
		b.handleStatus(ctx, chatID, fields[0])
	case "topics":
		b.handleTopics(ctx, chatID, fields[0])
	case "history":
		b.handleHistory(ctx, chatID, fields[0])
	default:
		b.send(chatID, escapeMarkdown("Unknown command. Use /help to see available commands."))
	}
}

// handleAnalyze starts a run in the background and reports its result when
// it ends. Arguments are: <project> [force] [reason...].
func (b *Bot) handleAnalyze(ctx context.Context, chatID, userID int64, args []string) {
	projectID := args[0]
	opts := analyzer.Options{
		UserID: "telegram:" + strconv.FormatInt(userID, 10),
		Reason: defaultReason,
	}
	rest := args[1:]
	if len(rest) > 0 && strings.EqualFold(rest[0], "force") {
		opts.Force = true
		rest = rest[1:]
	}
	if len(rest) > 0 {
		opts.Reason = strings.Join(rest, " ")
	}

	if sessionID, running := b.runner.Running(projectID); running {
		b.send(chatID, escapeMarkdown(fmt.Sprintf("Analysis of %s is already running (session %s).", projectID, sessionID)))
		return
	}
	project, ok := b.project(ctx, chatID, projectID)
	if !ok {
		return
	}

	mode := "incremental"
	if opts.Force {
		mode = "forced"
	}
	b.send(chatID, fmt.Sprintf("Started %s analysis of *%s*", mode, escapeMarkdown(project.Name)))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		res, err := b.runner.Run(ctx, projectID, opts)
		if err != nil {
			b.logger.Warn("Analysis requested from telegram failed",
				zap.String("project_id", projectID),
				zap.Error(err))
		}
		b.send(chatID, formatResult(project, res))
	}()
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64, projectID string) {
	project, ok := b.project(ctx, chatID, projectID)
	if !ok {
		return
	}

	var progress *models.SessionProgress
	if sessionID, running := b.runner.Running(projectID); running {
		p, found, err := b.runner.Progress(ctx, sessionID)
		if err != nil {
			b.logger.Warn("Failed to read progress", zap.Error(err), zap.String("session_id", sessionID))
		}
		if found {
			progress = p
		} else {
			progress = &models.SessionProgress{SessionID: sessionID, Phase: string(analyzer.PhasePreparing)}
		}
	}
	b.send(chatID, formatStatus(project, progress))
}

func (b *Bot) handleTopics(ctx context.Context, chatID int64, projectID string) {
	project, ok := b.project(ctx, chatID, projectID)
	if !ok {
		return
	}
	topics, err := b.store.ListTopics(ctx, projectID)
	if err != nil {
		b.logger.Error("Failed to list topics", zap.Error(err), zap.String("project_id", projectID))
		b.sendError(chatID, "Sorry, I couldn't load the topics.")
		return
	}
	b.send(chatID, formatTopics(project, topics))
}

func (b *Bot) handleHistory(ctx context.Context, chatID int64, projectID string) {
	project, ok := b.project(ctx, chatID, projectID)
	if !ok {
		return
	}
	history, err := b.store.ListHistory(ctx, projectID, historyLimit)
	if err != nil {
		b.logger.Error("Failed to list history", zap.Error(err), zap.String("project_id", projectID))
		b.sendError(chatID, "Sorry, I couldn't load the analysis history.")
		return
	}
	b.send(chatID, formatHistory(project, history))
}

// project loads the project or tells the operator why it could not.
func (b *Bot) project(ctx context.Context, chatID int64, projectID string) (*models.Project, bool) {
	project, err := b.store.GetProject(ctx, projectID)
	if errors.Is(err, storage.ErrNotFound) {
		b.send(chatID, escapeMarkdown(fmt.Sprintf("Project %s not found.", projectID)))
		return nil, false
	}
	if err != nil {
		b.logger.Error("Failed to get project", zap.Error(err), zap.String("project_id", projectID))
		b.sendError(chatID, "Sorry, I couldn't load the project.")
		return nil, false
	}
	return project, true
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendError(chatID int64, text string) {
	b.send(chatID, escapeMarkdown("⚠️ "+text))
}
