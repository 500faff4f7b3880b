// Package telegram hosts the Telegram client, update routing, and chat
// command handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_paywall_bot/internal/config"
	"tg_paywall_bot/internal/domain"
	"tg_paywall_bot/internal/logging"
	"tg_paywall_bot/internal/metrics"
	"tg_paywall_bot/internal/payments"
)

const sendTimeout = 10 * time.Second

const welcomeText = "This bot sells access to reports. Send /buy for 30 days or /buy 1 for a single day."

// botAPI is the subset of the bot client used across the process: polling
// plus the outbound calls the payment flow needs.
type botAPI interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendInvoice(ctx context.Context, params *bot.SendInvoiceParams) (*models.Message, error)
	CreateInvoiceLink(ctx context.Context, params *bot.CreateInvoiceLinkParams) (string, error)
	AnswerPreCheckoutQuery(ctx context.Context, params *bot.AnswerPreCheckoutQueryParams) (bool, error)
}

type paymentProcessor interface {
	HandlePreCheckout(ctx context.Context, query *models.PreCheckoutQuery)
	HandleSuccessfulPayment(ctx context.Context, msg *models.Message) error
}

type invoiceSubmitter interface {
	Submit(ctx context.Context, chatID int64, plan payments.Plan) (string, error)
}

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"pre_checkout_query",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Deps carries the storage and observability pieces the client wires into
// its payment flow. Metrics may be nil.
type Deps struct {
	Ledger  *domain.Ledger
	Charges *domain.ChargeLog
	Metrics *metrics.Collector
	Logger  *logrus.Entry
}

// Client wraps the Telegram bot instance together with the payment flow
// built on top of it.
type Client struct {
	bot      botRunner
	sender   messageSender
	payments paymentProcessor
	invoicer invoiceSubmitter
	logger   *logrus.Entry
}

type botRunner interface {
	Start(ctx context.Context)
}

// NewClient initializes the Telegram bot with long polling and builds the
// invoicer and payment processor on top of the shared transport.
func NewClient(cfg config.Config, deps Deps) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("access ledger is required")
	}
	if deps.Charges == nil {
		return nil, errors.New("charge log is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Logger()
	}

	c := &Client{logger: deps.Logger}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(func(ctx context.Context, _ *bot.Bot, update *models.Update) {
			c.handleUpdate(ctx, update)
		}),
		bot.WithErrorsHandler(errorHandler(deps.Logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	invoicer, err := payments.NewInvoicer(tgBot, cfg, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("init invoicer: %w", err)
	}

	var processor *payments.Processor
	if deps.Metrics != nil {
		processor, err = payments.NewProcessor(tgBot, deps.Ledger, deps.Charges, deps.Metrics, deps.Logger)
	} else {
		processor, err = payments.NewProcessor(tgBot, deps.Ledger, deps.Charges, nil, deps.Logger)
	}
	if err != nil {
		return nil, fmt.Errorf("init payment processor: %w", err)
	}

	c.bot = tgBot
	c.sender = tgBot
	c.payments = processor
	c.invoicer = invoicer

	return c, nil
}

// Invoicer exposes the invoice transport for the HTTP purchase endpoint.
func (c *Client) Invoicer() invoiceSubmitter {
	return c.invoicer
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// handleUpdate routes one update. Payment events go to the processor, chat
// commands are handled inline, everything else is only logged.
func (c *Client) handleUpdate(ctx context.Context, update *models.Update) {
	if update == nil {
		return
	}

	if update.PreCheckoutQuery != nil {
		c.payments.HandlePreCheckout(ctx, update.PreCheckoutQuery)
		return
	}

	msg := update.Message
	if msg == nil {
		c.logger.WithField("event", "telegram_update_ignored").Debug("update without message ignored")
		return
	}

	if msg.SuccessfulPayment != nil {
		// Failure paths are logged inside the processor.
		_ = c.payments.HandleSuccessfulPayment(ctx, msg)
		return
	}

	c.handleCommand(ctx, msg)
}

func (c *Client) handleCommand(ctx context.Context, msg *models.Message) {
	cmd, args := splitCommand(msg.Text)

	switch cmd {
	case "/start":
		c.reply(ctx, msg.Chat.ID, welcomeText)
	case "/buy":
		c.handleBuyCommand(ctx, msg, args)
	default:
		c.logger.WithFields(logging.Fields{
			"event":   "telegram_update",
			"user_id": userID(msg.From),
			"chat_id": msg.Chat.ID,
			"text":    strings.TrimSpace(msg.Text),
		}).Info("telegram update received")
	}
}

// handleBuyCommand accepts "/buy" for the default 30 day tier or "/buy <days>"
// for another listed tier.
func (c *Client) handleBuyCommand(ctx context.Context, msg *models.Message, args string) {
	days := 30
	if args != "" {
		parsed, err := strconv.Atoi(args)
		if err != nil {
			c.reply(ctx, msg.Chat.ID, plansText())
			return
		}
		days = parsed
	}

	plan, err := payments.PlanForDays(days)
	if err != nil {
		c.reply(ctx, msg.Chat.ID, plansText())
		return
	}

	link, err := c.invoicer.Submit(ctx, msg.Chat.ID, plan)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "buy_command_error",
			"user_id": userID(msg.From),
			"chat_id": msg.Chat.ID,
			"days":    days,
		}).WithError(err).Error("invoice submission from chat command failed")
		c.reply(ctx, msg.Chat.ID, "Could not create an invoice, please try again later.")
		return
	}

	if link != "" {
		c.reply(ctx, msg.Chat.ID, "Pay here: "+link)
	}
}

func (c *Client) reply(ctx context.Context, chatID int64, text string) {
	callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if _, err := c.sender.SendMessage(callCtx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "telegram_send_error",
			"chat_id": chatID,
		}).WithError(err).Error("sending chat reply failed")
	}
}

func plansText() string {
	var b strings.Builder
	b.WriteString("Available plans:")
	for _, plan := range payments.Plans() {
		fmt.Fprintf(&b, "\n/buy %d", plan.Days)
	}
	return b.String()
}

// splitCommand returns the leading command with any @botname suffix removed
// and the remainder of the message.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}

	cmd, args, _ := strings.Cut(text, " ")
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}

	return cmd, strings.TrimSpace(args)
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}
