package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_paywall_bot/internal/domain"
	"tg_paywall_bot/internal/logging"
)

type accessGranter interface {
	Grant(ctx context.Context, userID int64, days int) (int64, error)
}

type chargeAppender interface {
	Append(ctx context.Context, record domain.ChargeRecord) (bool, error)
}

// paymentBot is the subset of the bot API the Processor needs.
type paymentBot interface {
	AnswerPreCheckoutQuery(ctx context.Context, params *bot.AnswerPreCheckoutQueryParams) (bool, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// paymentMetrics records payment outcomes; nil-safe via noopMetrics.
type paymentMetrics interface {
	RecordPaymentProcessed(days int)
	RecordPaymentDuplicate()
}

type noopMetrics struct{}

func (noopMetrics) RecordPaymentProcessed(int) {}
func (noopMetrics) RecordPaymentDuplicate()    {}

// Processor reacts to payment events delivered by the bot transport: it
// acknowledges pre-checkout queries and turns successful payments into ledger
// grants plus a confirmation message.
type Processor struct {
	bot     paymentBot
	ledger  accessGranter
	charges chargeAppender
	metrics paymentMetrics
	logger  *logrus.Entry
}

// NewProcessor constructs a Processor. metrics may be nil.
func NewProcessor(b paymentBot, ledger accessGranter, charges chargeAppender, metrics paymentMetrics, logger *logrus.Entry) (*Processor, error) {
	if b == nil {
		return nil, errors.New("payment bot is required")
	}
	if ledger == nil {
		return nil, errors.New("access ledger is required")
	}
	if charges == nil {
		return nil, errors.New("charge log is required")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Processor{
		bot:     b,
		ledger:  ledger,
		charges: charges,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// HandlePreCheckout acknowledges a pre-checkout query affirmatively. The
// transport will not finalize payment without this, and it must arrive within
// the platform's response window.
func (p *Processor) HandlePreCheckout(ctx context.Context, query *models.PreCheckoutQuery) {
	if p == nil || query == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	callCtx, cancel := context.WithTimeout(ctx, transportTimeout)
	defer cancel()

	if _, err := p.bot.AnswerPreCheckoutQuery(callCtx, &bot.AnswerPreCheckoutQueryParams{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}); err != nil {
		p.logger.WithFields(logging.Fields{
			"event":   "pre_checkout_error",
			"user_id": query.From.ID,
		}).WithError(err).Error("answering pre-checkout query failed")
		return
	}

	p.logger.WithFields(logging.Fields{
		"event":   "pre_checkout_ok",
		"user_id": query.From.ID,
		"payload": query.InvoicePayload,
	}).Info("pre-checkout acknowledged")
}

// HandleSuccessfulPayment decodes the purchased tier from the invoice
// payload, grants access, and confirms to the user. Redelivered events are
// detected through the charge log and leave the ledger untouched.
func (p *Processor) HandleSuccessfulPayment(ctx context.Context, msg *models.Message) error {
	if p == nil || msg == nil || msg.SuccessfulPayment == nil || msg.From == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID
	if chatID == 0 {
		chatID = userID
	}

	payment := msg.SuccessfulPayment
	days, err := DaysFromPayload(payment.InvoicePayload)
	if err != nil {
		p.logger.WithFields(logging.Fields{
			"event":   "payment_payload_error",
			"user_id": userID,
			"payload": payment.InvoicePayload,
		}).WithError(err).Error("unrecognized invoice payload")
		return err
	}

	chargeID := strings.TrimSpace(payment.ProviderPaymentChargeID)
	if chargeID == "" {
		chargeID = strings.TrimSpace(payment.TelegramPaymentChargeID)
	}

	inserted, err := p.charges.Append(ctx, domain.ChargeRecord{
		UserID:   userID,
		ChargeID: chargeID,
		Payload:  payment.InvoicePayload,
	})
	if err != nil {
		p.logger.WithFields(logging.Fields{
			"event":   "charge_append_error",
			"user_id": userID,
		}).WithError(err).Error("recording charge failed")
		return err
	}

	if !inserted {
		p.metrics.RecordPaymentDuplicate()
		p.logger.WithFields(logging.Fields{
			"event":     "payment_duplicate",
			"user_id":   userID,
			"charge_id": chargeID,
		}).Warn("duplicate payment delivery ignored")
		p.send(ctx, chatID, "This payment was already processed.")
		return nil
	}

	untilTS, err := p.ledger.Grant(ctx, userID, days)
	if err != nil {
		p.logger.WithFields(logging.Fields{
			"event":   "grant_error",
			"user_id": userID,
			"days":    days,
		}).WithError(err).Error("granting access failed")
		return err
	}

	p.metrics.RecordPaymentProcessed(days)
	p.logger.WithFields(logging.Fields{
		"event":     "payment_processed",
		"user_id":   userID,
		"days":      days,
		"until_ts":  untilTS,
		"charge_id": chargeID,
	}).Info("access granted")

	until := time.Unix(untilTS, 0).UTC().Format("2006-01-02 15:04 MST")
	p.send(ctx, chatID, fmt.Sprintf("Payment received, access active until %s.", until))

	return nil
}

func (p *Processor) send(ctx context.Context, chatID int64, text string) {
	callCtx, cancel := context.WithTimeout(ctx, transportTimeout)
	defer cancel()

	if _, err := p.bot.SendMessage(callCtx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		p.logger.WithFields(logging.Fields{
			"event":   "confirmation_send_error",
			"chat_id": chatID,
		}).WithError(err).Error("sending confirmation failed")
	}
}
