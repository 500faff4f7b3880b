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

	"tg_paywall_bot/internal/config"
	"tg_paywall_bot/internal/logging"
)

// transportTimeout bounds every outbound call to the Telegram API. A timeout
// is a transport failure, never a hang.
const transportTimeout = 10 * time.Second

const (
	invoiceTitle    = "Report access"
	invoiceCurrency = "RUB"
)

// ErrTransportFailure wraps any failed or malformed payment transport call.
// It is logged in full and surfaced to clients as an opaque server error.
var ErrTransportFailure = errors.New("payments: transport failure")

// invoiceSender is the subset of the bot API the Invoicer needs; narrow so
// tests can stub it.
type invoiceSender interface {
	SendInvoice(ctx context.Context, params *bot.SendInvoiceParams) (*models.Message, error)
	CreateInvoiceLink(ctx context.Context, params *bot.CreateInvoiceLinkParams) (string, error)
}

// Invoicer submits purchase invoices through the Telegram payment transport.
// Depending on configuration it either sends the invoice into the user's chat
// or creates a reusable invoice link for the mini-app to open.
type Invoicer struct {
	sender        invoiceSender
	providerToken string
	delivery      string
	logger        *logrus.Entry
}

// NewInvoicer constructs an Invoicer from the resolved configuration.
func NewInvoicer(sender invoiceSender, cfg config.Config, logger *logrus.Entry) (*Invoicer, error) {
	if sender == nil {
		return nil, errors.New("invoice sender is required")
	}
	if strings.TrimSpace(cfg.ProviderToken) == "" {
		return nil, errors.New("provider token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Invoicer{
		sender:        sender,
		providerToken: cfg.ProviderToken,
		delivery:      cfg.InvoiceDelivery,
		logger:        logger,
	}, nil
}

// Submit issues an invoice for the plan to the given chat. The returned link
// is empty in message delivery mode. Failures are not retried; the user buys
// again manually.
func (i *Invoicer) Submit(ctx context.Context, chatID int64, plan Plan) (string, error) {
	if i == nil || i.sender == nil {
		return "", errors.New("invoicer is not initialized")
	}
	if ctx == nil {
		return "", errors.New("context is required")
	}
	if chatID == 0 {
		return "", errors.New("chat id is required")
	}

	callCtx, cancel := context.WithTimeout(ctx, transportTimeout)
	defer cancel()

	description := fmt.Sprintf("%d day(s) of access", plan.Days)
	prices := []models.LabeledPrice{
		{Label: fmt.Sprintf("%d d.", plan.Days), Amount: plan.Amount},
	}

	if i.delivery == config.DeliveryLink {
		link, err := i.sender.CreateInvoiceLink(callCtx, &bot.CreateInvoiceLinkParams{
			Title:         invoiceTitle,
			Description:   description,
			Payload:       plan.Payload,
			ProviderToken: i.providerToken,
			Currency:      invoiceCurrency,
			Prices:        prices,
		})
		if err != nil {
			i.logger.WithFields(logging.Fields{
				"event":   "invoice_link_error",
				"chat_id": chatID,
				"days":    plan.Days,
			}).WithError(err).Error("creating invoice link failed")
			return "", fmt.Errorf("%w: create invoice link: %v", ErrTransportFailure, err)
		}
		if strings.TrimSpace(link) == "" {
			return "", fmt.Errorf("%w: empty invoice link", ErrTransportFailure)
		}

		i.logger.WithFields(logging.Fields{
			"event":   "invoice_link_created",
			"chat_id": chatID,
			"days":    plan.Days,
		}).Info("invoice link created")

		return link, nil
	}

	_, err := i.sender.SendInvoice(callCtx, &bot.SendInvoiceParams{
		ChatID:              chatID,
		Title:               invoiceTitle,
		Description:         description,
		Payload:             plan.Payload,
		ProviderToken:       i.providerToken,
		Currency:            invoiceCurrency,
		Prices:              prices,
		NeedEmail:           true,
		SendEmailToProvider: true,
	})
	if err != nil {
		i.logger.WithFields(logging.Fields{
			"event":   "invoice_send_error",
			"chat_id": chatID,
			"days":    plan.Days,
		}).WithError(err).Error("sending invoice failed")
		return "", fmt.Errorf("%w: send invoice: %v", ErrTransportFailure, err)
	}

	i.logger.WithFields(logging.Fields{
		"event":   "invoice_sent",
		"chat_id": chatID,
		"days":    plan.Days,
	}).Info("invoice sent")

	return "", nil
}
