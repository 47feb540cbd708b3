package session

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paykiosk/pkg/errors"
	"paykiosk/pkg/models"
	"paykiosk/pkg/order"
)

func (c *Controller) orderAction(m OrderAction) {
	if c.screen != models.ScreenCatalog {
		c.logger.Debug("order action ignored", zap.String("screen", string(c.screen)))
		return
	}
	if c.leaving() {
		c.logger.Debug("order action ignored while showing the result", zap.String("kind", string(m.Kind)))
		return
	}

	switch m.Kind {
	case OrderFinish:
		o := order.Aggregate(m.Lines)
		if o.Empty() {
			c.notify(NoticeWarning, "Empty basket", "Add products before finishing the order", "")
			return
		}
		c.openPrompt(PromptOrderConfirm, "Confirm purchase", order.Summary(o),
			func(ctx context.Context, outcome PromptOutcome) {
				switch outcome {
				case PromptAccepted:
					c.checkout(ctx, o)
				case PromptTimedOut:
					c.notify(NoticeInfo, "Purchase not confirmed", "The confirmation timed out", "")
				}
			})

	case OrderCancel:
		c.openPrompt(PromptOrderCancel, "Cancel order", "Are you sure you want to cancel the order?",
			func(ctx context.Context, outcome PromptOutcome) {
				if outcome != PromptAccepted {
					return
				}
				c.emit(Event{Kind: EventBasketCleared})
				c.notify(NoticeWarning, "Order cancelled", "The order was cancelled", "")
				c.setScreen(models.ScreenCard)
			})

	default:
		c.logger.Warn("unknown order action", zap.String("kind", string(m.Kind)))
	}
}

// checkout submits the order. The balance is debited only on an explicit
// success status; whatever the outcome the basket is cleared and the
// kiosk returns to the card screen after the result delay.
func (c *Controller) checkout(ctx context.Context, o order.Order) {
	total := decimal.NewFromInt(o.TotalPrice)

	resp, err := c.gw.Checkout(ctx, c.session.AuthToken, c.session.AccountSlug, o)
	switch {
	case err != nil:
		c.logFailure("checkout failed", err, zap.String("slug", c.session.AccountSlug))
		c.notify(NoticeError, "Order failed", errors.UserMessage(err, "Order processing failed"), codeOf(err))

	case resp.Succeeded():
		c.session.Balance = c.session.Balance.Sub(total)
		c.logger.Info("order completed",
			zap.String("slug", c.session.AccountSlug),
			zap.Int64("total", o.TotalPrice),
			zap.String("balance", c.session.Balance.String()))
		c.notify(NoticeSuccess, "Order completed",
			fmt.Sprintf("New balance: %s", c.session.Balance.String()), "")

	default:
		msg := resp.Message
		if msg == "" {
			msg = "Order processing failed"
		}
		c.logger.Warn("checkout declined",
			zap.String("slug", c.session.AccountSlug),
			zap.String("status", resp.Status),
			zap.Int("http_status", resp.HTTPStatus),
			zap.String("message", resp.Message))
		c.notify(NoticeError, "Order failed", msg, errors.ErrDeclined.Code)
	}

	c.emit(Event{Kind: EventBasketCleared})
	c.scheduleScreen(c.opts.ResultDisplayDelay, models.ScreenCard)
}

// changeCredit validates locally, then asks the server. The local balance
// follows only an explicit success status, for both directions.
func (c *Controller) changeCredit(ctx context.Context, m CreditChangeRequested) {
	if c.screen != models.ScreenCharge {
		c.logger.Debug("credit change ignored", zap.String("screen", string(c.screen)))
		return
	}

	var res *errors.ValidationResult
	switch m.Direction {
	case models.DirectionIncrease:
		res = c.validator.ValidateAmount(m.Amount)
	case models.DirectionDecrease:
		res = c.validator.ValidateDebit(m.Amount, c.session.Balance)
	default:
		c.notify(NoticeError, "Invalid request", "Unknown credit operation", "")
		return
	}
	if !res.IsValid {
		err := res.GetFirstError()
		c.notify(NoticeWarning, "Credit not changed", err.GetUserMessage(), err.Code)
		return
	}

	resp, err := c.gw.MutateBalance(ctx, c.session.AuthToken, c.session.AccountSlug, m.Direction, m.Amount)
	switch {
	case err != nil:
		c.logFailure("balance change failed", err,
			zap.String("slug", c.session.AccountSlug),
			zap.String("direction", m.Direction.String()))
		c.notify(NoticeError, "Credit not changed",
			errors.UserMessage(err, "Changing the credit failed. Please try again"), codeOf(err))

	case resp.Succeeded():
		if m.Direction == models.DirectionIncrease {
			c.session.Balance = c.session.Balance.Add(m.Amount)
		} else {
			c.session.Balance = c.session.Balance.Sub(m.Amount)
		}
		c.logger.Info("balance changed",
			zap.String("slug", c.session.AccountSlug),
			zap.String("direction", m.Direction.String()),
			zap.String("amount", m.Amount.String()),
			zap.String("balance", c.session.Balance.String()))
		c.notify(NoticeSuccess, "Credit changed",
			fmt.Sprintf("New balance: %s", c.session.Balance.String()), "")

	default:
		msg := resp.Message
		if msg == "" && len(resp.Data) > 0 {
			msg = string(resp.Data)
		}
		if msg == "" {
			msg = "The server declined the change"
		}
		c.logger.Warn("balance change declined",
			zap.String("slug", c.session.AccountSlug),
			zap.String("status", resp.Status),
			zap.Int("http_status", resp.HTTPStatus))
		c.notify(NoticeError, "Credit not changed", msg, errors.ErrDeclined.Code)
	}

	c.setScreen(models.ScreenCard)
}
