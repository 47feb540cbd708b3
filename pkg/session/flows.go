package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"paykiosk/pkg/errors"
	"paykiosk/pkg/models"
	"paykiosk/pkg/utils"
)

// Write flow stage codes, reported in the notice and the logs
const (
	StageIssuance        = "ISSUANCE_FAILED"
	StageCardNumberWrite = "CARD_NUMBER_WRITE_FAILED"
	StageSecretWrite     = "SECRET_WRITE_FAILED"
	StageServerConfirm   = "SERVER_CONFIRM_FAILED"

	CodeReadFailed = "CARD_READ_FAILED"
)

func (c *Controller) login(ctx context.Context, m LoginSubmitted) {
	if c.screen != models.ScreenLogin {
		c.logger.Debug("login ignored", zap.String("screen", string(c.screen)))
		return
	}

	if res := c.validator.ValidateCredentials(m.Email, m.Password); !res.IsValid {
		err := res.GetFirstError()
		c.notify(NoticeWarning, "Login failed", err.GetUserMessage(), err.Code)
		return
	}

	auth, err := c.gw.Authenticate(ctx, m.Email, m.Password)
	if err != nil {
		c.logFailure("login failed", err, zap.String("email", m.Email))
		c.notify(NoticeWarning, "Login failed",
			errors.UserMessage(err, "Login failed. Please try again"), codeOf(err))
		return
	}
	if !auth.RoleID.Valid() {
		c.logger.Warn("login with unsupported role",
			zap.String("email", m.Email),
			zap.Int("role", int(auth.RoleID)))
		c.notify(NoticeWarning, "Login failed",
			errors.ErrUnknownRole.GetUserMessage(), errors.ErrUnknownRole.Code)
		return
	}

	s := models.Session{
		AuthToken:     auth.Token,
		Role:          auth.RoleID,
		Email:         m.Email,
		LoggedInAt:    c.now(),
		PendingScreen: auth.RoleID.PendingScreen(),
	}

	if s.Role == models.RoleCatalogOperator {
		cats, err := c.gw.FetchCatalog(ctx, s.AuthToken)
		if err != nil {
			c.logFailure("catalog fetch failed", err, zap.String("email", m.Email))
			c.notify(NoticeError, "Login failed",
				errors.UserMessage(err, "The product catalog could not be loaded"), codeOf(err))
			return
		}
		s.Categories = cats
	}

	c.session = s
	c.category = ""
	c.lastIssued = nil
	c.logger.Info("operator logged in",
		zap.String("email", s.Email),
		zap.String("role", s.Role.String()))

	if s.Role == models.RoleCatalogOperator {
		c.emit(Event{Kind: EventCategoriesLoaded, Categories: copyCategories(s.Categories)})
	}
	c.setScreen(models.ScreenCard)
}

func (c *Controller) requestLogout() {
	c.openPrompt(PromptLogout, "Logout", "Do you want to log out?",
		func(ctx context.Context, outcome PromptOutcome) {
			switch outcome {
			case PromptAccepted:
				c.logout(ctx)
			case PromptDeclined:
				if c.session.Authenticated() {
					c.setScreen(models.ScreenCard)
				}
			}
		})
}

// logout ends the session. The remote call is best effort.
func (c *Controller) logout(ctx context.Context) {
	if c.session.Authenticated() {
		if err := c.gw.Logout(ctx, c.session.AuthToken); err != nil {
			c.logFailure("remote logout failed", err)
		}
	}

	c.logger.Info("operator logged out", zap.String("email", c.session.Email))
	c.session.Reset()
	c.category = ""
	c.lastIssued = nil
	c.setScreen(models.ScreenLogin)
}

func (c *Controller) selectCategory(name string) {
	if c.screen != models.ScreenCatalog {
		return
	}
	for _, cat := range c.session.Categories {
		if cat.Name == name {
			c.category = name
			c.logger.Debug("category selected", zap.String("category", name))
			return
		}
	}
	c.notify(NoticeWarning, "Unknown category", fmt.Sprintf("Category %q is not in the catalog", name), "")
}

func (c *Controller) cardDetected(ctx context.Context, rawID string) {
	if c.screen != models.ScreenCard || !c.session.Authenticated() {
		c.logger.Debug("card ignored", zap.String("screen", string(c.screen)))
		return
	}

	uid := utils.NormalizeUID(rawID)
	if res := c.validator.ValidateCardUID(uid); !res.IsValid {
		err := res.GetFirstError()
		c.logFailure("card identifier rejected", err)
		c.notify(NoticeError, "Card read failed", err.GetUserMessage(), err.Code)
		return
	}

	// No second detection may interleave with the flow
	c.pauseReader()
	c.session.CardID = uid
	c.logger.Info("card detected",
		zap.String("card_id", uid),
		zap.String("role", c.session.Role.String()))

	if c.session.Role.WritesCards() {
		c.writeFlow(ctx, uid)
	} else {
		c.readFlow(ctx, uid)
	}

	if c.screen == models.ScreenCard && c.prompt == nil {
		c.startReader()
	}
}

// writeFlow issues a blank card: fetch the credential pair, write the card
// number then the sealed secret, then confirm to the server. Each failure
// stops the remaining steps.
func (c *Controller) writeFlow(ctx context.Context, uid string) {
	token := c.session.AuthToken

	info, err := c.gw.FetchIssuanceInfo(ctx, token, uid)
	if err == nil && (info.CardNumber == "" || info.Secret == "") {
		err = errors.New(errors.ErrTypeBusiness, "ISSUANCE_EMPTY", "server returned an empty credential pair")
	}
	if err != nil {
		fallback := "The server did not allow registering this card"
		if errors.IsType(err, errors.ErrTypeBusiness) {
			fallback = errors.UserMessage(err, fallback)
		}
		c.writeFailed(uid, StageIssuance, err, fallback)
		return
	}

	ioCtx, cancel := context.WithTimeout(ctx, cardIOTimeout)
	defer cancel()

	if err := c.reader.WriteBlock(ioCtx, uid, models.BlockCardNumber, c.codec.EncodeField(info.CardNumber)); err != nil {
		c.writeFailed(uid, StageCardNumberWrite, err, "Writing the card number failed")
		return
	}

	sealed, err := c.codec.SealSecret(info.Secret, c.opts.PIN)
	if err == nil {
		err = c.reader.WriteBlock(ioCtx, uid, models.BlockSecret, sealed)
	}
	if err != nil {
		c.writeFailed(uid, StageSecretWrite, err, "Writing the secret failed")
		return
	}

	issued := &models.IssuedCard{
		UID:        uid,
		CardNumber: info.CardNumber,
		Secret:     info.Secret,
	}
	details := fmt.Sprintf("UID: %s\nCard number: %s\nSecret: %s", uid, info.CardNumber, info.Secret)

	// Both blocks are on the card; a failed confirmation leaves it usable
	if err := c.gw.ConfirmWrite(ctx, token, uid); err != nil {
		c.logFailure("card written but not confirmed", err,
			zap.String("card_id", uid), zap.String("stage", StageServerConfirm))
		c.lastIssued = issued
		c.emit(Event{Kind: EventCardIssued, Card: issued})
		c.notify(NoticeWarning, "Card written, server not notified", details, StageServerConfirm)
		return
	}

	issued.Confirmed = true
	c.lastIssued = issued
	c.logger.Info("card issued", zap.String("card_id", uid))
	c.emit(Event{Kind: EventCardIssued, Card: issued})
	c.notify(NoticeSuccess, "Card registered", details, "")
}

func (c *Controller) writeFailed(uid, stage string, err error, message string) {
	c.logFailure("card write failed", err, zap.String("card_id", uid), zap.String("stage", stage))
	c.notify(NoticeError, "Card registration failed", message, stage)
}

// readFlow resolves a scanned card to its account. Every failure shows the
// same notice; the log keeps the cause.
func (c *Controller) readFlow(ctx context.Context, uid string) {
	number, secret, err := c.readCard(ctx, uid)
	if err != nil {
		c.readFailed(uid, "card", err)
		return
	}

	cred, err := c.gw.ResolveCredential(ctx, c.session.AuthToken, number, secret)
	if err != nil {
		c.readFailed(uid, "resolve", err)
		return
	}

	c.session.AccountSlug = cred.Slug
	c.session.Balance = cred.Balance
	c.logger.Info("card resolved",
		zap.String("card_id", uid),
		zap.String("slug", cred.Slug),
		zap.String("balance", cred.Balance.String()))

	next := c.session.PendingScreen
	if next == "" {
		next = models.ScreenCard
	}
	c.setScreen(next)
}

// readCard reads and decodes both payment blocks
func (c *Controller) readCard(ctx context.Context, uid string) (string, string, error) {
	ioCtx, cancel := context.WithTimeout(ctx, cardIOTimeout)
	defer cancel()

	numberBlock, err := c.reader.ReadBlock(ioCtx, uid, models.BlockCardNumber)
	if err != nil {
		return "", "", err
	}
	number, err := c.codec.DecodeField(numberBlock)
	if err != nil {
		return "", "", err
	}
	if number == "" {
		return "", "", errors.ErrEmptyCardField.Clone().WithContext("block", models.BlockCardNumber)
	}

	secretBlock, err := c.reader.ReadBlock(ioCtx, uid, models.BlockSecret)
	if err != nil {
		return "", "", err
	}
	secret, err := c.codec.OpenSecret(secretBlock, c.opts.PIN)
	if err != nil {
		return "", "", err
	}
	if secret == "" {
		return "", "", errors.ErrEmptyCardField.Clone().WithContext("block", models.BlockSecret)
	}
	return number, secret, nil
}

func (c *Controller) readFailed(uid, step string, err error) {
	c.logFailure("card read failed", err,
		zap.String("card_id", uid),
		zap.String("step", step),
		zap.String("kind", string(errors.TypeOf(err))))
	c.notify(NoticeError, "Card read failed", "Please tap the card again", CodeReadFailed)
}

func (c *Controller) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("error_type", string(errors.TypeOf(err))), zap.Error(err))
	if appErr, ok := errors.As(err); ok {
		fields = append(fields, zap.String("error_code", appErr.Code))
	}
	c.logger.Warn(msg, fields...)
}

func codeOf(err error) string {
	if appErr, ok := errors.As(err); ok {
		return appErr.Code
	}
	return ""
}
