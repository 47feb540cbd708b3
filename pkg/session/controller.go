// Package session drives the kiosk: it owns the operator session, moves
// between screens and sequences card and payment operations. All state is
// mutated by a single goroutine that consumes commands from one inbox.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paykiosk/pkg/errors"
	"paykiosk/pkg/gateway"
	"paykiosk/pkg/models"
	"paykiosk/pkg/order"
	"paykiosk/pkg/performance"
	"paykiosk/pkg/reader"
	"paykiosk/pkg/utils"
)

// Gateway is the part of the remote API the controller calls
type Gateway interface {
	Authenticate(ctx context.Context, email, password string) (*gateway.AuthResult, error)
	Logout(ctx context.Context, token string) error
	FetchCatalog(ctx context.Context, token string) ([]models.Category, error)
	FetchIssuanceInfo(ctx context.Context, token, uid string) (*gateway.IssuanceInfo, error)
	ConfirmWrite(ctx context.Context, token, uid string) error
	ResolveCredential(ctx context.Context, token, cardNumber, secret string) (*gateway.Credential, error)
	Checkout(ctx context.Context, token, slug string, o order.Order) (*gateway.StatusResponse, error)
	MutateBalance(ctx context.Context, token, slug string, dir models.Direction, amount decimal.Decimal) (*gateway.StatusResponse, error)
}

// Codec converts card fields to and from blocks
type Codec interface {
	EncodeField(s string) models.Block
	DecodeField(b models.Block) (string, error)
	SealSecret(secret, pin string) (models.Block, error)
	OpenSecret(b models.Block, pin string) (string, error)
}

// Scheduler runs keyed deferred calls; scheduling a key again replaces
// the pending call
type Scheduler interface {
	Debounce(key string, d time.Duration, fn func())
	Cancel(key string)
	Clear()
}

// Options tunes the controller
type Options struct {
	PIN                string
	WelcomeDelay       time.Duration
	ResultDisplayDelay time.Duration
	// PromptTimeout closes an unanswered prompt; zero waits forever
	PromptTimeout time.Duration
	Scheduler     Scheduler
	Logger        *zap.Logger
	Now           func() time.Time
}

const (
	inboxSize       = 32
	eventBufferSize = 64
	cardIOTimeout   = 2 * time.Second

	timerScreen = "screen"
	timerPrompt = "prompt"
)

// ErrStopped is returned by Submit once the controller loop has exited
var ErrStopped = errors.New(errors.ErrTypeApp, "CONTROLLER_STOPPED", "session controller is not running")

type readerState int

const (
	readerOff readerState = iota
	readerPolling
	readerPaused
)

type pendingPrompt struct {
	Prompt
	resolve func(ctx context.Context, outcome PromptOutcome)
}

// Controller is the session state machine
type Controller struct {
	gw        Gateway
	codec     Codec
	reader    reader.CardReader
	opts      Options
	logger    *zap.Logger
	timers    Scheduler
	validator *errors.Validator
	now       func() time.Time

	inbox  chan Command
	events chan Event
	done   chan struct{}
	once   sync.Once

	// owned by the loop goroutine
	session    models.Session
	screen     models.Screen
	screenSeq  uint64
	leaveSeq   uint64
	prompt     *pendingPrompt
	deferred   []screenTimer
	rstate     readerState
	category   string
	lastIssued *models.IssuedCard

	viewMu sync.RWMutex
	view   View
}

// New creates a controller. It does nothing until Run is called.
func New(gw Gateway, codec Codec, rd reader.CardReader, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = performance.NewDebouncer()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		gw:        gw,
		codec:     codec,
		reader:    rd,
		opts:      opts,
		logger:    opts.Logger,
		timers:    opts.Scheduler,
		validator: errors.NewValidator(),
		now:       opts.Now,
		inbox:     make(chan Command, inboxSize),
		events:    make(chan Event, eventBufferSize),
		done:      make(chan struct{}),
	}
}

// Events is the outbound event stream for the UI collaborator
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Submit queues a command for the controller loop
func (c *Controller) Submit(ctx context.Context, cmd Command) error {
	select {
	case <-c.done:
		return ErrStopped.Clone()
	default:
	}
	select {
	case c.inbox <- cmd:
		return nil
	case <-c.done:
		return ErrStopped.Clone()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the state machine until ctx is cancelled
func (c *Controller) Run(ctx context.Context) error {
	defer c.once.Do(func() { close(c.done) })

	if c.reader != nil {
		go c.pumpReader(ctx)
	}

	c.setScreen(models.ScreenWelcome)
	c.publishView()

	for {
		select {
		case <-ctx.Done():
			c.timers.Clear()
			c.stopReader()
			c.logger.Info("session controller stopped")
			return nil
		case cmd := <-c.inbox:
			c.handle(ctx, cmd)
		}
	}
}

func (c *Controller) pumpReader(ctx context.Context) {
	events := c.reader.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			c.post(readerEvent{event: ev})
		}
	}
}

// post is used by timers and the reader pump
func (c *Controller) post(cmd Command) {
	select {
	case c.inbox <- cmd:
	case <-c.done:
	}
}

func (c *Controller) handle(ctx context.Context, cmd Command) {
	defer c.publishView()

	if c.prompt != nil {
		c.handleWhilePrompt(ctx, cmd)
		return
	}

	switch m := cmd.(type) {
	case LoginSubmitted:
		c.login(ctx, m)
	case readerEvent:
		if m.event.Kind == reader.CardDetected {
			c.cardDetected(ctx, m.event.UID)
		}
	case CardDetected:
		c.cardDetected(ctx, m.ID)
	case CategorySelected:
		c.selectCategory(m.Name)
	case OrderAction:
		c.orderAction(m)
	case CreditChangeRequested:
		c.changeCredit(ctx, m)
	case ChargeBackRequested:
		if c.screen == models.ScreenCharge {
			c.setScreen(models.ScreenCard)
		}
	case LogoutRequested:
		c.requestLogout()
	case screenTimer:
		c.fireScreenTimer(m)
	case PromptAnswered, promptExpired:
		c.logger.Debug("answer for a closed prompt ignored")
	default:
		c.logger.Warn("unknown command", zap.String("command", fmt.Sprintf("%T", cmd)))
	}
}

// handleWhilePrompt only lets the prompt be resolved; screen timers wait
// until it is closed and everything else is dropped
func (c *Controller) handleWhilePrompt(ctx context.Context, cmd Command) {
	switch m := cmd.(type) {
	case PromptAnswered:
		if m.PromptID != c.prompt.ID {
			c.logger.Debug("answer for another prompt ignored", zap.String("prompt_id", m.PromptID))
			return
		}
		outcome := PromptDeclined
		if m.Accepted {
			outcome = PromptAccepted
		}
		c.closePrompt(ctx, outcome)
	case promptExpired:
		if m.id == c.prompt.ID {
			c.closePrompt(ctx, PromptTimedOut)
		}
	case screenTimer:
		c.deferred = append(c.deferred, m)
	default:
		c.logger.Debug("command dropped while a prompt is open",
			zap.String("command", fmt.Sprintf("%T", cmd)),
			zap.String("prompt", string(c.prompt.Kind)))
	}
}

// setScreen runs the exit and enter actions of a transition
func (c *Controller) setScreen(next models.Screen) {
	prev := c.screen
	if prev == next {
		return
	}

	c.screenSeq++
	c.timers.Cancel(timerScreen)
	if prev == models.ScreenCard {
		c.stopReader()
	}

	c.screen = next
	c.logger.Info("screen changed",
		zap.String("from", string(prev)),
		zap.String("to", string(next)))
	c.emit(Event{Kind: EventScreenChanged, Screen: next})

	switch next {
	case models.ScreenWelcome:
		c.scheduleScreen(c.opts.WelcomeDelay, models.ScreenLogin)
	case models.ScreenCard:
		c.startReader()
	}
}

// scheduleScreen moves to target after d unless the screen changes first
func (c *Controller) scheduleScreen(d time.Duration, target models.Screen) {
	if d <= 0 {
		c.setScreen(target)
		return
	}
	t := screenTimer{seq: c.screenSeq, target: target}
	c.leaveSeq = c.screenSeq
	c.timers.Debounce(timerScreen, d, func() { c.post(t) })
}

// leaving reports whether the current screen already has a transition
// scheduled
func (c *Controller) leaving() bool {
	return c.leaveSeq != 0 && c.leaveSeq == c.screenSeq
}

func (c *Controller) fireScreenTimer(t screenTimer) {
	if t.seq != c.screenSeq {
		return
	}
	c.setScreen(t.target)
}

func (c *Controller) openPrompt(kind PromptKind, title, message string, resolve func(context.Context, PromptOutcome)) {
	if c.prompt != nil {
		c.logger.Warn("prompt already open", zap.String("prompt", string(c.prompt.Kind)))
		return
	}

	p := Prompt{
		ID:      utils.GenerateShortUUID(),
		Kind:    kind,
		Title:   title,
		Message: message,
	}
	if c.opts.PromptTimeout > 0 {
		expires := c.now().Add(c.opts.PromptTimeout)
		p.ExpiresAt = &expires
		id := p.ID
		c.timers.Debounce(timerPrompt, c.opts.PromptTimeout, func() { c.post(promptExpired{id: id}) })
	}

	c.prompt = &pendingPrompt{Prompt: p, resolve: resolve}
	c.pauseReader()
	c.emit(Event{Kind: EventPrompt, Prompt: &p})
}

func (c *Controller) closePrompt(ctx context.Context, outcome PromptOutcome) {
	p := c.prompt
	c.prompt = nil
	c.timers.Cancel(timerPrompt)

	c.logger.Info("prompt closed",
		zap.String("prompt", string(p.Kind)),
		zap.String("outcome", string(outcome)))
	closed := p.Prompt
	c.emit(Event{Kind: EventPromptClosed, Prompt: &closed, Outcome: outcome})

	p.resolve(ctx, outcome)

	if c.prompt == nil && c.screen == models.ScreenCard {
		c.startReader()
	}

	deferred := c.deferred
	c.deferred = nil
	for _, t := range deferred {
		c.fireScreenTimer(t)
	}
}

func (c *Controller) startReader() {
	if c.reader == nil {
		return
	}
	switch c.rstate {
	case readerOff:
		c.reader.Start()
	case readerPaused:
		c.reader.Resume()
	default:
		return
	}
	c.rstate = readerPolling
}

func (c *Controller) pauseReader() {
	if c.reader == nil || c.rstate != readerPolling {
		return
	}
	c.reader.Pause()
	c.rstate = readerPaused
}

func (c *Controller) stopReader() {
	if c.reader == nil || c.rstate == readerOff {
		return
	}
	c.reader.Stop()
	c.rstate = readerOff
}

// emit never blocks the loop; when the buffer is full the oldest event
// is dropped
func (c *Controller) emit(ev Event) {
	ev.At = c.now()
	select {
	case c.events <- ev:
		return
	default:
	}

	select {
	case <-c.events:
		c.logger.Warn("event buffer full, dropped oldest event")
	default:
	}
	select {
	case c.events <- ev:
	default:
	}
}

func (c *Controller) notify(level NoticeLevel, title, message, code string) {
	c.emit(Event{Kind: EventNotice, Notice: &Notice{
		Level:   level,
		Title:   title,
		Message: message,
		Code:    code,
	}})
}
