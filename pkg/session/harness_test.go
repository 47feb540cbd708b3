package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"paykiosk/pkg/crypto"
	"paykiosk/pkg/errors"
	"paykiosk/pkg/gateway"
	"paykiosk/pkg/models"
	"paykiosk/pkg/order"
	"paykiosk/pkg/reader"
)

const testPIN = "4321"

// fakeGateway answers from fields set by the test and counts calls
type fakeGateway struct {
	mu    sync.Mutex
	calls map[string]int

	auth       *gateway.AuthResult
	authErr    error
	catalog    []models.Category
	catalogErr error
	issuance   *gateway.IssuanceInfo
	issueErr   error
	confirmErr error
	cred       *gateway.Credential
	credErr    error
	status     *gateway.StatusResponse
	statusErr  error
	logoutErr  error

	lastOrder     order.Order
	lastDirection models.Direction
	lastAmount    decimal.Decimal
	lastNumber    string
	lastSecret    string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: make(map[string]int)}
}

func (g *fakeGateway) hit(name string) {
	g.mu.Lock()
	g.calls[name]++
	g.mu.Unlock()
}

func (g *fakeGateway) count(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

func (g *fakeGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, v := range g.calls {
		n += v
	}
	return n
}

func (g *fakeGateway) Authenticate(ctx context.Context, email, password string) (*gateway.AuthResult, error) {
	g.hit("login")
	if g.authErr != nil {
		return nil, g.authErr
	}
	return g.auth, nil
}

func (g *fakeGateway) Logout(ctx context.Context, token string) error {
	g.hit("logout")
	return g.logoutErr
}

func (g *fakeGateway) FetchCatalog(ctx context.Context, token string) ([]models.Category, error) {
	g.hit("catalog")
	return g.catalog, g.catalogErr
}

func (g *fakeGateway) FetchIssuanceInfo(ctx context.Context, token, uid string) (*gateway.IssuanceInfo, error) {
	g.hit("info")
	if g.issueErr != nil {
		return nil, g.issueErr
	}
	return g.issuance, nil
}

func (g *fakeGateway) ConfirmWrite(ctx context.Context, token, uid string) error {
	g.hit("write")
	return g.confirmErr
}

func (g *fakeGateway) ResolveCredential(ctx context.Context, token, cardNumber, secret string) (*gateway.Credential, error) {
	g.hit("read")
	g.lastNumber, g.lastSecret = cardNumber, secret
	if g.credErr != nil {
		return nil, g.credErr
	}
	return g.cred, nil
}

func (g *fakeGateway) Checkout(ctx context.Context, token, slug string, o order.Order) (*gateway.StatusResponse, error) {
	g.hit("checkout")
	g.lastOrder = o
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return g.status, nil
}

func (g *fakeGateway) MutateBalance(ctx context.Context, token, slug string, dir models.Direction, amount decimal.Decimal) (*gateway.StatusResponse, error) {
	g.hit("change-balance")
	g.lastDirection, g.lastAmount = dir, amount
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return g.status, nil
}

// fakeReader keeps blocks per card and records polling calls
type fakeReader struct {
	mu       sync.Mutex
	blocks   map[string]map[int]models.Block
	events   chan reader.Event
	writes   []int
	reads    []int
	readErr  error
	writeErr map[int]error

	starts, stops, pauses, resumes int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		blocks:   make(map[string]map[int]models.Block),
		events:   make(chan reader.Event, 8),
		writeErr: make(map[int]error),
	}
}

func (r *fakeReader) Start()  { r.mu.Lock(); r.starts++; r.mu.Unlock() }
func (r *fakeReader) Stop()   { r.mu.Lock(); r.stops++; r.mu.Unlock() }
func (r *fakeReader) Pause()  { r.mu.Lock(); r.pauses++; r.mu.Unlock() }
func (r *fakeReader) Resume() { r.mu.Lock(); r.resumes++; r.mu.Unlock() }
func (r *fakeReader) Close() error {
	return nil
}

func (r *fakeReader) Events() <-chan reader.Event {
	return r.events
}

func (r *fakeReader) ReadBlock(ctx context.Context, uid string, block int) (models.Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, block)
	if r.readErr != nil {
		return models.Block{}, r.readErr
	}
	return r.blocks[uid][block], nil
}

func (r *fakeReader) WriteBlock(ctx context.Context, uid string, block int, data models.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writeErr[block]; err != nil {
		return err
	}
	r.writes = append(r.writes, block)
	if r.blocks[uid] == nil {
		r.blocks[uid] = make(map[int]models.Block)
	}
	r.blocks[uid][block] = data
	return nil
}

func (r *fakeReader) put(uid string, block int, data models.Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blocks[uid] == nil {
		r.blocks[uid] = make(map[int]models.Block)
	}
	r.blocks[uid][block] = data
}

// manualScheduler keeps scheduled calls until the test fires them
type manualScheduler struct {
	mu      sync.Mutex
	pending map[string]scheduled
}

type scheduled struct {
	delay time.Duration
	fn    func()
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{pending: make(map[string]scheduled)}
}

func (s *manualScheduler) Debounce(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	s.pending[key] = scheduled{delay: d, fn: fn}
	s.mu.Unlock()
}

func (s *manualScheduler) Cancel(key string) {
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
}

func (s *manualScheduler) Clear() {
	s.mu.Lock()
	s.pending = make(map[string]scheduled)
	s.mu.Unlock()
}

func (s *manualScheduler) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

func (s *manualScheduler) fire(key string) bool {
	s.mu.Lock()
	p, ok := s.pending[key]
	delete(s.pending, key)
	s.mu.Unlock()
	if ok {
		p.fn()
	}
	return ok
}

// harness drives the controller without its goroutine: commands go
// straight to handle and timer messages are drained from the inbox
type harness struct {
	t     testing.TB
	ctx   context.Context
	c     *Controller
	gw    *fakeGateway
	rd    *fakeReader
	sched *manualScheduler
	codec *crypto.Codec
	seen  []Event
}

func newHarness(t testing.TB) *harness {
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		gw:    newFakeGateway(),
		rd:    newFakeReader(),
		sched: newManualScheduler(),
		codec: crypto.NewCodec(crypto.DecodeStrict, crypto.XORFactory()),
	}
	h.c = New(h.gw, h.codec, h.rd, Options{
		PIN:                testPIN,
		WelcomeDelay:       2 * time.Second,
		ResultDisplayDelay: 2 * time.Second,
		PromptTimeout:      30 * time.Second,
		Scheduler:          h.sched,
		Logger:             zaptest.NewLogger(t),
	})
	h.c.setScreen(models.ScreenWelcome)
	h.c.publishView()
	return h
}

func (h *harness) send(cmd Command) {
	h.c.handle(h.ctx, cmd)
	h.drain()
}

// drain handles messages posted by fired timers
func (h *harness) drain() {
	for {
		select {
		case cmd := <-h.c.inbox:
			h.c.handle(h.ctx, cmd)
		default:
			return
		}
	}
}

func (h *harness) fire(key string) bool {
	ok := h.sched.fire(key)
	h.drain()
	return ok
}

// events returns every event emitted so far
func (h *harness) events() []Event {
	for {
		select {
		case ev := <-h.c.events:
			h.seen = append(h.seen, ev)
		default:
			return h.seen
		}
	}
}

func (h *harness) eventsOf(kind EventKind) []Event {
	var out []Event
	for _, ev := range h.events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (h *harness) lastNotice() *Notice {
	notices := h.eventsOf(EventNotice)
	if len(notices) == 0 {
		return nil
	}
	return notices[len(notices)-1].Notice
}

func (h *harness) openPrompt() *Prompt {
	return h.c.View().Prompt
}

// loginAs goes from welcome to the card screen with the given role
func (h *harness) loginAs(role models.Role) {
	h.t.Helper()
	h.fire(timerScreen)
	h.gw.auth = &gateway.AuthResult{Token: "tok", RoleID: role}
	h.send(LoginSubmitted{Email: "operater@fest.rs", Password: "lozinka"})
	if h.c.screen != models.ScreenCard {
		h.t.Fatalf("login as %s ended on %s", role, h.c.screen)
	}
}

// prepareCard writes a valid card the way the write flow does
func (h *harness) prepareCard(uid, number, secret string) {
	h.t.Helper()
	h.rd.put(uid, models.BlockCardNumber, h.codec.EncodeField(number))
	sealed, err := h.codec.SealSecret(secret, testPIN)
	if err != nil {
		h.t.Fatalf("seal secret: %v", err)
	}
	h.rd.put(uid, models.BlockSecret, sealed)
}

// scanCard resolves a card to an account with the given balance
func (h *harness) scanCard(uid string, balance int64) {
	h.t.Helper()
	h.prepareCard(uid, "1306202515449568", "123")
	h.gw.cred = &gateway.Credential{Slug: "acc-" + uid, Balance: decimal.NewFromInt(balance)}
	h.send(CardDetected{ID: uid})
}

var errOffline = errors.ErrNetwork.Clone().WithCause(context.DeadlineExceeded)
