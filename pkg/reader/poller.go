package reader

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"paykiosk/pkg/config"
)

const eventBuffer = 8

// Poller asks a Detector for the card in the field on a fixed interval and
// reports each new presence exactly once. The next poll is scheduled only
// after the previous one has returned, so polls never overlap.
type Poller struct {
	detector      Detector
	interval      time.Duration
	detectTimeout time.Duration
	logger        *zap.Logger
	events        chan Event
	now           func() time.Time

	mu      sync.Mutex
	lastUID string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPoller creates an idle poller
func NewPoller(d Detector, interval, detectTimeout time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = config.MaxPollInterval
	}
	if detectTimeout <= 0 || detectTimeout >= interval {
		detectTimeout = interval / 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		detector:      d,
		interval:      interval,
		detectTimeout: detectTimeout,
		logger:        logger,
		events:        make(chan Event, eventBuffer),
		now:           time.Now,
	}
}

// Events returns the presence event stream. It is never closed.
func (p *Poller) Events() <-chan Event {
	return p.events
}

// Polling reports whether the loop is running
func (p *Poller) Polling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// LastUID returns the remembered card, empty when none
func (p *Poller) LastUID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUID
}

// Start begins polling. It is a no-op while already polling.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop halts polling, waits for an in-flight poll and forgets the last card
func (p *Poller) Stop() {
	p.halt()
	p.mu.Lock()
	p.lastUID = ""
	p.mu.Unlock()
}

// Pause halts polling but remembers the last card
func (p *Poller) Pause() {
	p.halt()
}

// Resume restarts polling after Pause
func (p *Poller) Resume() {
	p.Start()
}

func (p *Poller) halt() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		p.poll(ctx)

		if ctx.Err() != nil {
			return
		}
		timer.Reset(p.interval)
	}
}

// poll runs a single detection and updates the remembered card
func (p *Poller) poll(ctx context.Context) {
	dctx, cancel := context.WithTimeout(ctx, p.detectTimeout)
	uid, present, err := p.detector.Detect(dctx)
	cancel()

	if err != nil {
		// A failed poll says nothing about presence; keep the remembered card
		p.logger.Debug("card poll failed", zap.Error(err))
		return
	}

	p.mu.Lock()
	last := p.lastUID
	switch {
	case present && uid != last:
		p.lastUID = uid
	case !present && last != "":
		p.lastUID = ""
	}
	p.mu.Unlock()

	switch {
	case present && uid != last:
		if !p.emit(ctx, Event{Kind: CardDetected, UID: uid, At: p.now()}) {
			// Not delivered: let the next poll report it again
			p.mu.Lock()
			if p.lastUID == uid {
				p.lastUID = last
			}
			p.mu.Unlock()
			return
		}
		p.logger.Debug("card detected", zap.String("card_id", uid))
	case !present && last != "":
		p.emit(ctx, Event{Kind: CardRemoved, UID: last, At: p.now()})
		p.logger.Debug("card removed", zap.String("card_id", last))
	}
}

func (p *Poller) emit(ctx context.Context, ev Event) bool {
	select {
	case p.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
