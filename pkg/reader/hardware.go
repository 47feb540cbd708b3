package reader

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"paykiosk/pkg/config"
	"paykiosk/pkg/errors"
	"paykiosk/pkg/models"
)

const initAttempts = 3

// HardwareCardReader drives a PN532 attached over a serial line
type HardwareCardReader struct {
	*Poller

	logger *zap.Logger
	key    [6]byte

	mu        sync.Mutex // serializes device access between polls and block I/O
	dev       *pn532
	transport Transport
	selected  *target
}

// OpenHardware opens the serial device and initialises the PN532
func OpenHardware(cfg config.ReaderConfig, logger *zap.Logger) (*HardwareCardReader, error) {
	if cfg.SerialDevice == "" {
		return nil, errors.ErrReaderUnavailable.Clone().
			WithContext("reason", "no serial device configured")
	}

	port, err := serial.Open(cfg.SerialDevice, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, errors.ErrReaderUnavailable.Clone().
			WithCause(err).
			WithContext("device", cfg.SerialDevice)
	}

	r, err := NewHardware(port, cfg.PollInterval, cfg.DetectTimeout, logger)
	if err != nil {
		port.Close()
		return nil, err
	}
	return r, nil
}

// NewHardware initialises a PN532 reachable through t
func NewHardware(t Transport, pollInterval, detectTimeout time.Duration, logger *zap.Logger) (*HardwareCardReader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &HardwareCardReader{
		logger:    logger,
		key:       models.DefaultBlockKey,
		dev:       newPN532(t),
		transport: t,
	}

	retry := errors.NewRetryHandler(initAttempts, logger)
	err := retry.Execute(func() error {
		if err := r.init(); err != nil {
			return errors.ErrReaderUnavailable.Clone().
				WithCause(err).
				WithRetryable(true)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.Poller = NewPoller(r, pollInterval, detectTimeout, logger)
	return r, nil
}

func (r *HardwareCardReader) init() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*defaultCommandTimeout)
	defer cancel()

	if err := r.dev.wakeup(); err != nil {
		return err
	}
	if err := r.dev.samConfiguration(ctx); err != nil {
		return err
	}
	return r.dev.limitRetries(ctx)
}

// Detect implements Detector
func (r *HardwareCardReader) Detect(ctx context.Context) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tg, err := r.dev.listTarget(ctx)
	if err != nil {
		r.selected = nil
		return "", false, err
	}
	r.selected = tg
	if tg == nil {
		return "", false, nil
	}
	return uidString(tg.uid), true, nil
}

// ReadBlock implements CardReader
func (r *HardwareCardReader) ReadBlock(ctx context.Context, uid string, block int) (models.Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out models.Block
	tg, err := r.unlock(ctx, uid, block)
	if err != nil {
		return out, err
	}

	data, err := r.dev.readBlock(ctx, tg, block)
	if err != nil {
		r.logger.Warn("block read failed",
			zap.String("card_id", uid), zap.Int("block", block), zap.Error(err))
		return out, errors.ErrBlockReadFailed.Clone().
			WithCause(err).
			WithContext("block", block)
	}
	copy(out[:], data)
	return out, nil
}

// WriteBlock implements CardReader
func (r *HardwareCardReader) WriteBlock(ctx context.Context, uid string, block int, data models.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tg, err := r.unlock(ctx, uid, block)
	if err != nil {
		return err
	}

	if err := r.dev.writeBlock(ctx, tg, block, data[:]); err != nil {
		r.logger.Warn("block write failed",
			zap.String("card_id", uid), zap.Int("block", block), zap.Error(err))
		return errors.ErrBlockWriteFailed.Clone().
			WithCause(err).
			WithContext("block", block)
	}
	return nil
}

// Close stops polling and releases the serial port
func (r *HardwareCardReader) Close() error {
	r.Stop()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transport.Close()
}

// unlock makes sure uid is the selected target and authenticates block.
// Must be called with r.mu held.
func (r *HardwareCardReader) unlock(ctx context.Context, uid string, block int) (*target, error) {
	tg := r.selected
	if tg == nil || uidString(tg.uid) != uid {
		var err error
		tg, err = r.dev.listTarget(ctx)
		if err != nil || tg == nil || uidString(tg.uid) != uid {
			r.selected = nil
			return nil, errors.ErrBlockAuthFailed.Clone().
				WithCause(err).
				WithContext("block", block).
				WithContext("reason", "card not in field")
		}
		r.selected = tg
	}

	if err := r.dev.authenticate(ctx, tg, block, r.key); err != nil {
		// A failed auth halts the card; it has to be selected again
		r.selected = nil
		r.logger.Warn("block authentication failed",
			zap.String("card_id", uid), zap.Int("block", block), zap.Error(err))
		return nil, errors.ErrBlockAuthFailed.Clone().
			WithCause(err).
			WithContext("block", block)
	}
	return tg, nil
}

func uidString(uid []byte) string {
	return strings.ToUpper(hex.EncodeToString(uid))
}
