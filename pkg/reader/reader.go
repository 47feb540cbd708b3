// Package reader polls a proximity card reader and gives access to the two
// payment blocks of a MIFARE Classic card.
package reader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"paykiosk/pkg/config"
	"paykiosk/pkg/models"
)

// EventKind distinguishes presence events
type EventKind int

const (
	CardDetected EventKind = iota + 1
	CardRemoved
)

func (k EventKind) String() string {
	switch k {
	case CardDetected:
		return "card_detected"
	case CardRemoved:
		return "card_removed"
	}
	return "unknown"
}

// Event reports a change of card presence
type Event struct {
	Kind EventKind
	UID  string
	At   time.Time
}

// CardReader is implemented by the hardware and simulated readers.
//
// Start and Stop switch polling on and off; Stop also forgets the last
// seen card. Pause and Resume do the same but keep the last seen card, so
// a card that stays in the field is not reported again. Block access
// authenticates the block with the default key first.
type CardReader interface {
	Start()
	Stop()
	Pause()
	Resume()
	Events() <-chan Event
	ReadBlock(ctx context.Context, uid string, block int) (models.Block, error)
	WriteBlock(ctx context.Context, uid string, block int, data models.Block) error
	Close() error
}

// Detector answers whether a card is in the field right now
type Detector interface {
	// Detect returns the normalized UID and true when a card is present
	Detect(ctx context.Context) (string, bool, error)
}

// New picks the reader variant once. Hardware is used when configured (or
// in auto mode) and the device opens; otherwise the simulated reader is
// returned and the reason is logged.
func New(cfg config.ReaderConfig, stub SimulatedOptions, logger *zap.Logger) CardReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	stub.PollInterval = cfg.PollInterval
	stub.DetectTimeout = cfg.DetectTimeout
	if stub.TapDir == "" {
		stub.TapDir = cfg.TapDir
	}

	if cfg.Mode == config.ReaderSimulated {
		logger.Info("using simulated card reader")
		return NewSimulated(stub, logger)
	}

	hw, err := OpenHardware(cfg, logger)
	if err != nil {
		logger.Warn("card reader unavailable, falling back to simulated reader",
			zap.String("device", cfg.SerialDevice),
			zap.String("mode", cfg.Mode),
			zap.Error(err))
		return NewSimulated(stub, logger)
	}

	logger.Info("using hardware card reader", zap.String("device", cfg.SerialDevice))
	return hw
}
