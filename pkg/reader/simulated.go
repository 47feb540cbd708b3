package reader

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"paykiosk/pkg/errors"
	"paykiosk/pkg/models"
	"paykiosk/pkg/utils"
)

// Stub values presented by the simulated reader
const (
	StubUID        = "63627ECE"
	StubCardNumber = "1306202515449568"
	StubSecret     = "123"
)

// SimulatedOptions configures the simulated reader
type SimulatedOptions struct {
	// UID is the card reported when no TapDir is set
	UID string
	// Blocks is the initial card content, shared by every simulated card
	Blocks map[int]models.Block
	// TapDir, when set, is watched for files named by card UIDs. A file
	// puts that card in the field, removing it takes the card away.
	TapDir string

	PollInterval  time.Duration
	DetectTimeout time.Duration
}

// SimulatedCardReader stands in for the hardware. Reads and writes always
// succeed and writes are kept, so a later read returns them.
type SimulatedCardReader struct {
	*Poller

	logger  *zap.Logger
	uid     string
	tapDir  string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	blocks  map[int]models.Block
	present []string // tap order, oldest first
}

// NewSimulated creates the simulated reader. A TapDir that cannot be
// watched is logged and the fixed stub card is used instead.
func NewSimulated(opts SimulatedOptions, logger *zap.Logger) *SimulatedCardReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &SimulatedCardReader{
		logger: logger,
		uid:    opts.UID,
		blocks: make(map[int]models.Block),
	}
	if r.uid == "" {
		r.uid = StubUID
	}
	for n, b := range opts.Blocks {
		r.blocks[n] = b
	}
	r.Poller = NewPoller(r, opts.PollInterval, opts.DetectTimeout, logger)

	if opts.TapDir != "" {
		if err := r.watchTapDir(opts.TapDir); err != nil {
			logger.Warn("could not watch tap directory, using stub card",
				zap.String("dir", opts.TapDir), zap.Error(err))
		}
	}
	return r
}

// Detect implements Detector
func (r *SimulatedCardReader) Detect(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if r.watcher == nil {
		return r.uid, true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.present) == 0 {
		return "", false, nil
	}
	return r.present[len(r.present)-1], true, nil
}

// ReadBlock implements CardReader
func (r *SimulatedCardReader) ReadBlock(ctx context.Context, uid string, block int) (models.Block, error) {
	if err := ctx.Err(); err != nil {
		return models.Block{}, errors.ErrBlockReadFailed.Clone().WithCause(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Debug("simulated block read", zap.String("card_id", uid), zap.Int("block", block))
	return r.blocks[block], nil
}

// WriteBlock implements CardReader
func (r *SimulatedCardReader) WriteBlock(ctx context.Context, uid string, block int, data models.Block) error {
	if err := ctx.Err(); err != nil {
		return errors.ErrBlockWriteFailed.Clone().WithCause(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[block] = data
	r.logger.Debug("simulated block write", zap.String("card_id", uid), zap.Int("block", block))
	return nil
}

// Close stops polling and the tap directory watcher
func (r *SimulatedCardReader) Close() error {
	r.Stop()
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

func (r *SimulatedCardReader) watchTapDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	r.watcher = watcher
	r.tapDir = dir

	// Cards already tapped before startup
	if entries, err := os.ReadDir(dir); err == nil {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, n := range names {
			r.tap(n)
		}
	}

	go r.watchLoop()
	return nil
}

func (r *SimulatedCardReader) watchLoop() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}

			name := filepath.Base(event.Name)
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				r.tap(name)
			case event.Op&fsnotify.Remove == fsnotify.Remove,
				event.Op&fsnotify.Rename == fsnotify.Rename:
				r.untap(name)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("tap directory watcher error", zap.Error(err))
		}
	}
}

func (r *SimulatedCardReader) tap(name string) {
	uid := utils.NormalizeUID(name)
	if !cardUID(uid) {
		r.logger.Debug("ignoring tap file", zap.String("name", name))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.present = removeUID(r.present, uid)
	r.present = append(r.present, uid)
	r.logger.Info("simulated card tapped", zap.String("card_id", uid))
}

func (r *SimulatedCardReader) untap(name string) {
	uid := utils.NormalizeUID(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.present = removeUID(r.present, uid)
}

func removeUID(list []string, uid string) []string {
	out := list[:0]
	for _, u := range list {
		if u != uid {
			out = append(out, u)
		}
	}
	return out
}

func cardUID(uid string) bool {
	return errors.NewValidator().ValidateCardUID(uid).IsValid
}
