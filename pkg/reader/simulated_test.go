package reader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paykiosk/pkg/config"
	"paykiosk/pkg/models"
)

func TestSimulatedReportsStubCard(t *testing.T) {
	r := NewSimulated(SimulatedOptions{PollInterval: testInterval, DetectTimeout: time.Millisecond}, nil)
	defer r.Close()

	r.Start()
	ev := nextEvent(t, r.Poller)
	assert.Equal(t, CardDetected, ev.Kind)
	assert.Equal(t, StubUID, ev.UID)
	assertNoEvent(t, r.Poller, 5*testInterval)
}

func TestSimulatedKeepsWrites(t *testing.T) {
	var number models.Block
	copy(number[:], StubCardNumber)
	r := NewSimulated(SimulatedOptions{Blocks: map[int]models.Block{models.BlockCardNumber: number}}, nil)
	defer r.Close()

	ctx := context.Background()
	got, err := r.ReadBlock(ctx, StubUID, models.BlockCardNumber)
	require.NoError(t, err)
	assert.Equal(t, number, got)

	var secret models.Block
	copy(secret[:], "sealed")
	require.NoError(t, r.WriteBlock(ctx, StubUID, models.BlockSecret, secret))
	got, err = r.ReadBlock(ctx, StubUID, models.BlockSecret)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestSimulatedTapDirectory(t *testing.T) {
	dir := t.TempDir()
	r := NewSimulated(SimulatedOptions{TapDir: dir, PollInterval: testInterval, DetectTimeout: time.Millisecond}, nil)
	defer r.Close()

	_, present, err := r.Detect(context.Background())
	require.NoError(t, err)
	assert.False(t, present)

	r.Start()
	path := filepath.Join(dir, "aa:11:bb:22")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	ev := nextEvent(t, r.Poller)
	assert.Equal(t, CardDetected, ev.Kind)
	assert.Equal(t, "AA11BB22", ev.UID)

	require.NoError(t, os.Remove(path))
	ev = nextEvent(t, r.Poller)
	assert.Equal(t, CardRemoved, ev.Kind)
}

func TestSimulatedTapDirectoryIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))

	r := NewSimulated(SimulatedOptions{TapDir: dir}, nil)
	defer r.Close()

	_, present, err := r.Detect(context.Background())
	require.NoError(t, err)
	assert.False(t, present)
}

func TestNewFallsBackToSimulated(t *testing.T) {
	cfg := config.Default().Reader
	cfg.SerialDevice = filepath.Join(t.TempDir(), "missing-tty")
	cfg.Mode = config.ReaderHardware

	r := New(cfg, SimulatedOptions{}, nil)
	defer r.Close()
	_, ok := r.(*SimulatedCardReader)
	assert.True(t, ok)

	cfg.Mode = config.ReaderSimulated
	r2 := New(cfg, SimulatedOptions{}, nil)
	defer r2.Close()
	_, ok = r2.(*SimulatedCardReader)
	assert.True(t, ok)
}
