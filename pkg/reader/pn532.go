package reader

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"
)

// PN532 frame bytes
const (
	framePreamble    = 0x00
	frameStartCode1  = 0x00
	frameStartCode2  = 0xFF
	framePostamble   = 0x00
	frameHostToPN532 = 0xD4
	framePN532ToHost = 0xD5
	frameErrorCode   = 0x7F
)

// PN532 commands
const (
	cmdSAMConfiguration    = 0x14
	cmdRFConfiguration     = 0x32
	cmdInDataExchange      = 0x40
	cmdInListPassiveTarget = 0x4A
)

// MIFARE Classic commands carried by InDataExchange
const (
	mifareAuthKeyA = 0x60
	mifareRead     = 0x30
	mifareWrite    = 0xA0
)

const (
	defaultCommandTimeout = time.Second
	ackTimeout            = 100 * time.Millisecond
	readChunk             = 64
)

var (
	ackFrame = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}

	errFrameTimeout = stderrors.New("pn532: timed out waiting for frame")
	errNoAck        = stderrors.New("pn532: command not acknowledged")
	errDeviceError  = stderrors.New("pn532: device reported an application error")
)

// Transport is the byte stream to the PN532. go.bug.st/serial ports
// satisfy it; tests use an in-memory fake.
type Transport interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// statusError is a non-zero status byte returned by InDataExchange
type statusError byte

func (e statusError) Error() string {
	return fmt.Sprintf("pn532: status 0x%02X", byte(e))
}

// target is the card returned by InListPassiveTarget
type target struct {
	number byte
	uid    []byte
}

// pn532 speaks the PN532 host interface frame protocol over a Transport
type pn532 struct {
	t       Transport
	pending []byte
}

func newPN532(t Transport) *pn532 {
	return &pn532{t: t}
}

// buildFrame wraps a command into a normal information frame
func buildFrame(cmd byte, data []byte) []byte {
	body := make([]byte, 0, len(data)+2)
	body = append(body, frameHostToPN532, cmd)
	body = append(body, data...)

	length := byte(len(body))
	var sum byte
	for _, b := range body {
		sum += b
	}

	frame := make([]byte, 0, len(body)+7)
	frame = append(frame, framePreamble, frameStartCode1, frameStartCode2, length, ^length+1)
	frame = append(frame, body...)
	frame = append(frame, ^sum+1, framePostamble)
	return frame
}

// parseFrame extracts the first complete frame from buf. It returns the
// frame body (TFI onwards) or nil for ACK, the number of bytes consumed,
// and whether a frame was found. Corrupt frames are skipped.
func parseFrame(buf []byte) (body []byte, ack bool, consumed int, ok bool) {
	for {
		start := bytes.Index(buf[consumed:], []byte{frameStartCode1, frameStartCode2})
		if start < 0 {
			return nil, false, consumed, false
		}
		pos := consumed + start + 2
		if len(buf) < pos+2 {
			return nil, false, consumed, false
		}
		length, lcs := buf[pos], buf[pos+1]

		switch {
		case length == 0x00 && lcs == 0xFF:
			return nil, true, pos + 2, true
		case length == 0xFF && lcs == 0x00:
			// NACK, treat like a missing ACK
			consumed = pos + 2
			continue
		case length+lcs != 0 || length == 0:
			consumed = pos
			continue
		}

		end := pos + 2 + int(length)
		if len(buf) < end+1 {
			return nil, false, consumed, false
		}
		data := buf[pos+2 : end]
		var sum byte
		for _, b := range data {
			sum += b
		}
		if sum+buf[end] != 0 {
			consumed = pos
			continue
		}

		out := make([]byte, len(data))
		copy(out, data)
		consumed = end + 1
		if len(buf) > consumed && buf[consumed] == framePostamble {
			consumed++
		}
		return out, false, consumed, true
	}
}

// wakeup brings the PN532 out of low power mode on HSU
func (d *pn532) wakeup() error {
	preamble := []byte{0x55, 0x55, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if _, err := d.t.Write(preamble); err != nil {
		return err
	}
	d.pending = nil
	return d.t.ResetInputBuffer()
}

// command sends cmd and returns the response payload after the response code
func (d *pn532) command(ctx context.Context, cmd byte, data []byte) ([]byte, error) {
	deadline := time.Now().Add(defaultCommandTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	if _, err := d.t.Write(buildFrame(cmd, data)); err != nil {
		return nil, err
	}

	ackDeadline := time.Now().Add(ackTimeout)
	if ackDeadline.After(deadline) {
		ackDeadline = deadline
	}
	_, ack, err := d.readFrame(ctx, ackDeadline)
	if err != nil {
		if stderrors.Is(err, errFrameTimeout) {
			return nil, errNoAck
		}
		return nil, err
	}
	if !ack {
		return nil, errNoAck
	}

	for {
		body, ack, err := d.readFrame(ctx, deadline)
		if err != nil {
			return nil, err
		}
		if ack {
			continue
		}
		if len(body) == 1 && body[0] == frameErrorCode {
			return nil, errDeviceError
		}
		if len(body) < 2 || body[0] != framePN532ToHost || body[1] != cmd+1 {
			continue
		}
		return body[2:], nil
	}
}

func (d *pn532) readFrame(ctx context.Context, deadline time.Time) ([]byte, bool, error) {
	chunk := make([]byte, readChunk)
	for {
		if body, ack, n, ok := parseFrame(d.pending); ok {
			d.pending = d.pending[n:]
			return body, ack, nil
		} else if n > 0 {
			d.pending = d.pending[n:]
		}

		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false, errFrameTimeout
		}
		if remaining > 10*time.Millisecond {
			remaining = 10 * time.Millisecond
		}
		if err := d.t.SetReadTimeout(remaining); err != nil {
			return nil, false, err
		}
		n, err := d.t.Read(chunk)
		if err != nil && err != io.EOF {
			return nil, false, err
		}
		d.pending = append(d.pending, chunk[:n]...)
	}
}

// samConfiguration selects normal mode so the PN532 acts as a reader
func (d *pn532) samConfiguration(ctx context.Context) error {
	_, err := d.command(ctx, cmdSAMConfiguration, []byte{0x01, 0x14, 0x01})
	return err
}

// limitRetries makes InListPassiveTarget give up after one activation
// attempt so a poll returns promptly when the field is empty.
func (d *pn532) limitRetries(ctx context.Context) error {
	_, err := d.command(ctx, cmdRFConfiguration, []byte{0x05, 0xFF, 0x01, 0x01})
	return err
}

// listTarget looks for one ISO14443A card at 106 kbps
func (d *pn532) listTarget(ctx context.Context) (*target, error) {
	resp, err := d.command(ctx, cmdInListPassiveTarget, []byte{0x01, 0x00})
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 || resp[0] == 0 {
		return nil, nil
	}
	// NbTg Tg SENS_RES(2) SEL_RES NFCIDLength NFCID...
	if len(resp) < 6 {
		return nil, fmt.Errorf("pn532: short target response (%d bytes)", len(resp))
	}
	uidLen := int(resp[5])
	if len(resp) < 6+uidLen || uidLen < 4 {
		return nil, fmt.Errorf("pn532: bad uid length %d", uidLen)
	}
	uid := make([]byte, uidLen)
	copy(uid, resp[6:6+uidLen])
	return &target{number: resp[1], uid: uid}, nil
}

func (d *pn532) exchange(ctx context.Context, tg byte, data []byte) ([]byte, error) {
	resp, err := d.command(ctx, cmdInDataExchange, append([]byte{tg}, data...))
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("pn532: empty exchange response")
	}
	if status := resp[0] & 0x3F; status != 0 {
		return nil, statusError(status)
	}
	return resp[1:], nil
}

// authenticate unlocks block with MIFARE key A. The last four UID bytes
// are used, which covers both 4 and 7 byte UIDs.
func (d *pn532) authenticate(ctx context.Context, tg *target, block int, key [6]byte) error {
	data := []byte{mifareAuthKeyA, byte(block)}
	data = append(data, key[:]...)
	data = append(data, tg.uid[len(tg.uid)-4:]...)
	_, err := d.exchange(ctx, tg.number, data)
	return err
}

func (d *pn532) readBlock(ctx context.Context, tg *target, block int) ([]byte, error) {
	resp, err := d.exchange(ctx, tg.number, []byte{mifareRead, byte(block)})
	if err != nil {
		return nil, err
	}
	if len(resp) < 16 {
		return nil, fmt.Errorf("pn532: short block read (%d bytes)", len(resp))
	}
	return resp[:16], nil
}

func (d *pn532) writeBlock(ctx context.Context, tg *target, block int, data []byte) error {
	payload := []byte{mifareWrite, byte(block)}
	payload = append(payload, data...)
	_, err := d.exchange(ctx, tg.number, payload)
	return err
}
