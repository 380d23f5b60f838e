package it8951

import (
	"fmt"
	"image"
	"strings"
)

// Mode is the refresh class of a request.
type Mode int

const (
	// ModeFull redraws the whole panel with the high quality waveform.
	ModeFull Mode = iota
	// ModePartial redraws a window with the ghost-reducing gray waveform.
	ModePartial
	// ModeFast redraws a window with the fast monochrome waveform.
	ModeFast
	// ModeA2 redraws a window with the fastest two-level waveform.
	ModeA2
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModePartial:
		return "partial"
	case ModeFast:
		return "fast"
	case ModeA2:
		return "a2"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps "full", "partial", "fast" or "a2" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full":
		return ModeFull, nil
	case "partial", "":
		return ModePartial, nil
	case "fast", "du":
		return ModeFast, nil
	case "a2":
		return ModeA2, nil
	}
	return 0, fmt.Errorf("it8951: unknown refresh mode %q", s)
}

// Waveforms maps refresh classes to controller waveform numbers.
type Waveforms struct {
	Init    uint16
	Full    uint16
	Partial uint16
	Fast    uint16
	A2      uint16
}

// DefaultWaveforms returns the stock firmware numbering for info.
func DefaultWaveforms(info DevInfo) Waveforms {
	return Waveforms{
		Init:    WaveformINIT,
		Full:    WaveformGC16,
		Partial: WaveformGL16,
		Fast:    WaveformDU,
		A2:      info.A2Waveform(),
	}
}

func (w Waveforms) forMode(m Mode) uint16 {
	switch m {
	case ModePartial:
		return w.Partial
	case ModeFast:
		return w.Fast
	case ModeA2:
		return w.A2
	default:
		return w.Full
	}
}

// RefreshRequest is one display update: the aligned panel area to load and
// refresh, and how.
type RefreshRequest struct {
	Region   image.Rectangle
	Mode     Mode
	Waveform uint16
}

func (r RefreshRequest) String() string {
	return fmt.Sprintf("%s %v waveform=%d", r.Mode, r.Region, r.Waveform)
}

// Scheduler turns dirty regions into refresh requests.
type Scheduler struct {
	bounds    image.Rectangle
	partial   Mode
	fullEvery int
	waveforms Waveforms
	partials  int
}

// NewScheduler returns a scheduler for a panel covering bounds. Sub-panel
// updates use partial (ModePartial, ModeFast or ModeA2). When fullEvery is
// positive every fullEvery-th sub-panel update is promoted to a full refresh.
func NewScheduler(bounds image.Rectangle, partial Mode, fullEvery int, w Waveforms) *Scheduler {
	if partial == ModeFull {
		partial = ModePartial
	}
	return &Scheduler{bounds: bounds, partial: partial, fullEvery: fullEvery, waveforms: w}
}

// Plan consumes the dirty region of fb. It reports false when nothing was
// written since the previous plan.
func (s *Scheduler) Plan(fb *FrameBuffer) (RefreshRequest, bool) {
	dirty, ok := fb.TakeDirty()
	if !ok {
		return RefreshRequest{}, false
	}
	r := AlignRect(dirty, s.bounds)
	if r.Empty() {
		return RefreshRequest{}, false
	}
	if r == s.bounds {
		return s.full(), true
	}
	s.partials++
	if s.fullEvery > 0 && s.partials >= s.fullEvery {
		return s.full(), true
	}
	return RefreshRequest{Region: r, Mode: s.partial, Waveform: s.waveforms.forMode(s.partial)}, true
}

// Forced returns the full panel request used by clear, with the
// initialization waveform.
func (s *Scheduler) Forced() RefreshRequest {
	s.partials = 0
	return RefreshRequest{Region: s.bounds, Mode: ModeFull, Waveform: s.waveforms.Init}
}

func (s *Scheduler) full() RefreshRequest {
	s.partials = 0
	return RefreshRequest{Region: s.bounds, Mode: ModeFull, Waveform: s.waveforms.Full}
}
