package rtc

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

type rtpPacket = *rtp.Packet

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// Sink receives the packets of one remote track together with the gain the
// listener should hear them at.
type Sink interface {
	WritePacket(gain float64, pkt *rtp.Packet) error
}

type discardSink struct{}

func (discardSink) WritePacket(float64, *rtp.Packet) error { return nil }

// RemoteAudio pumps one remote track into a Sink. A zero gain mutes the
// track without tearing it down.
type RemoteAudio struct {
	streamID string
	read     func() (rtpPacket, error)

	gain  atomic.Uint64
	state atomic.Int32

	mu     sync.Mutex
	sink   Sink
	cancel context.CancelFunc
	done   chan struct{}
}

func newRemoteAudio(parent context.Context, streamID string, read func() (rtpPacket, error)) *RemoteAudio {
	ctx, cancel := context.WithCancel(parent)
	a := &RemoteAudio{
		streamID: streamID,
		read:     read,
		sink:     discardSink{},
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	a.state.Store(int32(TrackStateMuted))
	go a.loop(ctx)
	return a
}

func (a *RemoteAudio) StreamID() string { return a.streamID }

// SetSink replaces where packets go.
func (a *RemoteAudio) SetSink(s Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s == nil {
		s = discardSink{}
	}
	a.sink = s
}

func (a *RemoteAudio) SetVolume(v float64) {
	v = math.Max(0, math.Min(1, v))
	a.gain.Store(math.Float64bits(v))
	if a.GetState() == TrackStateDelete {
		return
	}
	if v == 0 {
		a.state.Store(int32(TrackStateMuted))
	} else {
		a.state.Store(int32(TrackStateOk))
	}
}

func (a *RemoteAudio) Volume() float64 { return math.Float64frombits(a.gain.Load()) }

func (a *RemoteAudio) GetState() TrackState { return TrackState(a.state.Load()) }

func (a *RemoteAudio) Close() {
	a.state.Store(int32(TrackStateDelete))
	a.cancel()
}

// Done is closed once the pump has stopped.
func (a *RemoteAudio) Done() <-chan struct{} { return a.done }

func (a *RemoteAudio) loop(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, err := a.read()
		if err != nil {
			log.Debug().Err(err).Str("module", "webrtc").Str("stream_id", a.streamID).Msg("remote audio read stopped")
			a.state.Store(int32(TrackStateDelete))
			return
		}
		switch a.GetState() {
		case TrackStateDelete:
			return
		case TrackStateMuted:
			continue
		case TrackStateOk:
		}
		a.mu.Lock()
		sink := a.sink
		a.mu.Unlock()
		if err := sink.WritePacket(a.Volume(), pkt); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Str("stream_id", a.streamID).Msg("sink write failed")
		}
	}
}
