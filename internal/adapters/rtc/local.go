package rtc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const frameDuration = 20 * time.Millisecond

// opus "silence" TOC frame
var silenceFrame = []byte{0xf8, 0xff, 0xfe}

// Source yields encoded opus frames, one per call.
type Source interface {
	NextFrame(ctx context.Context) ([]byte, error)
}

// LocalAudio is the client's published microphone track.
type LocalAudio struct {
	track       *webrtc.TrackLocalStaticSample
	transceiver *webrtc.RTPTransceiver
	muted       atomic.Bool
}

func newLocalAudio(track *webrtc.TrackLocalStaticSample, tr *webrtc.RTPTransceiver) *LocalAudio {
	return &LocalAudio{track: track, transceiver: tr}
}

func (l *LocalAudio) TrackName() string { return l.track.ID() }

// Mid is known once a local description has been set.
func (l *LocalAudio) Mid() string { return l.transceiver.Mid() }

func (l *LocalAudio) SetMuted(m bool) { l.muted.Store(m) }

func (l *LocalAudio) Muted() bool { return l.muted.Load() }

// Run writes frames from src until ctx ends. While muted, or without a
// source, silence keeps the stream alive.
func (l *LocalAudio) Run(ctx context.Context, src Source) error {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame := silenceFrame
		if src != nil {
			f, err := src.NextFrame(ctx)
			if err != nil {
				return err
			}
			if !l.muted.Load() {
				frame = f
			}
		}
		if err := l.track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			log.Debug().Err(err).Str("module", "webrtc").Msg("local sample write")
		}
	}
}
