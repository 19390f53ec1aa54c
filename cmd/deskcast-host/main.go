package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pion/logging"

	"github.com/junsooki/deskcast/internal/capture"
	"github.com/junsooki/deskcast/internal/config"
	"github.com/junsooki/deskcast/internal/desktop"
	"github.com/junsooki/deskcast/internal/encoder"
	"github.com/junsooki/deskcast/internal/media"
	"github.com/junsooki/deskcast/internal/peer"
	"github.com/junsooki/deskcast/internal/permissions"
	"github.com/junsooki/deskcast/internal/pipeline"
	"github.com/junsooki/deskcast/internal/signaling"
	"github.com/junsooki/deskcast/internal/transport"
)

func main() {
	cfg, err := config.ParseHost(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	mode, _ := cfg.CaptureMode()

	log.Printf("deskcast host starting")
	log.Printf("  Host ID:    %s", cfg.HostID)
	log.Printf("  Signaling:  %s", cfg.SignalingURL)
	log.Printf("  Mode:       %s", mode)
	log.Printf("  FPS:        %d", cfg.FPS)
	log.Printf("  Quality:    %d", cfg.Quality)

	if err := permissions.ScreenCapture(); err != nil {
		log.Printf("Screen capture not available: %v", err)
		if !permissions.RequestScreenCapture() {
			log.Fatal("Grant screen capture permission and restart.")
		}
	}

	loggers := logging.NewDefaultLoggerFactory()
	opts := []desktop.Option{desktop.WithFPS(cfg.FPS), desktop.WithLoggerFactory(loggers)}

	res := media.Resolution{Width: cfg.Width, Height: cfg.Height}
	if !res.Valid() {
		res, err = probeResolution(cfg, mode, opts)
		if err != nil {
			log.Fatalf("probe resolution: %v", err)
		}
	}
	log.Printf("  Resolution: %s", res)

	video, err := media.NewVideoSource(res)
	if err != nil {
		log.Fatalf("video source: %v", err)
	}
	bridge, err := pipeline.NewBridge(video, pipeline.WithLoggerFactory(loggers))
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	session, err := desktop.NewCapturer(bridge.Callback(), mode, opts...)
	if err != nil {
		log.Fatalf("capture init: %v", err)
	}
	defer session.Close()

	src, err := chooseSource(session, cfg)
	if err != nil {
		log.Fatalf("choose source: %v", err)
	}
	session.SetExcludedApplications(cfg.ExcludedApplications())

	sink, err := media.NewLatestFrameSink(res)
	if err != nil {
		log.Fatalf("frame sink: %v", err)
	}
	video.AddSink(sink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var peers peerSlot
	var sig *signaling.Client
	sig = signaling.NewClient(cfg.SignalingURL, cfg.HostID, signaling.ClientTypeHost, signaling.Handler{
		OnRegistered: func() {
			log.Println("Registered with signaling server")
		},
		OnOffer: func(from string, payload json.RawMessage) {
			log.Printf("Received offer from %s", from)
			hostPeer, err := peer.NewHost(sig)
			if err != nil {
				log.Printf("create host peer: %v", err)
				return
			}
			peers.replace(hostPeer)
			if err := hostPeer.HandleOffer(from, payload); err != nil {
				log.Printf("handle offer: %v", err)
			}
		},
		OnICECandidate: func(from string, payload json.RawMessage) {
			if p := peers.get(); p != nil {
				if err := p.HandleICECandidate(payload); err != nil {
					log.Printf("handle ICE candidate: %v", err)
				}
			}
		},
		OnError: func(msg string) {
			log.Printf("signaling error: %s", msg)
		},
	})
	sig.SetStream(signaling.StreamInfo{
		Mode:   mode.String(),
		Title:  src.Title,
		Width:  res.Width,
		Height: res.Height,
		FPS:    cfg.FPS,
	})

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = sig.Connect(dialCtx)
	cancel()
	if err != nil {
		log.Fatalf("signaling connect: %v", err)
	}
	defer sig.Close()

	if err := session.Start(src); err != nil {
		log.Fatalf("capture start: %v", err)
	}
	defer session.Stop()

	go streamFrames(ctx, sink, res, encoder.NewJPEGEncoder(cfg.Quality), &peers)

	log.Printf("Host ready. Share this ID with viewers: %s", cfg.HostID)

	select {
	case <-ctx.Done():
		log.Println("Shutting down...")
	case <-bridge.Done():
		if err := bridge.Err(); err != nil {
			log.Printf("Capture ended: %v", err)
		} else {
			log.Println("Capture stopped by the user")
		}
	case <-sig.Done():
		log.Println("Signaling connection lost")
	}

	stats := session.Stats()
	log.Printf("delivered %d frames, %d temporary errors, %d dropped by the pipeline",
		stats.FramesDelivered, stats.TemporaryErrors, bridge.Stats().FramesDropped)
	peers.replace(nil)
}

// peerSlot holds the one connected viewer.
type peerSlot struct {
	mu   sync.Mutex
	host *peer.Host
}

func (s *peerSlot) get() *peer.Host {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

func (s *peerSlot) replace(h *peer.Host) {
	s.mu.Lock()
	old := s.host
	s.host = h
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func streamFrames(ctx context.Context, sink *media.LatestFrameSink, res media.Resolution, enc encoder.Encoder, peers *peerSlot) {
	frame, err := media.NewVideoFrame(res)
	if err != nil {
		log.Printf("stream: %v", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-sink.Frames():
		}
		p := peers.get()
		if p == nil || !sink.Latest(frame) {
			continue
		}
		data, err := enc.Encode(frame)
		if err != nil {
			log.Printf("encode frame: %v", err)
			continue
		}
		var out transport.FrameSender = p.Transport()
		err = out.SendFrame(&transport.FrameMessage{
			TimestampUs: frame.TimestampUs,
			Width:       res.Width,
			Height:      res.Height,
			Rotation:    int(frame.Rotation),
			JPEG:        data,
		})
		if err != nil && !errors.Is(err, transport.ErrNotOpen) && !errors.Is(err, transport.ErrCongested) {
			log.Printf("send frame: %v", err)
		}
	}
}

// chooseSource enumerates sources, prints them and picks one by title or
// index.
func chooseSource(s *capture.Session, cfg *config.Config) (capture.Source, error) {
	sources, err := s.Sources()
	if err != nil {
		return capture.Source{}, err
	}
	for i, src := range sources {
		log.Printf("  [%d] %s", i, src)
	}
	if cfg.SourceTitle != "" {
		for _, src := range sources {
			if strings.Contains(src.Title, cfg.SourceTitle) {
				return src, nil
			}
		}
		return capture.Source{}, fmt.Errorf("no source title contains %q", cfg.SourceTitle)
	}
	if cfg.SourceIndex >= len(sources) {
		return capture.Source{}, fmt.Errorf("source index %d out of range (have %d sources)", cfg.SourceIndex, len(sources))
	}
	return sources[cfg.SourceIndex], nil
}

// probeResolution captures one frame of the chosen source on a throwaway
// session to learn its size.
func probeResolution(cfg *config.Config, mode capture.Mode, opts []desktop.Option) (media.Resolution, error) {
	sizes := make(chan media.Resolution, 1)
	probe, err := desktop.NewCapturer(func(r capture.Result, f *capture.Frame) {
		if r != capture.ResultSuccess {
			return
		}
		select {
		case sizes <- media.Resolution{Width: int(f.Width()), Height: int(f.Height())}:
		default:
		}
	}, mode, opts...)
	if err != nil {
		return media.Resolution{}, err
	}
	defer probe.Close()

	src, err := chooseSource(probe, cfg)
	if err != nil {
		return media.Resolution{}, err
	}
	if err := probe.Start(src); err != nil {
		return media.Resolution{}, err
	}
	defer probe.Stop()

	for attempt := 0; attempt < 10; attempt++ {
		if err := probe.CaptureFrame(); err != nil {
			return media.Resolution{}, err
		}
		select {
		case res := <-sizes:
			return res, nil
		case <-time.After(100 * time.Millisecond):
		}
	}
	return media.Resolution{}, errors.New("no frame captured")
}
