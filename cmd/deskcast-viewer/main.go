package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"sync"
	"time"

	"github.com/junsooki/deskcast/internal/config"
	"github.com/junsooki/deskcast/internal/decoder"
	"github.com/junsooki/deskcast/internal/display"
	"github.com/junsooki/deskcast/internal/peer"
	"github.com/junsooki/deskcast/internal/signaling"
	"github.com/junsooki/deskcast/internal/transport"
)

func main() {
	cfg, err := config.ParseViewer(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Printf("deskcast viewer starting")
	log.Printf("  Viewer ID:   %s", cfg.ViewerID)
	log.Printf("  Signaling:   %s", cfg.SignalingURL)
	log.Printf("  Target host: %s", cfg.HostID)

	var dec decoder.Decoder = decoder.NewJPEGDecoder()
	var disp display.Display = display.NewEbitenDisplay("deskcast - " + cfg.HostID)

	var (
		mu         sync.Mutex
		viewerPeer *peer.Viewer
	)
	current := func() *peer.Viewer {
		mu.Lock()
		defer mu.Unlock()
		return viewerPeer
	}

	var sig *signaling.Client
	sig = signaling.NewClient(cfg.SignalingURL, cfg.ViewerID, signaling.ClientTypeViewer, signaling.Handler{
		OnRegistered: func() {
			log.Println("Registered with signaling server")

			v, err := peer.NewViewer(sig, cfg.HostID)
			if err != nil {
				log.Printf("create viewer peer: %v", err)
				os.Exit(1)
			}
			var frames transport.FrameReceiver = v.Transport()
			frames.OnFrame(func(m *transport.FrameMessage) {
				img, err := dec.Decode(m.JPEG)
				if err != nil {
					log.Printf("decode frame %d: %v", m.Seq, err)
					return
				}
				disp.SetFrame(img, m.Seq)
			})
			mu.Lock()
			viewerPeer = v
			mu.Unlock()

			if err := v.Connect(); err != nil {
				log.Printf("viewer connect: %v", err)
			}
		},
		OnAnswer: func(from string, payload json.RawMessage) {
			if v := current(); v != nil {
				if err := v.HandleAnswer(payload); err != nil {
					log.Printf("handle answer: %v", err)
				}
			}
		},
		OnICECandidate: func(from string, payload json.RawMessage) {
			if v := current(); v != nil {
				if err := v.HandleICECandidate(payload); err != nil {
					log.Printf("handle ICE candidate: %v", err)
				}
			}
		},
		OnHostDisconnected: func(hostID string) {
			if hostID == cfg.HostID {
				log.Printf("Host %s disconnected", hostID)
			}
		},
		OnError: func(msg string) {
			log.Printf("signaling error: %s", msg)
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = sig.Connect(ctx)
	cancel()
	if err != nil {
		log.Fatalf("signaling connect: %v", err)
	}
	defer sig.Close()

	// Ebitengine RunGame must be on the main goroutine (macOS requirement).
	if err := disp.Run(); err != nil {
		log.Fatalf("display: %v", err)
	}

	if v := current(); v != nil {
		v.Close()
	}
}
