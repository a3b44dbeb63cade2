package mesh

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// pionConn is the production peerConn. Offer and answer production block on
// full ICE gathering, so every emitted description already carries its
// candidates and each side sends exactly one artifact.
type pionConn struct {
	pc *webrtc.PeerConnection
}

// newPionConn builds the peer connection for a session: local camera codec
// when capturing, default codecs plus a recvonly transceiver when
// view-capable peers still want the remote stream.
func newPionConn(m *Manager, s *Session) (peerConn, error) {
	cfg := m.cfg

	me := &webrtc.MediaEngine{}
	if m.cam != nil && m.cam.selector != nil {
		m.cam.selector.Populate(me)
	} else if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	// Generous disconnect timeout: a brief NAT or relay hiccup should not
	// tear a mesh link that ICE would recover on its own.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(
		time.Duration(cfg.ICE.DisconnectSec)*time.Second,
		time.Duration(cfg.ICE.FailedSec)*time.Second,
		time.Duration(cfg.ICE.KeepaliveSec)*time.Second,
	)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: cfg.ICE.URLs}},
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	if m.cam != nil && m.cam.stream != nil {
		for _, track := range m.cam.stream.GetTracks() {
			if _, err := pc.AddTrack(track); err != nil {
				log.Printf("MESH: add local track for %s: %v", s.remote, err)
			}
		}
	} else {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			log.Printf("MESH: recvonly transceiver for %s: %v", s.remote, err)
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		m.post(event{kind: evStream, sess: s, stream: newRemoteStream(pc, track)})
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		switch st {
		case webrtc.PeerConnectionStateConnected:
			m.post(event{kind: evConnected, sess: s})
		case webrtc.PeerConnectionStateFailed:
			m.post(event{kind: evFailed, sess: s, err: errors.New("transport failed")})
		}
	})

	return &pionConn{pc: pc}, nil
}

func (c *pionConn) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gathered
	return marshalDesc(c.pc.LocalDescription())
}

func (c *pionConn) CreateAnswer(offerPayload string) (string, error) {
	remote, err := unmarshalDesc(offerPayload)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gathered
	return marshalDesc(c.pc.LocalDescription())
}

func (c *pionConn) AcceptAnswer(answerPayload string) error {
	remote, err := unmarshalDesc(answerPayload)
	if err != nil {
		return err
	}
	if err := c.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *pionConn) AddCandidate(payload string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return c.pc.AddICECandidate(init)
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

func marshalDesc(desc *webrtc.SessionDescription) (string, error) {
	if desc == nil {
		return "", errors.New("no local description after gathering")
	}
	b, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("encode description: %w", err)
	}
	return string(b), nil
}

func unmarshalDesc(payload string) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(payload), &desc); err != nil {
		return desc, fmt.Errorf("decode description: %w", err)
	}
	return desc, nil
}
