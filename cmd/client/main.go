// Command client is a reference duplex-audio client for the conversation
// engine: it creates a session against the ControlSurface, dials the
// websocket transport, and streams microphone audio in while playing
// synthesized speech out through the default playback device.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/coder/websocket"
	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"
)

const (
	sampleRate = 16000
	channels   = 1
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	controlAddr := os.Getenv("CONVO_CONTROL_ADDR")
	if controlAddr == "" {
		controlAddr = "http://localhost:8080"
	}
	tenantID := os.Getenv("CONVO_TENANT_ID")
	if tenantID == "" {
		tenantID = "demo-tenant"
	}
	userID := os.Getenv("CONVO_USER_ID")
	if userID == "" {
		userID = "demo-user"
	}

	sessionID, transportURL, err := createSession(controlAddr, tenantID, userID)
	if err != nil {
		log.Fatalf("Error: failed to create session: %v", err)
	}
	fmt.Printf("Session %s created. Connecting to %s\n", sessionID, transportURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _, err := websocket.Dial(ctx, transportURL, nil)
	if err != nil {
		log.Fatalf("Error: failed to dial transport: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "client exiting")

	var playbackMu sync.Mutex
	var playbackBytes []byte

	var recordingMu sync.Mutex
	recording := true

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			recordingMu.Lock()
			shouldSend := recording
			recordingMu.Unlock()
			if shouldSend {
				frame := make([]byte, len(pInput))
				copy(frame, pInput)
				go func() {
					if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
						log.Printf("audio write failed: %v", err)
					}
				}()
			}
		}
		if pOutput != nil {
			playbackMu.Lock()
			n := copy(pOutput, playbackBytes)
			playbackBytes = playbackBytes[n:]
			playbackMu.Unlock()
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
		}
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = channels
	deviceConfig.SampleRate = sampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	go readLoop(ctx, conn, &playbackMu, &playbackBytes)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	fmt.Println("Listening to microphone. Press Ctrl+C to exit.")
	<-sig
	fmt.Println("\nShutting down...")
}

// readLoop consumes inbound frames: JSON control/state frames, and binary
// audio frames shaped as a JSON header line followed by raw PCM, matching
// the wire framing the transport writes.
func readLoop(ctx context.Context, conn *websocket.Conn, playbackMu *sync.Mutex, playbackBytes *[]byte) {
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("transport read closed: %v", err)
			}
			return
		}

		idx := bytes.IndexByte(payload, '\n')
		header := payload
		var body []byte
		if idx >= 0 {
			header = payload[:idx]
			body = payload[idx+1:]
		}

		var frame map[string]any
		if json.Unmarshal(header, &frame) != nil {
			continue
		}

		switch frame["type"] {
		case "ready":
			fmt.Printf("\r\033[K[READY] session bound\n")
		case "state_change":
			fmt.Printf("\r\033[K[STATE] -> %v\n", frame["state"])
		case "llm_thinking":
			fmt.Printf("\r\033[K[LLM] thinking...\n")
		case "stop-tts":
			playbackMu.Lock()
			*playbackBytes = nil
			playbackMu.Unlock()
			fmt.Printf("\r\033[K[INTERRUPTED] playback cleared\n")
		case "audio":
			if len(body) == 0 {
				continue
			}
			playbackMu.Lock()
			*playbackBytes = append(*playbackBytes, body...)
			playbackMu.Unlock()
		case "answer":
			fmt.Printf("\r\033[K[ANSWER] media negotiation acknowledged\n")
		default:
			fmt.Printf("\r\033[K[%v] %v\n", frame["type"], frame)
		}
	}
}

type createSessionResponse struct {
	SessionID    string `json:"session_id"`
	TransportURL string `json:"transport_url"`
}

func createSession(controlAddr, tenantID, userID string) (string, string, error) {
	body, _ := json.Marshal(map[string]string{"tenant_id": tenantID, "user_id": userID})
	resp, err := http.Post(strings.TrimRight(controlAddr, "/")+"/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var decoded createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", "", err
	}
	return decoded.SessionID, decoded.TransportURL, nil
}
