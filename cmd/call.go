package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rs/zerolog/log"

	"github.com/anonmeet/anonmeet/internal/config"
	"github.com/anonmeet/anonmeet/internal/media"
	"github.com/anonmeet/anonmeet/internal/mesh"
	"github.com/anonmeet/anonmeet/internal/store"
	"github.com/anonmeet/anonmeet/internal/store/memory"
	"github.com/anonmeet/anonmeet/internal/store/redisstore"
	"github.com/anonmeet/anonmeet/internal/store/wsstore"
	"github.com/anonmeet/anonmeet/internal/transport"
	"github.com/anonmeet/anonmeet/internal/transport/pion"
	"github.com/anonmeet/anonmeet/internal/ui"
)

var (
	flagName      string
	flagStore     string
	flagStoreURL  string
	flagRedisAddr string
	flagRedisPass string
	flagSTUN      string
	flagTURN      string
	flagTURNUser  string
	flagTURNPass  string
)

const hangUpTimeout = 15 * time.Second

func registerCallFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name shown to other participants (default: anon-<id>)")
	cmd.Flags().StringVar(&flagStore, "store", "", "Signaling store backend: ws, redis or memory")
	cmd.Flags().StringVar(&flagStoreURL, "store-url", "", "WebSocket store URL")
	cmd.Flags().StringVar(&flagRedisAddr, "redis-addr", "", "Redis store address")
	cmd.Flags().StringVar(&flagRedisPass, "redis-pass", "", "Redis store password")
	cmd.Flags().StringVar(&flagSTUN, "stun", "", "Comma-separated STUN server URLs")
	cmd.Flags().StringVar(&flagTURN, "turn", "", "TURN server host")
	cmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	cmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
}

func loadCallConfig() (*config.Config, error) {
	return config.Load(config.Options{
		StoreBackend: flagStore,
		StoreURL:     flagStoreURL,
		RedisAddr:    flagRedisAddr,
		RedisPass:    flagRedisPass,
		STUNServers:  flagSTUN,
		TURNServer:   flagTURN,
		TURNUser:     flagTURNUser,
		TURNPass:     flagTURNPass,
	})
}

// openStore dials the configured signaling store backend and returns it
// with its closer.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "ws":
		client := wsstore.New(cfg.StoreURL)
		if err := client.Connect(); err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case "redis":
		st, err := redisstore.Connect(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case "memory":
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func iceConfig(cfg *config.Config) transport.Config {
	var servers []transport.ICEServer
	for _, s := range cfg.STUNServers {
		servers = append(servers, transport.ICEServer{URLs: []string{s}})
	}
	if turn := cfg.GetTURNServers(); len(turn) > 0 {
		servers = append(servers, transport.ICEServer{
			URLs:       turn,
			Username:   cfg.TURNUser,
			Credential: cfg.TURNPass,
		})
	}
	return transport.Config{
		ICEServers:        servers,
		CandidatePoolSize: cfg.CandidatePoolSize,
	}
}

// runCall joins roomCode and blocks until the user leaves or the call
// fails. It owns the whole call lifecycle: store dial, local media,
// coordinator, UI, hang-up and the final summary.
func runCall(roomCode string, cfg *config.Config) error {
	localID := uuid.NewString()
	name := flagName
	if name == "" {
		name = "anon-" + localID[:4]
	}

	sp := ui.NewConnectionSpinner("Connecting to signaling store...")
	sp.Start()
	st, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		sp.Error("Could not reach the signaling store")
		return err
	}
	defer closeStore()
	sp.Success("Signaling store connected")

	audio, err := pion.NewAudioTrack("audio", localID)
	if err != nil {
		return err
	}
	video, err := pion.NewVideoTrack("video", localID)
	if err != nil {
		return err
	}
	camera := media.NewStream(audio, video)

	engine := pion.NewEngine()
	coord := mesh.New(st, engine, mesh.Config{
		Room:        roomCode,
		LocalID:     localID,
		DisplayName: name,
		Transport:   iceConfig(cfg),
	}, camera)

	invite := cfg.GetRoomLink(roomCode)
	model := ui.NewRoomModel(roomCode, invite, ui.RoomControls{
		ToggleAudio:      coord.ToggleAudio,
		ToggleVideo:      coord.ToggleVideo,
		StartScreenShare: func() error { return startScreenShare(coord, localID) },
		StopScreenShare:  coord.StopScreenShare,
	})
	updates := model.GetUpdateChannel()

	peakPeers := 0
	coord.OnParticipantsChange(func(ps []mesh.Participant) {
		if n := len(ps) - 1; n > peakPeers {
			peakPeers = n
		}
		// Non-blocking: the UI drains this channel until it quits; a
		// dropped frame is replaced by the next publish.
		select {
		case updates <- ui.RoomUpdate{Type: ui.RoomUpdateParticipants, Participants: ps}:
		default:
		}
	})
	coord.OnNotice(func(n mesh.Notice) {
		select {
		case updates <- ui.RoomUpdate{Type: ui.RoomUpdateNotice, Notice: n}:
		default:
		}
	})

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	started := time.Now()
	go func() {
		if err := coord.Run(runCtx); err != nil {
			select {
			case updates <- ui.RoomUpdate{Type: ui.RoomUpdateFatal, Error: err}:
			default:
			}
		}
	}()

	program := tea.NewProgram(model)
	if _, err := program.Run(); err != nil {
		log.Error().Err(err).Msg("room UI failed")
	}

	hangCtx, cancelHang := context.WithTimeout(context.Background(), hangUpTimeout)
	defer cancelHang()
	if err := coord.HangUp(hangCtx); err != nil {
		log.Warn().Err(err).Msg("hang-up cleanup incomplete")
	}

	ui.RenderCallSummary(ui.CallSummary{
		RoomCode:  roomCode,
		PeerCount: peakPeers,
		Duration:  time.Since(started),
	})

	return model.Err()
}

// startScreenShare builds the screen stream on first use and swaps it in.
func startScreenShare(coord *mesh.Coordinator, localID string) error {
	screenVideo, err := pion.NewVideoTrack("screen", localID+"-screen")
	if err != nil {
		return err
	}
	screen := media.NewStream(nil, screenVideo)
	if err := screen.SetVideoEnabled(true); err != nil {
		return err
	}
	return coord.StartScreenShare(screen)
}
