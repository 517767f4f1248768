package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/api/rest"
	"github.com/KevinKickass/VibeChessCore/internal/api/websocket"
	"github.com/KevinKickass/VibeChessCore/internal/auth"
	"github.com/KevinKickass/VibeChessCore/internal/config"
	"github.com/KevinKickass/VibeChessCore/internal/control"
	"github.com/KevinKickass/VibeChessCore/internal/dispatch"
	"github.com/KevinKickass/VibeChessCore/internal/machine"
	"github.com/KevinKickass/VibeChessCore/internal/motion"
	"github.com/KevinKickass/VibeChessCore/internal/profiles"
	"github.com/KevinKickass/VibeChessCore/internal/protocol"
	"github.com/KevinKickass/VibeChessCore/internal/storage"
	serialport "github.com/KevinKickass/VibeChessCore/internal/transport/serial"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name that reports NOT_SERVING
// while the fault latch is set.
const HealthService = "vibechess.Controller"

type LifecycleManager struct {
	config  *config.Config
	storage *storage.PostgresClient
	profile *profiles.Profile
	logger  *zap.Logger

	hw         *hardware
	abort      *control.AbortLatch
	intake     *control.Intake
	controller *machine.Controller
	dispatcher *dispatch.Dispatcher
	loop       *control.Loop
	live       *websocket.Hub
	events     *websocket.Hub
	serial     *serialport.Port
	journal    *storage.AsyncJournal

	restServer *rest.Server
	grpcServer *grpc.Server
	health     *health.Server
	grpcAddr   net.Addr

	cancel context.CancelFunc
	wg     sync.WaitGroup

	stateMu      sync.RWMutex
	currentState SystemState
	lastErr      error

	shutdownOnce sync.Once
}

// NewLifecycleManager builds the whole controller from configuration. db may
// be nil, in which case nothing is journaled.
func NewLifecycleManager(db *storage.PostgresClient, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	loader, err := profiles.NewLoader(cfg.Profile.SearchPaths)
	if err != nil {
		return nil, err
	}
	profile, err := loader.Load(cfg.Profile.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	files, err := profile.Files()
	if err != nil {
		return nil, err
	}
	mode, err := protocol.ParseMode(cfg.Control.ParserMode)
	if err != nil {
		return nil, err
	}

	lm := &LifecycleManager{
		config:       cfg,
		storage:      db,
		profile:      profile,
		logger:       logger,
		abort:        &control.AbortLatch{},
		health:       health.NewServer(),
		currentState: StateInitializing,
	}

	if lm.hw, err = buildHardware(cfg, profile, logger); err != nil {
		return nil, err
	}

	var (
		journal storage.Journal = storage.NopJournal{}
		history rest.MoveHistory
	)
	if db != nil {
		lm.journal = storage.NewAsyncJournal(db, cfg.Database.JournalQueue, cfg.Database.WriteTimeout, logger)
		journal = lm.journal
		history = db
	}

	lm.controller = machine.NewController(logger, lm.hw.axes, machine.Options{
		AllowConfirm: cfg.Fault.AllowConfirm,
		Abort:        lm.abort,
		Journal:      journal,
	})

	var authService *auth.Service
	if cfg.Auth.Enabled {
		if authService, err = auth.NewService(cfg.Auth, logger); err != nil {
			lm.hw.close(context.Background(), logger, true)
			return nil, err
		}
		if !cfg.Auth.IsProductionReady() {
			logger.Warn("JWT secret is not production ready",
				zap.String("env", cfg.Auth.JWTSecretEnv))
		}
	}
	var validator websocket.TokenValidator
	if authService != nil {
		validator = authService
	}

	inbox := control.NewInbox(cfg.Control.InboxSize)
	lm.intake = control.NewIntake(inbox, lm.abort)

	lm.events = websocket.NewHub("events", logger, websocket.Options{Auth: validator})
	lm.live = websocket.NewHub("live", logger, websocket.Options{
		Intake: lm.intake,
		Auth:   validator,
		OnClientsChanged: func(count int) {
			lm.controller.SetConnected(count > 0)
		},
	})

	var diag dispatch.Channel
	if cfg.Serial.Enabled {
		if lm.serial, err = serialport.Open(cfg.Serial, lm.intake, logger); err != nil {
			lm.hw.close(context.Background(), logger, true)
			return nil, err
		}
		diag = lm.serial
	}

	seq := motion.NewSequencer(nil, lm.abort, lm.hw.busy, lm.events, logger)

	var stages *motion.StageMachine
	if cfg.Control.SequencerMode == config.SequencerStaged {
		stages = motion.NewStageMachine(motion.StageDurations{
			Travel:    cfg.Stages.Travel,
			PickPlace: cfg.Stages.PickPlace,
			Cooldown:  cfg.Stages.Cooldown,
		}, lm.hw.magnet, lm.hw.busy, lm.events, logger)
	}

	lm.dispatcher = dispatch.New(lm.controller, seq, dispatch.Options{
		Mode:       mode,
		Files:      files,
		Stages:     stages,
		Journal:    journal,
		JogSpeed:   cfg.Control.JogSpeed,
		Diagnostic: diag,
		Notify:     lm.live,
	}, logger)

	lm.loop = control.NewLoop(control.Config{
		HeartbeatInterval: cfg.Control.HeartbeatInterval,
		IdleInterval:      cfg.Control.IdleInterval,
	}, inbox, lm.abort, lm.dispatcher, lm.controller, nil, logger)

	lm.controller.AddListener(lm.onMachineState)
	lm.setHealth(healthpb.HealthCheckResponse_NOT_SERVING)

	lm.restServer, err = rest.NewServer(cfg, rest.Deps{
		Status:  lm.loop,
		Intake:  lm.intake,
		Live:    lm.live,
		Events:  lm.events,
		Auth:    authService,
		History: history,
	}, logger)
	if err != nil {
		lm.hw.close(context.Background(), logger, true)
		return nil, err
	}

	logger.Info("Controller assembled",
		zap.String("profile", profile.Name),
		zap.String("parser_mode", string(mode)),
		zap.String("sequencer_mode", cfg.Control.SequencerMode),
		zap.Bool("journal", db != nil),
		zap.Bool("serial", lm.serial != nil))

	return lm, nil
}

// MachineController returns the machine controller
func (lm *LifecycleManager) MachineController() *machine.Controller {
	return lm.controller
}

// Intake returns the shared line intake of all transports.
func (lm *LifecycleManager) Intake() *control.Intake {
	return lm.intake
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting VibeChessCore")

	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := lm.hw.connect(connectCtx); err != nil {
		// Der Client verbindet sich beim nächsten Request erneut.
		lm.logger.Warn("Modbus not reachable, will retry on first move", zap.Error(err))
	}
	connectCancel()

	lm.goRun("live hub", func() error { lm.live.Run(ctx); return nil })
	lm.goRun("event hub", func() error { lm.events.Run(ctx); return nil })
	lm.goRun("control loop", func() error { return lm.loop.Run(ctx) })
	if lm.journal != nil {
		lm.goRun("journal", func() error { lm.journal.Run(ctx); return nil })
	}
	if lm.serial != nil {
		lm.goRun("serial port", func() error { return lm.serial.Run(ctx) })
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.restServer.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)
	lm.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	if !lm.controller.Faulted() {
		lm.setHealth(healthpb.HealthCheckResponse_SERVING)
	}
	lm.broadcastStatus()

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort))

	return nil
}

func (lm *LifecycleManager) goRun(name string, fn func() error) {
	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			lm.logger.Error("Component stopped", zap.String("component", name), zap.Error(err))
		}
	}()
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcAddr = lis.Addr()

	lm.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastStatus()

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	if err := lm.restServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
	}

	lm.health.Shutdown()
	if lm.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			lm.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			lm.grpcServer.Stop()
		}
	}

	// Eine laufende Fahrt bricht beim nächsten Tick ab.
	lm.abort.Trigger()
	if lm.cancel != nil {
		lm.cancel()
	}

	done := make(chan struct{})
	go func() {
		lm.wg.Wait()
		close(done)
	}()
	loopStopped := true
	select {
	case <-done:
	case <-ctx.Done():
		loopStopped = false
		lm.logger.Warn("Shutdown timeout, forcing stop")
		errs = append(errs, fmt.Errorf("shutdown timeout exceeded"))
	}

	if lm.serial != nil {
		if err := lm.serial.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := lm.hw.close(context.WithoutCancel(ctx), lm.logger, loopStopped); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

// onMachineState mirrors fault latch transitions to the event hub and the
// gRPC health service.
func (lm *LifecycleManager) onMachineState(prev, next machine.State, reason string) {
	lm.events.Broadcast(websocket.NewMachineStateMessage(string(next), string(prev), reason))

	if next == machine.StateFaulted {
		lm.setHealth(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	if lm.State() == StateRunning {
		lm.setHealth(healthpb.HealthCheckResponse_SERVING)
	}
}

func (lm *LifecycleManager) setHealth(status healthpb.HealthCheckResponse_ServingStatus) {
	lm.health.SetServingStatus(HealthService, status)
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastErr = err
	lm.stateMu.Unlock()
	lm.broadcastStatus()
}

// State returns the lifecycle state.
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// Status returns the lifecycle status as broadcast on the event hub.
func (lm *LifecycleManager) Status() SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return newStatus(lm.currentState, lm.profile.Name, lm.config.Hardware.Driver, lm.lastErr)
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.events.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, lm.Status()))
}
