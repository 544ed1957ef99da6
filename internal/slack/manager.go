package slack

import (
	"context"
	"errors"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/config"
)

// ErrNotConfigured is returned when the bot or app token is missing
var ErrNotConfigured = errors.New("slack is not configured")

// ErrNotRunning is reported by Healthy before Start or after the Socket Mode
// loop has exited.
var ErrNotRunning = errors.New("socket mode is not running")

// Manager owns the Slack Web API client and the Socket Mode connection
type Manager struct {
	cfg    config.SlackConfig
	logger *zap.Logger

	mu      sync.Mutex
	client  *slack.Client
	socket  *socketmode.Client
	onStart func(*socketmode.Client)
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a new Slack manager
func NewManager(cfg config.SlackConfig, logger *zap.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger}
}

// SetEventHandler registers the consumer of Socket Mode events. It is called
// once from Start with the new client, before the connection opens.
func (m *Manager) SetEventHandler(handler func(*socketmode.Client)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStart = handler
}

// Connect creates the Web API client without opening Socket Mode. Calling
// it again returns the existing client.
func (m *Manager) Connect() (*slack.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked()
}

func (m *Manager) connectLocked() (*slack.Client, error) {
	if m.client != nil {
		return m.client, nil
	}
	if !m.cfg.IsConfigured() {
		return nil, ErrNotConfigured
	}
	m.client = slack.New(m.cfg.BotToken,
		slack.OptionDebug(m.cfg.Debug),
		slack.OptionAppLevelToken(m.cfg.AppToken),
	)
	return m.client, nil
}

// Start opens the Socket Mode connection in the background. It runs until
// ctx ends or Stop is called. Starting twice is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.socket != nil {
		return nil
	}
	client, err := m.connectLocked()
	if err != nil {
		return err
	}

	m.socket = socketmode.New(client,
		socketmode.OptionDebug(m.cfg.Debug),
		socketmode.OptionLog(zap.NewStdLog(m.logger.Named("socketmode"))),
	)
	if m.onStart != nil {
		m.onStart(m.socket)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx, m.socket, m.done)

	m.logger.Info("Slack integration is active")
	return nil
}

func (m *Manager) run(ctx context.Context, socket *socketmode.Client, done chan struct{}) {
	defer close(done)
	m.logger.Info("Starting Socket Mode connection")
	err := socket.RunContext(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		m.logger.Info("Socket Mode stopped")
	default:
		m.logger.Error("Socket Mode error", zap.Error(err))
	}
}

// Healthy reports whether the Socket Mode loop is still running
func (m *Manager) Healthy(context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return ErrNotRunning
	}
	select {
	case <-done:
		return ErrNotRunning
	default:
		return nil
	}
}

// Stop closes the Socket Mode connection and waits for the loop to exit or
// ctx to end. It is safe to call when not running.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.socket, m.cancel, m.done = nil, nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	m.logger.Info("Stopping Slack connection")
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timed out waiting for Socket Mode to stop")
	}
}
