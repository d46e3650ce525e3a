package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Manager runs several channels at once, merging their inbound messages into
// one stream and routing outbound text to the right channel. It implements
// the scheduler's Notifier.
type Manager struct {
	channels map[string]Channel

	// messages is the merged inbound stream.
	messages chan *IncomingMessage

	logger *slog.Logger

	// listenWg tracks the per-channel forwarding goroutines.
	listenWg sync.WaitGroup

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		channels: make(map[string]Channel),
		messages: make(chan *IncomingMessage, 256),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds a channel. Call before Start.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = ch
	m.logger.Info("channel registered", "channel", name)
	return nil
}

// Start connects every registered channel and starts forwarding messages.
// A channel that fails to connect is logged and skipped; Start only fails
// when channels were registered and none connected.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	snapshot := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		snapshot = append(snapshot, ch)
	}
	m.mu.Unlock()

	if len(snapshot) == 0 {
		m.logger.Warn("no channels registered, running without chat transports")
		return nil
	}

	var connected int
	for _, ch := range snapshot {
		if err := ch.Connect(m.ctx); err != nil {
			m.logger.Error("failed to connect channel", "channel", ch.Name(), "error", err)
			continue
		}
		connected++
		m.logger.Info("channel connected", "channel", ch.Name())

		m.listenWg.Add(1)
		go func(c Channel) {
			defer m.listenWg.Done()
			m.listen(c)
		}(ch)
	}

	if connected == 0 {
		return fmt.Errorf("no channel connected")
	}
	m.logger.Info("channels started", "connected", connected)
	return nil
}

// Stop disconnects every channel and closes the merged stream.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	m.listenWg.Wait()

	m.mu.RLock()
	for name, ch := range m.channels {
		if err := ch.Disconnect(); err != nil {
			m.logger.Error("error disconnecting channel", "channel", name, "error", err)
		}
	}
	m.mu.RUnlock()

	close(m.messages)
	m.logger.Info("channels stopped")
}

// Messages returns the merged inbound stream. It is closed by Stop.
func (m *Manager) Messages() <-chan *IncomingMessage {
	return m.messages
}

// Send delivers text to a chat on the named channel.
func (m *Manager) Send(ctx context.Context, channel, chatID, text string) error {
	ch, err := m.connected(channel)
	if err != nil {
		return err
	}
	return ch.Send(ctx, chatID, text)
}

// Deliver sends text to a "<channel>:<id>" user, opening a direct
// conversation where the channel needs one.
func (m *Manager) Deliver(ctx context.Context, userID, text string) error {
	channel, id, err := SplitRecipient(userID)
	if err != nil {
		return fmt.Errorf("deliver to %q: %w", userID, err)
	}
	ch, err := m.connected(channel)
	if err != nil {
		return fmt.Errorf("deliver to %q: %w", userID, err)
	}
	if ds, ok := ch.(DirectSender); ok {
		return ds.SendDirect(ctx, id, text)
	}
	return ch.Send(ctx, id, text)
}

// Channel returns a registered channel by name.
func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names lists registered channels, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) connected(name string) (Channel, error) {
	ch, ok := m.Channel(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	if !ch.IsConnected() {
		return nil, fmt.Errorf("%s: %w", name, ErrChannelDisconnected)
	}
	return ch, nil
}

// listen forwards one channel's messages into the merged stream.
func (m *Manager) listen(ch Channel) {
	in := ch.Receive()
	for {
		select {
		case <-m.ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case m.messages <- msg:
			case <-m.ctx.Done():
				return
			}
		}
	}
}
