package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stellarlinkco/linkkeeper/internal/bus"
	"github.com/stellarlinkco/linkkeeper/internal/config"
)

// mockTelegramBot implements TelegramBot interface for testing
type mockTelegramBot struct {
	mu          sync.Mutex
	updatesChan chan tgbotapi.Update
	stopped     bool
	sentMsgs    []tgbotapi.MessageConfig
	sendErr     error
	failHTML    bool
	self        tgbotapi.User
}

func newMockBot() *mockTelegramBot {
	return &mockTelegramBot{
		updatesChan: make(chan tgbotapi.Update, 10),
		self:        tgbotapi.User{UserName: "testbot"},
	}
}

func (m *mockTelegramBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updatesChan
}

func (m *mockTelegramBot) StopReceivingUpdates() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *mockTelegramBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, _ := c.(tgbotapi.MessageConfig)
	m.sentMsgs = append(m.sentMsgs, msg)
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	if m.failHTML && msg.ParseMode == tgbotapi.ModeHTML {
		return tgbotapi.Message{}, fmt.Errorf("can't parse entities")
	}
	return tgbotapi.Message{MessageID: 1}, nil
}

func (m *mockTelegramBot) GetSelf() tgbotapi.User {
	return m.self
}

func (m *mockTelegramBot) sent() []tgbotapi.MessageConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), m.sentMsgs...)
}

// mockChannel implements Channel interface for testing
type mockChannel struct {
	name     string
	started  bool
	stopped  bool
	startErr error
	stopErr  error
	sendErr  error
	block    chan struct{}

	mu       sync.Mutex
	sentMsgs []bus.OutboundMessage
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Start(ctx context.Context) error {
	m.started = true
	return m.startErr
}

func (m *mockChannel) Stop() error {
	m.stopped = true
	return m.stopErr
}

func (m *mockChannel) Send(msg bus.OutboundMessage) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMsgs = append(m.sentMsgs, msg)
	return m.sendErr
}

func newTestTelegram(t *testing.T, cfg config.TelegramConfig) (*TelegramChannel, *bus.MessageBus) {
	t.Helper()
	if cfg.Token == "" {
		cfg.Token = "fake-token"
	}
	b := bus.NewMessageBus(10)
	ch, err := NewTelegramChannel(cfg, b)
	if err != nil {
		t.Fatalf("NewTelegramChannel error: %v", err)
	}
	return ch, b
}

func TestBaseChannel_IsAllowed(t *testing.T) {
	b := bus.NewMessageBus(10)
	open := NewBaseChannel("test", b, nil)
	if open.Name() != "test" {
		t.Errorf("Name = %q, want test", open.Name())
	}
	if !open.IsAllowed("anyone") {
		t.Error("should allow anyone when allowFrom is empty")
	}

	ch := NewBaseChannel("test", b, []string{"user1", "user2"})
	if !ch.IsAllowed("user1") || !ch.IsAllowed("user2") {
		t.Error("should allow listed users")
	}
	if ch.IsAllowed("user3") {
		t.Error("should reject user3")
	}
}

func TestNewTelegramChannel(t *testing.T) {
	b := bus.NewMessageBus(10)
	if _, err := NewTelegramChannel(config.TelegramConfig{}, b); err == nil {
		t.Error("expected error for empty token")
	}
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "fake-token", Proxy: "http://proxy.local:8080"}, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Name() != "telegram" {
		t.Errorf("Name = %q, want telegram", ch.Name())
	}
	if ch.proxy != "http://proxy.local:8080" {
		t.Errorf("proxy = %q", ch.proxy)
	}
}

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{"**bold**", "<b>bold</b>"},
		{"`code`", "<code>code</code>"},
		{"a & b", "a &amp; b"},
		{"<tag>", "&lt;tag&gt;"},
		{"**OVERDUE** by 2 days\nID: `abcd1234`", "<b>OVERDUE</b> by 2 days\nID: <code>abcd1234</code>"},
		{"`code", "`code"},
		{"**bold", "**bold"},
	}

	for _, tt := range tests {
		got := toTelegramHTML(tt.input)
		if got != tt.want {
			t.Errorf("toTelegramHTML(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	long := strings.Repeat("This is a long line of text that will be repeated.\n", 100)
	chunks := splitMessage(long, 4000)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want several", len(chunks))
	}
	if strings.Join(chunks, "") != long {
		t.Fatal("chunks should reassemble the message")
	}
	for _, c := range chunks {
		if len(c) > 4000 {
			t.Fatalf("chunk of %d bytes exceeds limit", len(c))
		}
	}

	noNewline := strings.Repeat("x", 5000)
	if chunks := splitMessage(noNewline, 4000); len(chunks) != 2 || len(chunks[0]) != 4000 {
		t.Fatalf("chunks = %d", len(chunks))
	}
}

func TestChannelManager_Empty(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, err := NewChannelManager(config.ChannelsConfig{}, b)
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}
	if len(m.EnabledChannels()) != 0 {
		t.Errorf("expected 0 enabled channels, got %d", len(m.EnabledChannels()))
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
	if _, err := m.Notifier("telegram"); err == nil {
		t.Error("expected error for disabled channel")
	}
}

func TestChannelManager_TelegramNeedsToken(t *testing.T) {
	b := bus.NewMessageBus(10)
	_, err := NewChannelManager(config.ChannelsConfig{Telegram: config.TelegramConfig{Enabled: true}}, b)
	if err == nil {
		t.Fatal("expected error for enabled telegram without token")
	}
}

func TestChannelManager_WithMockChannel(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, _ := NewChannelManager(config.ChannelsConfig{}, b)
	mock := &mockChannel{name: "mock"}
	m.Register(mock)

	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if !mock.started {
		t.Error("mock channel should be started")
	}
	if channels := m.EnabledChannels(); len(channels) != 1 || channels[0] != "mock" {
		t.Errorf("EnabledChannels = %v, want [mock]", channels)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go b.DispatchOutbound(ctx)
	b.Outbound <- bus.OutboundMessage{Channel: "mock", ChatID: "1", Content: "routed"}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mock.mu.Lock()
		n := len(mock.sentMsgs)
		mock.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("outbound message was not routed to the channel")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
	if !mock.stopped {
		t.Error("mock channel should be stopped")
	}
}

func TestChannelManager_Errors(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, _ := NewChannelManager(config.ChannelsConfig{}, b)
	m.Register(&mockChannel{name: "mock", startErr: fmt.Errorf("start failed"), stopErr: fmt.Errorf("stop failed")})

	if err := m.StartAll(context.Background()); err == nil {
		t.Error("expected error from StartAll")
	}
	// Stop errors are logged, not returned.
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll should not return error: %v", err)
	}
}

func TestNotifier_Send(t *testing.T) {
	mock := &mockChannel{name: "mock"}
	n := NewNotifier(mock)

	if err := n.Send(context.Background(), "42", "hello"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(mock.sentMsgs) != 1 || mock.sentMsgs[0].ChatID != "42" || mock.sentMsgs[0].Channel != "mock" {
		t.Fatalf("sent = %+v", mock.sentMsgs)
	}

	mock.sendErr = errors.New("chat not found")
	if err := n.Send(context.Background(), "42", "hello"); err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("Send error = %v", err)
	}
}

func TestNotifier_Timeout(t *testing.T) {
	mock := &mockChannel{name: "mock", block: make(chan struct{})}
	defer close(mock.block)
	n := NewNotifier(mock)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := n.Send(ctx, "42", "hello")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Send did not honor the deadline")
	}
}

func TestTelegramChannel_Stop_NotStarted(t *testing.T) {
	ch, _ := newTestTelegram(t, config.TelegramConfig{})
	if err := ch.Stop(); err != nil {
		t.Errorf("Stop error: %v", err)
	}
}

func TestTelegramChannel_Send_ConnectError(t *testing.T) {
	b := bus.NewMessageBus(10)
	factory := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return nil, fmt.Errorf("unauthorized")
	}
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, factory)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "test"}); err == nil {
		t.Error("expected error when the bot cannot be created")
	}
}

func TestTelegramChannel_Send_ConnectsLazily(t *testing.T) {
	b := bus.NewMessageBus(10)
	bot := newMockBot()
	calls := 0
	factory := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		calls++
		return bot, nil
	}
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, factory)

	for i := 0; i < 2; i++ {
		if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "test"}); err != nil {
			t.Fatalf("Send error: %v", err)
		}
	}
	if calls != 1 || len(bot.sent()) != 2 {
		t.Fatalf("factory calls = %d, sent = %d", calls, len(bot.sent()))
	}
}

func TestTelegramChannel_Send(t *testing.T) {
	ch, _ := newTestTelegram(t, config.TelegramConfig{})
	bot := newMockBot()
	ch.SetBot(bot)
	if err := ch.Send(bus.OutboundMessage{ChatID: "not-a-number", Content: "test"}); err == nil {
		t.Error("expected error for invalid chat ID")
	}

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "**Reminder**"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	sent := bot.sent()
	if len(sent) != 1 || sent[0].ChatID != 123 || sent[0].Text != "<b>Reminder</b>" || sent[0].ParseMode != tgbotapi.ModeHTML {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestTelegramChannel_Send_LongMessage(t *testing.T) {
	ch, _ := newTestTelegram(t, config.TelegramConfig{})
	bot := newMockBot()
	ch.SetBot(bot)

	long := strings.Repeat("This is a long line of text that will be repeated.\n", 100)
	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: long}); err != nil {
		t.Errorf("Send error: %v", err)
	}
	if len(bot.sent()) < 2 {
		t.Errorf("expected multiple sent messages for long content, got %d", len(bot.sent()))
	}
}

func TestTelegramChannel_Send_HTMLFallback(t *testing.T) {
	ch, _ := newTestTelegram(t, config.TelegramConfig{})
	bot := newMockBot()
	bot.failHTML = true
	ch.SetBot(bot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "**x**"}); err != nil {
		t.Fatalf("Send should succeed as plain text: %v", err)
	}
	sent := bot.sent()
	if len(sent) != 2 || sent[1].ParseMode != "" || sent[1].Text != "**x**" {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestTelegramChannel_Send_BothFail(t *testing.T) {
	ch, _ := newTestTelegram(t, config.TelegramConfig{})
	bot := newMockBot()
	bot.sendErr = fmt.Errorf("send failed")
	ch.SetBot(bot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "test"}); err == nil {
		t.Error("expected error when both sends fail")
	}
}

func TestTelegramChannel_HandleMessage(t *testing.T) {
	tests := []struct {
		name      string
		allowFrom []string
		msg       *tgbotapi.Message
		want      string // empty when nothing should reach the bus
	}{
		{"allowed", nil, &tgbotapi.Message{From: &tgbotapi.User{ID: 123}, Chat: &tgbotapi.Chat{ID: 456}, Text: "hello"}, "hello"},
		{"caption", nil, &tgbotapi.Message{From: &tgbotapi.User{ID: 123}, Chat: &tgbotapi.Chat{ID: 456}, Caption: "image caption"}, "image caption"},
		{"rejected", []string{"999"}, &tgbotapi.Message{From: &tgbotapi.User{ID: 123}, Chat: &tgbotapi.Chat{ID: 456}, Text: "hello"}, ""},
		{"empty", nil, &tgbotapi.Message{From: &tgbotapi.User{ID: 123}, Chat: &tgbotapi.Chat{ID: 456}, Text: "  "}, ""},
		{"no sender", nil, &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 456}, Text: "hello"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, b := newTestTelegram(t, config.TelegramConfig{AllowFrom: tt.allowFrom})
			ch.handleMessage(context.Background(), tt.msg)

			select {
			case in := <-b.Inbound:
				if tt.want == "" {
					t.Fatalf("unexpected inbound %+v", in)
				}
				if in.Content != tt.want || in.SenderID != "123" || in.ChatID != "456" || in.Channel != "telegram" {
					t.Fatalf("inbound = %+v", in)
				}
			default:
				if tt.want != "" {
					t.Fatal("expected inbound message")
				}
			}
		})
	}
}

func TestTelegramChannel_InitBot(t *testing.T) {
	b := bus.NewMessageBus(10)
	mockBot := newMockBot()
	ok := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) { return mockBot, nil }
	fail := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return nil, fmt.Errorf("auth failed")
	}

	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, ok)
	if err := ch.initBot(); err != nil {
		t.Errorf("initBot error: %v", err)
	}
	if ch.getBot() == nil {
		t.Error("bot should be set")
	}

	ch, _ = NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, fail)
	if err := ch.initBot(); err == nil {
		t.Error("expected error from initBot")
	}

	ch, _ = NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token", Proxy: "://invalid-url"}, b, ok)
	if err := ch.initBot(); err == nil {
		t.Error("expected error for invalid proxy URL")
	}
}

func TestTelegramChannel_Start(t *testing.T) {
	b := bus.NewMessageBus(10)
	mockBot := newMockBot()
	factory := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return mockBot, nil
	}
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, factory)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	mockBot.updatesChan <- tgbotapi.Update{Message: nil}
	mockBot.updatesChan <- tgbotapi.Update{
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 123},
			Chat: &tgbotapi.Chat{ID: 456},
			Text: "test message",
		},
	}

	select {
	case inbound := <-b.Inbound:
		if inbound.Content != "test message" {
			t.Errorf("content = %q, want 'test message'", inbound.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected inbound message")
	}

	ch.Stop()
	mockBot.mu.Lock()
	stopped := mockBot.stopped
	mockBot.mu.Unlock()
	if !stopped {
		t.Error("bot should be stopped")
	}
}

func TestTelegramChannel_Start_InitError(t *testing.T) {
	b := bus.NewMessageBus(10)
	factory := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return nil, fmt.Errorf("init failed")
	}
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, factory)

	if err := ch.Start(context.Background()); err == nil {
		t.Error("expected error from Start")
	}
}
