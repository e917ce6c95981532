package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/stellarlinkco/linkkeeper/internal/bus"
	"github.com/stellarlinkco/linkkeeper/internal/channel"
	"github.com/stellarlinkco/linkkeeper/internal/classify"
	"github.com/stellarlinkco/linkkeeper/internal/command"
	"github.com/stellarlinkco/linkkeeper/internal/config"
	"github.com/stellarlinkco/linkkeeper/internal/reminder"
	"github.com/stellarlinkco/linkkeeper/internal/store"
	"github.com/stellarlinkco/linkkeeper/internal/task"
)

// RuntimeFactory creates the model runtime behind the LLM classifier.
type RuntimeFactory func(cfg *config.Config) (classify.Runtime, error)

// Options for creating a Gateway
type Options struct {
	RuntimeFactory RuntimeFactory
	// Notifier replaces the channel notifier, for tests and one-off ticks.
	Notifier   reminder.Notifier
	Clock      reminder.Clock
	SignalChan chan os.Signal // for testing signal handling
}

// DefaultRuntimeFactory creates the default agentsdk-go runtime
func DefaultRuntimeFactory(cfg *config.Config) (classify.Runtime, error) {
	return classify.NewRuntime(classify.RuntimeOptions{
		Provider:  cfg.Provider.Type,
		APIKey:    cfg.Provider.APIKey,
		BaseURL:   cfg.Provider.BaseURL,
		Model:     cfg.Classifier.Model,
		MaxTokens: cfg.Classifier.MaxTokens,
		Workspace: config.ConfigDir(),
	})
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	engine     *store.Engine
	classifier classify.Classifier
	llm        *classify.LLMClassifier
	commands   *command.Service
	router     *Router
	reminders  *reminder.Service
	channels   *channel.ChannelManager
	signalChan chan os.Signal
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	clock := opts.Clock
	if clock == nil {
		clock = reminder.SystemClock
	}
	loc, err := cfg.Reminder.Location()
	if err != nil {
		return nil, err
	}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	engine, err := store.NewEngine(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	g.engine = engine

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	notifier := opts.Notifier
	if notifier == nil {
		n, err := chMgr.Notifier("telegram")
		if err != nil {
			_ = engine.Close()
			return nil, fmt.Errorf("reminder notifier: %w", err)
		}
		notifier = n
	}

	keyword := classify.NewKeywordClassifier(loc, clock.Now)
	g.classifier = keyword
	if strings.EqualFold(cfg.Classifier.Mode, config.ClassifierLLM) {
		factory := opts.RuntimeFactory
		if factory == nil {
			factory = DefaultRuntimeFactory
		}
		rt, err := factory(cfg)
		if err != nil {
			log.Printf("[gateway] llm classifier unavailable, using keywords: %v", err)
		} else {
			g.llm = classify.NewLLMClassifier(rt, keyword, loc, clock.Now)
			g.classifier = g.llm
		}
	}

	policy, err := reminder.NewPolicy(loc, cfg.Reminder.SummaryHour, cfg.Reminder.OverdueInterval())
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("create reminder policy: %w", err)
	}
	g.reminders = reminder.NewService(engine, engine.Ledger(), engine, notifier, policy, clock, reminder.Options{
		Interval:      cfg.Reminder.Interval(),
		NotifyTimeout: cfg.Reminder.Timeout(),
		MaxAttempts:   cfg.Reminder.MaxAttempts,
	})

	g.commands = command.NewService(engine, g.classifier, notifier, command.Options{
		Location:      loc,
		NotifyTimeout: cfg.Reminder.Timeout(),
		Clock:         clock,
	})
	g.router = NewRouter(g.commands)

	return g, nil
}

// Commands exposes the command surface, for the CLI.
func (g *Gateway) Commands() *command.Service {
	return g.commands
}

// Reminders exposes the scheduler loop, for the CLI.
func (g *Gateway) Reminders() *reminder.Service {
	return g.reminders
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.reminders.Start(ctx); err != nil {
		_ = g.channels.StopAll()
		return fmt.Errorf("start reminders: %w", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running, database %s", g.cfg.DBPath())

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

			reply := g.router.Handle(ctx, msg.Owner(), msg.Content)
			if reply.Code != task.CodeOK {
				log.Printf("[gateway] %s for %s: %s", reply.Code, msg.SessionKey(), truncate(msg.Content, 80))
			}
			if reply.Text == "" {
				continue
			}
			select {
			case g.bus.Outbound <- bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: reply.Text,
			}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// TickOnce runs a single reminder pass outside the loop.
func (g *Gateway) TickOnce(ctx context.Context) (reminder.TickReport, error) {
	if err := g.reminders.Prepare(); err != nil {
		return reminder.TickReport{}, err
	}
	return g.reminders.Tick(ctx)
}

// Shutdown stops the loop after its in-flight tick, then the channels and
// the store.
func (g *Gateway) Shutdown() error {
	start := time.Now()
	g.reminders.Stop()
	_ = g.channels.StopAll()
	if g.llm != nil {
		g.llm.Close()
	}
	if g.engine != nil {
		if err := g.engine.Close(); err != nil {
			log.Printf("[gateway] close store warning: %v", err)
		}
	}
	log.Printf("[gateway] shutdown complete in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
