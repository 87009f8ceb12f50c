// Package telegram connects pepe to Telegram through telebot long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"pepe/internal/runtime/supervisor"
	"pepe/internal/transport"
	logx "pepe/pkg/logx"
)

const (
	Name      = "telegram"
	textLimit = 4000
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out atomic.Pointer[chan<- transport.Message]

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	// dropped counts inbound messages lost to a full channel; reported periodically.
	dropped atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	b.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	a.push(convert(m, a.bot.Me))
	return nil
}

// convert maps a telebot message; me is the bot's own user.
func convert(m *tele.Message, me *tele.User) transport.Message {
	var username string
	var botID int64
	if me != nil {
		username, botID = me.Username, me.ID
	}
	replyToBot := m.ReplyTo != nil && m.ReplyTo.Sender != nil && botID != 0 && m.ReplyTo.Sender.ID == botID
	author := m.Sender.Username
	if author == "" {
		author = strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName)
	}
	return transport.Message{
		Platform:       Name,
		ConversationID: strconv.FormatInt(m.Chat.ID, 10),
		MessageID:      strconv.Itoa(m.ID),
		AuthorID:       strconv.FormatInt(m.Sender.ID, 10),
		AuthorName:     author,
		Text:           m.Text,
		IsMention:      isMention(m.Chat.Type == tele.ChatPrivate, m.Text, username, replyToBot),
		At:             m.Time(),
	}
}

// isMention: private chats always address the bot; in groups the bot must be
// @-mentioned or replied to.
func isMention(private bool, text, botUsername string, replyToBot bool) bool {
	if private || replyToBot {
		return true
	}
	if botUsername == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(botUsername))
}

func (a *Adapter) push(msg transport.Message) {
	p := a.out.Load()
	if p == nil {
		return
	}
	select {
	case *p <- msg:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Message) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.out.Store(&out)
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	sup := a.sup

	sup.Go0("telegram.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		report := func() {
			if n := a.dropped.Swap(0); n > 0 {
				a.log.Warn("inbound messages dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-t.C:
				report()
			}
		}
	})
	sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until bot.Stop; an early return while ctx is live is a failure.
	sup.GoRestart("telegram.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.String("bot", a.bot.Me.Username))
		a.bot.Start()
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	wasRunning := a.running
	a.sup, a.running = nil, false
	a.out.Store(nil)
	a.runMu.Unlock()
	if !wasRunning || sup == nil {
		return nil
	}

	// Long polls may hang past shutdown; wait at most a short grace window.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Stop(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	a.log.Info("telegram stopped")
	return nil
}

// Send posts text to a chat id, split into Telegram-sized chunks.
func (a *Adapter) Send(ctx context.Context, conversationID, text string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(conversationID), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", conversationID, err)
	}
	for _, chunk := range transport.SplitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(tele.ChatID(id), chunk); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}
