// Package irc connects pepe to IRC channels through girc.
package irc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"

	"pepe/internal/runtime/supervisor"
	"pepe/internal/transport"
	logx "pepe/pkg/logx"
)

const (
	Name = "irc"
	// lineLimit keeps PRIVMSG lines under the 512-byte protocol limit with prefix overhead.
	lineLimit = 400
)

type Config struct {
	Server   string
	Port     int
	TLS      bool
	Nick     string
	User     string
	Name     string
	Password string
	Channels []string
}

type Adapter struct {
	cfg    Config
	log    logx.Logger
	client *girc.Client

	out atomic.Pointer[chan<- transport.Message]

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Server) == "" || strings.TrimSpace(cfg.Nick) == "" {
		return nil, errors.New("irc server and nick are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 6667
		if cfg.TLS {
			cfg.Port = 6697
		}
	}
	if cfg.User == "" {
		cfg.User = cfg.Nick
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Nick
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	client := girc.New(girc.Config{
		Server:     cfg.Server,
		Port:       cfg.Port,
		Nick:       cfg.Nick,
		User:       cfg.User,
		Name:       cfg.Name,
		SSL:        cfg.TLS,
		ServerPass: cfg.Password,
	})
	a := &Adapter{cfg: cfg, log: log, client: client}

	client.Handlers.Add(girc.CONNECTED, func(c *girc.Client, e girc.Event) {
		a.log.Info("irc connected", logx.String("server", cfg.Server), logx.String("nick", c.GetNick()))
		for _, ch := range cfg.Channels {
			c.Cmd.Join(ch)
		}
	})
	client.Handlers.Add(girc.PRIVMSG, func(c *girc.Client, e girc.Event) {
		if len(e.Params) == 0 || e.Source == nil {
			return
		}
		a.push(convert(e.Params[0], e.Source.Name, e.Last(), c.GetNick()))
	})
	return a, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Connected() bool { return a.client.IsConnected() }

// convert maps a PRIVMSG. A message sent to the bot's nick is a private
// conversation with the sender; in channels the nick must appear in the text.
func convert(target, sender, text, nick string) transport.Message {
	private := !strings.HasPrefix(target, "#") && !strings.HasPrefix(target, "&")
	conv := target
	if private {
		conv = sender
	}
	mention := private || (nick != "" && strings.Contains(strings.ToLower(text), strings.ToLower(nick)))
	return transport.Message{
		Platform:       Name,
		ConversationID: conv,
		MessageID:      uuid.NewString(),
		AuthorID:       sender,
		AuthorName:     sender,
		Text:           text,
		IsMention:      mention,
		At:             time.Now(),
	}
}

func (a *Adapter) push(msg transport.Message) {
	p := a.out.Load()
	if p == nil {
		return
	}
	select {
	case *p <- msg:
	default:
		a.log.Debug("irc inbound dropped (channel full)", logx.String("conversation", msg.ConversationID))
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

	a.sup.Go0("irc.close_on_cancel", func(c context.Context) {
		<-c.Done()
		a.client.Close()
	})
	// Connect blocks for the life of the connection; reconnect with backoff.
	a.sup.GoRestart("irc.conn", func(c context.Context) error {
		err := a.client.Connect()
		if c.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("disconnected")
		}
		return err
	}, supervisor.WithRestartBackoff(time.Second, time.Minute))
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
	if a.client.IsConnected() {
		a.client.Quit("bye")
	}
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sup.Stop(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Debug("irc stopped with supervisor error", logx.Err(err))
	}
	a.log.Info("irc stopped")
	return nil
}

// Send writes text to a channel or nick, one PRIVMSG per line.
func (a *Adapter) Send(ctx context.Context, conversationID, text string) error {
	if !a.client.IsConnected() {
		return errors.New("irc: not connected")
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, chunk := range transport.SplitText(line, lineLimit) {
			if err := ctx.Err(); err != nil {
				return err
			}
			a.client.Cmd.Message(conversationID, chunk)
		}
	}
	return nil
}
