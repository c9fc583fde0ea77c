package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/Dosada05/tournament-chat/chatclient"
	"github.com/Dosada05/tournament-chat/middleware"
	"github.com/Dosada05/tournament-chat/models"
	"github.com/golang-jwt/jwt/v4"
	"github.com/joho/godotenv"
)

const shortIDLen = 8

const help = `commands:
  <text>                 send a message
  /reply <id> <text>     reply to a message
  /edit <id> <text>      edit your message
  /del <id>              delete a message
  /react <id> <emoji>    toggle a reaction
  /pin <id>, /unpin <id> pin or unpin (organizer and moderators)
  /file <path> [caption] upload and send a file
  /history               print the loaded messages
  /mute, /unmute         toggle notifications
  /quit`

type cliConfig struct {
	ServerURL    string
	Token        string
	TournamentID int
	TeamID       *int
	Verbose      bool
}

func loadConfig() (cliConfig, error) {
	_ = godotenv.Load()

	cfg := cliConfig{
		ServerURL: os.Getenv("CHAT_SERVER_URL"),
		Token:     os.Getenv("CHAT_TOKEN"),
		Verbose:   os.Getenv("CHAT_VERBOSE") == "1",
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8080"
	}
	if cfg.Token == "" {
		return cfg, errors.New("CHAT_TOKEN environment variable is not set")
	}
	id, err := strconv.Atoi(os.Getenv("CHAT_TOURNAMENT_ID"))
	if err != nil || id <= 0 {
		return cfg, fmt.Errorf("invalid CHAT_TOURNAMENT_ID %q", os.Getenv("CHAT_TOURNAMENT_ID"))
	}
	cfg.TournamentID = id

	if raw := os.Getenv("CHAT_TEAM_ID"); raw != "" {
		teamID, err := strconv.Atoi(raw)
		if err != nil || teamID <= 0 {
			return cfg, fmt.Errorf("invalid CHAT_TEAM_ID %q", raw)
		}
		cfg.TeamID = &teamID
	}
	return cfg, nil
}

// identityFromToken reads who we are from the token claims. The server checks
// the signature; the client only needs the id, role and name.
func identityFromToken(token string) (models.Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return models.Identity{}, fmt.Errorf("parse token: %w", err)
	}
	return middleware.GetIdentityFromContext(middleware.WithClaims(context.Background(), claims))
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	me, err := identityFromToken(cfg.Token)
	if err != nil {
		logger.Error("invalid token", slog.Any("error", err))
		os.Exit(2)
	}

	scope := models.GeneralScope(cfg.TournamentID)
	if cfg.TeamID != nil {
		scope = models.TeamScope(cfg.TournamentID, *cfg.TeamID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := &printer{w: os.Stdout, self: me.ID}
	tracker := chatclient.NewTypingTracker(me.ID, nil)
	table := chatclient.NewHTTPTable(cfg.ServerURL, cfg.Token, nil)
	session := chatclient.StaticSession(me)

	mgr := chatclient.NewSubscriptionManager(table, chatclient.NewWSFeed(cfg.ServerURL, cfg.Token, logger), session, chatclient.SubscriptionConfig{
		Notifier: chatclient.NotifierFunc(func(title, body string) {
			out.printf("\a🔔 %s: %s\n", title, body)
		}),
		OnBroadcast: func(ev models.BroadcastEvent) {
			tracker.Observe(ev)
			out.typing(tracker.Label())
		},
		OnChange: out.change,
		OnState: func(s chatclient.SubscriptionState) {
			if s == chatclient.StateReconnecting || s == chatclient.StateLive {
				out.printf("-- %s\n", s)
			}
		},
		Logger: logger,
	})

	sub, err := mgr.Subscribe(ctx, scope)
	if err != nil {
		logger.Error("failed to join chat", slog.String("channel", scope.ChannelKey()), slog.Any("error", err))
		os.Exit(1)
	}
	defer mgr.Unsubscribe(sub)

	typing := chatclient.NewTypingBroadcaster(sub, me, logger)
	defer typing.Stop()

	composer := chatclient.NewComposer(chatclient.ComposerConfig{
		Table:     table,
		Store:     sub.Store(),
		Session:   session,
		Directory: table,
		Typing:    typing,
		Uploader:  chatclient.NewAttachmentUploader(chatclient.NewHTTPStorage(cfg.ServerURL, cfg.Token, nil), 0, logger),
		Logger:    logger,
	})

	out.printf("joined %s as %s (%s)\n", scope.ChannelKey(), me.DisplayName, me.Role)
	out.history(sub.Store().Messages())
	out.printf("%s\n", help)

	r := &repl{composer: composer, store: sub.Store(), mgr: mgr, out: out}
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			out.printf("-- connection closed\n")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := r.handle(ctx, line); quit {
				return
			}
		}
	}
}

type repl struct {
	composer *chatclient.Composer
	store    *chatclient.Store
	mgr      *chatclient.SubscriptionManager
	out      *printer
}

func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.composer.SetDraft(line)
		r.report(r.composer.Send(ctx, chatclient.SendInput{Body: line}))
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	arg, tail, _ := strings.Cut(strings.TrimSpace(rest), " ")
	tail = strings.TrimSpace(tail)

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		r.out.printf("%s\n", help)
	case "/history":
		r.out.history(r.store.Messages())
	case "/mute":
		r.mgr.SetMuted(true)
	case "/unmute":
		r.mgr.SetMuted(false)
	case "/reply":
		id, err := r.resolve(arg)
		if err != nil {
			r.out.errorf(err)
			return false
		}
		r.report(r.composer.Send(ctx, chatclient.SendInput{Body: tail, ReplyToID: &id}))
	case "/edit":
		if id, err := r.resolve(arg); err != nil {
			r.out.errorf(err)
		} else {
			r.report(r.composer.Edit(ctx, id, tail))
		}
	case "/del":
		if id, err := r.resolve(arg); err != nil {
			r.out.errorf(err)
		} else if err := r.composer.Delete(ctx, id); err != nil {
			r.out.errorf(err)
		}
	case "/react":
		if id, err := r.resolve(arg); err != nil {
			r.out.errorf(err)
		} else {
			r.report(r.composer.React(ctx, id, tail))
		}
	case "/pin", "/unpin":
		if id, err := r.resolve(arg); err != nil {
			r.out.errorf(err)
		} else {
			r.report(r.composer.Pin(ctx, id, cmd == "/pin"))
		}
	case "/file":
		r.report(r.sendFile(ctx, arg, tail))
	default:
		r.out.printf("unknown command %s\n", cmd)
	}
	return false
}

func (r *repl) report(_ *models.ChatMessage, err error) {
	if err != nil {
		r.out.errorf(err)
	}
}

// resolve accepts a full id or an unambiguous prefix of a loaded message id.
func (r *repl) resolve(prefix string) (string, error) {
	if prefix == "" {
		return "", errors.New("message id required")
	}
	var found []string
	for _, m := range r.store.Messages() {
		if m.ID == prefix {
			return m.ID, nil
		}
		if strings.HasPrefix(m.ID, prefix) {
			found = append(found, m.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("no message %q", prefix)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("id prefix %q is ambiguous", prefix)
	}
}

func (r *repl) sendFile(ctx context.Context, name, caption string) (*models.ChatMessage, error) {
	if name == "" {
		return nil, errors.New("file path required")
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return r.composer.SendFile(ctx, chatclient.File{
		Name:        filepath.Base(name),
		ContentType: contentType,
		Size:        info.Size(),
		Reader:      f,
	}, caption)
}

// printer is shared by the input loop and the subscription callbacks.
type printer struct {
	mu         sync.Mutex
	w          io.Writer
	self       int
	lastTyping string
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) errorf(err error) {
	p.printf("!! %v\n", err)
}

func (p *printer) typing(label string) {
	p.mu.Lock()
	changed := label != p.lastTyping
	p.lastTyping = label
	p.mu.Unlock()
	if changed && label != "" {
		p.printf("   %s\n", label)
	}
}

func (p *printer) change(ev models.ChangeEvent) {
	switch ev.Type {
	case models.ChangeInsert:
		if ev.Message != nil {
			p.message(*ev.Message)
		}
	case models.ChangeUpdate:
		if ev.Message != nil {
			p.printf("~ ")
			p.message(*ev.Message)
		}
	case models.ChangeDelete:
		p.printf("x %s deleted\n", short(ev.MessageID))
	}
}

func (p *printer) history(msgs []models.ChatMessage) {
	for _, m := range msgs {
		p.message(m)
	}
}

func (p *printer) message(m models.ChatMessage) {
	name := m.SenderName
	if m.SenderID == p.self {
		name = "you"
	}
	var flags []string
	if m.Flags.IsPinned {
		flags = append(flags, "📌")
	}
	if m.Flags.IsEdited {
		flags = append(flags, "(edited)")
	}
	for emoji, r := range m.Reactions {
		flags = append(flags, fmt.Sprintf("%s%d", emoji, r.Count))
	}
	reply := ""
	if m.ReplyToID != nil {
		reply = " ↪" + short(*m.ReplyToID)
	}
	p.printf("[%s %s]%s %s: %s %s\n", m.CreatedAt.Local().Format("15:04"), short(m.ID), reply, name, m.Preview(), strings.Join(flags, " "))
}

func short(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}
