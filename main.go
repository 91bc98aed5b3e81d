package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classchat/classchat/client"
	"github.com/classchat/classchat/models"
	"github.com/classchat/classchat/rest"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := client.LoadConfig()
	if err != nil {
		logger.Error("load config: " + err.Error())
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprint(os.Stderr, client.FormatValidationErrors(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	restClient, err := rest.New(cfg.ServerURL, rest.WithLogger(logger))
	if err != nil {
		logger.Error("rest client: " + err.Error())
		os.Exit(1)
	}
	if token, err := os.ReadFile(cfg.TokenFile); err == nil {
		token := strings.TrimSpace(string(token))
		if !rest.TokenExpired(token) {
			restClient.SetToken(token)
		}
	}

	c := client.New(restClient, cfg.SocketURL, client.WithLogger(logger))
	if err := connect(ctx, c, restClient); err != nil {
		logger.Error("connect: " + err.Error())
		os.Exit(1)
	}
	defer c.Logout()

	if token := restClient.Token(); token != "" {
		if err := os.WriteFile(cfg.TokenFile, []byte(token), 0o600); err != nil {
			logger.Warn("cache token: " + err.Error())
		}
	}

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	if cfg.Module != "" {
		if err := c.SelectModule(ctx, cfg.Module); err != nil {
			logger.Error("select module: " + err.Error())
		}
	}

	go renderLoop(ctx, c)
	go func() {
		select {
		case <-c.Disconnected():
			logger.Warn("realtime connection lost")
			stop()
		case <-ctx.Done():
		}
	}()

	repl(ctx, c)
}

// connect resumes a cached session and falls back to credentials from the
// environment when the token is missing or rejected.
func connect(ctx context.Context, c *client.Client, restClient *rest.Client) error {
	if restClient.Token() != "" {
		if err := c.Resume(ctx); err == nil {
			return nil
		}
	}
	creds := rest.Credentials{
		Username: os.Getenv("CLASSCHAT_USERNAME"),
		Password: os.Getenv("CLASSCHAT_PASSWORD"),
	}
	return c.Login(ctx, creds)
}

func serveMetrics(addr string, logger *slog.Logger) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listening", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("metrics server: " + err.Error())
	}
}

// renderLoop redraws the active room whenever the registry changes.
func renderLoop(ctx context.Context, c *client.Client) {
	reg := c.Registry()
	if reg == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-reg.Changes():
			if !ok {
				return
			}
			render(c)
		}
	}
}

func render(c *client.Client) {
	reg := c.Registry()
	roomID := c.ActiveRoom()
	if reg == nil || roomID == "" {
		return
	}
	self := c.Self().ID
	for _, msg := range reg.VisibleMessages(roomID, self) {
		name := msg.Sender
		if user, ok := reg.Participant(msg.Sender); ok {
			name = user.Name
		}
		marker := ""
		if msg.Sender == self {
			marker = " [" + string(msg.Status) + "]"
		}
		fmt.Printf("%s: %s%s\n", name, msg.Content, marker)
	}
	if typing := reg.TypingUsers(roomID); len(typing) > 0 {
		fmt.Printf("(%s typing...)\n", strings.Join(typing, ", "))
	}
}

// repl reads commands from stdin. A line starting with / is a command, any
// other line is sent to the active room.
func repl(ctx context.Context, c *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: /modules /module <id> /rooms /open <room> /dm <user> /retry <id> /delete <msg> /clear /quit")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sendLine(c, line)
			continue
		}
		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]
		if cmd == "/quit" {
			return
		}
		if err := runCommand(ctx, c, cmd, args); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func sendLine(c *client.Client, line string) {
	roomID := c.ActiveRoom()
	if roomID == "" {
		fmt.Println("no room open, use /open or /dm first")
		return
	}
	if _, err := c.SendText(roomID, line, ""); err != nil {
		fmt.Println("error:", err)
	}
}

func runCommand(ctx context.Context, c *client.Client, cmd string, args []string) error {
	reg := c.Registry()
	switch cmd {
	case "/modules":
		modules, err := c.Rest().Modules(ctx)
		if err != nil {
			return err
		}
		for _, m := range modules {
			fmt.Printf("%s  %s (%s)\n", m.ID, m.Name, m.Code)
		}
	case "/module":
		if len(args) != 1 {
			return fmt.Errorf("usage: /module <id>")
		}
		return c.SelectModule(ctx, args[0])
	case "/rooms":
		for _, room := range reg.Rooms() {
			unread := ""
			if n := reg.Unread(room.ID); n > 0 {
				unread = fmt.Sprintf(" (%d unread)", n)
			}
			fmt.Printf("%s  %s [%s]%s\n", room.ID, room.Name, room.Kind, unread)
		}
	case "/open":
		if len(args) != 1 {
			return fmt.Errorf("usage: /open <room>")
		}
		return c.OpenGroup(ctx, args[0])
	case "/dm":
		if len(args) != 1 {
			return fmt.Errorf("usage: /dm <user>")
		}
		room, err := c.OpenDirect(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println("opened", room.ID)
	case "/retry":
		if len(args) != 1 {
			return fmt.Errorf("usage: /retry <client-id>")
		}
		return c.Retry(args[0])
	case "/delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: /delete <message-id>")
		}
		return c.DeleteMessage(c.ActiveRoom(), args[0], models.DeleteForEveryone)
	case "/clear":
		return c.ClearChat(c.ActiveRoom())
	default:
		return fmt.Errorf("unknown command %s", cmd)
	}
	return nil
}
