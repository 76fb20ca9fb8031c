// Command assistant is an interactive terminal client for the thesis search
// assistant. It drives the session and conversation state machines against a
// running backend: sign in (password or Google via the system browser), pick
// a conversation, ask questions, rate answers.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/unizar-ia/thesis-assistant-client/internal/api"
	"github.com/unizar-ia/thesis-assistant-client/internal/chat"
	"github.com/unizar-ia/thesis-assistant-client/internal/config"
	"github.com/unizar-ia/thesis-assistant-client/internal/domain"
	"github.com/unizar-ia/thesis-assistant-client/internal/guard"
	"github.com/unizar-ia/thesis-assistant-client/internal/localhttp"
	"github.com/unizar-ia/thesis-assistant-client/internal/oauth"
	"github.com/unizar-ia/thesis-assistant-client/internal/observability"
	"github.com/unizar-ia/thesis-assistant-client/internal/session"
	"github.com/unizar-ia/thesis-assistant-client/internal/store"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	setLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	logger := log.With().Str("service", "assistant").Logger()

	ctx := context.Background()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()

	st, err := store.Open(cfg.CachePath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.CachePath).Msg("could not open local cache")
	}
	defer st.Close()

	client, err := api.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not build api client")
	}

	registry := oauth.NewRegistry()
	srv := localhttp.New(cfg.OAuth.CallbackAddr, cfg.OTEL.ServiceName, registry, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.OAuth.CallbackAddr).Msg("could not start loopback server")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	sess := session.NewManager(session.Options{
		API:          client,
		Pending:      st,
		Registry:     registry,
		CallbackURL:  "http://" + cfg.OAuth.CallbackAddr + "/auth/callback",
		OAuthTimeout: cfg.OAuth.Timeout,
		PollInterval: cfg.OAuth.PollInterval,
		Logger:       logger,
	})
	conv := chat.NewManager(chat.Options{
		API:   client,
		Cache: st,
		Identity: func() *domain.Identity {
			return sess.Snapshot().Identity
		},
		Logger: logger,
	})

	sess.Initialize(ctx)
	conv.PrimeFromCache(ctx)

	fmt.Printf("thesis assistant %s (backend %s)\n", version, cfg.BackendURL)
	if snap := sess.Snapshot(); snap.IsAuthenticated() {
		fmt.Printf("signed in as %s\n", snap.Identity.Email)
	} else {
		fmt.Println("not signed in; try: login <email>, register <email>, or google")
	}

	repl(ctx, sess, conv)
}

// repl reads commands until EOF or quit.
func repl(ctx context.Context, sess *session.Manager, conv *chat.Manager) {
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 64*1024), 64*1024)

	// currentID tracks which conversation ask targets; "" starts a new one.
	currentID := ""

	fmt.Print("> ")
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "quit", "exit":
			return

		case "help":
			usage()

		case "whoami":
			snap := sess.Snapshot()
			if !snap.IsAuthenticated() {
				fmt.Println("anonymous")
				break
			}
			id := snap.Identity
			fmt.Printf("%s <%s> roles=%v\n", id.DisplayName, id.Email, id.Roles)

		case "login":
			if len(args) != 1 {
				fmt.Println("usage: login <email>")
				break
			}
			password := prompt(in, "password: ")
			res, err := sess.Login(ctx, args[0], password)
			reportAuthOutcome(res, err)

		case "register":
			if len(args) != 1 {
				fmt.Println("usage: register <email>")
				break
			}
			name := prompt(in, "display name: ")
			password := prompt(in, "password: ")
			res, err := sess.Register(ctx, args[0], password, name)
			reportAuthOutcome(res, err)

		case "verify":
			// verify [email] <code>; email defaults to the pending one.
			var email, code string
			switch len(args) {
			case 1:
				code = args[0]
			case 2:
				email, code = args[0], args[1]
			default:
				fmt.Println("usage: verify [email] <code>")
				break
			}
			if code == "" {
				break
			}
			if err := sess.Verify(ctx, email, code); err != nil {
				fmt.Println("error:", api.UserMessage(err))
				break
			}
			fmt.Println("verified and signed in")

		case "resend":
			if len(args) != 1 {
				fmt.Println("usage: resend <email>")
				break
			}
			msg, err := sess.ResendCode(ctx, args[0])
			if err != nil {
				fmt.Println("error:", api.UserMessage(err))
				break
			}
			if msg == "" {
				msg = "verification code sent"
			}
			fmt.Println(msg)

		case "google":
			fmt.Println("opening your browser for Google sign-in...")
			res, err := sess.LoginWithGoogle(ctx, session.GoogleOptions{ForceAccountSelection: true})
			reportAuthOutcome(res, err)

		case "logout":
			sess.Logout(ctx)
			conv.ClearCurrent()
			currentID = ""
			fmt.Println("signed out")

		case "list":
			if !requireAuth(sess, "/chat") {
				break
			}
			conv.LoadConversations(ctx)
			snap := conv.Snapshot()
			if snap.Err != "" {
				fmt.Println("error:", snap.Err)
				break
			}
			if len(snap.Conversations) == 0 {
				fmt.Println("no conversations yet")
				break
			}
			for _, c := range snap.Conversations {
				marker := " "
				if c.ID == currentID {
					marker = "*"
				}
				title := c.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s %s  %s  (%d messages)\n", marker, c.ID, title, c.MessagesCount)
			}

		case "open":
			if !requireAuth(sess, "/chat") {
				break
			}
			if len(args) != 1 {
				fmt.Println("usage: open <conversation-id>")
				break
			}
			conv.LoadConversation(ctx, args[0])
			snap := conv.Snapshot()
			if snap.Err != "" {
				fmt.Println("error:", snap.Err)
				break
			}
			currentID = args[0]
			for _, msg := range snap.Messages {
				printMessage(msg)
			}

		case "new":
			conv.ClearCurrent()
			currentID = ""
			fmt.Println("next question starts a new conversation")

		case "ask":
			if !requireAuth(sess, "/chat") {
				break
			}
			if len(args) == 0 {
				fmt.Println("usage: ask <question>")
				break
			}
			question := strings.Join(args, " ")
			id, err := conv.SendMessage(ctx, question, currentID)
			if err != nil {
				fmt.Println("error:", api.UserMessage(err))
				break
			}
			currentID = id
			waitForReply(conv)

		case "rate":
			if !requireAuth(sess, "/chat") {
				break
			}
			if len(args) < 2 {
				fmt.Println("usage: rate <message-id> <1-5> [comment]")
				break
			}
			rating, err := strconv.Atoi(args[1])
			if err != nil || rating < 1 || rating > 5 {
				fmt.Println("rating must be 1-5")
				break
			}
			comment := strings.Join(args[2:], " ")
			if err := conv.RateMessage(ctx, args[0], rating, comment); err != nil {
				fmt.Println("error:", api.UserMessage(err))
				break
			}
			fmt.Println("thanks for the feedback")

		case "delete":
			if !requireAuth(sess, "/chat") {
				break
			}
			if len(args) != 1 {
				fmt.Println("usage: delete <conversation-id>")
				break
			}
			if err := conv.DeleteConversation(ctx, args[0]); err != nil {
				fmt.Println("error:", api.UserMessage(err))
				break
			}
			if currentID == args[0] {
				currentID = ""
			}
			fmt.Println("deleted")

		default:
			fmt.Printf("unknown command %q; try help\n", cmd)
		}
		fmt.Print("> ")
	}
}

// requireAuth runs the route guard for an auth-only view and explains the
// verdict when access is denied.
func requireAuth(sess *session.Manager, path string) bool {
	d := guard.Evaluate(sess.Snapshot(), guard.Requirement{RequireAuth: true}, path)
	switch d.Action {
	case guard.ActionAllow:
		return true
	case guard.ActionWait:
		fmt.Println("still checking your session, try again in a moment")
	default:
		fmt.Println("please sign in first (login, register, or google)")
	}
	return false
}

// waitForReply watches chat state until the in-flight send settles, printing
// new messages as they arrive.
func waitForReply(conv *chat.Manager) {
	updates, cancel := conv.Subscribe()
	defer cancel()

	seen := make(map[string]bool)
	for _, m := range conv.Snapshot().Messages {
		seen[m.ID] = true
	}
	printNew := func(snap chat.State) {
		for _, m := range snap.Messages {
			if !seen[m.ID] {
				seen[m.ID] = true
				printMessage(m)
			}
		}
	}

	snap := conv.Snapshot()
	printNew(snap)
	timeout := time.After(2 * time.Minute)
	for snap.IsSending {
		select {
		case snap = <-updates:
			printNew(snap)
		case <-timeout:
			fmt.Println("(still waiting; the answer will appear on the next open)")
			return
		}
	}
	if snap.Err != "" {
		fmt.Println("error:", snap.Err)
	}
}

// printMessage renders one chat turn, with citations and quality scores for
// bot answers.
func printMessage(m domain.Message) {
	switch m.Sender {
	case domain.SenderUser:
		name := "you"
		if m.User != nil && m.User.DisplayName != "" {
			name = m.User.DisplayName
		}
		fmt.Printf("[%s] %s\n", name, m.Content)
	case domain.SenderBot:
		fmt.Printf("[assistant] %s\n", m.Content)
		for _, g := range domain.GroupSources(m.AISources) {
			fmt.Printf("  source: %s chunks %v\n", g.Source, g.Chunks)
		}
		if m.AIEval != nil {
			fmt.Printf("  quality: %.2f (%s)  id=%s\n",
				m.AIEval.Overall, domain.LevelFor(m.AIEval.Overall), m.ID)
		}
	default:
		fmt.Printf("[system] %s\n", m.Content)
	}
}

// reportAuthOutcome prints the result of a login/register/google exchange.
func reportAuthOutcome(res *session.Result, err error) {
	switch {
	case err != nil:
		fmt.Println("error:", api.UserMessage(err))
	case res.RequiresVerification:
		fmt.Printf("check %s for a code, then run: verify <code>\n", res.Email)
	case res.RequiresRegistration:
		fmt.Printf("no account for %s yet; run: register %s\n", res.Email, res.Email)
	default:
		fmt.Println("signed in")
	}
}

func prompt(in *bufio.Scanner, label string) string {
	fmt.Print(label)
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}

// setLogLevel configures the global zerolog level from a config string.
func setLogLevel(lvl string) {
	switch lvl {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func usage() {
	fmt.Print(`commands:
  login <email>              sign in with email/password
  register <email>           create an account
  verify [email] <code>      confirm the emailed code
  resend <email>             request a fresh code
  google                     sign in with Google (opens browser)
  logout                     sign out
  whoami                     show the current identity
  list                       list conversations
  open <id>                  open a conversation
  new                        start a fresh conversation on next ask
  ask <question>             ask the assistant
  rate <msg-id> <1-5> [txt]  rate an answer
  delete <id>                delete a conversation
  quit                       exit
`)
}
