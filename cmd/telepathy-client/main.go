// Command telepathy-client is a terminal player for the matching game. It
// keeps a reconciled local view from server broadcasts and only offers a
// pick when the view says the local player may act.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/kapu/telepathy-go/internal/gamelink"
	"github.com/kapu/telepathy-go/internal/view"
	"github.com/kapu/telepathy-go/pkg/wire"
)

type clientConfig struct {
	serverURL string
	token     string
	attempts  int
	delay     time.Duration
	timeout   time.Duration
}

func main() {
	log.SetFlags(0)
	cfg := &clientConfig{}

	cmd := &cobra.Command{
		Use:           "telepathy-client",
		Short:         "Terminal player for the symbol matching game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&cfg.serverURL, "server", "s", "ws://localhost:8080/ws", "server websocket url")
	fs.StringVarP(&cfg.token, "token", "t", "", "login token (dev tokens are \"userID|email|name\")")
	fs.IntVar(&cfg.attempts, "reconnection-attempts", 5, "reconnection attempts before giving up")
	fs.DurationVar(&cfg.delay, "reconnection-delay", time.Second, "base delay between reconnection attempts")
	fs.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "connect and send timeout")

	cobra.CheckErr(cmd.Execute())
}

func run(ctx context.Context, cfg *clientConfig) error {
	if strings.TrimSpace(cfg.token) == "" {
		return fmt.Errorf("--token is required")
	}
	userID := strings.SplitN(cfg.token, "|", 2)[0]

	wsURL, err := withToken(cfg.serverURL, cfg.token)
	if err != nil {
		return err
	}

	opts := gamelink.DefaultOptions()
	opts.ReconnectionAttempts = cfg.attempts
	opts.ReconnectionDelay = cfg.delay
	opts.Timeout = cfg.timeout

	link, err := gamelink.New(wsURL, opts)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	st := view.New(userID)

	link.OnEvent(func(evt *wire.Envelope) {
		mu.Lock()
		st.Apply(evt)
		line := describe(st, evt)
		mu.Unlock()
		if line != "" {
			fmt.Println(line)
		}
	})
	link.OnStateChange(func(state gamelink.LinkState) {
		mu.Lock()
		st.SetConnected(state == gamelink.StateConnected)
		mu.Unlock()
		fmt.Printf("[link] %s\n", state)
	})

	if err := link.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
		defer cancel()
		_ = link.Close(closeCtx)
	}()

	fmt.Println("commands: create | invite <email> | join <game-id> | pick <0-7> | leave | quit")
	return prompt(ctx, cfg, link, &mu, st)
}

func prompt(ctx context.Context, cfg *clientConfig, link *gamelink.Link, mu *sync.Mutex, st *view.State) error {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
		err := handleCommand(sendCtx, fields, link, mu, st)
		cancel()
		if err == errQuit {
			return nil
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
	return sc.Err()
}

var errQuit = fmt.Errorf("quit")

func handleCommand(ctx context.Context, fields []string, link *gamelink.Link, mu *sync.Mutex, st *view.State) error {
	mu.Lock()
	gameID := st.GameID
	userID := st.UserID
	mu.Unlock()

	switch fields[0] {
	case "create":
		return link.Send(ctx, &wire.Envelope{Type: wire.TypeCreateSession, UserID: userID})
	case "invite":
		if len(fields) < 2 {
			return fmt.Errorf("usage: invite <email>")
		}
		return link.Send(ctx, &wire.Envelope{Type: wire.TypeInvitePlayer, GameID: gameID, Email: fields[1]})
	case "join":
		if len(fields) < 2 {
			return fmt.Errorf("usage: join <game-id>")
		}
		mu.Lock()
		st.GameID = fields[1]
		mu.Unlock()
		return link.Send(ctx, &wire.Envelope{Type: wire.TypeJoinGame, GameID: fields[1], UserID: userID})
	case "pick":
		if len(fields) < 2 {
			return fmt.Errorf("usage: pick <0-%d>", wire.SymbolCount-1)
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("not a symbol index: %s", fields[1])
		}
		mu.Lock()
		evt, ok := st.Pick(idx)
		mu.Unlock()
		if !ok {
			return fmt.Errorf("cannot pick right now")
		}
		return link.Send(ctx, evt)
	case "leave":
		return link.Send(ctx, &wire.Envelope{Type: wire.TypeLeaveGame, GameID: gameID, UserID: userID})
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command: %s", fields[0])
	}
}

func withToken(serverURL, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// describe renders the one-line reaction to a server event, under the view
// lock so the printed state is the state the event produced.
func describe(st *view.State, evt *wire.Envelope) string {
	switch evt.Type {
	case wire.TypeGameCreated:
		return fmt.Sprintf("game created: %s (waiting for a second player)", evt.GameID)
	case wire.TypeGameInvitation:
		return fmt.Sprintf("invitation from %s: join %s", evt.SenderEmail, evt.GameID)
	case wire.TypeGameJoined:
		return fmt.Sprintf("game on, you are the %s", st.Role)
	case wire.TypeSnapshot:
		return fmt.Sprintf("rejoined %s: round %d, score %d, role %s", st.GameID, st.Round+1, st.Score, st.Role)
	case wire.TypeRoundStarted:
		if st.CanPick {
			return fmt.Sprintf("round %d: pick a symbol %v", st.Round+1, wire.Symbols)
		}
		return fmt.Sprintf("round %d: waiting for the sender", st.Round+1)
	case wire.TypeCardSelectedUpdate:
		if st.CanPick {
			return fmt.Sprintf("sender has chosen, guess a symbol %v", wire.Symbols)
		}
		return "selection locked in, waiting for the guess"
	case wire.TypeCardCheckResult:
		verdict := "miss"
		if evt.IsCorrect != nil && *evt.IsCorrect {
			verdict = "match!"
		}
		sym := ""
		if evt.CardIndex != nil && wire.ValidSymbol(*evt.CardIndex) {
			sym = " (" + wire.Symbols[*evt.CardIndex] + ")"
		}
		return fmt.Sprintf("%s%s score %d", verdict, sym, st.Score)
	case wire.TypeSessionComplete:
		return fmt.Sprintf("session complete: %d/%d", st.FinalScore, wire.RoundsPerSession)
	case wire.TypeError:
		gerr := wire.GameError{Code: evt.Code, Message: evt.Message}
		return fmt.Sprintf("rejected [%s]: %v", evt.Code, gerr)
	}
	return ""
}
