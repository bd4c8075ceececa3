// Command console is a role-aware terminal client for the dispatch relay.
// It logs in over REST, opens a realtime session, and exposes the patient,
// driver, and agent operations as line commands. Useful for poking a relay
// without a browser.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weheal/lifeline/internal/bus"
	"github.com/weheal/lifeline/internal/chat"
	"github.com/weheal/lifeline/internal/config"
	"github.com/weheal/lifeline/internal/lifecycle"
	"github.com/weheal/lifeline/internal/models"
	"github.com/weheal/lifeline/internal/protocol"
	"github.com/weheal/lifeline/internal/session"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		apiURL   = flag.String("api", "http://localhost:8080", "relay HTTP base URL")
		email    = flag.String("email", "", "account email")
		password = flag.String("password", "", "account password")
	)
	flag.Parse()

	if *email == "" || *password == "" {
		log.Fatal().Msg("both -email and -password are required")
	}

	cfg := config.Load()
	identity, token, err := login(*apiURL, *email, *password)
	if err != nil {
		log.Fatal().Err(err).Msg("login failed")
	}
	log.Info().Str("user", identity.UserID).Str("role", identity.Role).Msg("logged in")

	b := bus.New()
	sess := session.New(session.Options{
		URL:         cfg.RelayURL,
		Token:       token,
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
	}, identity, b)

	controller := lifecycle.New(identity.UserID, sess, b, lifecycle.WithAckTimeout(cfg.AckTimeout))
	defer controller.Close()
	coordinator := chat.New(identity, sess, b, chat.WithAckTimeout(cfg.AckTimeout))
	defer coordinator.Close()

	printInbound(b)

	sess.Connect()
	defer sess.Disconnect()

	repl(identity, sess, controller, coordinator)
}

func login(apiURL, email, password string) (models.Identity, string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(apiURL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return models.Identity{}, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Identity{}, "", fmt.Errorf("login returned status %d", resp.StatusCode)
	}

	var out struct {
		Token  string `json:"token"`
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Identity{}, "", err
	}
	return models.Identity{UserID: out.UserID, Role: out.Role}, out.Token, nil
}

// printInbound mirrors interesting frames to the terminal alongside whatever
// the controllers do with them.
func printInbound(b *bus.Bus) {
	for _, t := range []protocol.FrameType{
		protocol.TypeRequestStatusUpdate,
		protocol.TypeDriverStatusUpdate,
		protocol.TypeNewRequest,
		protocol.TypeChatNew,
		protocol.TypeChatAssigned,
		protocol.TypeChatMessage,
		protocol.TypeChatEnded,
	} {
		b.Subscribe(t, func(f protocol.Frame) {
			fmt.Printf("<< %s %s\n", f.Type, string(f.Data))
		})
	}
}

func repl(identity models.Identity, sess *session.Session, controller *lifecycle.Controller, coordinator *chat.Coordinator) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Printf("connected as %s (%s); type 'help'\n", identity.UserID, identity.Role)

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "help":
			fmt.Println("patient: request <location> | cancel | status | chat | say <msg> | end")
			fmt.Println("driver:  accept <requestId> | update <requestId> <status>")
			fmt.Println("agent:   queue | claim <patientId> | say <patientId> <msg...> | end <patientId>")
			fmt.Println("any:     state | quit")
		case "state":
			fmt.Println("session:", sess.State())
		case "request":
			id, err := controller.Submit(strings.Join(args, " "), "")
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("request submitted:", id)
		case "cancel":
			controller.Cancel()
		case "status":
			snap := controller.Snapshot()
			if !snap.Active {
				fmt.Println("no active request")
				continue
			}
			fmt.Printf("request %s: %s (%.0f%%)", snap.Request.ID, snap.Request.Status, snap.Progress)
			if snap.Request.ETADeadline != nil {
				fmt.Printf(" eta %s", snap.Request.ETADeadline.Format(time.Kitchen))
			}
			if snap.CancelPending {
				fmt.Print(" [cancelling]")
			}
			fmt.Println()
		case "accept":
			if len(args) != 1 {
				fmt.Println("usage: accept <requestId>")
				continue
			}
			sess.Send(protocol.TypeAcceptRequest, protocol.AcceptRequestPayload{RequestID: args[0]})
		case "update":
			if len(args) != 2 {
				fmt.Println("usage: update <requestId> <status>")
				continue
			}
			sess.Send(protocol.TypeDriverStatusUpdate, protocol.StatusUpdatePayload{
				RequestID: args[0],
				Status:    args[1],
				Timestamp: time.Now().UTC(),
			})
		case "chat":
			coordinator.RequestChat(identity.UserID)
		case "queue":
			for _, entry := range coordinator.Queue() {
				fmt.Printf("  %s (%s) waiting since %s\n", entry.PatientID, entry.Name, entry.At.Format(time.Kitchen))
			}
		case "claim":
			if len(args) != 1 {
				fmt.Println("usage: claim <patientId>")
				continue
			}
			coordinator.Claim(args[0])
		case "say":
			switch identity.Role {
			case "patient":
				coordinator.SendMessage(identity.UserID, strings.Join(args, " "))
			default:
				if len(args) < 2 {
					fmt.Println("usage: say <patientId> <msg...>")
					continue
				}
				coordinator.SendMessage(args[0], strings.Join(args[1:], " "))
			}
		case "end":
			switch identity.Role {
			case "patient":
				coordinator.End(identity.UserID)
			default:
				if len(args) != 1 {
					fmt.Println("usage: end <patientId>")
					continue
				}
				coordinator.End(args[0])
			}
		case "quit":
			return
		default:
			fmt.Println("unknown command; type 'help'")
		}
	}
}
