package main

import (
	"bufio"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/network"
	"github.com/wfunc/impostorserver/replica"
)

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, v interface{}) error {
	var data []byte
	if v != nil {
		data = network.Marshal(v)
	}
	packet, err := network.EncodePacket(msgID, data)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, packet)
}

func newReplica() *replica.Replica {
	return replica.New(replica.Listener{
		OnWelcome: func(m models.Welcome) {
			log.Printf("Joined room %s as participant %d", m.RoomCode, m.ParticipantID)
		},
		OnRosterChanged: func(m models.RosterSnapshot) {
			log.Printf("Roster:\n%s", m.Text)
		},
		OnPhaseChanged: func(m models.PhaseNotice) {
			log.Printf("Round %d: %s", m.Round, m.Phase)
		},
		OnRolePayload: func(m models.RolePayload) {
			log.Printf("Your word for round %d: %s", m.Round, m.Payload)
		},
		OnVotingStarted: func(m models.VotingStarted) {
			log.Printf("Voting open for %ds. Type 'vote <id>'.", m.Seconds)
		},
		OnVotingTick: func(m models.VotingTick) {
			if m.SecondsRemaining <= 5 {
				log.Printf("%ds left", m.SecondsRemaining)
			}
		},
		OnVoteResolved: func(m models.VoteResolved) {
			switch {
			case !m.Outcome.Eliminated:
				log.Printf("Nobody was voted out (%d ballots)", m.Outcome.Counted)
			case m.Outcome.WasImpostor:
				log.Printf("%d was the impostor!", m.Outcome.VotedOutID)
			default:
				log.Printf("%d was innocent", m.Outcome.VotedOutID)
			}
		},
		OnReleased: func(models.Released) {
			log.Println("You were caught. You are free to roam.")
		},
		OnError: func(m models.ErrorNotice) {
			log.Printf("Error (%s): %s", m.Code, m.Message)
		},
	})
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	code := flag.String("room", "", "join code; empty creates a room")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	state := newReplica()
	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			packet, err := network.DecodePacket(message)
			if err != nil {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			if err := state.Apply(packet); err != nil {
				log.Printf("Bad packet %d: %v", packet.MsgID, err)
			}
		}
	}()

	if *code == "" {
		err = send(c, network.MsgTypeCreateRoom, nil)
	} else {
		err = send(c, network.MsgTypeJoinRoom, models.JoinRoomRequest{RoomCode: *code})
	}
	if err != nil {
		log.Println("Write error:", err)
		return
	}

	log.Println("Commands: name <name>, start, restart, end, vote <id>, who, quit")

	lines := make(chan string)
	go func() {
		reader := bufio.NewScanner(os.Stdin)
		for reader.Scan() {
			lines <- strings.TrimSpace(reader.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case text, ok := <-lines:
			if !ok || text == "quit" {
				return
			}
			if err := command(c, state, text); err != nil {
				log.Println("Write error:", err)
				return
			}
		}
	}
}

func command(c *websocket.Conn, state *replica.Replica, text string) error {
	cmd, arg, _ := strings.Cut(text, " ")
	switch cmd {
	case "name":
		return send(c, network.MsgTypeRename, models.RenameRequest{Name: arg})
	case "start":
		return send(c, network.MsgTypeStartRound, nil)
	case "restart":
		return send(c, network.MsgTypeRestartRound, nil)
	case "end":
		return send(c, network.MsgTypeEndGame, nil)
	case "vote":
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			log.Printf("vote needs a participant id, got %q", arg)
			return nil
		}
		return send(c, network.MsgTypePlayerAction, models.Action{Type: models.ActionVote, Target: models.ParticipantID(id)})
	case "who":
		log.Printf("Room %s, round %d (%s), host=%v\n%s",
			state.RoomCode(), state.Round(), state.Phase(), state.IsHost(), state.RosterText())
		if word, ok := state.Payload(); ok {
			log.Printf("Your word: %s", word)
		}
	case "":
	default:
		log.Printf("Unknown command %q", cmd)
	}
	return nil
}
