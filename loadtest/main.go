package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"petconnect/internal/chat"
	"petconnect/internal/message"
	"petconnect/internal/user"
)

var (
	baseURL   = flag.String("base", "http://localhost:8080", "API base URL")
	pairCount = flag.Int("pairs", 50, "owner/walker pairs to simulate")
	msgCount  = flag.Int("messages", 20, "messages each user sends")
)

var received atomic.Int64

func main() {
	flag.Parse()
	jww.SetStdoutThreshold(jww.LevelInfo)
	jww.INFO.Printf("Starting load test: %d users, %d messages each", *pairCount*2, *msgCount)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *pairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(pairID); err != nil {
				jww.ERROR.Printf("pair %d: %v", pairID, err)
			}
		}(i)
	}
	wg.Wait()

	jww.INFO.Printf("Load test complete in %s, %d realtime events received", time.Since(start), received.Load())
}

type session struct {
	token string
	user  *user.User
	conn  *websocket.Conn
}

func runPair(pairID int) error {
	owner, err := authenticate(fmt.Sprintf("owner-%d@load.test", pairID), user.RoleOwner)
	if err != nil {
		return err
	}
	walker, err := authenticate(fmt.Sprintf("walker-%d@load.test", pairID), user.RoleWalker)
	if err != nil {
		return err
	}

	conversationID := chat.ConversationID(owner.user.ID, walker.user.ID)
	for _, s := range []*session{owner, walker} {
		if err := s.connect(conversationID); err != nil {
			return err
		}
		defer s.conn.Close()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go chatter(&wg, owner, walker.user.ID, conversationID)
	go chatter(&wg, walker, owner.user.ID, conversationID)
	wg.Wait()

	// Let the last relays drain before closing.
	time.Sleep(500 * time.Millisecond)
	return nil
}

// authenticate registers (ignoring an existing account) and logs in.
func authenticate(email, role string) (*session, error) {
	password := "password123"
	resp, err := postJSON("/register", "", user.RegisterRequest{Name: email, Email: email, Password: password, Role: role}, nil)
	if err != nil && resp != http.StatusConflict {
		return nil, err
	}

	var login user.LoginResponse
	if _, err := postJSON("/login", "", user.LoginRequest{Email: email, Password: password}, &login); err != nil {
		return nil, errors.Wrapf(err, "login %s", email)
	}
	return &session{token: login.AccessToken, user: login.User}, nil
}

func (s *session) connect(conversationID string) error {
	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws?token=" + url.QueryEscape(s.token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return errors.Wrapf(err, "ws connect %s", s.user.Email)
	}
	s.conn = conn

	raw, _ := json.Marshal(conversationID)
	if err := conn.WriteJSON(chat.Envelope{Event: chat.EventJoinConversation, Data: raw}); err != nil {
		return errors.Wrap(err, "join")
	}

	go func() {
		for {
			var env chat.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			received.Add(1)
		}
	}()
	return nil
}

// chatter stores each message through the gateway, then relays the stored
// record over the socket.
func chatter(wg *sync.WaitGroup, s *session, peerID, conversationID string) {
	defer wg.Done()

	for i := 0; i < *msgCount; i++ {
		var stored message.Message
		req := message.SendRequest{ReceiverID: peerID, Content: fmt.Sprintf("load test message %d from %s", i, s.user.Email)}
		if _, err := postJSON("/api/messages", s.token, req, &stored); err != nil {
			jww.ERROR.Printf("send failed [%s]: %v", s.user.Email, err)
			return
		}

		payload, _ := json.Marshal(chat.SendMessagePayload{ConversationID: conversationID, Message: mustJSON(stored)})
		if err := s.conn.WriteJSON(chat.Envelope{Event: chat.EventSendMessage, Data: payload}); err != nil {
			jww.ERROR.Printf("relay failed [%s]: %v", s.user.Email, err)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	jww.INFO.Printf("%s finished sending %d messages", s.user.Email, *msgCount)
}

func mustJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// postJSON returns the status code alongside any error so callers can
// tolerate expected failures.
func postJSON(endpoint, token string, body, out interface{}) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequest(http.MethodPost, *baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode, errors.Errorf("%s: status %d", endpoint, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
