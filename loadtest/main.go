// Stress client: registers user pairs, opens a direct conversation per
// pair, and hammers the conversation websocket with message frames.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws/conversations"
	PairCount = 250 // ⚠️ Start small. Database might choke on more immediately.
	MsgCount  = 20  // Messages per user
)

type AuthResponse struct {
	Token string `json:"access_token"`
	ID    int64  `json:"id"`
}

type ConversationResponse struct {
	ID int64 `json:"id"`
}

func main() {
	log.Printf("🔥 STARTING STRESS TEST: %d users, %d messages each...", PairCount*2, MsgCount)
	var wg sync.WaitGroup

	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("✅ LOAD TEST COMPLETE")
}

func runPair(pairID int) {
	emailA := fmt.Sprintf("load_%d_a@test.local", pairID)
	emailB := fmt.Sprintf("load_%d_b@test.local", pairID)
	pass := "password123"

	tokenA, _ := authenticate(emailA, pass)
	tokenB, idB := authenticate(emailB, pass)
	if tokenA == "" || tokenB == "" {
		return
	}

	convID := createConversation(tokenA, idB)
	if convID == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); chat(tokenA, convID, pairID, "a") }()
	go func() { defer wg.Done(); chat(tokenB, convID, pairID, "b") }()
	wg.Wait()
}

func authenticate(email, pass string) (string, int64) {
	reg := map[string]string{
		"email":      email,
		"first_name": "Load",
		"last_name":  "Tester",
		"password":   pass,
	}
	postJSON("/register", "", reg) // ignore conflicts on re-runs

	var auth AuthResponse
	res := postJSON("/login", "", map[string]string{"email": email, "password": pass})
	if res == nil {
		return "", 0
	}
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(&auth); err != nil {
		return "", 0
	}
	return auth.Token, auth.ID
}

func createConversation(token string, peerID int64) int64 {
	res := postJSON("/api/conversations", token, map[string]any{
		"conversation_type": "direct",
		"participant_ids":   []int64{peerID},
	})
	if res == nil {
		return 0
	}
	defer res.Body.Close()

	var conv ConversationResponse
	if err := json.NewDecoder(res.Body).Decode(&conv); err != nil {
		return 0
	}
	return conv.ID
}

func chat(token string, convID int64, pairID int, who string) {
	url := fmt.Sprintf("%s/%d?token=%s", WSURL, convID, token)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Printf("pair %d%s: dial failed: %v", pairID, who, err)
		return
	}
	defer conn.Close()

	// Drain incoming events so write buffers never back up.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < MsgCount; i++ {
		frame := map[string]any{
			"type":    "message",
			"content": fmt.Sprintf("msg %d from pair %d%s", i, pairID, who),
		}
		data, _ := json.Marshal(frame)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func postJSON(path, token string, body any) *http.Response {
	data, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}
	return res
}
