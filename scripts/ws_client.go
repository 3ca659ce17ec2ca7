// Package main runs a demo WebSocket client for schedule events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func post(base, path string, body []byte) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "admin")
	return http.DefaultClient.Do(req)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	date := time.Now().Format("2006-01-02")

	// Seed a request and build a draft schedule from it
	reqBody := []byte(`{"tenantId":"t_demo","requests":[{"customerId":"c_1","urgency":"HIGH","quantity":4,"location":{"lat":52.52,"lng":13.405},"serviceTimeSec":900}]}`)
	resp, err := post(base, "/v1/requests", reqBody)
	if err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()

	resp, err = post(base, "/v1/schedules/build", []byte(fmt.Sprintf(`{"tenantId":"t_demo","date":%q}`, date)))
	if err != nil {
		log.Fatal(err)
	}
	var sch struct {
		ID    string `json:"id"`
		Stops []struct {
			ID string `json:"id"`
		} `json:"stops"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sch); err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	if sch.ID == "" || len(sch.Stops) == 0 {
		log.Fatal("no schedule built")
	}
	log.Printf("Schedule ID: %s", sch.ID)

	for _, action := range []string{"approve", "start"} {
		if _, err := post(base, fmt.Sprintf("/v1/schedules/%s/%s", sch.ID, action), []byte("{}")); err != nil {
			log.Fatal(err)
		}
	}

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: fmt.Sprintf("/v1/schedules/%s/events/ws", sch.ID)}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s", string(msg))
		}
	}()

	// Trigger a stop event
	time.Sleep(500 * time.Millisecond)
	if _, err := post(base, fmt.Sprintf("/v1/stops/%s/arrive", sch.Stops[0].ID), []byte("{}")); err != nil {
		log.Fatal(err)
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
