// Package main submits an async optimize request and prints the job's
// websocket events until it finishes.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"

	"github.com/gorilla/websocket"
)

const demoProblem = `{"stops":[
	{"id":"depot","lat":12.9716,"lng":77.5946},
	{"id":"s1","lat":12.9352,"lng":77.6245,"demand_kg":40},
	{"id":"s2","lat":12.9698,"lng":77.7500,"demand_kg":25},
	{"id":"s3","lat":13.0358,"lng":77.5970,"demand_kg":60},
	{"id":"s4","lat":12.9141,"lng":77.6101,"demand_kg":15}
],"vehicles":[{"id":"van-1","capacity_kg":100},{"id":"van-2","capacity_kg":100}]}`

type jobEvent struct {
	Type   string         `json:"type"`
	JobID  string         `json:"job_id"`
	Status string         `json:"status"`
	Data   map[string]any `json:"data"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	tenant := os.Getenv("TENANT")
	if tenant == "" {
		tenant = "t_demo"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	req, _ := http.NewRequest(http.MethodPost, base+"/v1/optimize?async=true", bytes.NewReader([]byte(demoProblem)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", tenant)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("optimize: unexpected status %s", resp.Status)
	}
	var accepted struct {
		Data struct {
			JobID string `json:"job_id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		log.Fatal(err)
	}
	jobID := accepted.Data.JobID
	log.Printf("Job ID: %s", jobID)

	// The job may finish before we connect; the snapshot covers that.
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/optimize/jobs/" + jobID + "/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", tenant)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	for {
		var evt jobEvent
		if err := c.ReadJSON(&evt); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("stream closed: job finished")
				return
			}
			log.Fatalf("read: %v", err)
		}
		data, _ := json.Marshal(evt.Data)
		log.Printf("WS <- %s status=%s %s", evt.Type, evt.Status, data)
	}
}
