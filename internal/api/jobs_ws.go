package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"omniroute/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second

	// TypeJobSnapshot is sent once on connect with the job's current state.
	TypeJobSnapshot = "job.snapshot"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// JobWSHandler streams job.* events for one job until it reaches a terminal
// status or the client disconnects.
func (s *Server) JobWSHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, tenant := s.withTenant(r)

	// Subscribe before reading the snapshot so no transition is missed.
	ch := s.Broker.Subscribe(jobID)
	var unsubOnce sync.Once
	unsubscribe := func() { unsubOnce.Do(func() { s.Broker.Unsubscribe(jobID, ch) }) }
	defer unsubscribe()

	job, err := s.Store.GetJob(ctx, tenant, jobID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	closeNormal := func() {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"), time.Now().Add(wsWriteWait))
	}

	snap := events.NewJobEvent(TypeJobSnapshot, job.ID, job.TenantID, string(job.Status), map[string]any{"job": job})
	if err := write(snap); err != nil {
		return
	}
	if job.Status.Terminal() {
		closeNormal()
		return
	}

	// Read loop: handles pongs and notices client disconnects.
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
	go func() {
		defer unsubscribe()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := write(evt); err != nil {
				s.Log.Debug("websocket write failed", zap.String("job_id", jobID), zap.Error(err))
				return
			}
			if evt.Terminal() {
				closeNormal()
				return
			}
		case <-ticker.C:
			wmu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
