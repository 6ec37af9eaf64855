// Package monitor serves the state of a flow controller over HTTP and pushes
// its events to websocket clients.
//
//	GET  /api/state  current status as JSON
//	POST /api/stop   stop the active run
//	GET  /ws         status snapshots and events; clients may send {"type":"stop"}
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/jrwynneiii/iqtx/flow"
)

// Controller is the part of *flow.Controller the monitor needs.
type Controller interface {
	State() flow.State
	Stats() flow.Stats
	Err() error
	Subscribe() (<-chan flow.Event, func())
	Stop() error
}

const (
	DefaultInterval = time.Second
	writeWait       = 5 * time.Second
	sendBuffer      = 64
)

// Status is the JSON form of flow.Stats.
type Status struct {
	Type       string  `json:"type"`
	State      string  `json:"state"`
	Error      string  `json:"error,omitempty"`
	Run        string  `json:"run,omitempty"`
	Path       string  `json:"path,omitempty"`
	Sink       string  `json:"sink,omitempty"`
	SampleRate float64 `json:"sample_rate"`
	CenterFreq uint64  `json:"center_freq"`
	WireFormat string  `json:"wire_format,omitempty"`
	Blocks     uint64  `json:"blocks"`
	Pairs      uint64  `json:"pairs"`
	Underruns  uint64  `json:"underruns"`
	Passes     uint64  `json:"passes"`
	Offset     int64   `json:"offset"`
	Size       int64   `json:"size"`
	Progress   float64 `json:"progress"`
	RMS        float64 `json:"rms"`
	Peak       float64 `json:"peak"`
}

// EventMessage is the JSON form of flow.Event.
type EventMessage struct {
	Type  string    `json:"type"`
	Run   string    `json:"run"`
	Kind  string    `json:"kind"`
	State string    `json:"state"`
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"time"`
}

type command struct {
	Type string `json:"type"`
}

type Server struct {
	ctrl     Controller
	interval time.Duration
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New builds a server for ctrl. interval is the period of status pushes to
// websocket clients; zero means DefaultInterval.
func New(ctrl Controller, interval time.Duration) *Server {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Server{
		ctrl:     ctrl,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/stop", s.handleStop)
	s.mux.HandleFunc("/ws", s.handleWebsocket)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Infof("Monitor listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		err := srv.Shutdown(shutdown)
		<-errc
		return err
	}
}

func (s *Server) status() Status {
	st := s.ctrl.Stats()
	out := Status{
		Type:       "status",
		State:      s.ctrl.State().String(),
		Run:        st.Run,
		Path:       st.Config.Path,
		Sink:       st.Config.Sink,
		SampleRate: st.Config.SampleRate,
		CenterFreq: st.Config.CenterFreq,
		Blocks:     st.Blocks,
		Pairs:      st.Pairs,
		Underruns:  st.Underruns,
		Passes:     st.Passes,
		Offset:     st.Offset,
		Size:       st.Size,
		Progress:   st.Progress(),
		RMS:        st.RMS,
		Peak:       st.Peak,
	}
	if st.Run != "" {
		out.WireFormat = st.Config.WireFormat.String()
	}
	if err := s.ctrl.Err(); err != nil {
		out.Error = err.Error()
	}
	return out
}

func eventMessage(e flow.Event) EventMessage {
	m := EventMessage{Type: "event", Run: e.Run, Kind: e.Kind.String(), State: e.State.String(), Time: e.Time}
	if e.Err != nil {
		m.Error = e.Err.Error()
	}
	return m
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	log.Infof("Stop requested by %s", r.RemoteAddr)
	s.ctrl.Stop()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status())
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("Websocket upgrade: %v", err)
		return
	}
	log.Debugf("Monitor client %s connected", r.RemoteAddr)
	events, unsubscribe := s.ctrl.Subscribe()

	done := make(chan struct{})
	go s.writePump(conn, events, done)

	// read pump, returns when the client goes away
	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				log.Debugf("Monitor client %s: %v", r.RemoteAddr, err)
			}
			break
		}
		if cmd.Type == "stop" {
			log.Infof("Stop requested by websocket client %s", r.RemoteAddr)
			go s.ctrl.Stop()
		}
	}
	unsubscribe()
	<-done
	log.Debugf("Monitor client %s disconnected", r.RemoteAddr)
}

// writePump sends a status snapshot on connect and every interval, and every
// event as it arrives. It closes conn when events is closed or a write fails.
func (s *Server) writePump(conn *websocket.Conn, events <-chan flow.Event, done chan<- struct{}) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		conn.Close()
		close(done)
	}()

	write := func(v any) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v) == nil
	}
	if !write(s.status()) {
		return
	}
	for {
		select {
		case e, ok := <-events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if !write(eventMessage(e)) {
				return
			}
		case <-ticker.C:
			if !write(s.status()) {
				return
			}
		}
	}
}
