package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/asdine/storm/v3"
	"go.uber.org/zap"

	"github.com/CodedInternet/gogarden/onboard"
	"github.com/CodedInternet/gogarden/onboard/queue"
)

type testServer struct {
	*Server
	handler http.Handler
	token   string
	stop    func()
}

// newTestServer wires the API to a queue running on simulated nodes.
func newTestServer(t *testing.T) *testServer {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	config := onboard.DefaultConfig()
	config.Simulator.StepsPerSecond = 1e6
	sim := onboard.StartSimulator(ctx, config.Simulator, zap.NewNop())
	bot, err := onboard.Discover(ctx, config, sim.Links(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	db, err := storm.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	journal, err := queue.NewStormJournal(db)
	if err != nil {
		t.Fatal(err)
	}
	store, err := queue.OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	q, err := queue.New(store, bot, journal, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	q.Start(ctx)

	env := &EnvConfig{JWT_SECRET: "test-secret", JWT_ISSUER: "TEST"}
	s, err := NewServer(env, db, q, journal, bot, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	token, err := s.newJWT("operator@garden.test")
	if err != nil {
		t.Fatal(err)
	}

	return &testServer{
		Server:  s,
		handler: s.Routes(),
		token:   token,
		stop: func() {
			q.Stop()
			<-q.Done()
			cancel()
			db.Close()
		},
	}
}

func (ts *testServer) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

// views decode responses without needing the server side types to unmarshal
type actionView struct {
	ID   uint64 `json:"id"`
	Type string `json:"type"`
}

type queueView struct {
	Paused    bool         `json:"paused"`
	Emergency string       `json:"emergency"`
	Current   *actionView  `json:"current"`
	Pending   []actionView `json:"pending"`
	LastError string       `json:"last_error"`
}
