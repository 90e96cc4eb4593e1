package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DarbotLM/Detris/internal/agent"
	"github.com/DarbotLM/Detris/internal/challenge"
	"github.com/DarbotLM/Detris/internal/engine"
	"github.com/DarbotLM/Detris/internal/leaderboard"
	"github.com/DarbotLM/Detris/internal/proofs"
	"github.com/DarbotLM/Detris/internal/proofs/learning"
	"github.com/DarbotLM/Detris/internal/storage"
	"github.com/DarbotLM/Detris/internal/submission"
)

type harness struct {
	server      *Server
	handler     http.Handler
	submissions *submission.Service
	signer      *proofs.KeySigner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	signer, err := proofs.GenerateKeySigner()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	store := submission.NewMemoryStore()
	queue := submission.NewMemoryQueue(32)
	artifacts := storage.NewMemoryStore()
	board := leaderboard.NewService(leaderboard.NewMemoryStore())
	svc := submission.NewService(store, queue, artifacts, 3)

	ctx, cancel := context.WithCancel(context.Background())
	processor := submission.NewProcessor(board, store, artifacts, queue, queue, submission.WithWorkerCount(2))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	server := NewServer(":0", svc, board, WithDefaultDifficulty(0.25))
	return &harness{server: server, handler: server.Handler(), submissions: svc, signer: signer}
}

func (h *harness) proofBody(t *testing.T, agentID string, seed int64) []byte {
	t.Helper()
	ch, err := challenge.Generate(seed, 0)
	if err != nil {
		t.Fatalf("generate challenge: %v", err)
	}
	ag := agent.NewScriptedAgent(agentID,
		[]engine.Action{engine.ShiftLeft, engine.HardDrop},
		[]engine.Action{engine.SoftDrop, engine.HardDrop},
	)
	pol, err := learning.Generate(context.Background(), ag, ch, 2, h.signer)
	if err != nil {
		t.Fatalf("generate proof: %v", err)
	}
	body, err := storage.EncodePoL(pol)
	if err != nil {
		t.Fatalf("encode proof: %v", err)
	}
	return body
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAndRank(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions?id=api-1", bytes.NewReader(h.proofBody(t, "api-agent", 5)))
	req.Header.Set(PublicKeyHeader, hex.EncodeToString(h.signer.PublicKey()))
	rec := h.do(req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: got %d body %s", rec.Code, rec.Body.String())
	}
	var created submission.Submission
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID != "api-1" || created.AgentID != "api-agent" {
		t.Fatalf("unexpected submission: %+v", created)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := h.submissions.WaitUntilDone(ctx, "api-1", 10*time.Millisecond); err != nil {
		t.Fatalf("wait: %v", err)
	}

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/submissions/api-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status: %d", rec.Code)
	}
	var got submission.Submission
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if got.Status != submission.StatusAccepted || got.EntryID == "" {
		t.Fatalf("expected accepted submission, got %+v", got)
	}

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/rankings?seed=5&limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("rankings status: %d", rec.Code)
	}
	var entries []leaderboard.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode rankings: %v", err)
	}
	if len(entries) != 1 || entries[0].AgentID != "api-agent" || entries[0].ID != got.EntryID {
		t.Fatalf("unexpected rankings: %+v", entries)
	}

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/rankings?seed=6", nil))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty rankings for other seed, got %s", rec.Body.String())
	}

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/submissions?status=accepted", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"accepted":1`) {
		t.Fatalf("unexpected list response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	body := h.proofBody(t, "api-agent", 5)

	cases := []struct {
		name   string
		body   []byte
		key    string
		status int
	}{
		{"malformed body", []byte("{"), hex.EncodeToString(h.signer.PublicKey()), http.StatusBadRequest},
		{"missing key", body, "", http.StatusBadRequest},
		{"bad key", body, "zz", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions", bytes.NewReader(tc.body))
			if tc.key != "" {
				req.Header.Set(PublicKeyHeader, tc.key)
			}
			rec := h.do(req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Code == "" {
				t.Fatalf("expected coded error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestHandleSubmissionDetailErrors(t *testing.T) {
	h := newHarness(t)

	t.Run("invalid method", func(t *testing.T) {
		rec := h.do(httptest.NewRequest(http.MethodPost, "/api/v1/submissions/sub-1", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		rec := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/submissions/", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/submissions/missing", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})

	t.Run("bad rankings seed", func(t *testing.T) {
		rec := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/rankings?seed=abc", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}

func TestHandleChallenge(t *testing.T) {
	h := newHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/challenges/42?difficulty=0.5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var view challengeView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	want, err := challenge.Generate(42, 0.5)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if view.Seed != 42 || view.MaxMoves != want.MaxMoves || view.InitialCommit != want.InitialCommit().String() {
		t.Fatalf("challenge view mismatch: %+v", view)
	}
	if view.InitialGrid != storage.EncodeGrid(want.Initial.Board) || len(view.Constraints) != len(want.Constraints) {
		t.Fatalf("challenge body mismatch: %+v", view)
	}

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/challenges/42", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil || view.Difficulty != 0.25 {
		t.Fatalf("expected default difficulty, got %+v (%v)", view, err)
	}

	for _, path := range []string{"/api/v1/challenges/42?difficulty=2", "/api/v1/challenges/x", "/api/v1/challenges/1?policy=nope"} {
		rec := h.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(httptest.NewRequest(http.MethodGet, "/api/v1/rankings", nil))

	rec := h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `detris_http_requests_total{code="200",handler="rankings",method="GET"}`) {
		t.Fatalf("expected request counter in scrape output")
	}

	server := NewServer(":0", nil, nil, WithMetricsEndpoint(false))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected metrics route to be disabled, got %d", rec.Code)
	}
}
