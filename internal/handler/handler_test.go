package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/scanmark/scanmark/internal/i18n"
	"github.com/scanmark/scanmark/internal/model"
	"github.com/scanmark/scanmark/internal/store"
)

const (
	testResponsesCSV = "Student ID,Test Form Code,Q1,Q2,Q3\n1001,FORM1,A,C,D\n1002,NOPE,B,B,B\n"
	testKeysCSV      = "Test Form Code,Q1,Q2,Q3\nFORM1,A,[B|C],*\n"
)

func newTestServer(t *testing.T, s *store.Store, password string) *httptest.Server {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	h, err := New(s, model.ServeConfig{APIPassword: password, Lang: "en"})
	if err != nil {
		t.Fatalf("handler.New: %v", err)
	}
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func scoreRequest(t *testing.T, url, responses, keys string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for field, content := range map[string]string{"responses": responses, "keys": keys} {
		fw, err := mw.CreateFormFile(field, field+".csv")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url+"/score", &body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil, "")

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestScoreEndpoint(t *testing.T) {
	srv := newTestServer(t, nil, "")

	resp, err := http.DefaultClient.Do(scoreRequest(t, srv.URL, testResponsesCSV, testKeysCSV))
	if err != nil {
		t.Fatalf("POST /score: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "100.00") {
		t.Errorf("scored CSV missing full-credit row:\n%s", out)
	}
	if !strings.Contains(out, "NO KEY FOUND") {
		t.Errorf("scored CSV missing key-not-found row:\n%s", out)
	}
}

func TestScoreEndpointArchivesRun(t *testing.T) {
	s := newTestStore(t)
	srv := newTestServer(t, s, "")

	resp, err := http.DefaultClient.Do(scoreRequest(t, srv.URL, testResponsesCSV, testKeysCSV))
	if err != nil {
		t.Fatalf("POST /score: %v", err)
	}
	defer resp.Body.Close()

	runID := resp.Header.Get("X-Scanmark-Run")
	if runID == "" {
		t.Fatal("expected X-Scanmark-Run header")
	}

	runResp, err := http.Get(srv.URL + "/runs/" + runID)
	if err != nil {
		t.Fatalf("GET /runs/{id}: %v", err)
	}
	defer runResp.Body.Close()
	if runResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", runResp.StatusCode)
	}

	var view model.RunView
	if err := json.NewDecoder(runResp.Body).Decode(&view); err != nil {
		t.Fatalf("decode run view: %v", err)
	}
	if view.Run.NumRows != 2 {
		t.Errorf("NumRows = %d, want 2", view.Run.NumRows)
	}
	if view.Run.NumMissingKey != 1 {
		t.Errorf("NumMissingKey = %d, want 1", view.Run.NumMissingKey)
	}
	if len(view.Results) != 2 || view.Results[0].StudentID != "1001" {
		t.Errorf("results = %+v", view.Results)
	}
}

func TestScoreEndpointBadKeySheet(t *testing.T) {
	srv := newTestServer(t, nil, "")

	badKeys := "Test Form Code,Answer 1\nFORM1,A\n"
	resp, err := http.DefaultClient.Do(scoreRequest(t, srv.URL, testResponsesCSV, badKeys))
	if err != nil {
		t.Fatalf("POST /score: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestScoreEndpointMissingUpload(t *testing.T) {
	srv := newTestServer(t, nil, "")

	resp, err := http.Post(srv.URL+"/score", "text/plain", strings.NewReader("nope"))
	if err != nil {
		t.Fatalf("POST /score: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListRunsWithoutStore(t *testing.T) {
	srv := newTestServer(t, nil, "")

	resp, err := http.Get(srv.URL + "/runs")
	if err != nil {
		t.Fatalf("GET /runs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var runs []model.Run
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("runs = %+v, want empty", runs)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	srv := newTestServer(t, s, "")

	resp, err := http.Get(srv.URL + "/runs/does-not-exist")
	if err != nil {
		t.Fatalf("GET /runs/{id}: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(t, nil, "sekret")

	// Health check stays open.
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}

	// No credentials.
	resp, err = http.Get(srv.URL + "/runs")
	if err != nil {
		t.Fatalf("GET /runs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	// Wrong password.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/runs", nil)
	req.SetBasicAuth("anyone", "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /runs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", resp.StatusCode)
	}

	// Correct password.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/runs", nil)
	req.SetBasicAuth("anyone", "sekret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /runs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}
}
