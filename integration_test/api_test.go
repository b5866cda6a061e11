//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

const serverURL = "http://localhost:5050"

type Limits struct {
	CPUTime  int64  `json:"cpuTimeMs,omitempty"`
	WallTime int64  `json:"wallTimeMs,omitempty"`
	Memory   uint64 `json:"memoryBytes,omitempty"`
	Output   uint64 `json:"maxOutputBytes,omitempty"`
}

type Request struct {
	RequestID string  `json:"requestId,omitempty"`
	Language  string  `json:"language"`
	Code      string  `json:"code"`
	Input     string  `json:"input"`
	Limits    *Limits `json:"limits,omitempty"`
}

type Response struct {
	RequestID    string  `json:"requestId"`
	CompileError *string `json:"compileError"`
	Output       string  `json:"output"`
	Stderr       string  `json:"stderr"`
	Truncated    bool    `json:"truncated"`
	ExitCode     int     `json:"exitCode"`
	TimedOut     bool    `json:"timedOut"`
	OutOfMemory  bool    `json:"outOfMemory"`
	Status       string  `json:"status"`
	Time         int64   `json:"timeMs"`
	RunTime      int64   `json:"runTimeMs"`
	Error        string  `json:"error"`
}

var client = &http.Client{Timeout: 60 * time.Second}

// run posts the request to /run and decodes the response
func run(t testing.TB, req Request) (int, Response) {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Post(serverURL+"/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, r
}
