// Package model defines the JSON wire format of the REST and WebSocket
// endpoints
package model

import (
	"encoding/json"
	"time"

	"github.com/judgekit/go-executor/envexec"
	"github.com/judgekit/go-executor/executor"
)

// Limits defines the optional per request limits
type Limits struct {
	CPUTime  int64  `json:"cpuTimeMs,omitempty"`
	WallTime int64  `json:"wallTimeMs,omitempty"`
	Memory   uint64 `json:"memoryBytes,omitempty"`
	Output   uint64 `json:"maxOutputBytes,omitempty"`
}

// Request defines a single run request
type Request struct {
	RequestID string  `json:"requestId,omitempty"`
	Language  string  `json:"language"`
	Code      string  `json:"code"`
	Input     string  `json:"input"`
	Limits    *Limits `json:"limits,omitempty"`
}

// BatchRequest runs the code against every input
type BatchRequest struct {
	Language      string   `json:"language"`
	Code          string   `json:"code"`
	Inputs        []string `json:"inputs"`
	Limits        *Limits  `json:"limits,omitempty"`
	StopOnFailure bool     `json:"stopOnFailure,omitempty"`
}

// Response defines the result of a single run. A compile failure is encoded
// as {"compileError": "..."} only.
type Response struct {
	RequestID    string         `json:"requestId,omitempty"`
	CompileError *string        `json:"compileError,omitempty"`
	Output       string         `json:"output"`
	Stderr       string         `json:"stderr"`
	Truncated    bool           `json:"truncated"`
	ExitCode     int            `json:"exitCode"`
	TimedOut     bool           `json:"timedOut"`
	OutOfMemory  bool           `json:"outOfMemory"`
	Status       envexec.Status `json:"status"`
	Time         int64          `json:"timeMs"`
	RunTime      int64          `json:"runTimeMs"`
	Memory       uint64         `json:"memory"`
}

// BatchResponse has a result per input that was run
type BatchResponse struct {
	CompileError *string    `json:"compileError,omitempty"`
	Results      []Response `json:"results"`
}

// ErrorResponse is returned with non 200 status code
type ErrorResponse struct {
	RequestID string `json:"requestId,omitempty"`
	Error     string `json:"error"`
}

// MarshalJSON omits the run fields when compile failed
func (r Response) MarshalJSON() ([]byte, error) {
	if r.CompileError != nil {
		return json.Marshal(struct {
			RequestID    string `json:"requestId,omitempty"`
			CompileError string `json:"compileError"`
		}{r.RequestID, *r.CompileError})
	}
	type response Response
	return json.Marshal(response(r))
}

// ConvertRequest converts json request into executor request
func ConvertRequest(r *Request) *executor.Request {
	return &executor.Request{
		Language: r.Language,
		Source:   r.Code,
		Stdin:    r.Input,
		Limits:   convertLimits(r.Limits),
	}
}

// ConvertBatchRequest converts json batch request into executor request
func ConvertBatchRequest(r *BatchRequest) *executor.BatchRequest {
	return &executor.BatchRequest{
		Language:      r.Language,
		Source:        r.Code,
		Inputs:        r.Inputs,
		Limits:        convertLimits(r.Limits),
		StopOnFailure: r.StopOnFailure,
	}
}

func convertLimits(l *Limits) executor.Limits {
	if l == nil {
		return executor.Limits{}
	}
	return executor.Limits{
		CPUTime:  time.Duration(l.CPUTime) * time.Millisecond,
		WallTime: time.Duration(l.WallTime) * time.Millisecond,
		Memory:   envexec.Size(l.Memory),
		Output:   envexec.Size(l.Output),
	}
}

// ConvertResponse converts executor result into json response
func ConvertResponse(r *executor.Result) Response {
	if r.CompileError != nil {
		return Response{CompileError: r.CompileError, Status: r.Status, ExitCode: r.ExitCode}
	}
	return Response{
		Output:      r.Stdout,
		Stderr:      r.Stderr,
		Truncated:   r.OutputTruncated,
		ExitCode:    r.ExitCode,
		TimedOut:    r.TimedOut,
		OutOfMemory: r.OutOfMemory,
		Status:      r.Status,
		Time:        r.CPUTime.Milliseconds(),
		RunTime:     r.Duration.Milliseconds(),
		Memory:      uint64(r.Memory),
	}
}

// ConvertBatchResponse converts executor batch result into json response
func ConvertBatchResponse(r *executor.BatchResult) BatchResponse {
	ret := BatchResponse{
		CompileError: r.CompileError,
		Results:      make([]Response, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		ret.Results = append(ret.Results, ConvertResponse(res))
	}
	return ret
}
