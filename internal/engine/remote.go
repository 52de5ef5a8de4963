package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qbitworks/simq/internal/tracing"
)

// RemoteEngine calls an external simulator service over HTTP. The service
// contract: POST {baseURL}/simulate with {"circuit","shots"} and get back
// 200 {"counts":{...}} or a non-2xx with {"error":"..."}.
type RemoteEngine struct {
	baseURL    string
	httpClient *http.Client
}

func NewRemoteEngine(baseURL string, timeout time.Duration) *RemoteEngine {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &RemoteEngine{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type simulateRequest struct {
	Circuit string `json:"circuit"`
	Shots   int    `json:"shots"`
}

type simulateResponse struct {
	Counts map[string]int `json:"counts"`
	Error  string         `json:"error"`
}

func (e *RemoteEngine) Run(ctx context.Context, circuit string, shots int) (map[string]int, error) {
	body, err := json.Marshal(simulateRequest{Circuit: circuit, Shots: shots})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/simulate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("simulator request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out simulateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("simulator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return nil, fmt.Errorf("simulator response decode: %w", err)
	}
	if resp.StatusCode >= 300 || out.Error != "" {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("simulator returned %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%s", msg)
	}
	if out.Counts == nil {
		return nil, fmt.Errorf("simulator returned no counts")
	}
	return out.Counts, nil
}
