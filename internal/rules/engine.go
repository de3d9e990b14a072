package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// EngineConfig holds parameters for the HTTP rule engine client.
type EngineConfig struct {
	BaseURL string
	Timeout time.Duration
	Debug   bool
}

// httpEngine talks to the host rule engine over its local HTTP endpoint.
// The engine exposes a single replace primitive: a PUT carrying the remove
// range and the full target set, applied atomically on the host side.
type httpEngine struct {
	cfg  EngineConfig
	http *http.Client
	log  zerolog.Logger
}

// NewHTTPEngine constructs an Engine backed by the host's rule endpoint.
func NewHTTPEngine(cfg EngineConfig, log zerolog.Logger) Engine {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:     dialer.DialContext,
		MaxIdleConns:    2,
		IdleConnTimeout: 90 * time.Second,
	}
	return &httpEngine{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		log: log,
	}
}

type replaceRequest struct {
	RemoveIDStart int    `json:"remove_id_start"`
	RemoveIDEnd   int    `json:"remove_id_end"`
	Add           []Rule `json:"add"`
}

func (e *httpEngine) Replace(ctx context.Context, idStart, idEnd int, rules []Rule) error {
	body, err := json.Marshal(replaceRequest{
		RemoveIDStart: idStart,
		RemoveIDEnd:   idEnd,
		Add:           rules,
	})
	if err != nil {
		return fmt.Errorf("marshal replace request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		e.cfg.BaseURL+"/rules", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build replace request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if e.cfg.Debug {
		e.log.Debug().Int("rules", len(rules)).Int("id_start", idStart).
			Int("id_end", idEnd).Msg("rule engine replace request")
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("rule engine replace: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("rule engine replace returned HTTP %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

// dryRunEngine logs the target set without touching any host state.
type dryRunEngine struct {
	log zerolog.Logger
}

// NewDryRunEngine returns an Engine that only logs.
func NewDryRunEngine(log zerolog.Logger) Engine {
	return &dryRunEngine{log: log}
}

func (e *dryRunEngine) Replace(_ context.Context, idStart, idEnd int, rules []Rule) error {
	e.log.Info().Int("rules", len(rules)).Int("id_start", idStart).
		Int("id_end", idEnd).Msg("dry-run: would replace rule set")
	return nil
}
