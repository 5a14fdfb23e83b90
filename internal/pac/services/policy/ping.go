package policy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/haukened/rr-pac/internal/pac/domain"
	"github.com/haukened/rr-pac/internal/pac/repos/state"
)

var pingBody = []byte(`{"type":"ping"}`)

// Ping fires a liveness request at the stored ping target (falling back to the
// configured one, then the resolved endpoint) and returns immediately. The
// outcome is only logged; callers cannot observe it.
func (e *Engine) Ping(ctx context.Context) {
	target, err := state.GetString(ctx, e.state, domain.KeyProxyPingURI, "")
	if err != nil {
		e.logger.Warn(map[string]any{"error": err}, "Reading ping target failed")
	}
	target = strings.TrimSpace(target)
	if target == "" {
		target = e.defaultPing
	}
	if target == "" {
		target = e.ProxyServerURI(ctx)
	}
	if target == "" {
		return
	}

	e.pings.Add(1)
	go func() {
		defer e.pings.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.pingTimeout)
		defer cancel()
		if err := e.ping(pctx, target); err != nil {
			e.logger.Debug(map[string]any{"target": target, "error": err}, "Ping failed")
			return
		}
		e.logger.Debug(map[string]any{"target": target}, "Pinged")
	}()
}

// Wait blocks until in-flight pings finish.
func (e *Engine) Wait() { e.pings.Wait() }

func (e *Engine) ping(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+target, bytes.NewReader(pingBody))
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}
