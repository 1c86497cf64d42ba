package pw

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/odvcencio/playwire/pkg/protocol"
)

// DefaultNavigationTimeout is sent when GotoOptions.Timeout is unset.
const DefaultNavigationTimeout = 30 * time.Second

// WaitUntil names the load state a navigation waits for.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
	WaitCommit           WaitUntil = "commit"
)

// GotoOptions configures a navigation.
type GotoOptions struct {
	Timeout   time.Duration
	WaitUntil WaitUntil
}

// Frame is a document inside a page.
type Frame struct {
	*protocol.Base
	init struct {
		URL  string `json:"url"`
		Name string `json:"name"`
	}

	mu  sync.RWMutex
	url string
}

func newFrame(base *protocol.Base) (*Frame, error) {
	f := &Frame{Base: base}
	if err := base.DecodeInitializer(&f.init); err != nil {
		return nil, err
	}
	f.url = f.init.URL
	base.On("navigated", f.onNavigated)
	return f, nil
}

func (f *Frame) onNavigated(params json.RawMessage) {
	var ev struct {
		URL   string `json:"url"`
		Name  string `json:"name"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(params, &ev); err != nil || ev.Error != "" {
		return
	}
	f.mu.Lock()
	f.url = ev.URL
	f.mu.Unlock()
}

// URL is the last committed URL.
func (f *Frame) URL() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.url
}

func (f *Frame) Name() string { return f.init.Name }

// Goto navigates and returns the main resource response. Navigations that
// produce no response (about:blank, same-document) return nil.
func (f *Frame) Goto(ctx context.Context, url string, opts GotoOptions) (*Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultNavigationTimeout
	}
	waitUntil := opts.WaitUntil
	if waitUntil == "" {
		waitUntil = WaitLoad
	}
	params := map[string]any{
		"url":       url,
		"timeout":   millis(timeout),
		"waitUntil": waitUntil,
	}
	var result struct {
		Response *protocol.GUIDRef `json:"response"`
	}
	if err := f.Channel().Call(ctx, "goto", params, &result); err != nil {
		return nil, err
	}
	if result.Response == nil || result.Response.GUID == "" {
		return nil, nil
	}
	return resolve[*Response](ctx, f.Connection(), result.Response.GUID)
}

// Title returns the document title.
func (f *Frame) Title(ctx context.Context) (string, error) {
	var result struct {
		Value string `json:"value"`
	}
	if err := f.Channel().Call(ctx, "title", nil, &result); err != nil {
		return "", err
	}
	return result.Value, nil
}

// Evaluate runs a JavaScript expression and returns its JSON-like value.
func (f *Frame) Evaluate(ctx context.Context, expression string) (any, error) {
	params := map[string]any{
		"expression": expression,
		"isFunction": false,
		"arg": map[string]any{
			"value":   map[string]string{"v": "undefined"},
			"handles": []any{},
		},
	}
	var result struct {
		Value json.RawMessage `json:"value"`
	}
	if err := f.Channel().Call(ctx, "evaluateExpression", params, &result); err != nil {
		return nil, err
	}
	return parseSerialized(result.Value)
}

// serializedValue is the driver's tagged encoding of JavaScript values.
type serializedValue struct {
	V *string           `json:"v,omitempty"`
	S *string           `json:"s,omitempty"`
	N *float64          `json:"n,omitempty"`
	B *bool             `json:"b,omitempty"`
	D *string           `json:"d,omitempty"`
	U *string           `json:"u,omitempty"`
	A []json.RawMessage `json:"a,omitempty"`
	O []struct {
		K string          `json:"k"`
		V json.RawMessage `json:"v"`
	} `json:"o,omitempty"`
}

func parseSerialized(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var sv serializedValue
	if err := json.Unmarshal(raw, &sv); err != nil {
		return nil, fmt.Errorf("decode evaluation result: %w", err)
	}
	switch {
	case sv.V != nil:
		switch *sv.V {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		case "-0":
			return math.Copysign(0, -1), nil
		}
		return nil, nil
	case sv.S != nil:
		return *sv.S, nil
	case sv.N != nil:
		return *sv.N, nil
	case sv.B != nil:
		return *sv.B, nil
	case sv.D != nil:
		return *sv.D, nil
	case sv.U != nil:
		return *sv.U, nil
	case sv.A != nil:
		out := make([]any, 0, len(sv.A))
		for _, item := range sv.A {
			v, err := parseSerialized(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case sv.O != nil:
		out := make(map[string]any, len(sv.O))
		for _, entry := range sv.O {
			v, err := parseSerialized(entry.V)
			if err != nil {
				return nil, err
			}
			out[entry.K] = v
		}
		return out, nil
	}
	return nil, nil
}
