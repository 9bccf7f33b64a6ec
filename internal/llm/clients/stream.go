// Package clients implements the per-provider streaming completion clients.
// Every client shares one transport core: build the provider request, open a
// streaming connection, scan SSE or newline-delimited JSON, and push token
// deltas into the caller's sink in source order.
package clients

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"mecha/internal/llm"
	"mecha/internal/logging"
)

const (
	defaultIdleTimeout = 30 * time.Second
	doneSentinel       = "[DONE]"
)

// errStreamRead marks a transport failure while reading an open stream. It is
// the only error class eligible for the single zero-token reconnect.
var errStreamRead = errors.New("stream read failed")

// httpClient is shared across all provider clients. Streams hold their
// connection exclusively, so no overall timeout is set; per-chunk idleness is
// policed by a watchdog instead.
var httpClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	},
}

type streamProtocol int

const (
	protoSSE streamProtocol = iota
	protoNDJSON
)

// chunkParser decodes one payload line into a token delta. done marks the
// terminal payload; finish may accompany done or a delta.
type chunkParser func(payload []byte) (delta string, finish llm.FinishReason, done bool, err error)

// streamRequest is one prepared provider call.
type streamRequest struct {
	URL         string
	Headers     http.Header
	Body        []byte
	Protocol    streamProtocol
	Parse       chunkParser
	Model       string
	Provider    llm.Provider
	IdleTimeout time.Duration
}

// runStream executes the request state machine: Connecting, Streaming, then
// Done or Failed. A transport failure before any token was emitted gets a
// single reconnect; after tokens have flowed the partial text is surfaced via
// StreamInterruptedError instead.
func runStream(ctx context.Context, req streamRequest, sink llm.StreamSink) (string, error) {
	text, emitted, err := streamOnce(ctx, req, sink)
	if err != nil && emitted == 0 && errors.Is(err, errStreamRead) {
		logging.ProviderWarn("%s: stream dropped before first token, reconnecting once: %v", req.Provider, err)
		text, emitted, err = streamOnce(ctx, req, sink)
	}
	if err != nil {
		if emitted > 0 && errors.Is(err, errStreamRead) {
			return text, &llm.StreamInterruptedError{Partial: text, Err: err}
		}
		return text, err
	}
	return text, nil
}

func streamOnce(ctx context.Context, req streamRequest, sink llm.StreamSink) (text string, emitted int, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", llm.ErrConnectFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Protocol == protoSSE {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, llm.CancelledFromContext(ctx.Err())
		}
		return "", 0, fmt.Errorf("%w: %v", llm.ErrConnectFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", 0, &llm.RateLimitedError{RetryAfter: retryAfter}
	case resp.StatusCode >= 500:
		return "", 0, fmt.Errorf("%w: %s returned %d", llm.ErrProviderUnavailable, req.Provider, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, fmt.Errorf("%w: status %d: %s", llm.ErrConnectFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	idle := req.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	// The watchdog closes the body when no payload arrives within the idle
	// window, which unblocks the scanner below.
	var timedOut atomic.Bool
	watchdog := time.AfterFunc(idle, func() {
		timedOut.Store(true)
		resp.Body.Close()
	})
	defer watchdog.Stop()

	var cumulative strings.Builder
	finishSent := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		watchdog.Reset(idle)

		// Cancellation is observed between chunks.
		if ctx.Err() != nil {
			return cumulative.String(), emitted, llm.CancelledFromContext(ctx.Err())
		}

		payload, ok := extractPayload(req.Protocol, scanner.Bytes())
		if !ok {
			continue
		}
		if req.Protocol == protoSSE && string(payload) == doneSentinel {
			if !finishSent {
				sink(llm.StreamChunk{Cumulative: cumulative.String(), FinishReason: llm.FinishStop, Model: req.Model})
			}
			return cumulative.String(), emitted, nil
		}

		delta, finish, done, perr := req.Parse(payload)
		if perr != nil {
			return cumulative.String(), emitted, fmt.Errorf("%w: %v", llm.ErrMalformedChunk, perr)
		}
		if delta != "" || finish != llm.FinishNone {
			if delta != "" {
				cumulative.WriteString(delta)
			}
			sink(llm.StreamChunk{Delta: delta, Cumulative: cumulative.String(), FinishReason: finish, Model: req.Model})
			emitted++
			if finish != llm.FinishNone {
				finishSent = true
			}
		}
		if done || finish != llm.FinishNone {
			if !finishSent {
				sink(llm.StreamChunk{Cumulative: cumulative.String(), FinishReason: llm.FinishStop, Model: req.Model})
				finishSent = true
			}
			return cumulative.String(), emitted, nil
		}
	}

	// The stream ended without a terminal payload.
	if timedOut.Load() {
		return cumulative.String(), emitted, &llm.CancelledError{Reason: llm.CancelTimeout}
	}
	if ctx.Err() != nil {
		return cumulative.String(), emitted, llm.CancelledFromContext(ctx.Err())
	}
	serr := scanner.Err()
	if serr == nil {
		serr = io.ErrUnexpectedEOF
	}
	return cumulative.String(), emitted, fmt.Errorf("%w: %v", errStreamRead, serr)
}

// extractPayload pulls the JSON payload out of one scanned line. SSE frames
// carry it behind a "data:" prefix; NDJSON lines are the payload.
func extractPayload(proto streamProtocol, line []byte) ([]byte, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}
	if proto == protoNDJSON {
		return line, true
	}
	if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
		return bytes.TrimSpace(rest), true
	}
	// event:/id:/retry: fields carry no token payload.
	return nil, false
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
