// Package dispatcher implements the select -> ensure_ready -> build -> send
// -> decode -> adapt pipeline, with bounded retry across accounts on
// account-scoped faults.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lofyer/warp-multiproxy-go/internal/account"
	"github.com/lofyer/warp-multiproxy-go/internal/format"
	"github.com/lofyer/warp-multiproxy-go/internal/httpclient"
	"github.com/lofyer/warp-multiproxy-go/internal/logging"
	"github.com/lofyer/warp-multiproxy-go/internal/session"
	"github.com/lofyer/warp-multiproxy-go/internal/stream"
	"github.com/lofyer/warp-multiproxy-go/internal/wire"
)

// ErrNoAccount is returned when the pool has no eligible account at all
// (maps to client HTTP 503).
var ErrNoAccount = errors.New("dispatcher: no eligible account")

// ErrAllAttemptsFailed is returned once every attempt across the retry
// bound has failed on an account-scoped fault (maps to client HTTP 500).
var ErrAllAttemptsFailed = errors.New("dispatcher: all accounts failed")

// EventHandler receives every normalized event the dispatcher forwards; the
// bool return reports whether ev was the terminal event. It's what an
// internal/format streamer's HandleEvent method already looks like, so a
// caller typically passes that directly.
type EventHandler func(ev *stream.Event) (bool, error)

// Dispatcher wires the account pool, session manager, and upstream HTTP
// client into the request pipeline.
type Dispatcher struct {
	pool                *account.Pool
	sessionCli          *session.Client
	http                *httpclient.Client
	maxAttempts         int
	splitToolcallResult bool
}

// New constructs a Dispatcher bound to the given pool, session manager, and
// HTTP client, retrying up to maxAttempts distinct accounts (3 by default).
func New(pool *account.Pool, sessionCli *session.Client, http *httpclient.Client, maxAttempts int, splitToolcallResult bool) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Dispatcher{pool: pool, sessionCli: sessionCli, http: http, maxAttempts: maxAttempts, splitToolcallResult: splitToolcallResult}
}

// Result carries the account that ultimately served the request, so the
// caller can log/attribute it even though all mutation already happened as
// a side effect of Dispatch.
type Result struct {
	Account *account.Account
}

// Dispatch runs one client request end to end: picks an account, ensures it
// is authenticated, builds the upstream request(s), sends them, decodes the
// SSE stream, and forwards every normalized event to handle. It returns once
// the request either fully succeeds or every retry attempt is exhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, fr format.FoldRequest, hasActiveTask bool, handle EventHandler) (*Result, error) {
	requests := d.buildRequests(fr, hasActiveTask)

	excluded := map[string]bool{}
	var lastErr error

	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		acc, err := d.pool.PickExcluding(excluded)
		if err != nil {
			if attempt == 0 {
				return nil, ErrNoAccount
			}
			return nil, fmt.Errorf("%w: %v", ErrAllAttemptsFailed, lastErr)
		}

		if err := d.sessionCli.EnsureReady(ctx, acc); err != nil {
			logging.L().Warn().Err(err).Str("account", acc.Name).Msg("ensure_ready failed, trying next account")
			excluded[acc.Name] = true
			lastErr = err
			continue
		}

		capturedTaskID := false
		ok := true
		for i, reqBytes := range requests {
			isLast := i == len(requests)-1

			body, outcome, sendErr := d.http.Send(ctx, acc, reqBytes)
			switch outcome {
			case httpclient.Ok:
				acc.BreakerSuccess()
			case httpclient.Transient:
				acc.MarkError(sendErr.Error())
				acc.BreakerFailure()
			case httpclient.Account403:
				acc.MarkBlocked()
			case httpclient.Account429:
				acc.MarkRateLimited(time.Now())
			case httpclient.QuotaExhausted:
				acc.MarkQuotaExceeded(time.Now())
			case httpclient.Fatal:
				return nil, sendErr
			}

			if outcome != httpclient.Ok {
				logging.L().Warn().Err(sendErr).Str("account", acc.Name).Int("outcome", int(outcome)).Msg("upstream send failed")
				excluded[acc.Name] = true
				lastErr = sendErr
				ok = false
				break
			}

			acc.MarkUsed(time.Now())
			if err := d.consume(body, isLast, &capturedTaskID, acc, handle); err != nil {
				lastErr = err
				ok = false
				break
			}
		}

		if ok {
			return &Result{Account: acc}, nil
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrAllAttemptsFailed, lastErr)
}

// buildRequests chooses the new-conversation/continuation dispatch (single
// request) or the split_toolcall_result sequence (one request per pending
// tool result), per the pool's configured mode.
func (d *Dispatcher) buildRequests(fr format.FoldRequest, hasActiveTask bool) [][]byte {
	opts := fr.BuildOptions()
	if d.splitToolcallResult && len(fr.PendingResults) > 0 {
		return wire.BuildSplit(fr.UserText, fr.History, fr.PendingResults, opts)
	}
	return [][]byte{wire.Build(fr.UserText, fr.History, fr.PendingResults, hasActiveTask, opts)}
}

// consume decodes one upstream SSE body and forwards its events. On a
// non-final split request its Finished event is swallowed rather than
// forwarded, so the client-facing adapter only sees one terminal frame for
// the whole split sequence.
func (d *Dispatcher) consume(body io.ReadCloser, isLast bool, capturedTaskID *bool, acc *account.Account, handle EventHandler) error {
	defer body.Close()

	r := stream.NewReader(body)
	for {
		ev, err := r.Next()
		if err == stream.ErrDone {
			return nil
		}
		if err != nil {
			logging.L().Warn().Err(err).Str("account", acc.Name).Msg("malformed upstream frame, stopping this sub-request")
			return nil
		}

		if ev.Init != nil && !*capturedTaskID {
			acc.SetActiveTaskID(ev.Init.ConversationID)
			*capturedTaskID = true
		}

		if ev.Finished != nil && !isLast {
			continue
		}

		if _, err := handle(ev); err != nil {
			return err
		}
	}
}
