package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionCorrelatesResponsesByID(t *testing.T) {
	conn, driver := startConnection(t)

	type outcome struct {
		method string
		result json.RawMessage
		err    error
	}
	results := make(chan outcome, 2)
	for _, method := range []string{"first", "second"} {
		method := method
		go func() {
			raw, err := conn.Send(context.Background(), "page@1", method, nil)
			results <- outcome{method: method, result: raw, err: err}
		}()
	}

	a := driver.readRequest()
	b := driver.readRequest()
	// answer in reverse order
	driver.respond(b.ID, map[string]string{"echo": b.Method})
	driver.respond(a.ID, map[string]string{"echo": a.Method})

	for i := 0; i < 2; i++ {
		res := <-results
		require.NoError(t, res.err)
		var body struct{ Echo string }
		require.NoError(t, json.Unmarshal(res.result, &body))
		assert.Equal(t, res.method, body.Echo)
	}
	assert.Zero(t, conn.pendingCount())
}

func TestConnectionRequestShape(t *testing.T) {
	conn, driver := startConnection(t)

	go func() {
		_, _ = conn.Send(context.Background(), "frame@1", "goto", map[string]any{"url": "https://example.com"})
	}()

	req := driver.readRequest()
	assert.Equal(t, uint64(1), req.ID)
	assert.Equal(t, "frame@1", req.GUID)
	assert.Equal(t, "goto", req.Method)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(req.Params))
	assert.NotZero(t, req.Metadata.WallTime)
	driver.respond(req.ID, nil)
}

func TestConnectionIgnoresUnknownResponseID(t *testing.T) {
	conn, driver := startConnection(t)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Send(context.Background(), "page@1", "title", nil)
		done <- err
	}()

	req := driver.readRequest()
	driver.respond(req.ID+1000, map[string]string{"value": "stale"})
	driver.respond(req.ID, map[string]string{"value": "ok"})

	require.NoError(t, <-done)
	assert.Zero(t, conn.pendingCount())

	// duplicate of an already-completed id
	driver.respond(req.ID, map[string]string{"value": "dup"})
	_, err := sendAndAnswer(t, conn, driver)
	require.NoError(t, err)
}

func TestConnectionSurvivesEmptyFrame(t *testing.T) {
	conn, driver := startConnection(t)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Send(context.Background(), "page@1", "title", nil)
		done <- err
	}()

	req := driver.readRequest()
	require.NoError(t, driver.transport.Send(context.Background(), nil))
	driver.respond(req.ID, map[string]string{"value": "ok"})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not complete after an empty frame")
	}
	select {
	case <-conn.Done():
		t.Fatal("connection stopped on an empty frame")
	default:
	}
	_, err := sendAndAnswer(t, conn, driver)
	require.NoError(t, err)
}

func sendAndAnswer(t *testing.T, conn *Connection, driver *fakeDriver) (json.RawMessage, error) {
	t.Helper()
	type res struct {
		raw json.RawMessage
		err error
	}
	ch := make(chan res, 1)
	go func() {
		raw, err := conn.Send(context.Background(), "page@1", "ping", nil)
		ch <- res{raw, err}
	}()
	req := driver.readRequest()
	driver.respond(req.ID, map[string]bool{"pong": true})
	r := <-ch
	return r.raw, r.err
}

func TestConnectionPreservesRemoteError(t *testing.T) {
	conn, driver := startConnection(t)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Send(context.Background(), "frame@1", "goto", nil)
		done <- err
	}()

	req := driver.readRequest()
	driver.write(map[string]any{
		"id": req.ID,
		"error": map[string]any{"error": map[string]string{
			"name":    "TimeoutError",
			"message": "Timeout 100ms exceeded",
			"stack":   "at goto",
		}},
	})

	err := <-done
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "TimeoutError", remote.Name)
	assert.Equal(t, "Timeout 100ms exceeded", remote.Message)
	assert.Equal(t, "at goto", remote.Stack)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsTargetClosed(err))
}

func TestConnectionCancelledSendReleasesPending(t *testing.T) {
	conn, driver := startConnection(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := conn.Send(ctx, "page@1", "slow", nil)
		done <- err
	}()

	req := driver.readRequest()
	require.Equal(t, 1, conn.pendingCount())
	cancel()

	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, conn.pendingCount())

	// the late response is dropped quietly
	driver.respond(req.ID, nil)
	_, err = sendAndAnswer(t, conn, driver)
	require.NoError(t, err)
}

func TestConnectionDeadlineIsTimeout(t *testing.T) {
	conn, driver := startConnection(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := conn.Send(ctx, "page@1", "slow", nil)
		done <- err
	}()
	driver.readRequest()

	err := <-done
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "Timeout calling slow on page@1")
}

func TestConnectionTransportCloseFailsPending(t *testing.T) {
	conn, driver := startConnection(t)

	const callers = 3
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := conn.Send(context.Background(), "page@1", "hang", nil)
			errs <- err
		}()
	}
	for i := 0; i < callers; i++ {
		driver.readRequest()
	}

	require.NoError(t, driver.transport.Close())
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.True(t, errors.Is(err, ErrChannelClosed), "got %v", err)
	}

	<-conn.Done()
	assert.Zero(t, conn.pendingCount())
	_, err := conn.Send(context.Background(), "page@1", "after", nil)
	assert.True(t, errors.Is(err, ErrChannelClosed))
}

func TestConnectionCreatesAndRoutesEvents(t *testing.T) {
	conn, driver := startConnection(t)

	driver.create("", "Browser", "browser@1", map[string]string{"version": "1"})
	driver.create("browser@1", "Page", "page@1", map[string]any{})
	driver.event("page@1", "close", map[string]any{})

	page := waitForObject(t, conn, "page@1").(*testObject)
	browser := waitForObject(t, conn, "browser@1")

	require.Eventually(t, func() bool { return len(page.seen()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"close"}, page.seen())
	assert.Same(t, browser, page.Parent())
	assert.Equal(t, []Object{page}, browser.Children())
	assert.Same(t, conn.Root(), browser.Parent())
}

func TestConnectionDropsEventsForUnknownGUID(t *testing.T) {
	conn, driver := startConnection(t)

	driver.event("page@gone", "close", map[string]any{})
	driver.create("", "Page", "page@1", nil)
	driver.event("page@1", "crash", map[string]any{})

	page := waitForObject(t, conn, "page@1").(*testObject)
	require.Eventually(t, func() bool { return len(page.seen()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"crash"}, page.seen())
}

func TestConnectionUnknownTypeFailsOnlyThatCreation(t *testing.T) {
	conn, driver := startConnection(t)

	driver.create("", "Mystery", "mystery@1", nil)
	driver.create("", "Page", "page@1", nil)

	waitForObject(t, conn, "page@1")
	_, ok := conn.Registry().TryGet("mystery@1")
	assert.False(t, ok)
}

func TestConnectionDisposeCascadesDownward(t *testing.T) {
	conn, driver := startConnection(t)

	driver.create("", "Browser", "browser@1", nil)
	driver.create("browser@1", "Page", "page@1", nil)
	driver.create("page@1", "Frame", "frame@1", nil)
	frame := waitForObject(t, conn, "frame@1")
	page := waitForObject(t, conn, "page@1")
	browser := waitForObject(t, conn, "browser@1")

	driver.event("page@1", MethodDispose, map[string]string{"reason": "gc"})

	require.Eventually(t, func() bool {
		_, ok := conn.Registry().TryGet("page@1")
		return !ok
	}, 2*time.Second, time.Millisecond)
	_, ok := conn.Registry().TryGet("frame@1")
	assert.False(t, ok)
	assert.True(t, frame.Disposed())
	assert.True(t, page.Disposed())
	assert.True(t, page.(*testObject).Collected())
	assert.Empty(t, page.Children())
	assert.Empty(t, browser.Children())
	assert.False(t, browser.Disposed())

	_, err := page.Channel().Send(context.Background(), "title", nil)
	assert.True(t, IsTargetClosed(err))
}

func TestConnectionAdoptMovesOwnershipOnly(t *testing.T) {
	conn, driver := startConnection(t)

	driver.create("", "Browser", "browser@1", nil)
	driver.create("", "Browser", "browser@2", nil)
	driver.create("browser@1", "Page", "page@1", nil)
	page := waitForObject(t, conn, "page@1")
	first := waitForObject(t, conn, "browser@1")
	second := waitForObject(t, conn, "browser@2")

	driver.event("browser@2", MethodAdopt, map[string]string{"guid": "page@1"})

	require.Eventually(t, func() bool { return len(second.Children()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Empty(t, first.Children())
	assert.Same(t, first, page.Parent())
	assert.Same(t, second, page.(*testObject).Owner())

	// disposing the new owner takes the adopted child with it
	driver.event("browser@2", MethodDispose, map[string]string{})
	require.Eventually(t, page.Disposed, 2*time.Second, time.Millisecond)
	assert.False(t, page.(*testObject).Collected())
}

func TestConnectionInitializeWaitsForRacingCreate(t *testing.T) {
	client, server := pipePair()
	conn := NewConnection(client, testFactory)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn.Start(ctx)
	driver := &fakeDriver{t: t, transport: server}
	defer server.Close()

	type result struct {
		obj Object
		err error
	}
	done := make(chan result, 1)
	go func() {
		obj, err := conn.Initialize(context.Background(), "go")
		done <- result{obj, err}
	}()

	req := driver.readRequest()
	assert.Equal(t, "", req.GUID)
	assert.Equal(t, "initialize", req.Method)
	assert.JSONEq(t, `{"sdkLanguage":"go"}`, string(req.Params))

	// response first, creation second
	driver.respond(req.ID, map[string]any{"playwright": map[string]string{"guid": "playwright@1"}})
	time.Sleep(20 * time.Millisecond)
	driver.create("", "Playwright", "playwright@1", map[string]any{})

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "playwright@1", res.obj.GUID())
	_, rootRegistered := conn.Registry().TryGet("")
	assert.False(t, rootRegistered)
}
