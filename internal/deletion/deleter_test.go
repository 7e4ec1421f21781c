package deletion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"alarmd/internal/credential"
	"alarmd/pkg/circuitbreaker"
	"alarmd/pkg/clock"
	"alarmd/pkg/trace"

	"go.uber.org/zap"
)

type countingSignaler struct{ n atomic.Int32 }

func (c *countingSignaler) SignalDismiss() { c.n.Add(1) }

type seenRequest struct {
	method string
	path   string
	id     string
	auth   string
	ctype  string
	trace  string
}

type recordingServer struct {
	*httptest.Server
	mu   sync.Mutex
	seen []seenRequest
}

func newRecordingServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.seen = append(rs.seen, seenRequest{
			method: r.Method,
			path:   r.URL.Path,
			id:     r.URL.Query().Get("id"),
			auth:   r.Header.Get("Authorization"),
			ctype:  r.Header.Get("Content-Type"),
			trace:  r.Header.Get(trace.HeaderName),
		})
		rs.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) requests() []seenRequest {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]seenRequest(nil), rs.seen...)
}

func newDeleter(baseURL string, token string) (*Deleter, *credential.MemoryMirror, *countingSignaler) {
	mirror := credential.NewMemoryMirror()
	mirror.Write(context.Background(), token)
	sig := &countingSignaler{}
	return NewDeleter(baseURL, mirror, sig, zap.NewNop()), mirror, sig
}

func TestDeleteTaskSendsAuthenticatedDelete(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	d, _, sig := newDeleter(srv.URL+"/", "tok")

	d.DeleteTask(context.Background(), "t1")

	reqs := srv.requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	got := reqs[0]
	if got.method != http.MethodDelete || got.path != "/tasks" || got.id != "t1" {
		t.Fatalf("request = %+v", got)
	}
	if got.auth != "Bearer tok" || got.ctype != "application/json" {
		t.Fatalf("headers = %+v", got)
	}
	if sig.n.Load() != 1 {
		t.Fatalf("dismiss signals = %d, want 1", sig.n.Load())
	}
}

func TestDeleteTaskEscapesID(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {})
	d, _, _ := newDeleter(srv.URL, "tok")

	d.DeleteTask(context.Background(), "a b&c")
	if reqs := srv.requests(); len(reqs) != 1 || reqs[0].id != "a b&c" {
		t.Fatalf("requests = %+v", reqs)
	}
}

func TestDeleteTaskRedirectLoopIsBounded(t *testing.T) {
	var srv *recordingServer
	srv = newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", srv.URL+"/tasks?id="+r.URL.Query().Get("id"))
		w.WriteHeader(http.StatusFound)
	})
	d, _, sig := newDeleter(srv.URL, "tok")

	d.DeleteTask(context.Background(), "loop")

	if n := len(srv.requests()); n != 6 {
		t.Fatalf("requests = %d, want 6 (1 + 5 redirects)", n)
	}
	if sig.n.Load() != 1 {
		t.Fatal("dismiss must be signaled even when abandoned")
	}
}

func TestDeleteTaskFollowsRedirectsWithMethodAndAuth(t *testing.T) {
	final := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	hops := 0
	var origin *recordingServer
	origin = newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		hops++
		if hops == 1 {
			// 相对地址
			w.Header().Set("Location", "/v2/tasks?id=t9")
			w.WriteHeader(http.StatusMovedPermanently)
			return
		}
		w.Header().Set("Location", final.URL+"/tasks?id=t9")
		w.WriteHeader(http.StatusPermanentRedirect)
	})
	d, _, _ := newDeleter(origin.URL, "tok")

	d.DeleteTask(context.Background(), "t9")

	if n := len(origin.requests()); n != 2 {
		t.Fatalf("origin requests = %d", n)
	}
	if origin.requests()[1].path != "/v2/tasks" {
		t.Fatalf("relative redirect not resolved: %+v", origin.requests()[1])
	}
	reqs := final.requests()
	if len(reqs) != 1 || reqs[0].method != http.MethodDelete || reqs[0].auth != "Bearer tok" {
		t.Fatalf("final requests = %+v", reqs)
	}
}

func TestDeleteTaskAfterClearSendsNoToken(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	d, mirror, _ := newDeleter(srv.URL, "stale")
	mirror.Clear(context.Background())

	d.DeleteTask(context.Background(), "t1")

	reqs := srv.requests()
	if len(reqs) != 1 || reqs[0].auth != "" {
		t.Fatalf("requests = %+v, want one without Authorization", reqs)
	}
}

func TestDeleteTaskNonRedirectErrorStops(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	d, _, sig := newDeleter(srv.URL, "tok")

	d.DeleteTask(context.Background(), "t1")
	if n := len(srv.requests()); n != 1 {
		t.Fatalf("requests = %d, want 1 (no retry)", n)
	}
	if sig.n.Load() != 1 {
		t.Fatal("dismiss not signaled")
	}
}

func TestDeleteTaskBreakerOpensOnServerErrors(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	d, _, sig := newDeleter(srv.URL, "tok")
	cfg := circuitbreaker.DefaultConfig()
	cfg.FailureThreshold = 2
	cb := circuitbreaker.NewCircuitBreaker(cfg, clock.Fake(time.Unix(0, 0)))
	d.WithBreaker(cb)

	for i := 0; i < 3; i++ {
		d.DeleteTask(context.Background(), "t1")
	}
	if n := len(srv.requests()); n != 2 {
		t.Fatalf("requests = %d, want 2 before breaker opened", n)
	}
	if cb.State() != circuitbreaker.StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}
	if sig.n.Load() != 3 {
		t.Fatalf("dismiss signals = %d, want 3", sig.n.Load())
	}
}

func TestDeleteTaskClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	d, _, _ := newDeleter(srv.URL, "tok")
	cfg := circuitbreaker.DefaultConfig()
	cfg.FailureThreshold = 1
	cb := circuitbreaker.NewCircuitBreaker(cfg, clock.Fake(time.Unix(0, 0)))
	d.WithBreaker(cb)

	d.DeleteTask(context.Background(), "t1")
	d.DeleteTask(context.Background(), "t2")
	if n := len(srv.requests()); n != 2 {
		t.Fatalf("requests = %d, want 2", n)
	}
	if cb.State() != circuitbreaker.StateClosed {
		t.Fatalf("state = %s, want closed", cb.State())
	}
}

func TestDeleteTaskUnreachableIsSilent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d, _, sig := newDeleter(url, "tok")
	d.DeleteTask(context.Background(), "t1")
	if sig.n.Load() != 1 {
		t.Fatal("dismiss not signaled")
	}
}

func TestDeleteTaskTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	d, _, sig := newDeleter(srv.URL, "tok")
	d.WithTimeout(50 * time.Millisecond)

	start := time.Now()
	d.DeleteTask(context.Background(), "slow")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout not applied, took %v", elapsed)
	}
	if sig.n.Load() != 1 {
		t.Fatal("dismiss not signaled")
	}
}

func TestGoRunsInBackground(t *testing.T) {
	release := make(chan struct{})
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	d, _, sig := newDeleter(srv.URL, "tok")

	d.Go("bg")
	if sig.n.Load() != 0 {
		t.Fatal("Go must not block on the request")
	}
	close(release)
	d.Wait()
	if sig.n.Load() != 1 {
		t.Fatal("background deletion did not finish")
	}
}

func TestGoFromOutlivesCallerContextAndKeepsTrace(t *testing.T) {
	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	d, _, sig := newDeleter(srv.URL, "tok")

	ctx, cancel := context.WithCancel(trace.WithContext(context.Background(), "trace-42"))
	d.GoFrom(ctx, "t1")
	cancel()
	d.Wait()

	reqs := srv.requests()
	if len(reqs) != 1 || reqs[0].trace != "trace-42" {
		t.Fatalf("requests = %+v, want one carrying the caller trace id", reqs)
	}
	if sig.n.Load() != 1 {
		t.Fatal("dismiss not signaled")
	}
}
