package xmlrpc

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func newTestServer(t *testing.T) (*httptest.Server, *BasicDispatcher) {
	t.Helper()
	d := &BasicDispatcher{}
	h := &Handler{Dispatcher: d}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, d
}

func TestHandlerRoundTrip(t *testing.T) {
	srv, d := newTestServer(t)
	d.HandleFunc("add", func(args *Value) (*Value, error) {
		q := Q(args)
		a := q.Idx(0).Int()
		b := q.Idx(1).Int()
		if q.Err() != nil {
			return nil, q.Err()
		}
		return NewInt(a + b), nil
	})

	c := &Client{Addr: srv.URL}
	res, err := c.Call("add", Values{NewInt(40), NewInt(2)})
	if err != nil {
		t.Fatal(err)
	}
	if Q(res).Int() != 42 {
		t.Error("unexpected result: ", res)
	}
}

func TestHandlerFault(t *testing.T) {
	srv, d := newTestServer(t)
	d.HandleFunc("fail", func(*Value) (*Value, error) {
		return nil, fmt.Errorf("intentional failure")
	})

	c := &Client{Addr: srv.URL}
	_, err := c.Call("fail", Values{})
	merr, ok := err.(*MethodError)
	if !ok {
		t.Fatalf("MethodError expected, got: %v", err)
	}
	if merr.Code != -1 || merr.Message != "intentional failure" {
		t.Errorf("unexpected fault: %v", merr)
	}

	_, err = c.Call("unknown", Values{})
	if err == nil {
		t.Error("error expected for unknown method")
	}
}

func TestHandlerLatin1(t *testing.T) {
	srv, d := newTestServer(t)
	d.HandleFunc("echo", func(args *Value) (*Value, error) {
		q := Q(args)
		s := q.Idx(0).String()
		if q.Err() != nil {
			return nil, q.Err()
		}
		return NewString(s), nil
	})

	c := &Client{Addr: srv.URL}
	// umlauts must survive the ISO8859-1 round trip
	res, err := c.Call("echo", Values{NewString("Küchenlampe größer 50°")})
	if err != nil {
		t.Fatal(err)
	}
	if Q(res).String() != "Küchenlampe größer 50°" {
		t.Error("unexpected result: ", res)
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	srv, d := newTestServer(t)
	d.HandleFunc("echo", func(args *Value) (*Value, error) {
		return args, nil
	})

	// the first calls may arrive concurrently on a fresh client
	c := &Client{Addr: srv.URL}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Call("echo", Values{NewInt(1)}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}

func TestClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := &Client{Addr: srv.URL}
	_, err := c.Call("ping", Values{})
	herr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("HTTPError expected, got: %v", err)
	}
	if herr.StatusCode != http.StatusUnauthorized {
		t.Errorf("unexpected status: %d", herr.StatusCode)
	}
}
