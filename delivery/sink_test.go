package delivery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

type received struct {
	body        string
	contentType string
	accept      string
	charsets    string
}

func startSinkServer(t *testing.T, status int) (url string, requests <-chan received) {
	ch := make(chan received, 10)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post("/plates", func(c *fiber.Ctx) error {
		ch <- received{
			body:        string(c.Body()),
			contentType: c.Get(fiber.HeaderContentType),
			accept:      c.Get(fiber.HeaderAccept),
			charsets:    c.Get("charsets"),
		}
		return c.SendStatus(status)
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v\n", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })
	return "http://" + ln.Addr().String() + "/plates", ch
}

func TestHTTPSinkDeliver(t *testing.T) {
	url, requests := startSinkServer(t, fiber.StatusOK)
	sink := NewHTTPSink(url, time.Second, true)
	if err := sink.Deliver(context.Background(), []byte(`{"uuid":"a"}`)); err != nil {
		t.Fatalf("deliver: %v\n", err)
	}
	select {
	case r := <-requests:
		if r.body != `{"uuid":"a"}` {
			t.Fatalf("body = %s\n", r.body)
		}
		if r.contentType != "application/json" || r.accept != "application/json" || r.charsets != "utf-8" {
			t.Fatalf("headers = %+v\n", r)
		}
	case <-time.After(time.Second):
		t.Fatalf("sink received nothing\n")
	}
}

func TestHTTPSinkStatus(t *testing.T) {
	url, _ := startSinkServer(t, fiber.StatusInternalServerError)
	if err := NewHTTPSink(url, time.Second, false).Deliver(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("lenient sink failed on status: %v\n", err)
	}
	err := NewHTTPSink(url, time.Second, true).Deliver(context.Background(), []byte(`{}`))
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != 500 {
		t.Fatalf("strict sink error = %v, expected status 500\n", err)
	}
}

func TestHTTPSinkUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v\n", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	if err := NewHTTPSink("http://"+addr+"/plates", time.Second, false).Deliver(context.Background(), []byte(`{}`)); err == nil {
		t.Fatalf("deliver to closed port succeeded\n")
	}
}

func TestHTTPSinkCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewHTTPSink("http://127.0.0.1:1/plates", time.Second, false).Deliver(ctx, []byte(`{}`)); err == nil {
		t.Fatalf("deliver with cancelled context succeeded\n")
	}
}
