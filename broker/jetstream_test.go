package broker

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

func startJetStream(t *testing.T) string {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      server.RANDOM_PORT,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	}
	s, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("nats server: %v\n", err)
	}
	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatalf("nats server not ready\n")
	}
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

func TestJetStreamConformance(t *testing.T) {
	d := NewJetStreamDialer(startJetStream(t), time.Minute)
	defer d.Close()
	testConformance(t, d)
}

func TestJetStreamNames(t *testing.T) {
	if name := StreamName("alprd.site-1"); name != "ALPRD_ALPRD_SITE-1" {
		t.Fatalf("stream name = %s\n", name)
	}
	if subject := Subject("alprd"); subject != "alprd.jobs.alprd" {
		t.Fatalf("subject = %s\n", subject)
	}
}
