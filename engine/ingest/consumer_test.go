package ingest

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/chakssp/vcia-dhl-sub005/engine/semantic"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func publishRequest(t *testing.T, nc *nats.Conn, req Request) {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	if err := nc.Publish(IngestSubject, data); err != nil {
		t.Fatal(err)
	}
}

func TestConsumerIngests(t *testing.T) {
	nc := startTestNATS(t)
	store := semantic.NewMemoryStore("docs", 4)
	e := newEngine(t, store, nil)

	outcomes := make(chan Outcome, 4)
	sub, err := StartConsumer(nc, e, ConsumerOpts{OnOutcome: func(_ Request, o Outcome) { outcomes <- o }})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	publishRequest(t, nc, Request{Record: sample()})
	publishRequest(t, nc, Request{Record: sample(), Options: Options{Action: ActionSkip}})

	want := []string{OutcomeInserted, OutcomeSkipped}
	for _, w := range want {
		select {
		case o := <-outcomes:
			if o.Action != w {
				t.Fatalf("action = %q, want %q", o.Action, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for outcome")
		}
	}
	if store.Len() != 1 {
		t.Fatalf("points = %d", store.Len())
	}
}

func TestConsumerRetriesThenDLQ(t *testing.T) {
	nc := startTestNATS(t)
	store := &failingStore{MemoryStore: semantic.NewMemoryStore("docs", 4), insertErr: errors.New("unavailable")}
	e := newEngine(t, store, nil)

	dlq := make(chan *nats.Msg, 1)
	dsub, err := nc.ChanSubscribe(DLQSubject, dlq)
	if err != nil {
		t.Fatal(err)
	}
	defer dsub.Unsubscribe()

	sub, err := StartConsumer(nc, e, ConsumerOpts{})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	publishRequest(t, nc, Request{Record: sample()})

	select {
	case msg := <-dlq:
		var m dlqMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			t.Fatal(err)
		}
		if m.Retries != MaxRetries || m.Error != "unavailable" || m.Request.Record.Path != "/a/b.md" {
			t.Fatalf("dlq = %+v", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for DLQ")
	}
	if got := e.Stats().WriteErrors; got != MaxRetries {
		t.Fatalf("write errors = %d, want %d", got, MaxRetries)
	}
}

func TestConsumerDropsMalformed(t *testing.T) {
	nc := startTestNATS(t)
	e := newEngine(t, semantic.NewMemoryStore("docs", 4), nil)
	called := make(chan struct{}, 1)
	sub, err := StartConsumer(nc, e, ConsumerOpts{OnOutcome: func(Request, Outcome) { called <- struct{}{} }})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	_ = nc.Publish(IngestSubject, []byte("{bad"))
	_ = nc.Flush()
	select {
	case <-called:
		t.Fatal("handler ran for malformed data")
	case <-time.After(100 * time.Millisecond):
	}
}
