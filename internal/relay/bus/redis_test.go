package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/bdobrica/relay/common/spec/command"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := DialRedis(context.Background(), RedisConfig{Addr: mr.Addr(), Channel: "test:commands"})
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedis_PublishSubscribe(t *testing.T) {
	pub, mr := newTestRedis(t)
	sub, err := DialRedis(context.Background(), RedisConfig{Addr: mr.Addr(), Channel: "test:commands"})
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *command.Command, 1)
	done := make(chan error, 1)
	go func() {
		done <- sub.Subscribe(ctx, func(_ context.Context, cmd *command.Command) { got <- cmd })
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumSub("test:commands")["test:commands"] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := command.Command{Kind: command.KindRestart, Services: []string{"api"}, RequestID: "r-1"}
	if err := pub.Publish(context.Background(), want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case cmd := <-got:
		if cmd.Kind != command.KindRestart || cmd.RequestID != "r-1" || cmd.Services[0] != "api" {
			t.Errorf("unexpected command %#v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command not delivered")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Subscribe returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}

func TestRedis_PublishWithoutSubscriber(t *testing.T) {
	r, _ := newTestRedis(t)
	err := r.Publish(context.Background(), command.Command{Kind: command.KindStatus, RequestID: "r-2"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestRedis_PublishRejectsInvalid(t *testing.T) {
	r, _ := newTestRedis(t)
	if err := r.Publish(context.Background(), command.Command{Kind: "reboot", RequestID: "r"}); !errors.Is(err, command.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestDialRedis_RequiresAddr(t *testing.T) {
	if _, err := DialRedis(context.Background(), RedisConfig{}); err == nil {
		t.Error("expected error")
	}
}

func TestOpen_LogBackend(t *testing.T) {
	b, err := Open(context.Background(), Config{Backend: BackendLog})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := b.Publish(context.Background(), command.Command{Kind: command.KindStatus, RequestID: "x"}); err != nil {
		t.Errorf("Publish: %v", err)
	}
	if _, err := Open(context.Background(), Config{Backend: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestMQTTConfig_BrokerURLAndDefaults(t *testing.T) {
	plain := MQTTConfig{Broker: "broker"}
	plain.applyDefaults()
	if got := plain.BrokerURL(); got != "tcp://broker:1883" {
		t.Errorf("got %q", got)
	}
	secure := MQTTConfig{Broker: "broker", Port: 8883, CACert: "/etc/ca.pem"}
	if got := secure.BrokerURL(); got != "ssl://broker:8883" {
		t.Errorf("got %q", got)
	}
	if plain.QoS != 1 || plain.ClientID == "" {
		t.Errorf("defaults not applied: %#v", plain)
	}
}

func TestLoadTLSConfig_RequiresPair(t *testing.T) {
	if _, err := loadTLSConfig("/tmp/cert.pem", "", ""); err == nil {
		t.Error("expected error when key is missing")
	}
	if _, err := loadTLSConfig("", "", "/nonexistent/ca.pem"); err == nil {
		t.Error("expected error for missing CA file")
	}
}
