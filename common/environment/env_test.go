package environment_test

import (
	"testing"
	"time"

	"github.com/bdobrica/relay/common/environment"
)

func TestOverlay_OverridesOnlyWhenSet(t *testing.T) {
	o := environment.NewOverlayFrom(map[string]string{
		"HOMESERVER": "https://matrix.example",
		"EMPTY":      "   ",
		"PORT":       "8883",
		"TLS":        "true",
		"TTL":        "45m",
		"FRIENDS":    "@a:x, ,@b:x",
	})

	host := "file-value"
	empty := "kept"
	missing := "kept"
	port := 1883
	tls := false
	ttl := time.Minute
	var friends []string

	o.String(&host, "HOMESERVER")
	o.String(&empty, "EMPTY")
	o.String(&missing, "MISSING")
	o.Int(&port, "PORT")
	o.Bool(&tls, "TLS")
	o.Duration(&ttl, "TTL")
	o.List(&friends, "FRIENDS")

	if err := o.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "https://matrix.example" {
		t.Errorf("host = %q", host)
	}
	if empty != "kept" || missing != "kept" {
		t.Errorf("blank or missing variables must not override: %q %q", empty, missing)
	}
	if port != 8883 || !tls || ttl != 45*time.Minute {
		t.Errorf("port=%d tls=%v ttl=%v", port, tls, ttl)
	}
	if len(friends) != 2 || friends[0] != "@a:x" || friends[1] != "@b:x" {
		t.Errorf("friends = %v", friends)
	}
}

func TestOverlay_CollectsParseErrors(t *testing.T) {
	o := environment.NewOverlayFrom(map[string]string{
		"PORT": "eighty",
		"TTL":  "forever",
		"TLS":  "maybe",
	})
	port := 1883
	ttl := time.Minute
	tls := true
	o.Int(&port, "PORT")
	o.Duration(&ttl, "TTL")
	o.Bool(&tls, "TLS")

	if o.Err() == nil {
		t.Fatal("expected error")
	}
	if port != 1883 || ttl != time.Minute || !tls {
		t.Error("destinations must be left unchanged on parse failure")
	}
}
