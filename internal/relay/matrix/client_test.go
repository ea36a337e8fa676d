package matrix

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/relay/internal/relay/store"
)

const self = id.UserID("@relay:example.com")

func textEvent(sender id.UserID, room id.RoomID, body string, msgType event.MessageType, ts time.Time) *event.Event {
	return &event.Event{
		Sender:    sender,
		RoomID:    room,
		Timestamp: ts.UnixMilli(),
		Type:      event.EventMessage,
		Content:   event.Content{Parsed: &event.MessageEventContent{MsgType: msgType, Body: body}},
	}
}

func TestAdmission_Message(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	a := &admission{
		self:    self,
		rooms:   []string{"!ops:example.com"},
		senders: []string{"@alice:example.com"},
		maxAge:  5 * time.Minute,
		now:     func() time.Time { return now },
	}
	alice := id.UserID("@alice:example.com")
	ops := id.RoomID("!ops:example.com")

	cases := []struct {
		name string
		evt  *event.Event
		want bool
	}{
		{"allowed text", textEvent(alice, ops, "restart api", event.MsgText, now), true},
		{"notice accepted", textEvent(alice, ops, "status", event.MsgNotice, now), true},
		{"own message", textEvent(self, ops, "Executing restart", event.MsgText, now), false},
		{"image ignored", textEvent(alice, ops, "cat.png", event.MsgImage, now), false},
		{"other room", textEvent(alice, "!random:example.com", "hi", event.MsgText, now), false},
		{"stranger", textEvent("@mallory:example.com", ops, "stop db", event.MsgText, now), false},
		{"stale history", textEvent(alice, ops, "stop db", event.MsgText, now.Add(-time.Hour)), false},
		{"empty body", textEvent(alice, ops, "", event.MsgText, now), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, ok := a.message(tc.evt)
			if ok != tc.want {
				t.Fatalf("admitted = %v, want %v", ok, tc.want)
			}
			if ok && body != tc.evt.Content.AsMessage().Body {
				t.Errorf("body = %q", body)
			}
		})
	}
}

func TestAdmission_OpenByDefault(t *testing.T) {
	a := &admission{self: self, now: time.Now}
	evt := textEvent("@anyone:example.com", "!any:example.com", "hello", event.MsgText, time.Now())
	if _, ok := a.message(evt); !ok {
		t.Error("empty allowlists should admit everyone")
	}
}

func TestAdmission_Invite(t *testing.T) {
	a := &admission{self: self, senders: []string{"@alice:example.com"}, now: time.Now}
	invite := func(sender id.UserID, target string, membership event.Membership) *event.Event {
		return &event.Event{
			Sender:   sender,
			RoomID:   "!new:example.com",
			Type:     event.StateMember,
			StateKey: &target,
			Content:  event.Content{Parsed: &event.MemberEventContent{Membership: membership}},
		}
	}

	if !a.invite(invite("@alice:example.com", self.String(), event.MembershipInvite)) {
		t.Error("invite from allowed sender should be accepted")
	}
	if a.invite(invite("@mallory:example.com", self.String(), event.MembershipInvite)) {
		t.Error("invite from stranger must be ignored")
	}
	if a.invite(invite("@alice:example.com", "@someone-else:example.com", event.MembershipInvite)) {
		t.Error("invite for another user must be ignored")
	}
	if a.invite(invite("@alice:example.com", self.String(), event.MembershipJoin)) {
		t.Error("join events are not invites")
	}
}

func TestSyncStore_PersistsAcrossInstances(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	first := &syncStore{state: s}
	if err := first.SaveNextBatch(ctx, self, "s72_1"); err != nil {
		t.Fatalf("SaveNextBatch: %v", err)
	}
	if err := first.SaveFilterID(ctx, self, "f1"); err != nil {
		t.Fatalf("SaveFilterID: %v", err)
	}

	second := &syncStore{state: s}
	if got, _ := second.LoadNextBatch(ctx, self); got != "s72_1" {
		t.Errorf("next batch = %q", got)
	}
	if got, _ := second.LoadFilterID(ctx, self); got != "f1" {
		t.Errorf("filter id = %q", got)
	}
	if got, _ := second.LoadNextBatch(ctx, "@other:example.com"); got != "" {
		t.Errorf("other account should start empty, got %q", got)
	}
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Config{}); err == nil {
		t.Error("expected error without homeserver")
	}
	if _, err := New(ctx, Config{Homeserver: "https://matrix.example.com"}); err == nil {
		t.Error("expected error without credentials")
	}

	c, err := New(ctx, Config{
		Homeserver:  "https://matrix.example.com",
		AccessToken: "syt_token",
		UserID:      self.String(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.UserID() != self.String() {
		t.Errorf("UserID = %q", c.UserID())
	}
}
