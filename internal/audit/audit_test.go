package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeActorSubject_SSOLowercasesAndTrims(t *testing.T) {
	assert.Equal(t, "person@example.com", NormalizeActorSubject(ActorAdminSSO, "  Person@Example.com  "))
}

func TestNormalizeActorSubject_DiscordLeavesCaseUnchanged(t *testing.T) {
	assert.Equal(t, "Discord#1234", NormalizeActorSubject(ActorDiscord, "  Discord#1234  "))
}

func TestSink_RecordDropsWhenQueueFull(t *testing.T) {
	sink := New(nil, 1, nil)

	sink.Record(Event{Source: SourceAdminDashboard, Action: "login", Result: ResultSuccess})
	// Queue capacity is 1 and nothing is draining it, so this second event
	// must be dropped rather than block the caller.
	sink.Record(Event{Source: SourceAdminDashboard, Action: "logout", Result: ResultSuccess})

	assert.Len(t, sink.events, 1)
}

func TestSink_RecordStampsOccurredAt(t *testing.T) {
	sink := New(nil, 4, nil)

	sink.Record(Event{Source: SourceDiscord, Action: "deep_link_bind", Result: ResultDenied})

	ev := <-sink.events
	assert.False(t, ev.OccurredAt.IsZero())
}
