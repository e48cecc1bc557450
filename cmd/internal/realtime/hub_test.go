package realtime

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "bandroom/contracts/realtime/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEnvelope(typ string, seq int) v1.Envelope {
	payload, _ := json.Marshal(map[string]int{"seq": seq})
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("env-%d", seq),
		TS:      time.Now().UTC(),
		Payload: payload,
	}
}

func drain(t *testing.T, c *Client, n int) []v1.Envelope {
	t.Helper()

	out := make([]v1.Envelope, 0, n)
	for i := 0; i < n; i++ {
		select {
		case env := <-c.Send:
			out = append(out, env)
		default:
			t.Fatalf("expected %d envelopes, got %d", n, len(out))
		}
	}
	return out
}

func TestHubJoinIsIdempotent(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger(), nil)
	c := NewClient("u1", "conn1", 8)
	room := BandRoom("7")

	h.Join(room, c)
	h.Join(room, c)
	h.Join(room, c)

	assert.True(t, h.IsMember(room, "conn1"))
	h.Broadcast(room, testEnvelope(v1.TypeRehearsalCreated, 1), "")

	// One membership entry means one delivery.
	got := drain(t, c, 1)
	assert.Equal(t, "env-1", got[0].ID)
	select {
	case env := <-c.Send:
		t.Fatalf("unexpected duplicate delivery: %s", env.ID)
	default:
	}
}

func TestHubSameIDDifferentKindsAreDistinctRooms(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger(), nil)
	inBand := NewClient("u1", "conn1", 8)
	inRehearsal := NewClient("u2", "conn2", 8)

	h.Join(BandRoom("7"), inBand)
	h.Join(RehearsalRoom("7"), inRehearsal)

	h.Broadcast(BandRoom("7"), testEnvelope(v1.TypeRehearsalCreated, 1), "")

	drain(t, inBand, 1)
	select {
	case <-inRehearsal.Send:
		t.Fatal("rehearsal_7 member must not receive band_7 traffic")
	default:
	}
}

func TestHubBroadcastExcludesSender(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger(), nil)
	sender := NewClient("u1", "sender", 8)
	others := make([]*Client, 3)
	room := RehearsalRoom("12")

	h.Join(room, sender)
	for i := range others {
		others[i] = NewClient(fmt.Sprintf("u%d", i+2), fmt.Sprintf("other%d", i), 8)
		h.Join(room, others[i])
	}

	h.Broadcast(room, testEnvelope(v1.TypeAvailabilityUpdated, 1), sender.ConnID)

	for _, o := range others {
		drain(t, o, 1)
	}
	select {
	case <-sender.Send:
		t.Fatal("sender must not receive its own availability update")
	default:
	}

	// An empty exclusion delivers to everyone, sender included.
	h.Broadcast(room, testEnvelope(v1.TypeRehearsalCreated, 2), "")
	drain(t, sender, 1)
	for _, o := range others {
		drain(t, o, 1)
	}
}

func TestHubLeaveAllRemovesEveryMembership(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger(), nil)
	c := NewClient("u1", "conn1", 8)
	stay := NewClient("u2", "conn2", 8)

	rooms := []RoomKey{BandRoom("1"), BandRoom("2"), RehearsalRoom("9")}
	for _, r := range rooms {
		h.Join(r, c)
	}
	h.Join(BandRoom("1"), stay)

	assert.Len(t, h.Rooms("conn1"), 3)
	h.LeaveAll("conn1")
	assert.Empty(t, h.Rooms("conn1"))

	for _, r := range rooms {
		assert.False(t, h.IsMember(r, "conn1"), r.String())
		h.Broadcast(r, testEnvelope(v1.TypeRehearsalUpdated, 1), "")
	}
	select {
	case <-c.Send:
		t.Fatal("departed connection must not receive broadcasts")
	default:
	}

	// The remaining member still gets band_1 traffic.
	drain(t, stay, 1)

	// LeaveAll for an unknown connection is a no-op.
	h.LeaveAll("conn1")
	h.LeaveAll("never-joined")
}

func TestHubBroadcastDropsOnFullQueue(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger(), nil)
	slow := NewClient("u1", "slow", 2)
	fast := NewClient("u2", "fast", 8)
	room := BandRoom("7")
	h.Join(room, slow)
	h.Join(room, fast)

	for i := 0; i < 5; i++ {
		h.Broadcast(room, testEnvelope(v1.TypeRehearsalCreated, i), "")
	}

	// The slow member keeps its first two envelopes; the rest were dropped
	// without blocking delivery to the fast member.
	assert.Len(t, drain(t, slow, 2), 2)
	got := drain(t, fast, 5)
	for i, env := range got {
		assert.Equal(t, fmt.Sprintf("env-%d", i), env.ID, "per-receiver FIFO order")
	}
}

func TestHubBroadcastPreservesPerRoomOrder(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger(), nil)
	room := RehearsalRoom("42")
	members := []*Client{
		NewClient("u1", "conn1", 32),
		NewClient("u2", "conn2", 32),
		NewClient("u3", "conn3", 32),
	}
	for _, m := range members {
		h.Join(room, m)
	}

	const n = 12
	for i := 0; i < n; i++ {
		h.Broadcast(room, testEnvelope(v1.TypeAvailabilityUpdated, i), "")
	}

	// Every member sees the room's envelopes in dispatch order.
	for _, m := range members {
		got := drain(t, m, n)
		for i, env := range got {
			assert.Equal(t, fmt.Sprintf("env-%d", i), env.ID, "member %s position %d", m.ConnID, i)
		}
	}

	// Interleaving another room's traffic does not disturb the per-room
	// subsequence a shared member observes.
	other := BandRoom("7")
	h.Join(other, members[0])
	for i := 0; i < 4; i++ {
		h.Broadcast(room, testEnvelope(v1.TypeAvailabilityUpdated, 100+i), "")
		h.Broadcast(other, testEnvelope(v1.TypeRehearsalCreated, 200+i), "")
	}

	var rehearsalSeen, bandSeen []string
	for _, env := range drain(t, members[0], 8) {
		switch env.Type {
		case v1.TypeAvailabilityUpdated:
			rehearsalSeen = append(rehearsalSeen, env.ID)
		case v1.TypeRehearsalCreated:
			bandSeen = append(bandSeen, env.ID)
		}
	}
	assert.Equal(t, []string{"env-100", "env-101", "env-102", "env-103"}, rehearsalSeen)
	assert.Equal(t, []string{"env-200", "env-201", "env-202", "env-203"}, bandSeen)
}

func TestHubSkipsClosedClients(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger(), nil)
	c := NewClient("u1", "conn1", 8)
	room := BandRoom("7")
	h.Join(room, c)

	c.Close()
	c.Close() // idempotent

	h.Broadcast(room, testEnvelope(v1.TypeRehearsalCreated, 1), "")
	select {
	case <-c.Send:
		t.Fatal("closed client must not receive broadcasts")
	default:
	}
}

func TestRoomKeyString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "band_7", BandRoom("7").String())
	assert.Equal(t, "rehearsal_12", RehearsalRoom(" 12 ").String())
	assert.False(t, BandRoom("  ").Valid())
	assert.False(t, RoomKey{Kind: "other", ID: "1"}.Valid())
	require.True(t, RehearsalRoom("12").Valid())
}
