// ABOUTME: Tests for the shared handler hub and its status state machine
// ABOUTME: Covers exactly-once transitions and handler registration lifecycle

package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHub_StatusTransitions(t *testing.T) {
	h := NewHub()
	assert.Equal(t, StatusDisconnected, h.Status())
	assert.False(t, h.IsConnected())

	var seen []Status
	h.OnStatusChange(func(s Status) { seen = append(seen, s) })

	assert.True(t, h.setStatus(StatusConnecting))
	assert.True(t, h.setStatus(StatusConnected))
	assert.True(t, h.IsConnected())

	// Reassigning the current state fires nothing
	assert.False(t, h.setStatus(StatusConnected))

	assert.True(t, h.setStatus(StatusDisconnected))
	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusDisconnected}, seen)
}

func TestHub_MessageHandlers(t *testing.T) {
	h := NewHub()

	var got []string
	id1 := h.OnMessage(func(m *Message) { got = append(got, "a:"+m.ID) })
	h.OnMessage(func(m *Message) { got = append(got, "b:"+m.ID) })

	h.dispatchMessage(&Message{ID: "m1"})
	assert.ElementsMatch(t, []string{"a:m1", "b:m1"}, got)

	got = nil
	h.OffMessage(id1)
	h.dispatchMessage(&Message{ID: "m2"})
	assert.Equal(t, []string{"b:m2"}, got)
}

func TestHub_FromMeHandlers(t *testing.T) {
	h := NewHub()

	var contact, msgID, content string
	id := h.OnFromMe(func(c, m, body string) { contact, msgID, content = c, m, body })

	h.dispatchFromMe("c1", "m1", "hello")
	assert.Equal(t, "c1", contact)
	assert.Equal(t, "m1", msgID)
	assert.Equal(t, "hello", content)

	h.OffFromMe(id)
	h.dispatchFromMe("c2", "m2", "ignored")
	assert.Equal(t, "c1", contact, "removed handler must not fire")
}

func TestHub_OffStatusChange(t *testing.T) {
	h := NewHub()

	calls := 0
	id := h.OnStatusChange(func(Status) { calls++ })
	h.setStatus(StatusConnecting)
	h.OffStatusChange(id)
	h.setStatus(StatusConnected)

	assert.Equal(t, 1, calls)
}

func TestHub_HandlerIDsAreUnique(t *testing.T) {
	h := NewHub()
	ids := map[HandlerID]bool{}
	ids[h.OnMessage(func(*Message) {})] = true
	ids[h.OnFromMe(func(string, string, string) {})] = true
	ids[h.OnStatusChange(func(Status) {})] = true
	assert.Len(t, ids, 3)
}
