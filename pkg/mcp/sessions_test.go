package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("run_abc", "session-abc")
	sid, ok := r.SessionFor("run_abc")
	assert.True(t, ok)
	assert.Equal(t, "session-abc", sid)
}

func TestSessionRegistry_NotFound(t *testing.T) {
	r := NewSessionRegistry()

	_, ok := r.SessionFor("unknown")
	assert.False(t, ok)
}

func TestSessionRegistry_Rebind(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("run_abc", "session-old")
	r.Register("run_abc", "session-new")

	sid, ok := r.SessionFor("run_abc")
	assert.True(t, ok)
	assert.Equal(t, "session-new", sid)
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("run_1", "session-abc")
	r.Register("run_2", "session-abc")
	r.Register("run_3", "session-xyz")

	r.Remove("session-abc")

	_, ok := r.SessionFor("run_1")
	assert.False(t, ok, "run_1 should be removed")

	_, ok = r.SessionFor("run_2")
	assert.False(t, ok, "run_2 should be removed")

	sid, ok := r.SessionFor("run_3")
	assert.True(t, ok, "run_3 should still exist")
	assert.Equal(t, "session-xyz", sid)
}

func TestSessionRegistry_Forget(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("run_1", "session-abc")
	r.Register("run_2", "session-abc")

	r.Forget("run_1")

	_, ok := r.SessionFor("run_1")
	assert.False(t, ok)

	sid, ok := r.SessionFor("run_2")
	assert.True(t, ok)
	assert.Equal(t, "session-abc", sid)
}
