package attach

import (
	"testing"

	"mailcore.dev/email"
)

func TestDetachRefusesLastPart(t *testing.T) {
	var arena email.Arena
	c := New(&arena)
	id := arena.New()
	c.Attach(id)

	if err := c.Detach(0); err == nil {
		t.Fatal("Detach of the only part should fail")
	}
}

func TestMoveUpDown(t *testing.T) {
	var arena email.Arena
	c := New(&arena)
	a := c.Attach(arena.New())
	b := c.Attach(arena.New())
	_ = a
	_ = b

	if err := c.MoveDown(0); err != nil {
		t.Fatal(err)
	}
	ids := c.IDs()
	if ids[0] != email.BodyID(1) || ids[1] != email.BodyID(0) {
		t.Errorf("after MoveDown: ids=%v, want [1 0]", ids)
	}
	if err := c.MoveUp(1); err != nil {
		t.Fatal(err)
	}
	ids = c.IDs()
	if ids[0] != email.BodyID(0) || ids[1] != email.BodyID(1) {
		t.Errorf("after MoveUp: ids=%v, want [0 1]", ids)
	}
}

func TestTagAndFilter(t *testing.T) {
	var arena email.Arena
	c := New(&arena)
	c.Attach(arena.New())
	c.Attach(arena.New())
	c.Attach(arena.New())

	if err := c.Tag(1, true); err != nil {
		t.Fatal(err)
	}
	c.Filter(func(it Item) bool { return it.Tagged })
	if c.VisibleLen() != 1 {
		t.Fatalf("VisibleLen()=%d, want 1", c.VisibleLen())
	}
	real, err := c.RealIndex(0)
	if err != nil {
		t.Fatal(err)
	}
	if real != 1 {
		t.Errorf("RealIndex(0)=%d, want 1", real)
	}
}

func TestDetachFreesBody(t *testing.T) {
	var arena email.Arena
	c := New(&arena)
	c.Attach(arena.New())
	id := c.items[0].ID
	c.Attach(arena.New())

	if err := c.Detach(0); err != nil {
		t.Fatal(err)
	}
	if arena.Get(id) != nil {
		t.Error("detached body still reachable from arena")
	}
}
