// Package attach implements the attachment context backing the
// compose view: a flat, ordered list of attachment entries over an
// email.Arena, plus a visible-to-real index map for a filtered
// display, grounded on email.Body's Unowned/Content.Unlink ownership
// fields. The context opens no streams itself; callers register the
// streams they open for it (attach-file / attach-message) with
// TrackStream.
package attach

import (
	"fmt"
	"io"

	"mailcore.dev/email"
)

// Item is one entry in the attachment list: the Body it wraps plus
// bookkeeping the compose controller needs but that doesn't belong on
// Body itself.
type Item struct {
	ID BodyID

	// Tagged drives the bulk "tag, then act" operations the compose
	// controller exposes (§3's attachment-context tagged flag
	// lives on Body directly; Tagged here is a separate flag, and Tag
	// sets only this one, not Body.Tagged).
	Tagged bool
}

// BodyID is an alias so callers reading this package don't need to
// import email just to spell the type.
type BodyID = email.BodyID

// Context is the attachment context of §3: a resizable vector of
// attachments over Arena, plus a visible-to-real index map, a list of
// owned open streams, and a list of owned parsed bodies (here: Bodies
// allocated directly in Arena, which already owns them).
type Context struct {
	Arena *email.Arena

	items   []Item
	visible []int // indices into items; rebuilt by Filter

	streams []io.Closer // owned open streams (attach-file sources, etc.)
}

// New returns an empty attachment context over arena.
func New(arena *email.Arena) *Context {
	c := &Context{Arena: arena}
	return c
}

// Len returns the number of attachments (real count, ignoring any
// active filter).
func (c *Context) Len() int { return len(c.items) }

// VisibleLen returns the number of attachments passing the current
// filter.
func (c *Context) VisibleLen() int {
	if c.visible == nil {
		return len(c.items)
	}
	return len(c.visible)
}

// RealIndex translates a visible-list position into the underlying
// real index, for operations (detach, move) that must act on the
// backing list regardless of what filter is active.
func (c *Context) RealIndex(visibleIdx int) (int, error) {
	if c.visible == nil {
		if visibleIdx < 0 || visibleIdx >= len(c.items) {
			return 0, fmt.Errorf("attach: visible index %d out of range", visibleIdx)
		}
		return visibleIdx, nil
	}
	if visibleIdx < 0 || visibleIdx >= len(c.visible) {
		return 0, fmt.Errorf("attach: visible index %d out of range", visibleIdx)
	}
	return c.visible[visibleIdx], nil
}

// Filter rebuilds the visible list to the subset of items for which
// keep returns true. Passing a nil keep clears the filter (every item
// becomes visible again).
func (c *Context) Filter(keep func(Item) bool) {
	if keep == nil {
		c.visible = nil
		return
	}
	c.visible = c.visible[:0]
	for i, it := range c.items {
		if keep(it) {
			c.visible = append(c.visible, i)
		}
	}
}

// Attach appends id to the end of the attachment list and returns its
// real index.
func (c *Context) Attach(id BodyID) int {
	c.items = append(c.items, Item{ID: id})
	return len(c.items) - 1
}

// AttachUnowned appends id and marks its Body Unowned so Abort never
// unlinks a file the user attached from their own filesystem (§4.6's
// attach-file rule).
func (c *Context) AttachUnowned(id BodyID) int {
	if b := c.Arena.Get(id); b != nil {
		b.Unowned = true
	}
	return c.Attach(id)
}

// TrackStream records an owned stream so it can be closed by Close,
// matching the "list of owned
// open streams" §3 names for the attachment context.
func (c *Context) TrackStream(s io.Closer) {
	c.streams = append(c.streams, s)
}

// Detach removes the attachment at real index idx. It refuses to
// remove the last remaining attachment — §4.6's detach rule, "
// refuse if only one part remains" — returning an error instead. The
// underlying Body is freed from Arena.
func (c *Context) Detach(idx int) error {
	if len(c.items) <= 1 {
		return fmt.Errorf("attach: cannot detach the only remaining part")
	}
	if idx < 0 || idx >= len(c.items) {
		return fmt.Errorf("attach: index %d out of range", idx)
	}
	id := c.items[idx].ID
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	c.Arena.Free(id)
	c.visible = nil
	return nil
}

// MoveUp swaps the attachment at idx with its predecessor.
func (c *Context) MoveUp(idx int) error {
	if idx <= 0 || idx >= len(c.items) {
		return fmt.Errorf("attach: cannot move index %d up", idx)
	}
	c.items[idx-1], c.items[idx] = c.items[idx], c.items[idx-1]
	return nil
}

// MoveDown swaps the attachment at idx with its successor.
func (c *Context) MoveDown(idx int) error {
	if idx < 0 || idx >= len(c.items)-1 {
		return fmt.Errorf("attach: cannot move index %d down", idx)
	}
	c.items[idx+1], c.items[idx] = c.items[idx], c.items[idx+1]
	return nil
}

// Tag sets or clears the Tagged bit on the attachment at idx, driving
// the bulk tag-then-act operations the compose controller exposes.
func (c *Context) Tag(idx int, tagged bool) error {
	if idx < 0 || idx >= len(c.items) {
		return fmt.Errorf("attach: index %d out of range", idx)
	}
	c.items[idx].Tagged = tagged
	return nil
}

// Tagged returns the real indices of every tagged attachment.
func (c *Context) Tagged() []int {
	var out []int
	for i, it := range c.items {
		if it.Tagged {
			out = append(out, i)
		}
	}
	return out
}

// At returns the Item at real index idx.
func (c *Context) At(idx int) (Item, error) {
	if idx < 0 || idx >= len(c.items) {
		return Item{}, fmt.Errorf("attach: index %d out of range", idx)
	}
	return c.items[idx], nil
}

// IDs returns every attachment's BodyID in order, the list
// cmd/muttsend appends under the multipart/mixed root of the outgoing
// MIME tree.
func (c *Context) IDs() []BodyID {
	out := make([]BodyID, len(c.items))
	for i, it := range c.items {
		out[i] = it.ID
	}
	return out
}

// Close releases every tracked owned stream. It does not free any
// Arena bodies — those are owned by the Arena itself and released by
// Msg.Close.
func (c *Context) Close() error {
	var firstErr error
	for _, s := range c.streams {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.streams = nil
	return firstErr
}
