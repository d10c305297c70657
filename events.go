package smmdbclient

import (
	"github.com/smmdb/smmdb-client/pkg/errors"
)

// command is one unit of work for the event loop. Intent commands carry
// a reply channel so the caller learns synchronously whether the state
// gate accepted the action; completion commands posted by task
// goroutines are fire and forget.
type command struct {
	name  string
	fn    func() error
	reply chan error
}

// loop is the single goroutine that owns all mutable client state. Every
// read and write of that state happens here; task goroutines only touch
// what the loop has explicitly handed them for the duration of one
// dispatched operation.
func (c *Client) loop() {
	defer close(c.loopDone)
	for {
		select {
		case cmd := <-c.commands:
			err := cmd.fn()
			if cmd.reply != nil {
				cmd.reply <- err
			}
		case <-c.done:
			return
		}
	}
}

// do posts an intent to the loop and waits for the gate's verdict.
func (c *Client) do(name string, fn func() error) error {
	cmd := command{name: name, fn: fn, reply: make(chan error, 1)}
	select {
	case c.commands <- cmd:
	case <-c.done:
		return errors.ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return errors.ErrClosed
	}
}

// post delivers a completion event to the loop. Events posted after
// Close are dropped; the operation they belong to is already moot.
func (c *Client) post(name string, fn func()) {
	cmd := command{name: name, fn: func() error { fn(); return nil }}
	select {
	case c.commands <- cmd:
	case <-c.done:
	}
}
