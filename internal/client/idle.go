package client

import (
	"context"
	"fmt"
	"sync"

	"goimapcore/internal/imap"
)

// DoneSignal tells Idle when to send the DONE that ends an IDLE command.
// A nil channel is rejected: IDLE would otherwise block forever with no
// way for the caller to end it, since over TLS the only way to unblock
// the read is to make the server finish.
type DoneSignal <-chan struct{}

// Idle issues IDLE and pumps untagged responses to onUntagged until either
// done fires (causing a DONE to be written) or the server ends IDLE on its
// own. The command's continuation ('+ idling') transitions the engine to
// StateIdle; receiving the tagged OK returns it to StateSelected.
//
// The DONE write happens from a separate goroutine than the one pumping
// responses, since the pump blocks reading for as long as IDLE runs. The
// two never write concurrently: writeDone fires at most once (guarded by
// sync.Once) and only after the server's continuation has acknowledged
// IDLE — a done signal that fires before the '+' arrives is held until it
// does, since DONE is only meaningful once the server is idling.
func (e *Engine) Idle(ctx context.Context, done DoneSignal, onUntagged func(*imap.Line)) error {
	if done == nil {
		return fmt.Errorf("imap: Idle requires a non-nil done signal")
	}
	cmd, err := e.prepare("IDLE", nil)
	if err != nil {
		return err
	}

	var once, ackOnce sync.Once
	var writeErr error
	idleAck := make(chan struct{})
	stopWaiter := make(chan struct{})
	waiterExit := make(chan struct{})

	cmd.OnContinuation = func(ctx context.Context, text string) ([]byte, error) {
		e.setState(StateIdle)
		ackOnce.Do(func() { close(idleAck) })
		return nil, nil
	}
	cmd.OnUntagged = func(line *imap.Line) bool {
		if onUntagged != nil {
			onUntagged(line)
		}
		return true
	}

	if err := e.writeCommand(ctx, cmd); err != nil {
		return err
	}

	go func() {
		defer close(waiterExit)
		select {
		case <-idleAck:
		case <-stopWaiter:
			return
		}
		select {
		case <-done:
			once.Do(func() {
				writeErr = e.writeRaw([]byte("DONE\r\n"))
			})
		case <-stopWaiter:
		}
	}()

	pumpErr := e.pumpUntil(ctx, cmd)
	close(stopWaiter)
	<-waiterExit

	if pumpErr != nil {
		return pumpErr
	}
	if writeErr != nil {
		return writeErr
	}

	if e.State() == StateIdle {
		e.setState(StateSelected)
	}
	return cmd.Err
}
