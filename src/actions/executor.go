// Package actions carries out the routing directive chosen for a call.
package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/square-key-labs/strawgo-screener/src/conversation"
	"github.com/square-key-labs/strawgo-screener/src/logger"
	"github.com/square-key-labs/strawgo-screener/src/telephony"
)

// CallController is the telephony side of the executor; *telephony.Client
// satisfies it.
type CallController interface {
	ForwardCall(ctx context.Context, callSID string, target telephony.ForwardTarget) error
	EndCall(ctx context.Context, callSID string) error
}

// ErrNoController is returned when no telephony client is configured.
var ErrNoController = errors.New("actions: call control is not configured")

// Executor maps directives onto call control requests.
type Executor struct {
	controller CallController
	forward    telephony.ForwardTarget
	log        *logger.Logger
}

// NewExecutor returns an Executor. controller may be nil, in which case
// every directive is logged and reported as ErrNoController.
func NewExecutor(controller CallController, forward telephony.ForwardTarget) *Executor {
	return &Executor{
		controller: controller,
		forward:    forward,
		log:        logger.WithPrefix("Actions"),
	}
}

// Execute runs action for callSID. ActionNone is a no-op. Booking has
// already happened during the turn, so ActionBook only ends the call.
func (e *Executor) Execute(ctx context.Context, callSID string, action conversation.Action) error {
	if action == conversation.ActionNone {
		return nil
	}
	if e.controller == nil {
		e.log.Warn("Cannot %s call %s: %v", action, callSID, ErrNoController)
		return ErrNoController
	}

	var err error
	switch action {
	case conversation.ActionForward:
		e.log.Info("Forwarding call %s to %s", callSID, e.forward.Number)
		err = e.controller.ForwardCall(ctx, callSID, e.forward)
	case conversation.ActionEnd, conversation.ActionBook:
		e.log.Info("Ending call %s (%s)", callSID, action)
		err = e.controller.EndCall(ctx, callSID)
	default:
		return fmt.Errorf("actions: unknown action %d", action)
	}
	if err != nil {
		e.log.Error("Failed to %s call %s: %v", action, callSID, err)
		return fmt.Errorf("%s call %s: %w", action, callSID, err)
	}
	return nil
}
