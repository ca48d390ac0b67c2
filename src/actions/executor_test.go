package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/square-key-labs/strawgo-screener/src/conversation"
	"github.com/square-key-labs/strawgo-screener/src/telephony"
)

type fakeController struct {
	forwarded []string
	ended     []string
	err       error
}

func (f *fakeController) ForwardCall(_ context.Context, sid string, target telephony.ForwardTarget) error {
	f.forwarded = append(f.forwarded, sid+"->"+target.Number)
	return f.err
}

func (f *fakeController) EndCall(_ context.Context, sid string) error {
	f.ended = append(f.ended, sid)
	return f.err
}

func TestExecuteRoutesDirectives(t *testing.T) {
	ctrl := &fakeController{}
	e := NewExecutor(ctrl, telephony.ForwardTarget{Number: "+15550001111"})
	ctx := context.Background()

	require.NoError(t, e.Execute(ctx, "CA1", conversation.ActionForward))
	require.NoError(t, e.Execute(ctx, "CA2", conversation.ActionEnd))
	require.NoError(t, e.Execute(ctx, "CA3", conversation.ActionBook))
	require.NoError(t, e.Execute(ctx, "CA4", conversation.ActionNone))

	assert.Equal(t, []string{"CA1->+15550001111"}, ctrl.forwarded)
	assert.Equal(t, []string{"CA2", "CA3"}, ctrl.ended)
}

func TestExecuteWrapsControllerError(t *testing.T) {
	boom := errors.New("twilio down")
	e := NewExecutor(&fakeController{err: boom}, telephony.ForwardTarget{Number: "+1"})

	err := e.Execute(context.Background(), "CA1", conversation.ActionEnd)
	assert.ErrorIs(t, err, boom)
}

func TestExecuteWithoutController(t *testing.T) {
	e := NewExecutor(nil, telephony.ForwardTarget{})
	assert.ErrorIs(t, e.Execute(context.Background(), "CA1", conversation.ActionForward), ErrNoController)
	assert.NoError(t, e.Execute(context.Background(), "CA1", conversation.ActionNone))
}
