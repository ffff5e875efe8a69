package eventhub

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Interrupt(t *testing.T) {
	c := Classify(context.Canceled, 0, 3)
	require.True(t, c.Interrupt)
	require.False(t, c.Retry)
	require.Nil(t, c.Err)

	c = Classify(fmt.Errorf("wait: %w", context.Canceled), 0, 3)
	require.True(t, c.Interrupt)
}

func TestClassify_DataErrorsNeverRetried(t *testing.T) {
	kinds := []ErrorKind{
		KindMessageAccepted,
		KindMessageAlreadySettled,
		KindMessageModified,
		KindMessageRejected,
		KindMessageReleased,
		KindMessageTooLarge,
	}
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			cause := &TransportError{Kind: kind, Description: "broker said no"}
			c := Classify(cause, 0, 10)

			require.False(t, c.Retry)
			require.NotNil(t, c.Err)
			require.ErrorIs(t, c.Err, ErrEventData)
			require.ErrorIs(t, c.Err, cause)
		})
	}
}

func TestClassify_MessageErrorIsSendError(t *testing.T) {
	cause := &TransportError{Kind: KindMessage, Description: "message failed"}
	c := Classify(cause, 0, 10)

	require.False(t, c.Retry)
	require.ErrorIs(t, c.Err, ErrEventDataSend)
	require.NotErrorIs(t, c.Err, ErrEventData)
	require.ErrorIs(t, c.Err, cause)
}

func TestClassify_Exhausted(t *testing.T) {
	plain := errors.New("something odd")
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"authentication", &TransportError{Kind: KindAuthentication}, ErrAuthentication},
		{"link detach", &TransportError{Kind: KindLinkDetach}, ErrConnectionLost},
		{"connection close", &TransportError{Kind: KindConnectionClose}, ErrConnectionLost},
		{"handler", &TransportError{Kind: KindHandler}, ErrConnectionLost},
		{"timeout", &TransportError{Kind: KindTimeout}, ErrConnectionLost},
		{"connection", &TransportError{Kind: KindConnection, Description: "socket reset"}, ErrConnect},
		{
			"connection opening auth session",
			&TransportError{Kind: KindConnection, Description: "Unable to open authentication session on connection"},
			ErrAuthentication,
		},
		{"redirect", &TransportError{Kind: KindLinkRedirect, Redirect: &Redirect{Address: "amqps://other/hub"}}, ErrEventHub},
		{"unknown kind", &TransportError{Kind: KindUnknown}, ErrEventHub},
		{"not a transport error", plain, ErrEventHub},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err, 2, 2)
			require.False(t, c.Retry)
			require.NotNil(t, c.Err)
			require.ErrorIs(t, c.Err, tt.expected)
			require.ErrorIs(t, c.Err, tt.err)
		})
	}
}

func TestClassify_Remediation(t *testing.T) {
	redirect := &Redirect{Address: "amqps://other.servicebus.windows.net/hub", Hostname: "other.servicebus.windows.net"}
	tests := []struct {
		name     string
		err      error
		expected Remediation
	}{
		{"authentication", &TransportError{Kind: KindAuthentication}, RemediateCloseConnection},
		{"redirect", &TransportError{Kind: KindLinkRedirect, Redirect: redirect}, RemediateRedirect},
		{"redirect without target", &TransportError{Kind: KindLinkRedirect}, RemediateCloseConnection},
		{"link detach", &TransportError{Kind: KindLinkDetach}, RemediateCloseLink},
		{"connection close", &TransportError{Kind: KindConnectionClose}, RemediateCloseConnection},
		{"handler", &TransportError{Kind: KindHandler}, RemediateCloseConnection},
		{"connection", &TransportError{Kind: KindConnection}, RemediateCloseConnection},
		{"timeout", &TransportError{Kind: KindTimeout}, RemediateNone},
		{"unknown", errors.New("boom"), RemediateCloseConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err, 0, 3)
			require.True(t, c.Retry)
			require.Nil(t, c.Err)
			assert.Equal(t, tt.expected, c.Remediation)
		})
	}

	c := Classify(&TransportError{Kind: KindLinkRedirect, Redirect: redirect}, 1, 3)
	require.Same(t, redirect, c.Redirect)
}

func TestClassify_WrappedTransportError(t *testing.T) {
	cause := fmt.Errorf("send: %w", &TransportError{Kind: KindLinkDetach})
	c := Classify(cause, 0, 1)
	require.Equal(t, KindLinkDetach, c.Kind)
	require.Equal(t, RemediateCloseLink, c.Remediation)
}

func TestErrorKind_String(t *testing.T) {
	require.Equal(t, "link_detach", KindLinkDetach.String())
	require.Equal(t, "unknown", ErrorKind(999).String())
	require.True(t, KindMessageTooLarge.IsDisposition())
	require.False(t, KindMessage.IsDisposition())
	require.False(t, KindTimeout.IsDisposition())
}

func TestError_Unwrap(t *testing.T) {
	cause := &TransportError{Kind: KindTimeout, Err: context.DeadlineExceeded}
	err := newError(ErrConnectionLost, cause.Error(), cause)

	require.ErrorIs(t, err, ErrConnectionLost)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, KindTimeout, te.Kind)

	require.Equal(t, "producer closed", newError(ErrProducerClosed, "", nil).Error())
}
