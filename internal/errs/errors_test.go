package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("reading: %w", &TransportError{Remote: "p1", Err: io.EOF})

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "p1", te.Remote)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSignalingFailureUnwrap(t *testing.T) {
	cause := errors.New("bad sdp")
	err := &SignalingFailure{PlayerID: "p2", Step: "answer", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "p2")
	assert.Contains(t, err.Error(), "answer")
}

func TestProtocolErrorMessage(t *testing.T) {
	assert.Equal(t, "protocol error: empty", (&ProtocolError{Code: -1, Reason: "empty"}).Error())
	assert.Equal(t, "protocol error (type=99): unknown type", (&ProtocolError{Code: 99, Reason: "unknown type"}).Error())
}
