package client

import (
	"errors"
	"testing"

	"github.com/nullpointer-dev/wasession-go/internal/core"
	"github.com/nullpointer-dev/wasession-go/internal/webhook"
	"github.com/stretchr/testify/assert"
)

func TestAuthFailureEventDistinguishesUnpairedAndDenied(t *testing.T) {
	assert.Equal(t, webhook.EventSessionAuthFailed, authFailureEvent(&core.Error{Kind: core.KindUnpaired}))
	assert.Equal(t, webhook.EventSessionAuthFailed, authFailureEvent(&core.Error{Kind: core.KindDenied}))
	assert.Equal(t, webhook.EventSessionDisconnected, authFailureEvent(&core.Error{Kind: core.KindTransportClosed}))
	assert.Equal(t, webhook.EventSessionDisconnected, authFailureEvent(errors.New("plain error")))
}

func TestFormatPhone(t *testing.T) {
	assert.Equal(t, "15551234567", formatPhone("15551234567"))
	assert.Equal(t, "", formatPhone(nil))
	assert.Equal(t, "", formatPhone(42))
}
