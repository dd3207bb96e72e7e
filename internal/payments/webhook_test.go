package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebhookChargeSuccess(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"esc_1","status":"success","amount":102500,"currency":"NGN"}}`)

	out, ok, err := ParseWebhook("whsec", body, Sign("whsec", body))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "esc_1", out.SessionRef)
	assert.Equal(t, OutcomeSuccess, out.Outcome)
	assert.EqualValues(t, 102500, out.Amount)
}

func TestParseWebhookChargeFailed(t *testing.T) {
	body := []byte(`{"event":"charge.failed","data":{"reference":"esc_2","status":"failed"}}`)

	out, ok, err := ParseWebhook("whsec", body, Sign("whsec", body))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, OutcomeFailed, out.Outcome)
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"esc_1"}}`)

	_, _, err := ParseWebhook("whsec", body, Sign("other", body))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, _, err = ParseWebhook("whsec", body, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, _, err = ParseWebhook("", body, Sign("", body))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseWebhookIgnoresOtherEvents(t *testing.T) {
	body := []byte(`{"event":"transfer.success","data":{"reference":"tr_1"}}`)

	out, ok, err := ParseWebhook("whsec", body, Sign("whsec", body))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, out)
}

func TestParseWebhookRequiresReference(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{}}`)

	_, _, err := ParseWebhook("whsec", body, Sign("whsec", body))
	assert.Error(t, err)
}
