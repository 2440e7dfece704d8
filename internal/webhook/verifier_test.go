package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"event":"message","session":"acme-1"}`)
	sig := Sign("s3cret", body)

	assert.True(t, Verify("s3cret", sig, body))
	assert.False(t, Verify("s3cret", sig, []byte(`{"event":"tampered"}`)))
	assert.False(t, Verify("other", sig, body))
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	body := []byte("payload")

	assert.False(t, Verify("", Sign("", body), body))
	assert.False(t, Verify("s3cret", "", body))
	assert.False(t, Verify("s3cret", "not-hex!!", body))
}
