package verification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/one-account/one-account-api/internal/db/models"
)

func TestRegistry(t *testing.T) {
	store := newMemFactors()
	ga := NewGoogleAuthenticator(store, testSealer(t), GoogleAuthenticatorConfig{Issuer: "x"})
	email := NewEmailChannel(store, testSealer(t), &recordingSink{}, "x", time.Minute)

	r, err := NewRegistryFromConfig([]string{"email_channel", "google_authenticator"}, ga, email)
	require.NoError(t, err)
	assert.Equal(t, []models.VerificationMethod{models.MethodEmailChannel, models.MethodGoogleAuthenticator}, r.Methods())

	_, ok := r.App(models.MethodGoogleAuthenticator)
	assert.True(t, ok)
	_, ok = r.App(models.MethodEmailChannel)
	assert.False(t, ok)
	_, ok = r.Delivery(models.MethodEmailChannel)
	assert.True(t, ok)
	assert.False(t, r.Has("sms_channel"))

	_, err = NewRegistryFromConfig([]string{"sms_channel"}, ga, email)
	assert.Error(t, err)

	_, err = NewRegistry(ga, ga)
	assert.Error(t, err)
}
