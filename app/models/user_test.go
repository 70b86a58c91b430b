package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	u, err := CreateUser("artist", "artist@example.com", "secret123")
	require.NoError(t, err)

	assert.Equal(t, ROLE_USER, u.Role)
	assert.Equal(t, STATUS_INACTIVE, u.Status)
	assert.True(t, u.CheckPassword("secret123"))
	assert.False(t, u.CheckPassword("wrong"))
}

func TestCreateUserValidation(t *testing.T) {
	_, err := CreateUser("ab", "artist@example.com", "secret123")
	assert.Error(t, err, "too short username must fail validation")

	_, err = CreateUser("artist", "not-an-email", "secret123")
	assert.Error(t, err)
}

func TestMagicLinkToken(t *testing.T) {
	u := &User{}
	assert.False(t, u.IsMagicLinkTokenValid("anything"))

	require.NoError(t, u.GenerateMagicLinkToken())
	require.NotEmpty(t, u.MagicLinkToken)
	require.NotNil(t, u.MagicLinkSentAt)

	assert.True(t, u.IsMagicLinkTokenValid(u.MagicLinkToken))
	assert.False(t, u.IsMagicLinkTokenValid("other-token"))

	expired := time.Now().Add(-25 * time.Hour)
	u.MagicLinkSentAt = &expired
	assert.False(t, u.IsMagicLinkTokenValid(u.MagicLinkToken), "token past 24h window must be invalid")
}

func TestHasBillingCustomer(t *testing.T) {
	u := &User{}
	assert.False(t, u.HasBillingCustomer())

	empty := ""
	u.BillingCustomerID = &empty
	assert.False(t, u.HasBillingCustomer())

	cus := "cus_123"
	u.BillingCustomerID = &cus
	assert.True(t, u.HasBillingCustomer())
}
