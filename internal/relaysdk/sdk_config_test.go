package relaysdk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		BaseURL:   "http://localhost:8080",
		Email:     "alice@example.com",
		ReplicaID: "replica-a",
	}
	require.NoError(t, valid.Validate())

	noEmail := valid
	noEmail.Email = ""
	assert.ErrorIs(t, noEmail.Validate(), ErrInvalidEmail)

	badEmail := valid
	badEmail.Email = "not-an-address"
	assert.ErrorIs(t, badEmail.Validate(), ErrInvalidEmail)

	noURL := valid
	noURL.BaseURL = ""
	assert.ErrorIs(t, noURL.Validate(), ErrNoServerURL)

	noReplica := valid
	noReplica.ReplicaID = ""
	assert.ErrorIs(t, noReplica.Validate(), ErrNoReplicaID)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(&Config{BaseURL: "http://localhost:8080"})
	assert.ErrorIs(t, err, ErrInvalidEmail)
}
