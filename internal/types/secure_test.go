package types

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretString_Redaction(t *testing.T) {
	secret := SecretString("postgres://user:hunter2@db/ledger")

	assert.Equal(t, "***REDACTED***", secret.String())
	assert.Equal(t, "***REDACTED***", fmt.Sprintf("%v", secret))
	assert.Equal(t, "***REDACTED***", fmt.Sprintf("%s", secret))
	assert.Equal(t, "postgres://user:hunter2@db/ledger", secret.Unmask())
}

func TestSecretString_JSONMarshal(t *testing.T) {
	payload := struct {
		URL SecretString `json:"url"`
	}{URL: "postgres://user:hunter2@db/ledger"}

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"***REDACTED***"}`, string(data))
	assert.NotContains(t, string(data), "hunter2")
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithRequestID(ctx, "req-42")
	assert.Equal(t, "req-42", GetRequestID(ctx))
}
