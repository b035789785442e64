package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xdg-go/scram"
)

func scramServer(t *testing.T, password string) *scram.ServerConversation {
	t.Helper()
	client, err := SHA256.NewClient("relay", password, "")
	require.NoError(t, err)
	creds := client.GetStoredCredentials(scram.KeyFactors{Salt: "pumprelay-salt", Iters: 4096})

	server, err := SHA256.NewServer(func(string) (scram.StoredCredentials, error) {
		return creds, nil
	})
	require.NoError(t, err)
	return server.NewConversation()
}

func TestXDGSCRAMClientConversation(t *testing.T) {
	server := scramServer(t, "secret")
	x := &XDGSCRAMClient{HashGeneratorFcn: SHA256}
	require.NoError(t, x.Begin("relay", "secret", ""))

	clientFirst, err := x.Step("")
	require.NoError(t, err)
	serverFirst, err := server.Step(clientFirst)
	require.NoError(t, err)
	clientFinal, err := x.Step(serverFirst)
	require.NoError(t, err)
	serverFinal, err := server.Step(clientFinal)
	require.NoError(t, err)
	_, err = x.Step(serverFinal)
	require.NoError(t, err)

	assert.True(t, x.Done())
	assert.True(t, server.Valid())
}

func TestXDGSCRAMClientWrongPassword(t *testing.T) {
	server := scramServer(t, "secret")
	x := &XDGSCRAMClient{HashGeneratorFcn: SHA256}
	require.NoError(t, x.Begin("relay", "wrong", ""))

	clientFirst, err := x.Step("")
	require.NoError(t, err)
	serverFirst, err := server.Step(clientFirst)
	require.NoError(t, err)
	clientFinal, err := x.Step(serverFirst)
	require.NoError(t, err)
	_, err = server.Step(clientFinal)
	assert.Error(t, err)
	assert.False(t, server.Valid())
}
