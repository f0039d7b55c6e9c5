package handshake

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultproxy/internal/logger"
	"vaultproxy/pkg/gatewayerrors"
	"vaultproxy/pkg/keystore"
	"vaultproxy/pkg/route"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() logger.Logger {
	return logger.NewLogger(nopWriter{}, logger.ErrorLevel)
}

func mustGenerate(t *testing.T) *keystore.KeyBundle {
	t.Helper()
	kb, err := keystore.Generate()
	require.NoError(t, err)
	return kb
}

func runHandshake(t *testing.T, initiator *Initiator, responder *Responder) *PendingHandshake {
	t.Helper()

	initBytes, state, err := initiator.BuildInit()
	require.NoError(t, err)

	replyBytes, pending, err := responder.HandleInit(initBytes)
	require.NoError(t, err)

	initiatorChannel, err := initiator.ProcessReply(state, initBytes, replyBytes)
	require.NoError(t, err)

	finishFrame, err := initiator.BuildFinish(initiatorChannel)
	require.NoError(t, err)

	require.NoError(t, responder.HandleFinish(pending, finishFrame))
	return pending
}

func TestRoundTripDerivesMatchingSessionKeys(t *testing.T) {
	callerKeys := mustGenerate(t)
	serverKeys := mustGenerate(t)

	peers := []route.AuthorizedPeer{
		{Alias: "caller-a", Name: "Caller A", Keys: callerKeys.Public()},
	}
	responder := NewResponder(serverKeys, peers, testLogger())
	initiator := NewInitiator(callerKeys, serverKeys.Signing.Public)

	initBytes, state, err := initiator.BuildInit()
	require.NoError(t, err)

	replyBytes, pending, err := responder.HandleInit(initBytes)
	require.NoError(t, err)

	initiatorChannel, err := initiator.ProcessReply(state, initBytes, replyBytes)
	require.NoError(t, err)

	finishFrame, err := initiator.BuildFinish(initiatorChannel)
	require.NoError(t, err)
	require.NoError(t, responder.HandleFinish(pending, finishFrame))

	assert.Equal(t, "caller-a", pending.CallerAlias)
	assert.Len(t, pending.SessionID, 32) // hex(HKDF(..., 16 bytes))

	// Encrypt/decrypt symmetry in both directions is only possible if the
	// initiator's derived keys and the responder's are the mirror of each
	// other, so this is the round-trip proof that DeriveKeys agreed.
	plaintext := []byte("hello from initiator")
	frame, err := initiatorChannel.Encrypt(plaintext)
	require.NoError(t, err)
	decrypted, err := pending.Channel.Decrypt(frame)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	reply := []byte("hello from responder")
	respFrame, err := pending.Channel.Encrypt(reply)
	require.NoError(t, err)
	decryptedReply, err := initiatorChannel.Decrypt(respFrame)
	require.NoError(t, err)
	assert.Equal(t, reply, decryptedReply)
}

func TestUnauthorizedInitiatorIsRejected(t *testing.T) {
	strangerKeys := mustGenerate(t)
	serverKeys := mustGenerate(t)

	responder := NewResponder(serverKeys, nil, testLogger())
	initiator := NewInitiator(strangerKeys, serverKeys.Signing.Public)

	initBytes, _, err := initiator.BuildInit()
	require.NoError(t, err)

	_, _, err = responder.HandleInit(initBytes)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatewayerrors.ErrUnauthorized)
	assert.Contains(t, err.Error(), "not authorized")
}

func TestImposterResponderSignatureIsRejected(t *testing.T) {
	callerKeys := mustGenerate(t)
	realServerKeys := mustGenerate(t)
	imposterServerKeys := mustGenerate(t)

	peers := []route.AuthorizedPeer{
		{Alias: "caller-a", Keys: callerKeys.Public()},
	}
	// The imposter runs a real Responder but the initiator pins the real
	// server's signing key, so the imposter's reply must fail verification.
	imposterResponder := NewResponder(imposterServerKeys, peers, testLogger())
	initiator := NewInitiator(callerKeys, realServerKeys.Signing.Public)

	initBytes, state, err := initiator.BuildInit()
	require.NoError(t, err)

	replyBytes, _, err := imposterResponder.HandleInit(initBytes)
	require.NoError(t, err)

	_, err = initiator.ProcessReply(state, initBytes, replyBytes)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatewayerrors.ErrUnauthorized)
	assert.Contains(t, err.Error(), "responder signature invalid")
}

func TestBitFlipInInitSignatureIsRejected(t *testing.T) {
	callerKeys := mustGenerate(t)
	serverKeys := mustGenerate(t)
	peers := []route.AuthorizedPeer{{Alias: "caller-a", Keys: callerKeys.Public()}}
	responder := NewResponder(serverKeys, peers, testLogger())
	initiator := NewInitiator(callerKeys, serverKeys.Signing.Public)

	initBytes, _, err := initiator.BuildInit()
	require.NoError(t, err)

	var init InitMessage
	require.NoError(t, json.Unmarshal(initBytes, &init))
	sig, err := hex.DecodeString(init.Signature)
	require.NoError(t, err)
	sig[0] ^= 0x01
	init.Signature = hex.EncodeToString(sig)
	tampered, err := json.Marshal(init)
	require.NoError(t, err)

	_, _, err = responder.HandleInit(tampered)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatewayerrors.ErrUnauthorized)
}

func TestUnsupportedVersionIsRejected(t *testing.T) {
	callerKeys := mustGenerate(t)
	serverKeys := mustGenerate(t)
	peers := []route.AuthorizedPeer{{Alias: "caller-a", Keys: callerKeys.Public()}}
	responder := NewResponder(serverKeys, peers, testLogger())
	initiator := NewInitiator(callerKeys, serverKeys.Signing.Public)

	initBytes, _, err := initiator.BuildInit()
	require.NoError(t, err)

	var init InitMessage
	require.NoError(t, json.Unmarshal(initBytes, &init))
	init.Version += 99
	bumped, err := json.Marshal(init)
	require.NoError(t, err)

	_, _, err = responder.HandleInit(bumped)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatewayerrors.ErrUnauthorized)
	assert.Contains(t, err.Error(), "unsupported handshake version")
}

func TestTwoIndependentHandshakesProduceDifferentSessionIDs(t *testing.T) {
	callerKeys := mustGenerate(t)
	serverKeys := mustGenerate(t)
	peers := []route.AuthorizedPeer{{Alias: "caller-a", Keys: callerKeys.Public()}}

	responder := NewResponder(serverKeys, peers, testLogger())
	initiator := NewInitiator(callerKeys, serverKeys.Signing.Public)

	pendingOne := runHandshake(t, initiator, responder)
	pendingTwo := runHandshake(t, initiator, responder)

	assert.NotEqual(t, pendingOne.SessionID, pendingTwo.SessionID)
}

func TestResponderAcceptsAnyOfMultipleAuthorizedPeers(t *testing.T) {
	callerA := mustGenerate(t)
	callerB := mustGenerate(t)
	serverKeys := mustGenerate(t)

	peers := []route.AuthorizedPeer{
		{Alias: "caller-a", Keys: callerA.Public()},
		{Alias: "caller-b", Keys: callerB.Public()},
	}
	responder := NewResponder(serverKeys, peers, testLogger())

	for _, tc := range []struct {
		alias string
		keys  *keystore.KeyBundle
	}{
		{"caller-a", callerA},
		{"caller-b", callerB},
	} {
		initiator := NewInitiator(tc.keys, serverKeys.Signing.Public)
		initBytes, _, err := initiator.BuildInit()
		require.NoError(t, err)
		_, pending, err := responder.HandleInit(initBytes)
		require.NoError(t, err)
		assert.Equal(t, tc.alias, pending.CallerAlias)
	}
}
