package wallet

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transferTx(t *testing.T, from solana.PublicKey) *solana.Transaction {
	t.Helper()
	to := solana.NewWallet().PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, from, to).Build()},
		solana.Hash{1},
		solana.TransactionPayer(from),
	)
	require.NoError(t, err)
	return tx
}

func TestKeypairSignsWhenConnected(t *testing.T) {
	w := NewKeypair(solana.NewWallet().PrivateKey)
	_, ok := w.PublicKey()
	assert.False(t, ok, "wallet starts disconnected")

	events := w.Subscribe()
	w.Connect()
	ev := <-events
	assert.Equal(t, Connected, ev.Kind)

	pub, ok := w.PublicKey()
	require.True(t, ok)

	tx := transferTx(t, pub)
	signed, err := w.SignTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, signed.Signatures, 1)
	assert.NoError(t, signed.VerifySignatures())
}

func TestKeypairRefusesWhenDisconnected(t *testing.T) {
	w := NewKeypair(solana.NewWallet().PrivateKey)
	w.Connect()
	pub, _ := w.PublicKey()
	w.Disconnect()

	_, err := w.SignTransaction(context.Background(), transferTx(t, pub))
	assert.Error(t, err)
}

func TestKeypairRefusesForeignTransaction(t *testing.T) {
	w := NewKeypair(solana.NewWallet().PrivateKey)
	w.Connect()

	_, err := w.SignTransaction(context.Background(), transferTx(t, solana.NewWallet().PublicKey()))
	assert.Error(t, err)
}

func TestConfirmingRejects(t *testing.T) {
	kp := NewKeypair(solana.NewWallet().PrivateKey)
	kp.Connect()
	pub, _ := kp.PublicKey()

	w := WithApproval(kp, func(context.Context, *solana.Transaction) bool { return false })
	_, err := w.SignTransaction(context.Background(), transferTx(t, pub))
	assert.ErrorIs(t, err, ErrRejected)

	got, ok := w.PublicKey()
	assert.True(t, ok)
	assert.Equal(t, pub, got)
}

func TestConfirmingCancelledIsNotRejection(t *testing.T) {
	kp := NewKeypair(solana.NewWallet().PrivateKey)
	kp.Connect()
	pub, _ := kp.PublicKey()

	ctx, cancel := context.WithCancel(context.Background())
	w := WithApproval(kp, func(context.Context, *solana.Transaction) bool {
		cancel()
		return false
	})
	_, err := w.SignTransaction(ctx, transferTx(t, pub))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestKeypairFromBase58(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	w, err := KeypairFromBase58(key.String())
	require.NoError(t, err)
	w.Connect()
	pub, _ := w.PublicKey()
	assert.Equal(t, key.PublicKey(), pub)

	_, err = KeypairFromBase58("")
	assert.Error(t, err)
}
