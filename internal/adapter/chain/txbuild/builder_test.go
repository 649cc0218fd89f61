package txbuild

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/solcron-keeper/internal/domain"
)

// fakeChainRPC scripts the three chain calls the builder makes.
type fakeChainRPC struct {
	blockhashErr error
	simResult    *rpc.SimulateTransactionResult
	simErr       error
	sendSig      solana.Signature
	sendErr      error
}

func (f *fakeChainRPC) LatestBlockhash(context.Context) (solana.Hash, error) {
	if f.blockhashErr != nil {
		return solana.Hash{}, f.blockhashErr
	}
	return solana.Hash{9}, nil
}

func (f *fakeChainRPC) Simulate(context.Context, *solana.Transaction) (*rpc.SimulateTransactionResult, error) {
	return f.simResult, f.simErr
}

func (f *fakeChainRPC) SendAndConfirm(context.Context, *solana.Transaction) (solana.Signature, error) {
	return f.sendSig, f.sendErr
}

func testJob() domain.Job {
	return domain.Job{
		JobID:         42,
		TargetProgram: solana.SystemProgramID.String(),
		TriggerType:   domain.TriggerTime,
		IsActive:      true,
	}
}

func newTestBuilder(t *testing.T, chainRPC ChainRPC) *Builder {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	b, err := New("", key, chainRPC, nil)
	require.NoError(t, err)
	return b
}

func TestNew_InvalidRegistryProgram(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	_, err = New("not-base58!", key, &fakeChainRPC{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestBuildInstruction(t *testing.T) {
	b := newTestBuilder(t, &fakeChainRPC{})

	ix, err := b.BuildInstruction(context.Background(), testJob())
	require.NoError(t, err)

	registry := solana.MustPublicKeyFromBase58(DefaultRegistryProgram)
	assert.Equal(t, registry, ix.ProgramID())

	accounts := ix.Accounts()
	require.Len(t, accounts, 7)

	// Derived PDAs in fixed order, then keeper signer, target, system.
	jobIDBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(jobIDBytes, 42)
	registryState, _, err := solana.FindProgramAddress([][]byte{[]byte("registry")}, registry)
	require.NoError(t, err)
	automationJob, _, err := solana.FindProgramAddress([][]byte{[]byte("job"), jobIDBytes}, registry)
	require.NoError(t, err)

	assert.Equal(t, registryState, accounts[0].PublicKey)
	assert.True(t, accounts[0].IsWritable)
	assert.Equal(t, automationJob, accounts[1].PublicKey)
	assert.Equal(t, b.keeper.PublicKey(), accounts[4].PublicKey)
	assert.True(t, accounts[4].IsSigner)
	assert.Equal(t, solana.SystemProgramID, accounts[5].PublicKey)
	assert.False(t, accounts[5].IsWritable)
	assert.Equal(t, solana.SystemProgramID, accounts[6].PublicKey)

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 16)
	want := sha256.Sum256([]byte("global:execute_job"))
	assert.Equal(t, want[:8], data[:8])
	assert.Equal(t, jobIDBytes, data[8:])
}

func TestBuildInstruction_Deterministic(t *testing.T) {
	b := newTestBuilder(t, &fakeChainRPC{})

	first, err := b.BuildInstruction(context.Background(), testJob())
	require.NoError(t, err)
	second, err := b.BuildInstruction(context.Background(), testJob())
	require.NoError(t, err)

	assert.Equal(t, first.Accounts(), second.Accounts())
	d1, _ := first.Data()
	d2, _ := second.Data()
	assert.Equal(t, d1, d2)
}

func TestBuildInstruction_InvalidTargetProgram(t *testing.T) {
	b := newTestBuilder(t, &fakeChainRPC{})

	j := testJob()
	j.TargetProgram = "garbage"
	_, err := b.BuildInstruction(context.Background(), j)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidJob)
}

func TestPrepare_SignsTransaction(t *testing.T) {
	b := newTestBuilder(t, &fakeChainRPC{})

	prepared, err := b.Prepare(context.Background(), testJob())
	require.NoError(t, err)

	pt, ok := prepared.(*preparedTx)
	require.True(t, ok)
	require.NoError(t, pt.tx.VerifySignatures())
	assert.Equal(t, solana.Hash{9}, pt.tx.Message.RecentBlockhash)
}

func TestPrepare_BlockhashFailure(t *testing.T) {
	b := newTestBuilder(t, &fakeChainRPC{blockhashErr: assert.AnError})

	_, err := b.Prepare(context.Background(), testJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get blockhash")
}

func TestSimulate(t *testing.T) {
	t.Run("clean simulation passes", func(t *testing.T) {
		chainRPC := &fakeChainRPC{simResult: &rpc.SimulateTransactionResult{}}
		b := newTestBuilder(t, chainRPC)
		prepared, err := b.Prepare(context.Background(), testJob())
		require.NoError(t, err)
		require.NoError(t, b.Simulate(context.Background(), prepared))
	})

	t.Run("program rejection wraps ErrTransaction", func(t *testing.T) {
		chainRPC := &fakeChainRPC{simResult: &rpc.SimulateTransactionResult{Err: "InstructionError"}}
		b := newTestBuilder(t, chainRPC)
		prepared, err := b.Prepare(context.Background(), testJob())
		require.NoError(t, err)

		err = b.Simulate(context.Background(), prepared)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTransaction)
		assert.Contains(t, err.Error(), "Simulation failed")
	})

	t.Run("transport failure passes through unwrapped", func(t *testing.T) {
		chainRPC := &fakeChainRPC{simErr: assert.AnError}
		b := newTestBuilder(t, chainRPC)
		prepared, err := b.Prepare(context.Background(), testJob())
		require.NoError(t, err)

		err = b.Simulate(context.Background(), prepared)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrTransaction)
	})
}

func TestSubmit(t *testing.T) {
	sig := solana.Signature{3}
	chainRPC := &fakeChainRPC{sendSig: sig}
	b := newTestBuilder(t, chainRPC)

	prepared, err := b.Prepare(context.Background(), testJob())
	require.NoError(t, err)

	got, err := b.Submit(context.Background(), prepared)
	require.NoError(t, err)
	assert.Equal(t, sig.String(), got)
}

func TestSubmit_RejectsForeignHandle(t *testing.T) {
	b := newTestBuilder(t, &fakeChainRPC{})
	_, err := b.Submit(context.Background(), struct{}{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInternal)
}
