// Package txbuild turns jobs into signed execute_job transactions for
// the registry program and drives their simulation and submission.
package txbuild

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/fairyhunter13/solcron-keeper/internal/domain"
)

// DefaultRegistryProgram is the registry program this keeper targets.
const DefaultRegistryProgram = "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS"

// ChainRPC is the slice of the RPC manager the builder uses.
type ChainRPC interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	Simulate(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResult, error)
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// ExecutionCounter supplies the execution_count seed for the
// execution_record PDA. The real value lives in
// registry_state.total_executions; ZeroCounter stands in until an
// on-chain reader is wired.
type ExecutionCounter interface {
	Next(ctx context.Context, j domain.Job) (uint64, error)
}

// ZeroCounter always returns zero, matching the off-chain placeholder
// derivation.
type ZeroCounter struct{}

// Next implements ExecutionCounter.
func (ZeroCounter) Next(context.Context, domain.Job) (uint64, error) { return 0, nil }

// Builder implements domain.TxEngine.
type Builder struct {
	registry solana.PublicKey
	keeper   solana.PrivateKey
	rpc      ChainRPC
	counter  ExecutionCounter
}

// New constructs a Builder. An empty registryProgram selects the
// default registry.
func New(registryProgram string, keeper solana.PrivateKey, chainRPC ChainRPC, counter ExecutionCounter) (*Builder, error) {
	if registryProgram == "" {
		registryProgram = DefaultRegistryProgram
	}
	registry, err := solana.PublicKeyFromBase58(registryProgram)
	if err != nil {
		return nil, fmt.Errorf("op=txbuild.new: %w: invalid registry program id: %w", domain.ErrConfig, err)
	}
	if counter == nil {
		counter = ZeroCounter{}
	}
	return &Builder{registry: registry, keeper: keeper, rpc: chainRPC, counter: counter}, nil
}

// KeeperAddress returns the signing key's public address.
func (b *Builder) KeeperAddress() string { return b.keeper.PublicKey().String() }

// preparedTx is the opaque handle flowing through Simulate and Submit.
type preparedTx struct {
	tx *solana.Transaction
}

// executeJobDiscriminator derives the 8-byte Anchor instruction
// discriminator for execute_job.
func executeJobDiscriminator() []byte {
	sum := sha256.Sum256([]byte("global:execute_job"))
	return sum[:8]
}

// BuildInstruction derives the registry PDAs and assembles the
// execute_job instruction for one job.
func (b *Builder) BuildInstruction(ctx context.Context, j domain.Job) (solana.Instruction, error) {
	targetProgram, err := solana.PublicKeyFromBase58(j.TargetProgram)
	if err != nil {
		return nil, fmt.Errorf("op=txbuild.instruction: %w: invalid target program: %w", domain.ErrInvalidJob, err)
	}

	jobIDBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(jobIDBytes, j.JobID)

	registryState, _, err := solana.FindProgramAddress([][]byte{[]byte("registry")}, b.registry)
	if err != nil {
		return nil, fmt.Errorf("op=txbuild.instruction: %w: registry pda: %w", domain.ErrChainClient, err)
	}
	automationJob, _, err := solana.FindProgramAddress([][]byte{[]byte("job"), jobIDBytes}, b.registry)
	if err != nil {
		return nil, fmt.Errorf("op=txbuild.instruction: %w: job pda: %w", domain.ErrChainClient, err)
	}
	keeperKey := b.keeper.PublicKey()
	keeperAccount, _, err := solana.FindProgramAddress([][]byte{[]byte("keeper"), keeperKey.Bytes()}, b.registry)
	if err != nil {
		return nil, fmt.Errorf("op=txbuild.instruction: %w: keeper pda: %w", domain.ErrChainClient, err)
	}

	count, err := b.counter.Next(ctx, j)
	if err != nil {
		return nil, fmt.Errorf("op=txbuild.instruction: %w: execution counter: %w", domain.ErrChainClient, err)
	}
	countBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(countBytes, count)
	executionRecord, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("execution"), jobIDBytes, countBytes}, b.registry)
	if err != nil {
		return nil, fmt.Errorf("op=txbuild.instruction: %w: execution pda: %w", domain.ErrChainClient, err)
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(registryState, true, false),
		solana.NewAccountMeta(automationJob, true, false),
		solana.NewAccountMeta(keeperAccount, true, false),
		solana.NewAccountMeta(executionRecord, true, false),
		solana.NewAccountMeta(keeperKey, true, true),
		solana.NewAccountMeta(targetProgram, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}

	data := append(executeJobDiscriminator(), jobIDBytes...)
	return solana.NewInstruction(b.registry, accounts, data), nil
}

// Prepare builds, fetches a fresh blockhash for, and signs the
// execute_job transaction for a job.
func (b *Builder) Prepare(ctx context.Context, j domain.Job) (domain.PreparedTx, error) {
	ix, err := b.BuildInstruction(ctx, j)
	if err != nil {
		return nil, fmt.Errorf("failed to build instruction: %w", err)
	}

	blockhash, err := b.rpc.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		blockhash,
		solana.TransactionPayer(b.keeper.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("op=txbuild.prepare: %w: %w", domain.ErrTransaction, err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(b.keeper.PublicKey()) {
			return &b.keeper
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("op=txbuild.prepare: %w: sign: %w", domain.ErrTransaction, err)
	}
	return &preparedTx{tx: tx}, nil
}

// Simulate dry-runs a prepared transaction. A program rejection comes
// back wrapping domain.ErrTransaction; a failure of the simulate call
// itself comes back as the underlying RPC error.
func (b *Builder) Simulate(ctx context.Context, tx domain.PreparedTx) error {
	pt, ok := tx.(*preparedTx)
	if !ok {
		return fmt.Errorf("op=txbuild.simulate: %w: unexpected transaction handle %T", domain.ErrInternal, tx)
	}
	res, err := b.rpc.Simulate(ctx, pt.tx)
	if err != nil {
		return err
	}
	if res != nil && res.Err != nil {
		return fmt.Errorf("Simulation failed: %v: %w", res.Err, domain.ErrTransaction)
	}
	return nil
}

// Submit sends a prepared transaction and waits for confirmation.
func (b *Builder) Submit(ctx context.Context, tx domain.PreparedTx) (string, error) {
	pt, ok := tx.(*preparedTx)
	if !ok {
		return "", fmt.Errorf("op=txbuild.submit: %w: unexpected transaction handle %T", domain.ErrInternal, tx)
	}
	sig, err := b.rpc.SendAndConfirm(ctx, pt.tx)
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}
