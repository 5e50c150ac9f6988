package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTx struct {
	pgx.Tx
	committed bool
}

func (t *stubTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *stubTx) Rollback(ctx context.Context) error { return nil }

type stubPool struct {
	opts []pgx.TxOptions
	txs  []*stubTx
}

func (p *stubPool) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	p.opts = append(p.opts, opts)
	tx := &stubTx{}
	p.txs = append(p.txs, tx)
	return tx, nil
}

func (p *stubPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

// A waiter on the FOR UPDATE lock must re-read the committed row; under
// repeatable read Postgres aborts it with 40001 instead.
func TestRepositoryTransactionsAreReadCommitted(t *testing.T) {
	pool := &stubPool{}
	repo := newRepository(pool)

	var got TxRepository
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		got = tx
		return nil
	})
	require.NoError(t, err)
	require.Len(t, pool.opts, 1)
	assert.Equal(t, pgx.ReadCommitted, pool.opts[0].IsoLevel)
	assert.NotNil(t, got)
	assert.True(t, pool.txs[0].committed)
}
