package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *recordingTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *recordingTx) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

type recordingBeginner struct {
	opts pgx.TxOptions
	tx   *recordingTx
}

func (b *recordingBeginner) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.opts = opts
	b.tx = &recordingTx{}
	return b.tx, nil
}

func TestWithTxDefaultsToRepeatableRead(t *testing.T) {
	b := &recordingBeginner{}
	require.NoError(t, WithTx(context.Background(), b, func(pgx.Tx) error { return nil }))
	assert.Equal(t, pgx.RepeatableRead, b.opts.IsoLevel)
	assert.True(t, b.tx.committed)
}

func TestWithTxOptionsPassesIsolation(t *testing.T) {
	b := &recordingBeginner{}
	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	require.NoError(t, WithTxOptions(context.Background(), b, opts, func(pgx.Tx) error { return nil }))
	assert.Equal(t, pgx.ReadCommitted, b.opts.IsoLevel)
	assert.True(t, b.tx.committed)
}

func TestWithTxOptionsRollsBackOnError(t *testing.T) {
	b := &recordingBeginner{}
	boom := errors.New("boom")
	err := WithTxOptions(context.Background(), b, pgx.TxOptions{}, func(pgx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, b.tx.committed)
	assert.True(t, b.tx.rolledBack)
}
