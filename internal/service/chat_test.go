package service

import (
	"context"
	"errors"
	"testing"

	"github.com/frankchat/tokengate/internal/models"
	"github.com/frankchat/tokengate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLedger struct {
	spendErr  error
	refundErr error
	spends    int
	refunds   int
	balance   int64
}

func (f *fakeLedger) SpendToken(ctx context.Context, wallet string) (*models.WalletAccount, error) {
	f.spends++
	if f.spendErr != nil {
		return nil, f.spendErr
	}
	f.balance--
	return &models.WalletAccount{WalletAddress: wallet, TokensOwned: f.balance}, nil
}

func (f *fakeLedger) RefundToken(ctx context.Context, wallet string) error {
	f.refunds++
	if f.refundErr != nil {
		return f.refundErr
	}
	f.balance++
	return nil
}

type fakeCompleter struct {
	reply string
	err   error
	calls int
	msgs  []models.ChatMessage
}

func (f *fakeCompleter) Complete(ctx context.Context, msgs []models.ChatMessage) (string, error) {
	f.calls++
	f.msgs = msgs
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestRelaySpendsOneTokenPerCompletion(t *testing.T) {
	ledger := &fakeLedger{balance: 5}
	llm := &fakeCompleter{reply: "hello there"}
	svc := NewChatService(ledger, llm, zap.NewNop().Sugar())

	msgs := []models.ChatMessage{{Role: "user", Content: "hi"}}
	reply, err := svc.Relay(context.Background(), "0xabc", msgs)

	require.NoError(t, err)
	assert.Equal(t, "hello there", reply)
	assert.Equal(t, 1, ledger.spends)
	assert.Zero(t, ledger.refunds)
	assert.Equal(t, int64(4), ledger.balance)
	assert.Equal(t, msgs, llm.msgs)
}

func TestRelayInsufficientTokensSkipsUpstream(t *testing.T) {
	ledger := &fakeLedger{spendErr: store.ErrInsufficientTokens}
	llm := &fakeCompleter{reply: "should not be called"}
	svc := NewChatService(ledger, llm, zap.NewNop().Sugar())

	_, err := svc.Relay(context.Background(), "0xabc", []models.ChatMessage{{Role: "user", Content: "hi"}})

	require.ErrorIs(t, err, store.ErrInsufficientTokens)
	assert.Zero(t, llm.calls, "a wallet with no credit must never reach the model backend")
}

func TestRelayRefundsOnUpstreamFailure(t *testing.T) {
	ledger := &fakeLedger{balance: 5}
	llm := &fakeCompleter{err: errors.New("rate limited by provider")}
	svc := NewChatService(ledger, llm, zap.NewNop().Sugar())

	_, err := svc.Relay(context.Background(), "0xabc", []models.ChatMessage{{Role: "user", Content: "hi"}})

	require.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, 1, ledger.refunds)
	assert.Equal(t, int64(5), ledger.balance, "a failed completion must not cost a token")
}

func TestRelayReportsUpstreamErrorEvenIfRefundFails(t *testing.T) {
	ledger := &fakeLedger{balance: 5, refundErr: errors.New("db gone")}
	llm := &fakeCompleter{err: errors.New("model unavailable")}
	svc := NewChatService(ledger, llm, zap.NewNop().Sugar())

	_, err := svc.Relay(context.Background(), "0xabc", []models.ChatMessage{{Role: "user", Content: "hi"}})

	require.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, 1, ledger.refunds)
}
