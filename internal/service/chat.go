package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/frankchat/tokengate/internal/models"
	"go.uber.org/zap"
)

// ErrUpstream marks a language-model backend failure. The reserved credit has
// already been released when this is returned.
var ErrUpstream = errors.New("language model unavailable")

// Ledger is the slice of the token store the relay needs.
type Ledger interface {
	SpendToken(ctx context.Context, wallet string) (*models.WalletAccount, error)
	RefundToken(ctx context.Context, wallet string) error
}

// Completer produces one completion for a conversation.
type Completer interface {
	Complete(ctx context.Context, msgs []models.ChatMessage) (string, error)
}

// ChatService relays a conversation to the model backend, spending exactly one
// credit per successful completion.
type ChatService struct {
	ledger Ledger
	llm    Completer
	log    *zap.SugaredLogger
}

func NewChatService(ledger Ledger, llm Completer, log *zap.SugaredLogger) *ChatService {
	return &ChatService{ledger: ledger, llm: llm, log: log}
}

// Relay reserves one credit, forwards the conversation, and returns the
// completion. The reservation is taken before the upstream call and released
// if the call fails, so a model outage never costs the user a token and a
// successful completion always costs exactly one.
func (s *ChatService) Relay(ctx context.Context, wallet string, msgs []models.ChatMessage) (string, error) {
	if _, err := s.ledger.SpendToken(ctx, wallet); err != nil {
		return "", err
	}

	reply, err := s.llm.Complete(ctx, msgs)
	if err != nil {
		if refundErr := s.ledger.RefundToken(ctx, wallet); refundErr != nil {
			// The user paid for a completion they never got. Operators
			// need to reconcile this by hand.
			s.log.Errorw("credit refund failed after upstream error",
				"wallet", wallet,
				"refund_error", refundErr,
				"upstream_error", err,
			)
		}
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return reply, nil
}
