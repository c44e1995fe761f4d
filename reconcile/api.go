package reconcile

import (
	"context"

	"github.com/mqy/minichat/chatstore"
)

//go:generate mockgen -destination=mock/mock_api.go -package=mock github.com/mqy/minichat/reconcile IRestClient

// IRestClient is the pull side of the backend.
type IRestClient interface {
	Users(ctx context.Context) ([]chatstore.User, error)
	Groups(ctx context.Context, username string) ([]chatstore.Group, error)

	// LastMessage returns nil if the conversation has no message.
	LastMessage(ctx context.Context, conversationID string) (*chatstore.Preview, error)
}
