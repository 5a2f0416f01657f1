package store

import (
	"context"
	stderrors "errors"

	"github.com/yanun0323/errors"
)

var _ Authenticator = (*UserAuthenticator)(nil)

// UserAuthenticator resolves a presented user id against the user store.
// The surrounding platform hands the websocket client its own id after login;
// this check only confirms the account exists before a session is bound.
type UserAuthenticator struct {
	users UserStore
}

func NewUserAuthenticator(users UserStore) *UserAuthenticator {
	return &UserAuthenticator{users: users}
}

func (a *UserAuthenticator) Resolve(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		return "", ErrUnknownUser
	}

	user, err := a.users.User(ctx, credential)
	if err != nil {
		if stderrors.Is(err, ErrNotFound) {
			return "", ErrUnknownUser
		}
		return "", errors.Wrap(err, "resolve user")
	}
	return user.ID, nil
}
