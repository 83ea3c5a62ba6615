// Package mail is the out-of-band delivery collaborator for reset codes.
// Real delivery lives outside this core; the interface is the contract.
package mail

import (
	"context"

	"hearthhub.org/internal/obs"
)

// Sender delivers a password-reset code to a user out-of-band.
type Sender interface {
	SendResetCode(ctx context.Context, email, code string) error
}

// LogSender writes delivery intents to the service log. Development backend;
// it never logs the code itself.
type LogSender struct{}

func (LogSender) SendResetCode(ctx context.Context, email, code string) error {
	obs.Info("reset code issued", map[string]any{
		"email":       email,
		"code_digits": len(code),
	})
	return nil
}
