// Package invite records pending game invitations and hands rendered
// notifications to an external delivery channel. The core only knows the
// invited identifier; whether a notification becomes an e-mail is the
// Notifier implementation's business.
package invite

import (
	"context"
	"time"

	"github.com/kapu/telepathy-go/internal/msgcat"
	"github.com/kapu/telepathy-go/internal/obslog"
	"go.uber.org/zap"
)

// Notifier is the external notification collaborator boundary.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string) error
}

// LogNotifier is the default adapter: it logs the invitation instead of
// delivering it, which keeps local setups self-contained.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, recipient, subject, body string) error {
	obslog.L().Info("invite_notify",
		zap.String("recipient", recipient),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}

// Service records invitations and emits the notification side effect.
type Service struct {
	store    *Store
	notifier Notifier
	catalog  *msgcat.Catalog
}

func NewService(store *Store, notifier Notifier, catalog *msgcat.Catalog) *Service {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Service{store: store, notifier: notifier, catalog: catalog}
}

// Send stores the pending invitation and notifies the invitee.
func (s *Service) Send(ctx context.Context, inviteeEmail, gameID, senderEmail string) error {
	inv := Invitation{
		GameID:      gameID,
		Invitee:     inviteeEmail,
		SenderEmail: senderEmail,
		CreatedAt:   time.Now(),
	}
	if err := s.store.Record(ctx, inv); err != nil {
		return err
	}

	data := map[string]string{"Sender": senderEmail, "GameID": gameID}
	subject, err := s.catalog.Render("invite.subject", data)
	if err != nil {
		return err
	}
	body, err := s.catalog.Render("invite.body", data)
	if err != nil {
		return err
	}
	return s.notifier.Notify(ctx, inviteeEmail, subject, body)
}

// PendingFor exposes the store lookup for login-time delivery of invites.
func (s *Service) PendingFor(ctx context.Context, email string) ([]Invitation, error) {
	return s.store.PendingFor(ctx, email)
}

// Consume clears an invitation once the invitee joined.
func (s *Service) Consume(ctx context.Context, email, gameID string) error {
	return s.store.Clear(ctx, email, gameID)
}
