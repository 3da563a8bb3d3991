package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/bjyoucef/inaya-project-sub001/internal/stock/events"
	"github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	"github.com/bjyoucef/inaya-project-sub001/pkg/actor"
	"github.com/bjyoucef/inaya-project-sub001/pkg/database"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
	"github.com/bjyoucef/inaya-project-sub001/pkg/httputil"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
	"github.com/bjyoucef/inaya-project-sub001/pkg/messaging"
)

// TransferRequest moves stock of one product between two locations
type TransferRequest struct {
	ProductID      string `json:"product_id" validate:"required"`
	FromLocationID string `json:"from_location_id" validate:"required"`
	ToLocationID   string `json:"to_location_id" validate:"required,nefield=FromLocationID"`
	Quantity       int    `json:"quantity" validate:"gt=0"`
}

// TransferResult reports what was moved, lot by lot
type TransferResult struct {
	TransferID string       `json:"transfer_id"`
	Requested  int          `json:"requested"`
	Moved      int          `json:"moved"`
	Lots       []Allocation `json:"lots"`
}

// TransferService moves stock between locations
type TransferService struct {
	tx        database.Transactor
	allocator *Allocator
	ledger    *Ledger
	publisher *events.StockEventPublisher
	logger    *logger.Logger
}

// NewTransferService creates a new transfer service
func NewTransferService(
	tx database.Transactor,
	allocator *Allocator,
	ledger *Ledger,
	publisher *events.StockEventPublisher,
	log *logger.Logger,
) *TransferService {
	return &TransferService{
		tx:        tx,
		allocator: allocator,
		ledger:    ledger,
		publisher: publisher,
		logger:    log.WithComponent("stock-transfer"),
	}
}

// Transfer consumes FIFO at the source and receives the same lots (number
// and expiry) at the destination, every movement tagged internal_transfer.
// A partial transfer succeeds; a source with no usable stock is rejected.
func (s *TransferService) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := httputil.ValidateCtx(ctx, &req); err != nil {
		return nil, err
	}

	origin := repository.Origin{Kind: repository.OriginInternalTransfer, ID: uuid.NewString()}

	var result *TransferResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		consumed, err := s.allocator.consume(ctx, req.ProductID, req.FromLocationID, req.Quantity, origin)
		if err != nil {
			return err
		}
		if consumed.Allocated == 0 {
			return errors.Validation(map[string]string{
				"quantity": "no usable stock at the source location",
			})
		}

		for _, a := range consumed.Allocations {
			if _, err := s.ledger.receive(ctx, Receipt{
				ProductID:  req.ProductID,
				LocationID: req.ToLocationID,
				Quantity:   a.Quantity,
				ExpiryDate: a.ExpiryDate,
				LotNumber:  a.LotNumber,
				Origin:     origin,
			}); err != nil {
				return err
			}
		}

		result = &TransferResult{
			TransferID: origin.ID,
			Requested:  req.Quantity,
			Moved:      consumed.Allocated,
			Lots:       consumed.Allocations,
		}
		return nil
	})
	if err != nil {
		return nil, database.MapError(err)
	}

	if result.Moved < result.Requested {
		s.logger.WithOrigin(string(origin.Kind), origin.ID).Warn().
			Str("product_id", req.ProductID).
			Str("location_id", req.FromLocationID).
			Int("requested", result.Requested).
			Int("allocated", result.Moved).
			Int("shortfall", result.Requested-result.Moved).
			Msg("transfer partially served")
	}

	s.publisher.PublishTransferred(ctx, messaging.StockTransferredEvent{
		TransferID:     result.TransferID,
		ProductID:      req.ProductID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Requested:      result.Requested,
		Moved:          result.Moved,
		PerformedBy:    actor.IDFromContext(ctx),
	})
	return result, nil
}
