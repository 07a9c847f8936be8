package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound is returned when an order id has no matching row.
var ErrNotFound = errors.New("order not found")

// Repository persists orders in the gateway database. It doubles as the
// order-construction collaborator for the gateway facade: BuildOrder creates
// the row with status new and a fresh UID.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRepository(db *gorm.DB, logger *zap.Logger) (*Repository, error) {
	if err := db.AutoMigrate(&Order{}); err != nil {
		return nil, fmt.Errorf("migrating orders table: %w", err)
	}
	return &Repository{db: db, logger: logger}, nil
}

// BuildOrder creates and persists a new order from the facade's spec.
func (r *Repository) BuildOrder(ctx context.Context, spec Spec) (*Order, error) {
	o := &Order{
		UID:        uuid.NewString(),
		GatewayID:  spec.GatewayID,
		Amount:     spec.Amount,
		Currency:   spec.Currency,
		KeychainID: spec.KeychainID,
		Address:    spec.Address,
		Status:     StatusNew,
		Data:       spec.Data,
	}
	if err := r.db.WithContext(ctx).Create(o).Error; err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}
	r.logger.Info("order created",
		zap.Uint64("order_id", o.ID),
		zap.String("uid", o.UID),
		zap.Uint64("gateway_id", o.GatewayID),
		zap.Uint64("keychain_id", o.KeychainID),
		zap.Int64("amount", o.Amount),
	)
	return o, nil
}

// FindByID loads one order.
func (r *Repository) FindByID(ctx context.Context, id uint64) (*Order, error) {
	var o Order
	err := r.db.WithContext(ctx).First(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading order %d: %w", id, err)
	}
	return &o, nil
}

// UpdateStatus sets the order's status and, when present, the transaction id
// reported alongside it.
func (r *Repository) UpdateStatus(ctx context.Context, o *Order, status Status, tid string) error {
	updates := map[string]any{"status": status}
	if tid != "" {
		updates["tid"] = tid
	}
	if err := r.db.WithContext(ctx).Model(o).Updates(updates).Error; err != nil {
		return fmt.Errorf("updating order %d status: %w", o.ID, err)
	}
	o.Status = status
	if tid != "" {
		o.TID = tid
	}
	return nil
}

// SaveCallbackResponse persists the callback response columns the dispatcher
// recorded on the order.
func (r *Repository) SaveCallbackResponse(ctx context.Context, o *Order) error {
	err := r.db.WithContext(ctx).Model(o).
		Updates(map[string]any{
			"callback_code": o.CallbackCode,
			"callback_body": o.CallbackBody,
		}).Error
	if err != nil {
		return fmt.Errorf("saving callback response for order %d: %w", o.ID, err)
	}
	return nil
}
