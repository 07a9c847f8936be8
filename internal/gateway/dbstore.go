package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"paygate/internal/secrets"
	"paygate/internal/signature"
)

// gatewayRecord is the database row behind a gateway. The secret column holds
// ciphertext; the adapter-name list serializes as JSON.
type gatewayRecord struct {
	ID                       uint64         `gorm:"primaryKey"`
	HashedID                 string         `gorm:"column:hashed_id;uniqueIndex;size:64"`
	Name                     string         `gorm:"uniqueIndex;size:255"`
	Pubkey                   string         `gorm:"size:255"`
	Secret                   string         `gorm:"size:512"`
	LastKeychainID           uint64         `gorm:"column:last_keychain_id"`
	ConfirmationsRequired    int
	Active                   bool
	CheckSignature           bool
	OrderClass               string         `gorm:"size:255"`
	CallbackURL              string         `gorm:"column:callback_url;size:512"`
	ExchangeRateAdapterNames datatypes.JSON `gorm:"column:exchange_rate_adapter_names"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (gatewayRecord) TableName() string { return "gateways" }

// DBStore persists gateways as one row each. It composes the secret cipher
// for at-rest encryption and serializes keychain allocations per gateway.
type DBStore struct {
	db           *gorm.DB
	cipher       *secrets.Cipher
	globalSecret string
	logger       *zap.Logger

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

func NewDBStore(db *gorm.DB, cipher *secrets.Cipher, globalSecret string, logger *zap.Logger) (*DBStore, error) {
	if err := db.AutoMigrate(&gatewayRecord{}); err != nil {
		return nil, fmt.Errorf("migrating gateways table: %w", err)
	}
	return &DBStore{
		db:           db,
		cipher:       cipher,
		globalSecret: globalSecret,
		logger:       logger,
		locks:        make(map[uint64]*sync.Mutex),
	}, nil
}

func (s *DBStore) lockFor(id uint64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *DBStore) toRecord(g *Gateway) (*gatewayRecord, error) {
	encrypted, err := s.cipher.Encrypt(g.Secret)
	if err != nil {
		return nil, fmt.Errorf("encrypting gateway secret: %w", err)
	}
	names, err := json.Marshal(g.ExchangeRateAdapterNames)
	if err != nil {
		return nil, fmt.Errorf("encoding adapter names: %w", err)
	}
	return &gatewayRecord{
		ID:                       g.ID,
		HashedID:                 g.HashedID,
		Name:                     g.Name,
		Pubkey:                   g.Pubkey,
		Secret:                   encrypted,
		LastKeychainID:           g.LastKeychainID,
		ConfirmationsRequired:    g.ConfirmationsRequired,
		Active:                   g.Active,
		CheckSignature:           g.CheckSignature,
		OrderClass:               g.OrderClass,
		CallbackURL:              g.CallbackURL,
		ExchangeRateAdapterNames: datatypes.JSON(names),
	}, nil
}

func (s *DBStore) fromRecord(rec *gatewayRecord) (*Gateway, error) {
	secret, err := s.cipher.Decrypt(rec.Secret)
	if err != nil {
		return nil, fmt.Errorf("decrypting secret for gateway %d: %w", rec.ID, err)
	}
	var names []string
	if len(rec.ExchangeRateAdapterNames) > 0 {
		if err := json.Unmarshal(rec.ExchangeRateAdapterNames, &names); err != nil {
			return nil, fmt.Errorf("decoding adapter names for gateway %d: %w", rec.ID, err)
		}
	}
	return &Gateway{
		ID:                       rec.ID,
		HashedID:                 rec.HashedID,
		Name:                     rec.Name,
		Pubkey:                   rec.Pubkey,
		Secret:                   secret,
		LastKeychainID:           rec.LastKeychainID,
		ConfirmationsRequired:    rec.ConfirmationsRequired,
		Active:                   rec.Active,
		CheckSignature:           rec.CheckSignature,
		OrderClass:               rec.OrderClass,
		CallbackURL:              rec.CallbackURL,
		ExchangeRateAdapterNames: names,
	}, nil
}

// Save inserts or updates the row. First save assigns the id and the derived
// hashed id before the row is finalized.
func (s *DBStore) Save(ctx context.Context, g *Gateway) error {
	rec, err := s.toRecord(g)
	if err != nil {
		return err
	}

	if g.ID == 0 {
		if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
			return fmt.Errorf("inserting gateway: %w", err)
		}
		g.ID = rec.ID
		g.HashedID = signature.HashedID(s.globalSecret, g.ID)
		err := s.db.WithContext(ctx).Model(rec).
			Update("hashed_id", g.HashedID).Error
		if err != nil {
			return fmt.Errorf("assigning hashed id: %w", err)
		}
		s.logger.Info("gateway created",
			zap.Uint64("gateway_id", g.ID),
			zap.String("name", g.Name),
		)
		return nil
	}

	// Full-row update minus the creation timestamp, which only the insert
	// path owns.
	err = s.db.WithContext(ctx).Model(&gatewayRecord{ID: g.ID}).
		Select("*").Omit("id", "created_at").
		Updates(rec).Error
	if err != nil {
		return fmt.Errorf("updating gateway %d: %w", g.ID, err)
	}
	return nil
}

func (s *DBStore) FindByID(ctx context.Context, id uint64) (*Gateway, error) {
	var rec gatewayRecord
	err := s.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading gateway %d: %w", id, err)
	}
	return s.fromRecord(&rec)
}

// FindByHashedID uses the indexed hashed_id column.
func (s *DBStore) FindByHashedID(ctx context.Context, hashedID string) (*Gateway, error) {
	var rec gatewayRecord
	err := s.db.WithContext(ctx).Where("hashed_id = ?", hashedID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading gateway by hashed id: %w", err)
	}
	return s.fromRecord(&rec)
}

// AllocateKeychainID reads the current index from the row and persists the
// incremented value inside one transaction, serialized per gateway.
func (s *DBStore) AllocateKeychainID(ctx context.Context, g *Gateway) (uint64, error) {
	lock := s.lockFor(g.ID)
	lock.Lock()
	defer lock.Unlock()

	var current uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec gatewayRecord
		if err := tx.First(&rec, g.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		current = rec.LastKeychainID
		return tx.Model(&gatewayRecord{}).
			Where("id = ?", g.ID).
			Update("last_keychain_id", current+1).Error
	})
	if err != nil {
		return 0, fmt.Errorf("allocating keychain id for gateway %d: %w", g.ID, err)
	}
	g.LastKeychainID = current + 1
	return current, nil
}
