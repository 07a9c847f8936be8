package gateway

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"paygate/internal/signature"
)

// configGateway mirrors one entry of the gateways YAML document.
type configGateway struct {
	Name                     string   `yaml:"name"`
	Pubkey                   string   `yaml:"pubkey"`
	Secret                   string   `yaml:"secret"`
	ConfirmationsRequired    int      `yaml:"confirmations_required"`
	OrderClass               string   `yaml:"order_class"`
	CheckSignature           bool     `yaml:"check_signature"`
	Active                   bool     `yaml:"active"`
	CallbackURL              string   `yaml:"callback_url"`
	ExchangeRateAdapterNames []string `yaml:"exchange_rate_adapter_names"`
}

type configDocument struct {
	Gateways []configGateway `yaml:"gateways"`
}

// ConfigStore serves gateways loaded from a static YAML document. Ids are
// assigned by position, starting at 1. The only mutable attribute is the
// keychain counter, persisted as one "<name>_last_keychain_id" file per
// gateway under the data directory so it survives restarts.
type ConfigStore struct {
	dataDir      string
	globalSecret string
	logger       *zap.Logger

	gateways []*Gateway
	locks    []sync.Mutex
}

// NewConfigStore parses the YAML document and loads each gateway's persisted
// keychain counter from the data directory.
func NewConfigStore(doc []byte, dataDir, globalSecret string, logger *zap.Logger) (*ConfigStore, error) {
	var parsed configDocument
	if err := yaml.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("parsing gateways config: %w", err)
	}
	if len(parsed.Gateways) == 0 {
		return nil, errors.New("gateways config declares no gateways")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	s := &ConfigStore{
		dataDir:      dataDir,
		globalSecret: globalSecret,
		logger:       logger,
		gateways:     make([]*Gateway, 0, len(parsed.Gateways)),
		locks:        make([]sync.Mutex, len(parsed.Gateways)),
	}

	seen := make(map[string]bool, len(parsed.Gateways))
	for i, cg := range parsed.Gateways {
		if cg.Name == "" {
			return nil, fmt.Errorf("gateway at position %d has no name", i+1)
		}
		if seen[cg.Name] {
			return nil, fmt.Errorf("duplicate gateway name %q", cg.Name)
		}
		seen[cg.Name] = true

		id := uint64(i + 1)
		g := &Gateway{
			ID:                       id,
			HashedID:                 signature.HashedID(globalSecret, id),
			Name:                     cg.Name,
			Pubkey:                   cg.Pubkey,
			Secret:                   cg.Secret,
			ConfirmationsRequired:    cg.ConfirmationsRequired,
			Active:                   cg.Active,
			CallbackURL:              cg.CallbackURL,
			CheckSignature:           cg.CheckSignature,
			OrderClass:               cg.OrderClass,
			ExchangeRateAdapterNames: cg.ExchangeRateAdapterNames,
		}

		last, err := s.readCounterFile(g.Name)
		if err != nil {
			return nil, err
		}
		g.LastKeychainID = last
		s.gateways = append(s.gateways, g)
	}

	logger.Info("config gateways loaded",
		zap.Int("count", len(s.gateways)),
		zap.String("data_dir", dataDir),
	)
	return s, nil
}

// NewConfigStoreFromFile reads the YAML document from disk.
func NewConfigStoreFromFile(path, dataDir, globalSecret string, logger *zap.Logger) (*ConfigStore, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading gateways config: %w", err)
	}
	return NewConfigStore(doc, dataDir, globalSecret, logger)
}

func (s *ConfigStore) counterPath(name string) string {
	return filepath.Join(s.dataDir, name+"_last_keychain_id")
}

func (s *ConfigStore) readCounterFile(name string) (uint64, error) {
	raw, err := os.ReadFile(s.counterPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading keychain counter for %s: %w", name, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("keychain counter file for %s is corrupt: %w", name, err)
	}
	return v, nil
}

func (s *ConfigStore) writeCounterFile(name string, value uint64) error {
	path := s.counterPath(name)
	if err := os.WriteFile(path, []byte(strconv.FormatUint(value, 10)), 0o600); err != nil {
		return fmt.Errorf("persisting keychain counter for %s: %w", name, err)
	}
	return nil
}

// snapshot copies the gateway at index i under its lock, so the returned
// value never races with a concurrent allocation.
func (s *ConfigStore) snapshot(i int) *Gateway {
	s.locks[i].Lock()
	defer s.locks[i].Unlock()
	g := *s.gateways[i]
	return &g
}

// FindByID returns a copy of the gateway; the store keeps ownership of the
// live keychain counter.
func (s *ConfigStore) FindByID(_ context.Context, id uint64) (*Gateway, error) {
	if id == 0 || id > uint64(len(s.gateways)) {
		return nil, ErrNotFound
	}
	return s.snapshot(int(id - 1)), nil
}

// FindByHashedID scans the loaded gateways. Hashed ids are immutable after
// load, so the scan itself needs no lock.
func (s *ConfigStore) FindByHashedID(_ context.Context, hashedID string) (*Gateway, error) {
	for i, g := range s.gateways {
		if g.HashedID == hashedID {
			return s.snapshot(i), nil
		}
	}
	return nil, ErrNotFound
}

// Save persists the gateway's mutable state. For the config backend that is
// the keychain counter only; every other attribute comes from the document.
func (s *ConfigStore) Save(_ context.Context, g *Gateway) error {
	if g.ID == 0 || g.ID > uint64(len(s.gateways)) {
		return ErrNotFound
	}
	lock := &s.locks[g.ID-1]
	lock.Lock()
	defer lock.Unlock()

	owned := s.gateways[g.ID-1]
	if err := s.writeCounterFile(owned.Name, g.LastKeychainID); err != nil {
		return err
	}
	owned.LastKeychainID = g.LastKeychainID
	return nil
}

// AllocateKeychainID implements the read-then-persist sequence under the
// gateway's lock: the current index is returned only after the incremented
// value has reached disk.
func (s *ConfigStore) AllocateKeychainID(_ context.Context, g *Gateway) (uint64, error) {
	if g.ID == 0 || g.ID > uint64(len(s.gateways)) {
		return 0, ErrNotFound
	}
	lock := &s.locks[g.ID-1]
	lock.Lock()
	defer lock.Unlock()

	owned := s.gateways[g.ID-1]
	current := owned.LastKeychainID
	if err := s.writeCounterFile(owned.Name, current+1); err != nil {
		return 0, err
	}
	owned.LastKeychainID = current + 1
	g.LastKeychainID = current + 1
	return current, nil
}
