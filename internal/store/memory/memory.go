package memory

import (
	"context"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/store"
)

const DefaultOutletID = "main-outlet"

// Store keeps the ledger in process memory. One mutex serializes every unit
// of work, and a failed unit restores the state captured before it started.
type Store struct {
	mu sync.Mutex
	state
}

type state struct {
	products      map[string]domain.Product
	outlets       map[string]domain.OutletSettings
	stock         map[domain.StockKey]domain.StockLevel
	movements     []domain.StockMovement
	transactions  map[string]domain.Transaction
	txOrder       []string
	idempotency   map[string]string
	children      map[string][]string
	payments      map[string]domain.Payment
	paymentsByTx  map[string][]string
	auditLogs     []domain.AuditLog
	shifts        map[string]domain.Shift
	cashMovements []domain.CashMovement
	usersByName   map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{state: state{
		products:     make(map[string]domain.Product),
		outlets:      make(map[string]domain.OutletSettings),
		stock:        make(map[domain.StockKey]domain.StockLevel),
		transactions: make(map[string]domain.Transaction),
		idempotency:  make(map[string]string),
		children:     make(map[string][]string),
		payments:     make(map[string]domain.Payment),
		paymentsByTx: make(map[string][]string),
		shifts:       make(map[string]domain.Shift),
		usersByName:  make(map[string]domain.UserAccount),
	}}
}

// NewSeeded returns a store with one outlet, a small grocery and cafe
// catalogue stocked at 120 units each, and the dev login accounts.
func NewSeeded() *Store {
	s := New()
	s.outlets[DefaultOutletID] = domain.OutletSettings{
		OutletID:          DefaultOutletID,
		TaxRate:           decimal.RequireFromString("0.11"),
		ServiceChargeRate: decimal.Zero,
	}

	products := []domain.Product{
		{ID: "SKU-MIE-01", Name: "Mie Goreng Instan", Category: "grocery", PriceCents: 3500, Active: true, TrackStock: true},
		{ID: "SKU-TELUR-01", Name: "Telur 10 Butir", Category: "grocery", PriceCents: 26500, Active: true, TrackStock: true},
		{ID: "SKU-SUSU-01", Name: "Susu UHT 1L", Category: "dairy", PriceCents: 18900, Active: true, TrackStock: true},
		{ID: "SKU-ROTI-01", Name: "Roti Tawar", Category: "bakery", PriceCents: 17800, Active: true, TrackStock: true},
		{ID: "SKU-GULA-01", Name: "Gula 1kg", Category: "grocery", PriceCents: 17400, Active: true, TrackStock: true},
		{ID: "SKU-AIR-01", Name: "Air Mineral 600ml", Category: "beverage", PriceCents: 3900, Active: true, TrackStock: true},
		{
			ID: "SKU-KOPI-01", Name: "Kopi Susu", Category: "beverage", PriceCents: 18000, Active: true, TrackStock: true,
			Variants: []domain.ProductVariant{
				{ID: "SKU-KOPI-01-R", ProductID: "SKU-KOPI-01", Name: "Regular", Active: true},
				{ID: "SKU-KOPI-01-L", ProductID: "SKU-KOPI-01", Name: "Large", PriceCents: 22000, Active: true},
			},
		},
		{ID: "SVC-BUNGKUS-01", Name: "Biaya Bungkus", Category: "service", PriceCents: 2000, Active: true, TrackStock: false},
		{ID: "SKU-LAMA-01", Name: "Keripik Lama", Category: "snack", PriceCents: 9000, Active: false, TrackStock: true},
	}

	now := time.Now().UTC()
	for _, p := range products {
		s.products[p.ID] = p
		if !p.TrackStock {
			continue
		}
		keys := []domain.StockKey{{OutletID: DefaultOutletID, ProductID: p.ID}}
		if len(p.Variants) > 0 {
			keys = keys[:0]
			for _, v := range p.Variants {
				keys = append(keys, domain.StockKey{OutletID: DefaultOutletID, ProductID: p.ID, VariantID: v.ID})
			}
		}
		for _, k := range keys {
			s.stock[k] = domain.StockLevel{OutletID: k.OutletID, ProductID: k.ProductID, VariantID: k.VariantID, Quantity: 120, LowStockThreshold: 10, UpdatedAt: now}
		}
	}
	s.usersByName = seedUsers()
	return s
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD with a logged warning when
// the hardcoded defaults are used.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"manager", adminPwd, "manager"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) RunInTx(ctx context.Context, fn store.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	snap := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.state = snap
		}
		s.mu.Unlock()
	}()

	if err := fn(ctx, &tx{s: &s.state}); err != nil {
		return err
	}
	committed = true
	return nil
}

// snapshot copies every map and pins every append-only slice to its current
// length. Stored values are never mutated in place, so shallow copies are
// enough to roll back.
func (s *Store) snapshot() state {
	return state{
		products:      maps.Clone(s.products),
		outlets:       maps.Clone(s.outlets),
		stock:         maps.Clone(s.stock),
		movements:     slices.Clip(s.movements),
		transactions:  maps.Clone(s.transactions),
		txOrder:       slices.Clip(s.txOrder),
		idempotency:   maps.Clone(s.idempotency),
		children:      maps.Clone(s.children),
		payments:      maps.Clone(s.payments),
		paymentsByTx:  maps.Clone(s.paymentsByTx),
		auditLogs:     slices.Clip(s.auditLogs),
		shifts:        maps.Clone(s.shifts),
		cashMovements: slices.Clip(s.cashMovements),
		usersByName:   maps.Clone(s.usersByName),
	}
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.transaction(id)
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shift, ok := s.shifts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shift, nil
}

func (s *Store) GetStockLevel(_ context.Context, key domain.StockKey) (*domain.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	level, ok := s.stock[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &level, nil
}

func (s *Store) ListStockMovements(_ context.Context, outletID string, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.StockMovement, 0)
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if m.OutletID != outletID || (productID != "" && m.ProductID != productID) {
			continue
		}
		result = append(result, m)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ListAuditLogs(_ context.Context, outletID string, entityID string, limit int) ([]domain.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.AuditLog, 0)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if outletID != "" && entry.OutletID != outletID {
			continue
		}
		if entityID != "" && entry.EntityID != entityID {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := slices.Collect(maps.Values(s.usersByName))
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.usersByName[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByName[username] = user
	return nil
}

// SetStock overwrites a stock row outside any unit of work. Used for
// seeding and tests.
func (s *Store) SetStock(key domain.StockKey, quantity int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	level := s.stock[key]
	level.OutletID, level.ProductID, level.VariantID = key.OutletID, key.ProductID, key.VariantID
	level.Quantity = quantity
	level.UpdatedAt = time.Now().UTC()
	s.stock[key] = level
}

func (s *Store) UpsertProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product.Variants = slices.Clone(product.Variants)
	s.products[product.ID] = product
}

func (s *Store) SetOutletSettings(settings domain.OutletSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outlets[settings.OutletID] = settings
}

// Payment returns a stored payment by id.
func (s *Store) Payment(id string) (domain.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	return p, ok
}

func (s *Store) MovementCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.movements)
}

func (st *state) transaction(id string) (*domain.Transaction, error) {
	t, ok := st.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	t.Items = slices.Clone(t.Items)
	t.Payments = make([]domain.Payment, 0, len(st.paymentsByTx[id]))
	for _, pid := range st.paymentsByTx[id] {
		p := st.payments[pid]
		p.Payload = maps.Clone(p.Payload)
		t.Payments = append(t.Payments, p)
	}
	return &t, nil
}
