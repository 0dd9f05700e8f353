// Package sector provisions sectors and their agent rosters and handles
// balance movements. Deletion is guarded by a confirmation token and refuses
// to act while a discussion is live.
package sector

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sectorlabs/sectorsim/internal/models"
	"github.com/sectorlabs/sectorsim/internal/store"
)

// DefaultWorkerCount is the roster size when a create request leaves it out.
const DefaultWorkerCount = 2

// DefaultWorkerConfidence seeds new workers above the gating threshold so a
// fresh sector can hold its first discussion.
const DefaultWorkerConfidence = 70.0

// Service provisions and mutates sectors.
type Service struct {
	db  *store.Collections
	log zerolog.Logger
}

// NewService creates the sector service.
func NewService(db *store.Collections, log zerolog.Logger) *Service {
	return &Service{
		db:  db,
		log: log.With().Str("component", "sector").Logger(),
	}
}

// CreateInput describes a new sector.
type CreateInput struct {
	Name           string   `json:"name"`
	Ticker         string   `json:"ticker"`
	AllowedSymbols []string `json:"allowedSymbols"`
	InitialBalance string   `json:"initialBalance"`
	BasePrice      float64  `json:"basePrice"`
	Workers        int      `json:"workers"`
}

var workerStyles = []struct {
	risk  string
	style string
}{
	{"conservative", "analytical"},
	{"moderate", "momentum"},
	{"aggressive", "contrarian"},
	{"moderate", "analytical"},
	{"conservative", "momentum"},
}

// Create provisions a sector together with its manager and worker agents.
// The sector record is persisted before its agents so a crash between the
// two writes leaves a sector with an incomplete roster, never orphan agents.
func (s *Service) Create(in CreateInput) (models.Sector, []models.Agent, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Sector{}, nil, models.ValidationErrorf("name", "must not be empty")
	}
	ticker := strings.ToUpper(strings.TrimSpace(in.Ticker))
	if ticker == "" {
		return models.Sector{}, nil, models.ValidationErrorf("ticker", "must not be empty")
	}
	balance := decimal.Zero
	if in.InitialBalance != "" {
		var err error
		balance, err = decimal.NewFromString(in.InitialBalance)
		if err != nil {
			return models.Sector{}, nil, models.ValidationErrorf("initialBalance", "not a decimal number: %v", err)
		}
		if balance.IsNegative() {
			return models.Sector{}, nil, models.ValidationErrorf("initialBalance", "must not be negative")
		}
	}
	if in.BasePrice <= 0 {
		in.BasePrice = 100
	}
	workers := in.Workers
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	if workers > models.MaxWorkersPerSector {
		return models.Sector{}, nil, models.ValidationErrorf("workers", "at most %d workers per sector", models.MaxWorkersPerSector)
	}

	allowed := make([]string, 0, len(in.AllowedSymbols)+1)
	seen := map[string]bool{}
	for _, sym := range append([]string{ticker}, in.AllowedSymbols...) {
		up := strings.ToUpper(strings.TrimSpace(sym))
		if up == "" || seen[up] {
			continue
		}
		seen[up] = true
		allowed = append(allowed, up)
	}

	now := time.Now().UTC()
	sec := models.Sector{
		ID:             uuid.NewString(),
		Name:           name,
		Ticker:         ticker,
		AllowedSymbols: allowed,
		CurrentPrice:   in.BasePrice,
		BaselinePrice:  in.BasePrice,
		Balance:        balance,
		Volume:         decimal.Zero,
		CreatedAt:      now,
	}

	agents := []models.Agent{{
		ID:            uuid.NewString(),
		Name:          name + " Manager",
		Role:          models.RoleManager,
		SectorID:      sec.ID,
		Confidence:    100,
		RiskTolerance: "moderate",
		DecisionStyle: "supervisory",
		CreatedAt:     now,
	}}
	for i := 0; i < workers; i++ {
		profile := workerStyles[i%len(workerStyles)]
		agents = append(agents, models.Agent{
			ID:            uuid.NewString(),
			Name:          name + " Worker " + string(rune('A'+i)),
			Role:          "trader",
			SectorID:      sec.ID,
			Confidence:    DefaultWorkerConfidence,
			RiskTolerance: profile.risk,
			DecisionStyle: profile.style,
			CreatedAt:     now,
		})
	}
	for _, a := range agents {
		sec.AgentIDs = append(sec.AgentIDs, a.ID)
	}

	if err := store.Retry(func() error {
		_, err := s.db.Sectors.AtomicUpdate(func(sectors []models.Sector) ([]models.Sector, error) {
			for _, existing := range sectors {
				if strings.EqualFold(existing.Ticker, ticker) {
					return nil, models.ValidationErrorf("ticker", "%s already in use by sector %s", ticker, existing.ID)
				}
			}
			return append(sectors, sec), nil
		})
		return err
	}); err != nil {
		return models.Sector{}, nil, err
	}
	if err := store.Retry(func() error {
		_, err := s.db.Agents.AtomicUpdate(func(all []models.Agent) ([]models.Agent, error) {
			return append(all, agents...), nil
		})
		return err
	}); err != nil {
		return models.Sector{}, nil, err
	}

	s.log.Info().
		Str("sector_id", sec.ID).
		Str("ticker", ticker).
		Int("workers", workers).
		Msg("Sector provisioned")
	return sec, agents, nil
}

// Deposit credits the sector balance.
func (s *Service) Deposit(sectorID, amount string) (models.Sector, error) {
	amt, err := parsePositiveAmount(amount)
	if err != nil {
		return models.Sector{}, err
	}
	return s.db.UpdateSector(sectorID, func(sec *models.Sector) error {
		sec.Balance = sec.Balance.Add(amt)
		return nil
	})
}

// Withdraw debits the sector balance; overdrafts are refused.
func (s *Service) Withdraw(sectorID, amount string) (models.Sector, error) {
	amt, err := parsePositiveAmount(amount)
	if err != nil {
		return models.Sector{}, err
	}
	return s.db.UpdateSector(sectorID, func(sec *models.Sector) error {
		if sec.Balance.LessThan(amt) {
			return models.ValidationErrorf("amount", "insufficient balance: have %s, want %s",
				sec.Balance.StringFixed(2), amt.StringFixed(2))
		}
		sec.Balance = sec.Balance.Sub(amt)
		return nil
	})
}

// Delete removes a sector and its agents. The caller must echo the sector id
// as the confirmation token; a live discussion blocks deletion. The released
// balance is returned.
func (s *Service) Delete(sectorID, confirm string) (decimal.Decimal, error) {
	if confirm != sectorID {
		return decimal.Zero, models.ValidationErrorf("confirm", "confirmation token must equal the sector id")
	}

	sec, err := s.db.SectorByID(sectorID)
	if err != nil {
		return decimal.Zero, err
	}

	discussions, err := s.db.Discussions.Read()
	if err != nil {
		return decimal.Zero, err
	}
	for _, d := range discussions {
		if d.SectorID == sectorID && !d.Status.IsTerminal() {
			return decimal.Zero, models.StateErrorf("sector %s has active discussion %s; close it before deleting", sectorID, d.ID)
		}
	}

	if err := store.Retry(func() error {
		_, err := s.db.Sectors.AtomicUpdate(func(sectors []models.Sector) ([]models.Sector, error) {
			out := sectors[:0]
			for _, existing := range sectors {
				if existing.ID != sectorID {
					out = append(out, existing)
				}
			}
			return out, nil
		})
		return err
	}); err != nil {
		return decimal.Zero, err
	}
	if err := store.Retry(func() error {
		_, err := s.db.Agents.AtomicUpdate(func(agents []models.Agent) ([]models.Agent, error) {
			out := agents[:0]
			for _, a := range agents {
				if a.SectorID != sectorID {
					out = append(out, a)
				}
			}
			return out, nil
		})
		return err
	}); err != nil {
		return decimal.Zero, err
	}

	s.log.Info().
		Str("sector_id", sectorID).
		Str("released_balance", sec.Balance.String()).
		Msg("Sector deleted")
	return sec.Balance, nil
}

func parsePositiveAmount(amount string) (decimal.Decimal, error) {
	amt, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return decimal.Zero, models.ValidationErrorf("amount", "not a decimal number: %v", err)
	}
	if amt.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, models.ValidationErrorf("amount", "must be positive")
	}
	return amt, nil
}
