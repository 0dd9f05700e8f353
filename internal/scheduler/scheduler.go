// Package scheduler drives the per-sector simulation loop: price ticks,
// manager polls, confidence propagation, and discussion bootstrap. Each
// sector runs one independent task; a failing sector never takes down the
// others.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sectorlabs/sectorsim/internal/discussion"
	"github.com/sectorlabs/sectorsim/internal/manager"
	"github.com/sectorlabs/sectorsim/internal/metrics"
	"github.com/sectorlabs/sectorsim/internal/models"
	"github.com/sectorlabs/sectorsim/internal/pricesim"
	"github.com/sectorlabs/sectorsim/internal/store"
)

// DefaultTickInterval is the per-sector simulation cadence.
const DefaultTickInterval = time.Second

// Scheduler owns one simulation task per sector.
type Scheduler struct {
	db          *store.Collections
	sim         *pricesim.Simulator
	discussions *discussion.Engine
	manager     *manager.Engine
	log         zerolog.Logger

	TickInterval time.Duration
	Rounds       int

	mu      sync.Mutex
	paused  bool
	cancels map[string]context.CancelFunc
	dones   map[string]chan struct{}
	failed  map[string]error
}

// New creates a scheduler over the shared engines.
func New(db *store.Collections, sim *pricesim.Simulator, discussions *discussion.Engine, mgr *manager.Engine, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		db:           db,
		sim:          sim,
		discussions:  discussions,
		manager:      mgr,
		log:          log.With().Str("component", "scheduler").Logger(),
		TickInterval: DefaultTickInterval,
		Rounds:       discussion.DefaultRounds,
		cancels:      make(map[string]context.CancelFunc),
		dones:        make(map[string]chan struct{}),
		failed:       make(map[string]error),
	}
}

// SetPaused flips the global pause flag; paused sectors skip their ticks.
func (s *Scheduler) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
	s.log.Info().Bool("paused", paused).Msg("Scheduler pause flag changed")
}

// Paused reports the global pause flag.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Run spawns one loop per existing sector and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	sectors, err := s.db.Sectors.Read()
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, sector := range sectors {
		s.spawn(ctx, g, sector.ID)
	}
	return g.Wait()
}

func (s *Scheduler) spawn(ctx context.Context, g *errgroup.Group, sectorID string) {
	sectorCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancels[sectorID] = cancel
	s.dones[sectorID] = done
	s.mu.Unlock()
	g.Go(func() error {
		defer close(done)
		s.runSector(sectorCtx, sectorID)
		return nil // a failed sector never cancels the group
	})
}

// AddSector starts a loop for a sector created at runtime.
func (s *Scheduler) AddSector(ctx context.Context, sectorID string) {
	sectorCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancels[sectorID] = cancel
	s.dones[sectorID] = done
	s.mu.Unlock()
	go func() {
		defer close(done)
		s.runSector(sectorCtx, sectorID)
	}()
}

// CancelSector stops all tasks bound to a sector and blocks until the loop
// has exited, so an in-flight tick finishes its writes before the caller
// proceeds with deletion.
func (s *Scheduler) CancelSector(sectorID string) {
	s.mu.Lock()
	cancel := s.cancels[sectorID]
	done := s.dones[sectorID]
	delete(s.cancels, sectorID)
	delete(s.dones, sectorID)
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// FailedSectors returns the sectors whose loops died on persistent storage
// failure.
func (s *Scheduler) FailedSectors() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]error, len(s.failed))
	for k, v := range s.failed {
		out[k] = v
	}
	return out
}

func (s *Scheduler) runSector(ctx context.Context, sectorID string) {
	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()

	log := s.log.With().Str("sector_id", sectorID).Logger()
	log.Info().Msg("Sector simulation loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sector simulation loop cancelled")
			return
		case <-ticker.C:
		}
		if s.Paused() {
			continue
		}
		if err := s.Tick(ctx, sectorID); err != nil {
			if errors.Is(err, models.ErrNotFound) || errors.Is(err, context.Canceled) {
				log.Info().Msg("Sector gone, stopping loop")
				return
			}
			if errors.Is(err, models.ErrStorage) {
				// One retry already happened at the call site; a second
				// failure is fatal for this sector's loop only.
				s.mu.Lock()
				s.failed[sectorID] = err
				s.mu.Unlock()
				log.Error().Err(err).Msg("Persistent storage failure, marking sector loop failed")
				return
			}
			log.Warn().Err(err).Msg("Tick failed")
		}
	}
}

// Tick advances one sector by one simulation step: price update, manager
// poll over the active discussion, and discussion bootstrap when eligible.
func (s *Scheduler) Tick(ctx context.Context, sectorID string) error {
	sector, err := s.db.SectorByID(sectorID)
	if err != nil {
		return err
	}

	tick := s.sim.Advance(sector)
	err = store.Retry(func() error {
		_, uerr := s.db.UpdateSector(sectorID, func(sec *models.Sector) error {
			sec.CurrentPrice = tick.Price
			sec.Change = tick.Change
			sec.ChangePercent = tick.ChangePercent
			sec.Volatility = tick.Volatility
			sec.RiskScore = tick.RiskScore
			sec.Candles = append(sec.Candles, tick.Candle)
			if len(sec.Candles) > models.MaxCandleHistory {
				sec.Candles = sec.Candles[len(sec.Candles)-models.MaxCandleHistory:]
			}
			return nil
		})
		return uerr
	})
	if err != nil {
		return err
	}
	err = store.Retry(func() error {
		return s.db.PriceHistory.Append(models.MaxPriceHistory, models.PriceEntry{
			ID:        uuid.NewString(),
			SectorID:  sectorID,
			Price:     tick.Price,
			Timestamp: tick.Timestamp,
		})
	})
	if err != nil {
		return err
	}
	metrics.TicksTotal.WithLabelValues(sectorID).Inc()

	// Manager poll: push any active discussion toward a terminal state.
	active, ok, err := s.activeDiscussion(sectorID)
	if err != nil {
		return err
	}
	if ok {
		if active.Status == models.DiscussionInProgress || active.Status == models.DiscussionAwaitingExecution {
			if len(active.Checklist) > 0 {
				if err := s.manager.EvaluateChecklist(ctx, active.ID); err != nil {
					return err
				}
			}
		}
		return nil // serial lock: no bootstrap while a discussion is live
	}

	// Discussion bootstrap.
	if err := s.manager.CheckEligibility(sectorID); err != nil {
		return nil // ineligible is the normal idle state, not a failure
	}
	d, err := s.discussions.Start(ctx, sectorID, "", nil)
	if err != nil {
		if errors.Is(err, models.ErrContention) || errors.Is(err, models.ErrValidation) {
			return nil
		}
		return err
	}
	metrics.DiscussionsStarted.WithLabelValues(sectorID).Inc()
	go func() {
		if err := s.discussions.StartRounds(ctx, d.ID, s.Rounds); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).
				Str("sector_id", sectorID).
				Str("discussion_id", d.ID).
				Msg("Round loop failed")
		}
	}()
	return nil
}

func (s *Scheduler) activeDiscussion(sectorID string) (models.Discussion, bool, error) {
	discussions, err := s.db.Discussions.Read()
	if err != nil {
		return models.Discussion{}, false, err
	}
	for _, d := range discussions {
		if d.SectorID == sectorID && !d.Status.IsTerminal() {
			return d, true, nil
		}
	}
	return models.Discussion{}, false, nil
}
