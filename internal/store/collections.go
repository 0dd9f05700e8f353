package store

import (
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/sectorlabs/sectorsim/internal/models"
)

// nowFunc is swappable in tests.
var nowFunc = time.Now

// Collections bundles the typed views over the standard state files.
type Collections struct {
	Store         *Store
	Sectors       *Collection[models.Sector]
	Agents        *Collection[models.Agent]
	Discussions   *Collection[models.Discussion]
	PriceHistory  *Collection[models.PriceEntry]
	RejectedItems *Collection[models.ChecklistItem]
}

// Open creates the store and its standard collections.
func Open(dir string, log zerolog.Logger) (*Collections, error) {
	s, err := New(dir, log)
	if err != nil {
		return nil, err
	}
	return &Collections{
		Store:         s,
		Sectors:       NewCollection[models.Sector](s, "sectors"),
		Agents:        NewCollection[models.Agent](s, "agents"),
		Discussions:   NewCollection[models.Discussion](s, "discussions"),
		PriceHistory:  NewCollection[models.PriceEntry](s, "priceHistory"),
		RejectedItems: NewCollection[models.ChecklistItem](s, "rejectedItems"),
	}, nil
}

// ExecutionLog returns the per-sector append-only trade log.
func (c *Collections) ExecutionLog(sectorID string) *Collection[models.Trade] {
	return NewCollection[models.Trade](c.Store, filepath.Join("executionLogs", sectorID))
}

// SectorByID loads one sector or fails with a not-found error.
func (c *Collections) SectorByID(id string) (models.Sector, error) {
	sectors, err := c.Sectors.Read()
	if err != nil {
		return models.Sector{}, err
	}
	for _, s := range sectors {
		if s.ID == id {
			return s, nil
		}
	}
	return models.Sector{}, models.NotFoundErrorf("sector %s", id)
}

// AgentByID loads one agent or fails with a not-found error.
func (c *Collections) AgentByID(id string) (models.Agent, error) {
	agents, err := c.Agents.Read()
	if err != nil {
		return models.Agent{}, err
	}
	for _, a := range agents {
		if a.ID == id {
			return a, nil
		}
	}
	return models.Agent{}, models.NotFoundErrorf("agent %s", id)
}

// AgentsBySector loads all agents of one sector, managers included.
func (c *Collections) AgentsBySector(sectorID string) ([]models.Agent, error) {
	agents, err := c.Agents.Read()
	if err != nil {
		return nil, err
	}
	var out []models.Agent
	for _, a := range agents {
		if a.SectorID == sectorID {
			out = append(out, a)
		}
	}
	return out, nil
}

// DiscussionByID loads one discussion or fails with a not-found error.
func (c *Collections) DiscussionByID(id string) (models.Discussion, error) {
	discussions, err := c.Discussions.Read()
	if err != nil {
		return models.Discussion{}, err
	}
	for _, d := range discussions {
		if d.ID == id {
			return d, nil
		}
	}
	return models.Discussion{}, models.NotFoundErrorf("discussion %s", id)
}

// UpdateSector applies mutate to the sector with the given id.
func (c *Collections) UpdateSector(id string, mutate func(*models.Sector) error) (models.Sector, error) {
	var result models.Sector
	_, err := c.Sectors.AtomicUpdate(func(sectors []models.Sector) ([]models.Sector, error) {
		for i := range sectors {
			if sectors[i].ID == id {
				if err := mutate(&sectors[i]); err != nil {
					return nil, err
				}
				result = sectors[i]
				return sectors, nil
			}
		}
		return nil, models.NotFoundErrorf("sector %s", id)
	})
	return result, err
}

// UpdateDiscussion applies mutate to the discussion with the given id.
func (c *Collections) UpdateDiscussion(id string, mutate func(*models.Discussion) error) (models.Discussion, error) {
	var result models.Discussion
	_, err := c.Discussions.AtomicUpdate(func(discussions []models.Discussion) ([]models.Discussion, error) {
		for i := range discussions {
			if discussions[i].ID == id {
				if err := mutate(&discussions[i]); err != nil {
					return nil, err
				}
				discussions[i].UpdatedAt = nowFunc()
				result = discussions[i]
				return discussions, nil
			}
		}
		return nil, models.NotFoundErrorf("discussion %s", id)
	})
	return result, err
}

// UpdateAgent applies mutate to the agent with the given id.
func (c *Collections) UpdateAgent(id string, mutate func(*models.Agent) error) (models.Agent, error) {
	var result models.Agent
	_, err := c.Agents.AtomicUpdate(func(agents []models.Agent) ([]models.Agent, error) {
		for i := range agents {
			if agents[i].ID == id {
				if err := mutate(&agents[i]); err != nil {
					return nil, err
				}
				result = agents[i]
				return agents, nil
			}
		}
		return nil, models.NotFoundErrorf("agent %s", id)
	})
	return result, err
}
