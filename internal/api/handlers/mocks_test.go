package handlers

import (
	"context"
	"errors"
	"time"

	"scalper/internal/models"
	"scalper/internal/repository"
)

// ============================================================
// Hand-written mocks для handler тестов
// ============================================================

type mockRiskController struct {
	state       models.RiskState
	triggered   []string
	activated   bool
	deactivErr  error
	deactivated bool
}

func (m *mockRiskController) Snapshot() models.RiskState { return m.state }

func (m *mockRiskController) TriggerEmergencyStop(ctx context.Context, reason string) bool {
	m.triggered = append(m.triggered, reason)
	if m.state.EmergencyStopActive {
		return false
	}
	m.state.EmergencyStopActive = true
	m.activated = true
	return true
}

func (m *mockRiskController) DeactivateEmergencyStop(force bool) error {
	if m.deactivErr != nil {
		return m.deactivErr
	}
	m.state.EmergencyStopActive = false
	m.deactivated = true
	return nil
}

type mockPositionReader struct {
	positions map[string]*models.Position
}

func (m *mockPositionReader) Active() []*models.Position {
	out := make([]*models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

func (m *mockPositionReader) Get(symbol string) *models.Position {
	return m.positions[symbol]
}

type mockPositionHistory struct {
	recent    []*models.Position
	lastLimit int
	err       error
}

func (m *mockPositionHistory) GetRecent(ctx context.Context, limit int) ([]*models.Position, error) {
	m.lastLimit = limit
	return m.recent, m.err
}

type mockPositionCloser struct {
	closed []string
	err    error
}

func (m *mockPositionCloser) ClosePositionManual(ctx context.Context, symbol string) error {
	if m.err != nil {
		return m.err
	}
	m.closed = append(m.closed, symbol)
	return nil
}

type mockPairStore struct {
	pairs     map[string]*models.PairConfig
	setCalls  []string
	setActive map[string]bool
}

func newMockPairStore(pairs ...*models.PairConfig) *mockPairStore {
	m := &mockPairStore{
		pairs:     make(map[string]*models.PairConfig),
		setActive: make(map[string]bool),
	}
	for _, p := range pairs {
		m.pairs[p.Symbol] = p
	}
	return m
}

func (m *mockPairStore) GetActive(ctx context.Context) ([]*models.PairConfig, error) {
	out := make([]*models.PairConfig, 0, len(m.pairs))
	for _, p := range m.pairs {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPairStore) GetBySymbol(ctx context.Context, symbol string) (*models.PairConfig, error) {
	p, ok := m.pairs[symbol]
	if !ok {
		return nil, repository.ErrPairNotFound
	}
	return p, nil
}

func (m *mockPairStore) SetActive(ctx context.Context, symbol string, active bool) error {
	if _, ok := m.pairs[symbol]; !ok {
		return repository.ErrPairNotFound
	}
	m.setCalls = append(m.setCalls, symbol)
	m.setActive[symbol] = active
	return nil
}

var errMockDB = errors.New("db unavailable")

func openTestPosition(symbol string) *models.Position {
	return &models.Position{
		ID:         1,
		Symbol:     symbol,
		Side:       models.SideBuy,
		Size:       0.01,
		EntryPrice: 50000,
		Status:     models.PositionStatusOpen,
		OpenedAt:   time.Now().UTC(),
		Version:    1,
	}
}
