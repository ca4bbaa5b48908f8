package state

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// PositionManager owns every position, keyed by (market, user).
type PositionManager struct {
	positions map[PositionKey]*Position
}

func NewPositionManager() *PositionManager {
	return &PositionManager{
		positions: make(map[PositionKey]*Position),
	}
}

// GetPosition returns existing position or nil
func (pm *PositionManager) GetPosition(id MarketID, user common.Address) *Position {
	return pm.positions[PositionKey{Market: id, User: user}]
}

// View returns the stored position or a detached zero position. The result
// must not be mutated.
func (pm *PositionManager) View(id MarketID, user common.Address) *Position {
	if pos := pm.GetPosition(id, user); pos != nil {
		return pos
	}
	return NewPosition()
}

// GetOrCreatePosition returns existing or creates new empty position
func (pm *PositionManager) GetOrCreatePosition(id MarketID, user common.Address) *Position {
	key := PositionKey{Market: id, User: user}
	pos := pm.positions[key]
	if pos == nil {
		pos = NewPosition()
		pm.positions[key] = pos
	}
	return pos
}

// SetPosition directly sets a position (used for snapshot restore and undo)
func (pm *PositionManager) SetPosition(key PositionKey, pos *Position) {
	pm.positions[key] = pos
}

// DeletePosition removes a position (used by undo of a creation)
func (pm *PositionManager) DeletePosition(key PositionKey) {
	delete(pm.positions, key)
}

// Keys returns all position keys in canonical order
func (pm *PositionManager) Keys() []PositionKey {
	keys := make([]PositionKey, 0, len(pm.positions))
	for k := range pm.positions {
		keys = append(keys, k)
	}
	SortPositionKeys(keys)
	return keys
}

// MarketPositions returns the keys of every position in a market, sorted by user
func (pm *PositionManager) MarketPositions(id MarketID) []PositionKey {
	keys := make([]PositionKey, 0)
	for k := range pm.positions {
		if k.Market == id {
			keys = append(keys, k)
		}
	}
	SortPositionKeys(keys)
	return keys
}

func (pm *PositionManager) Len() int {
	return len(pm.positions)
}

func SortPositionKeys(keys []PositionKey) {
	sort.Slice(keys, func(i, j int) bool {
		if c := bytes.Compare(keys[i].Market[:], keys[j].Market[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(keys[i].User[:], keys[j].User[:]) < 0
	})
}
