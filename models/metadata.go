package models

// MetaData groups every in-memory, mutation-serialized collection the
// Signal Engine owns (spec.md §3 "MetaData container group"). The State
// Store observes changes via a dirty-set pushed by whichever operation
// mutated a group; it never mutates MetaData itself.
type MetaData struct {
	Strategies map[string]*Strategy

	// TradesOpen preserves hub delivery order: new entries are appended,
	// closed trades are removed in place.
	TradesOpen []*TradeOpen

	// TradesClosing overlays TradesOpen: a trade present here has been
	// scheduled for exit but has not yet executed, so its locked funds are
	// treated as released for sizing purposes (spec.md glossary "Closing
	// set").
	TradesClosing map[string]bool

	Markets map[string]*Market
	Prices  map[string]Decimal

	// VirtualBalances is wallet -> asset -> amount for virtual-mode trades.
	VirtualBalances map[Wallet]map[string]Decimal

	BalanceHistory   BalanceHistory
	PublicStrategies map[string]*PublicStrategy
}

// NewMetaData returns an empty, ready-to-use MetaData.
func NewMetaData() *MetaData {
	return &MetaData{
		Strategies:       make(map[string]*Strategy),
		TradesOpen:       nil,
		TradesClosing:    make(map[string]bool),
		Markets:          make(map[string]*Market),
		Prices:           make(map[string]Decimal),
		VirtualBalances:  make(map[Wallet]map[string]Decimal),
		BalanceHistory:   make(BalanceHistory),
		PublicStrategies: make(map[string]*PublicStrategy),
	}
}

// FindOpenTrade returns the trade matching the identity tuple, if any.
func (m *MetaData) FindOpenTrade(key TradeKey) *TradeOpen {
	for _, t := range m.TradesOpen {
		if t.Key() == key {
			return t
		}
	}
	return nil
}

// RemoveOpenTrade deletes a trade from the open list by ID.
func (m *MetaData) RemoveOpenTrade(id string) {
	for i, t := range m.TradesOpen {
		if t.ID == id {
			m.TradesOpen = append(m.TradesOpen[:i], m.TradesOpen[i+1:]...)
			return
		}
	}
}
