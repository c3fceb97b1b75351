// Package discovery loads board profiles: the board identity and the modules
// the board firmware reports, with their implementation revisions.
package discovery

import (
	"fmt"

	"github.com/KevinKickass/OpenSensorCore/internal/types"
)

// ModuleEntry is one module line of a board profile
type ModuleEntry struct {
	ID       uint8  `json:"id"`
	Name     string `json:"name,omitempty"`
	Present  bool   `json:"present"`
	Revision uint8  `json:"revision,omitempty"`
}

// Profile describes a board and its modules. It answers module presence
// queries for board initialization.
type Profile struct {
	Board   types.BoardInfo `json:"board"`
	Modules []ModuleEntry   `json:"modules"`

	index map[types.ModuleID]types.ModuleInfo
}

// buildIndex rejects duplicate module IDs and fills the lookup table.
func (p *Profile) buildIndex() error {
	p.index = make(map[types.ModuleID]types.ModuleInfo, len(p.Modules))
	for _, m := range p.Modules {
		id := types.ModuleID(m.ID)
		if _, exists := p.index[id]; exists {
			return fmt.Errorf("duplicate module id 0x%02x in profile %s", m.ID, p.Board.Name)
		}

		name := m.Name
		if name == "" {
			name = id.String()
		}
		p.index[id] = types.ModuleInfo{
			ID:                     id,
			Name:                   name,
			Present:                m.Present,
			ImplementationRevision: m.Revision,
		}
	}
	return nil
}

// ModuleInfo returns the module entry. Modules missing from the profile are
// reported as not found.
func (p *Profile) ModuleInfo(id types.ModuleID) (types.ModuleInfo, bool) {
	info, ok := p.index[id]
	return info, ok
}

// PresentModules lists the present modules in profile order.
func (p *Profile) PresentModules() []types.ModuleInfo {
	var out []types.ModuleInfo
	for _, m := range p.Modules {
		if m.Present {
			out = append(out, p.index[types.ModuleID(m.ID)])
		}
	}
	return out
}
