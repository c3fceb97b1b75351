package board

import "github.com/KevinKickass/OpenSensorCore/internal/types"

// ModuleTable is a static ModuleInfoProvider
type ModuleTable map[types.ModuleID]types.ModuleInfo

func (t ModuleTable) ModuleInfo(id types.ModuleID) (types.ModuleInfo, bool) {
	info, ok := t[id]
	return info, ok
}

// Present builds a table marking the given modules present at revision 0.
func Present(ids ...types.ModuleID) ModuleTable {
	t := make(ModuleTable, len(ids))
	for _, id := range ids {
		t[id] = types.ModuleInfo{ID: id, Name: id.String(), Present: true}
	}
	return t
}
