package progress

import "sort"

// Orders is the injected certType -> ordered module ids table. It is the only
// source of module sequencing in the engine.
type Orders struct {
	modules map[string][]string
	index   map[string]map[string]int
}

func NewOrders(m map[string][]string) Orders {
	o := Orders{
		modules: make(map[string][]string, len(m)),
		index:   make(map[string]map[string]int, len(m)),
	}
	for cert, mods := range m {
		o.modules[cert] = append([]string(nil), mods...)
		idx := make(map[string]int, len(mods))
		for i, mod := range mods {
			idx[mod] = i
		}
		o.index[cert] = idx
	}
	return o
}

// Modules returns a copy of the configured order for certType.
func (o Orders) Modules(certType string) ([]string, bool) {
	mods, ok := o.modules[certType]
	if !ok {
		return nil, false
	}
	return append([]string(nil), mods...), true
}

func (o Orders) Has(certType, moduleID string) bool {
	_, ok := o.Position(certType, moduleID)
	return ok
}

func (o Orders) Position(certType, moduleID string) (int, bool) {
	idx, ok := o.index[certType]
	if !ok {
		return 0, false
	}
	i, ok := idx[moduleID]
	return i, ok
}

// Next is the module right after moduleID, if any.
func (o Orders) Next(certType, moduleID string) (string, bool) {
	i, ok := o.Position(certType, moduleID)
	if !ok || i+1 >= len(o.modules[certType]) {
		return "", false
	}
	return o.modules[certType][i+1], true
}

// Previous is the module right before moduleID, if any.
func (o Orders) Previous(certType, moduleID string) (string, bool) {
	i, ok := o.Position(certType, moduleID)
	if !ok || i == 0 {
		return "", false
	}
	return o.modules[certType][i-1], true
}

// CertTypes lists configured certification ids, sorted.
func (o Orders) CertTypes() []string {
	out := make([]string, 0, len(o.modules))
	for c := range o.modules {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
