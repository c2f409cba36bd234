// Package chain implements the chain registry (C1): stable indices over
// the set of enabled chains, and the immutable ChainDescriptor each
// index resolves to.
package chain

import "github.com/pocnet/arbiter/errs"

// Index is a small stable integer assigned in configuration order,
// restricted to enabled chains. It never changes for the life of the
// process (testable property 1 in the spec).
type Index int

// Descriptor is immutable after Registry construction.
type Descriptor struct {
	Name  string
	URL   string
	Color string

	// Priority: lower number = higher importance. Only meaningful in
	// priority mode.
	Priority int

	Enabled  bool
	IsPool   bool
	IsBHD    bool
	IsHPool  bool
	IsHDPool bool

	AccountKey               string
	MinerName                string
	AppendVersionToMinerName bool

	TargetDeadline       uint64
	UseDynamicDeadlines  bool
	AllowLowerHeights    bool
	RequeueInterrupted   bool
	MaximumRequeueTimes  int // 0 == unlimited
	GetMiningInfoInterval int // seconds, >= 1

	// NumericIDToPassphrase maps a solo-mining account id to its secret
	// passphrase. Only meaningful for non-pool Burst-style chains.
	NumericIDToPassphrase map[uint64]string

	// PerAccountTargetDeadline overrides TargetDeadline for specific
	// account ids (ConfigOverriddenByID in the deadline-priority chain).
	PerAccountTargetDeadline map[uint64]uint64
}

func (d Descriptor) IsSolo() bool {
	return !d.IsPool && !d.IsBHD && !d.IsHPool && !d.IsHDPool
}

// Registry enumerates the enabled chains in configuration order and
// resolves indices to descriptors in O(1). Index lookups are memoized
// here rather than rescanned per nonce submission (a flaw in the
// original source corrected by this implementation — see SPEC_FULL.md).
type Registry struct {
	descriptors []Descriptor
	byURL       map[string]Index
	byName      map[string]Index
}

// NewRegistry builds a registry from all configured chains (enabled and
// disabled), skipping disabled ones when assigning indices. It validates
// the priority-mode invariant: two enabled chains may not share a
// priority.
func NewRegistry(all []Descriptor, priorityMode bool) (*Registry, error) {
	r := &Registry{
		byURL:  make(map[string]Index),
		byName: make(map[string]Index),
	}
	seenPriority := make(map[int]string)
	for _, d := range all {
		if !d.Enabled {
			continue
		}
		if priorityMode {
			if other, ok := seenPriority[d.Priority]; ok {
				return nil, errs.Config("chains %q and %q share priority %d under priority_mode", other, d.Name, d.Priority)
			}
			seenPriority[d.Priority] = d.Name
		}
		if d.IsHPool && d.IsHDPool {
			return nil, errs.Config("chain %q cannot be both is_hpool and is_hdpool", d.Name)
		}
		if d.URL == "" && !d.IsHDPool {
			return nil, errs.Config("chain %q has no url and is not a websocket-direct chain", d.Name)
		}
		if d.IsSolo() && len(d.NumericIDToPassphrase) == 0 {
			return nil, errs.Config("solo chain %q has an empty numeric_id_to_passphrase map", d.Name)
		}
		idx := Index(len(r.descriptors))
		r.descriptors = append(r.descriptors, d)
		r.byURL[d.URL] = idx
		r.byName[d.Name] = idx
	}
	if len(r.descriptors) == 0 {
		return nil, errs.Config("no enabled chains configured")
	}
	return r, nil
}

// IndexOf resolves a (url,name) pair to its stable index. name is
// looked up first and url only when no chain has that name, since
// websocket-direct chains may share an empty URL.
func (r *Registry) IndexOf(url, name string) (Index, bool) {
	if idx, ok := r.byName[name]; ok {
		return idx, true
	}
	idx, ok := r.byURL[url]
	return idx, ok
}

func (r *Registry) Get(i Index) Descriptor { return r.descriptors[i] }

func (r *Registry) Len() int { return len(r.descriptors) }

// Enumerate returns every enabled chain's index and descriptor in
// configuration order.
func (r *Registry) Enumerate() []struct {
	Index Index
	Desc  Descriptor
} {
	out := make([]struct {
		Index Index
		Desc  Descriptor
	}, len(r.descriptors))
	for i, d := range r.descriptors {
		out[i] = struct {
			Index Index
			Desc  Descriptor
		}{Index(i), d}
	}
	return out
}
