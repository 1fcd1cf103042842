package performance

import (
	"regexp"
	"sort"
	"sync"

	"github.com/warp/performance-engine/generic"
)

// =============================================================================
// TARGET KINDS
// =============================================================================

// Kind names what a target measures. The built-in kinds are registered on
// init; integrations may register more.
type Kind string

const (
	KindLeadGeneration   Kind = "lead_generation"
	KindTaskCompletion   Kind = "task_completion"
	KindBusinessValue    Kind = "business_value"
	KindCollectionAmount Kind = "collection_amount"
	KindGroupFilling     Kind = "group_filling"
)

// KindInfo carries defaults used when a target definition omits them.
type KindInfo struct {
	Kind        Kind
	DisplayName string
	DefaultUnit generic.Unit
}

var (
	kindRegistry = make(map[Kind]KindInfo)
	kindMu       sync.RWMutex

	kindPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)
)

func init() {
	RegisterKind(KindInfo{Kind: KindLeadGeneration, DisplayName: "Leads Generated", DefaultUnit: generic.UnitCount})
	RegisterKind(KindInfo{Kind: KindTaskCompletion, DisplayName: "Tasks Completed", DefaultUnit: generic.UnitCount})
	RegisterKind(KindInfo{Kind: KindBusinessValue, DisplayName: "Business Value", DefaultUnit: generic.UnitAmount})
	RegisterKind(KindInfo{Kind: KindCollectionAmount, DisplayName: "Collection Amount", DefaultUnit: generic.UnitAmount})
	RegisterKind(KindInfo{Kind: KindGroupFilling, DisplayName: "Group Filling", DefaultUnit: generic.UnitPercentage})
}

// RegisterKind adds or replaces a kind in the registry.
func RegisterKind(info KindInfo) {
	kindMu.Lock()
	defer kindMu.Unlock()
	kindRegistry[info.Kind] = info
}

// LookupKind returns the registered info for k.
func LookupKind(k Kind) (KindInfo, bool) {
	kindMu.RLock()
	defer kindMu.RUnlock()
	info, ok := kindRegistry[k]
	return info, ok
}

// ListKinds returns every registered kind, sorted by name.
func ListKinds() []KindInfo {
	kindMu.RLock()
	defer kindMu.RUnlock()
	result := make([]KindInfo, 0, len(kindRegistry))
	for _, info := range kindRegistry {
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Kind < result[j].Kind })
	return result
}

// Valid reports whether k is well-formed. Unregistered kinds are allowed so
// the enumeration stays open; they just get no defaults.
func (k Kind) Valid() bool { return kindPattern.MatchString(string(k)) }

// info returns registry defaults, or a count-based fallback.
func (k Kind) info() KindInfo {
	if info, ok := LookupKind(k); ok {
		return info
	}
	return KindInfo{Kind: k, DisplayName: string(k), DefaultUnit: generic.UnitCount}
}
