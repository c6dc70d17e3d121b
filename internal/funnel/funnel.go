// Package funnel defines the static funnel variants and their ordered stages.
package funnel

import (
	"fmt"

	"github.com/BTreeMap/FunnelCoach/internal/models"
)

// Variant describes one funnel variant: five ordered stage labels plus the
// label of the rejections counter, which sits outside the ordered funnel.
type Variant struct {
	Type           models.FunnelType
	Stages         [models.StageCount]string
	RejectionLabel string
}

var variants = map[models.FunnelType]Variant{
	models.FunnelActive: {
		Type:           models.FunnelActive,
		Stages:         [models.StageCount]string{"Applications", "Responses", "Screenings", "Onsites", "Offers"},
		RejectionLabel: "Rejections",
	},
	models.FunnelPassive: {
		Type:           models.FunnelPassive,
		Stages:         [models.StageCount]string{"Views", "Incoming", "Screenings", "Onsites", "Offers"},
		RejectionLabel: "Rejections",
	},
}

// Get returns the variant definition for a funnel type.
func Get(ft models.FunnelType) (Variant, error) {
	v, ok := variants[ft]
	if !ok {
		return Variant{}, fmt.Errorf("unknown funnel type %q: %w", ft, models.ErrInvalidFunnelType)
	}
	return v, nil
}

// StageLabels returns the ordered stage labels for a funnel type, falling
// back to the active variant for unknown input.
func StageLabels(ft models.FunnelType) [models.StageCount]string {
	if v, ok := variants[ft]; ok {
		return v.Stages
	}
	return variants[models.FunnelActive].Stages
}

// SectionKey maps a qualifying slot index (1..4) or the rejections counter
// (index -1) to the stable section key stored with reflection records.
func SectionKey(ft models.FunnelType, index int) string {
	if index == RejectionIndex {
		return "rejection"
	}
	switch index {
	case 1:
		if ft == models.FunnelPassive {
			return "incoming"
		}
		return "response"
	case 2:
		return "screening"
	case 3:
		return "onsite"
	case 4:
		return "offer"
	}
	return ""
}

// SectionKeyForSlot maps any ordered slot index (0..4) to its stable key,
// including the top-of-funnel slot, which SectionKey excludes.
func SectionKeyForSlot(ft models.FunnelType, index int) string {
	if index == 0 {
		if ft == models.FunnelPassive {
			return "view"
		}
		return "application"
	}
	return SectionKey(ft, index)
}

// RejectionIndex is the pseudo-index used for the rejections counter when a
// stage index is required alongside the five ordered slots.
const RejectionIndex = -1

// QualifyingIndexes lists the stage slots whose increase can trigger a
// reflection prompt. The top-of-funnel slot (Applications or Views) never
// qualifies; rejections do.
func QualifyingIndexes() []int {
	return []int{1, 2, 3, 4, RejectionIndex}
}

// StageLabel returns the display label for a slot index or the rejections
// counter under the given variant.
func StageLabel(ft models.FunnelType, index int) string {
	v := variants[models.FunnelActive]
	if vv, ok := variants[ft]; ok {
		v = vv
	}
	if index == RejectionIndex {
		return v.RejectionLabel
	}
	if index >= 0 && index < models.StageCount {
		return v.Stages[index]
	}
	return ""
}
