package funnel

import (
	"testing"

	"github.com/BTreeMap/FunnelCoach/internal/models"
)

func TestGetVariants(t *testing.T) {
	active, err := Get(models.FunnelActive)
	if err != nil {
		t.Fatalf("Get(active) failed: %v", err)
	}
	if active.Stages[0] != "Applications" || active.Stages[4] != "Offers" {
		t.Errorf("unexpected active stages: %v", active.Stages)
	}

	passive, err := Get(models.FunnelPassive)
	if err != nil {
		t.Fatalf("Get(passive) failed: %v", err)
	}
	if passive.Stages[0] != "Views" || passive.Stages[1] != "Incoming" {
		t.Errorf("unexpected passive stages: %v", passive.Stages)
	}

	// Stages 3-5 are shared across variants.
	for i := 2; i < models.StageCount; i++ {
		if active.Stages[i] != passive.Stages[i] {
			t.Errorf("stage %d differs across variants: %q vs %q", i, active.Stages[i], passive.Stages[i])
		}
	}

	if _, err := Get("sideways"); err == nil {
		t.Error("expected error for unknown funnel type")
	}
}

func TestQualifyingIndexesExcludeTopOfFunnel(t *testing.T) {
	for _, idx := range QualifyingIndexes() {
		if idx == 0 {
			t.Error("top-of-funnel slot must never qualify")
		}
	}
	found := false
	for _, idx := range QualifyingIndexes() {
		if idx == RejectionIndex {
			found = true
		}
	}
	if !found {
		t.Error("rejections must qualify")
	}
}

func TestSectionKey(t *testing.T) {
	cases := []struct {
		ft    models.FunnelType
		index int
		want  string
	}{
		{models.FunnelActive, 1, "response"},
		{models.FunnelPassive, 1, "incoming"},
		{models.FunnelActive, 2, "screening"},
		{models.FunnelPassive, 2, "screening"},
		{models.FunnelActive, 3, "onsite"},
		{models.FunnelActive, 4, "offer"},
		{models.FunnelActive, RejectionIndex, "rejection"},
		{models.FunnelActive, 0, ""},
	}
	for _, c := range cases {
		if got := SectionKey(c.ft, c.index); got != c.want {
			t.Errorf("SectionKey(%s, %d) = %q, want %q", c.ft, c.index, got, c.want)
		}
	}
}

func TestSectionKeyForSlot(t *testing.T) {
	if got := SectionKeyForSlot(models.FunnelActive, 0); got != "application" {
		t.Errorf("expected application, got %q", got)
	}
	if got := SectionKeyForSlot(models.FunnelPassive, 0); got != "view" {
		t.Errorf("expected view, got %q", got)
	}
	if got := SectionKeyForSlot(models.FunnelActive, 2); got != "screening" {
		t.Errorf("expected screening, got %q", got)
	}
}

func TestStageLabel(t *testing.T) {
	if got := StageLabel(models.FunnelActive, RejectionIndex); got != "Rejections" {
		t.Errorf("expected Rejections, got %q", got)
	}
	if got := StageLabel(models.FunnelPassive, 1); got != "Incoming" {
		t.Errorf("expected Incoming, got %q", got)
	}
	if got := StageLabel(models.FunnelActive, 99); got != "" {
		t.Errorf("expected empty label for out-of-range index, got %q", got)
	}
}
