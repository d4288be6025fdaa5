package domain

import (
	"testing"
	"time"
)

func TestDefaultTemplates(t *testing.T) {
	master := MasterPermissions()
	for _, c := range Capabilities {
		if !master.Has(c) {
			t.Fatalf("master template missing %s", c)
		}
	}

	player := PlayerPermissions()
	granted := map[Capability]bool{
		CapRollDice: true,
		CapChat:     true,
		CapViewMap:  true,
	}
	for _, c := range Capabilities {
		if player.Has(c) != granted[c] {
			t.Fatalf("player template %s = %v, want %v", c, player.Has(c), granted[c])
		}
	}
}

func TestDefaultPermissionsByRole(t *testing.T) {
	if got := DefaultPermissions(RoleMaster); !got.CanEditMap {
		t.Fatal("master defaults should include canEditMap")
	}
	if got := DefaultPermissions(RolePlayer); got.CanEditMap {
		t.Fatal("player defaults should not include canEditMap")
	}
	if got := DefaultPermissions(Role("weird")); got.CanEditMap {
		t.Fatal("unknown role should fall back to player defaults")
	}
}

func TestTemplatesAreValueCopies(t *testing.T) {
	a := PlayerPermissions()
	a.CanChat = false
	if b := PlayerPermissions(); !b.CanChat {
		t.Fatal("mutating one template copy leaked into another")
	}
}

func TestParseCapability(t *testing.T) {
	for _, c := range Capabilities {
		got, err := ParseCapability(string(c))
		if err != nil {
			t.Fatalf("ParseCapability(%s): %v", c, err)
		}
		if got != c {
			t.Fatalf("ParseCapability(%s) = %s", c, got)
		}
	}
	if _, err := ParseCapability("canFly"); err == nil {
		t.Fatal("expected error for unknown capability")
	}
	if _, err := ParseCapability(""); err == nil {
		t.Fatal("expected error for empty capability")
	}
}

func TestApplyMergesNamedKeysOnly(t *testing.T) {
	base := PlayerPermissions()
	next, err := base.Apply(map[string]bool{
		"canEditMap": true,
		"canChat":    false,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !next.CanEditMap {
		t.Fatal("canEditMap should be set")
	}
	if next.CanChat {
		t.Fatal("canChat should be cleared")
	}
	if !next.CanRollDice {
		t.Fatal("unspecified canRollDice should keep its prior value")
	}
}

func TestApplyRejectsUnknownKeysWithoutPartialApply(t *testing.T) {
	base := PlayerPermissions()
	_, err := base.Apply(map[string]bool{
		"canEditMap":   true,
		"canDestroyDB": true,
	})
	if err == nil {
		t.Fatal("expected unknown-key error")
	}
	if base.CanEditMap {
		t.Fatal("failed apply must not mutate the receiver")
	}
}

func TestEffectivePermissions(t *testing.T) {
	now := time.Now()
	stored := PlayerPermissions()
	grants := []TemporaryPermission{
		{UserID: "p1", Capability: CapEditMap, ExpiresAt: now.Add(time.Minute)},
		{UserID: "p1", Capability: CapEditNotes, ExpiresAt: now.Add(-time.Second)},
		{UserID: "p2", Capability: CapControlBattle, ExpiresAt: now.Add(time.Minute)},
	}

	eff := EffectivePermissions(stored, grants, "p1", now)
	if !eff.CanEditMap {
		t.Fatal("unexpired grant should force canEditMap true")
	}
	if eff.CanEditNotes {
		t.Fatal("expired grant must not contribute")
	}
	if eff.CanControlBattle {
		t.Fatal("another user's grant must not leak")
	}
	if !eff.CanChat || !eff.CanRollDice {
		t.Fatal("stored permissions must survive the merge")
	}
}

func TestEffectivePermissionsNeverForcesFalse(t *testing.T) {
	now := time.Now()
	stored := MasterPermissions()
	grants := []TemporaryPermission{
		{UserID: "m1", Capability: CapChat, ExpiresAt: now.Add(time.Minute)},
	}
	eff := EffectivePermissions(stored, grants, "m1", now)
	for _, c := range Capabilities {
		if !eff.Has(c) {
			t.Fatalf("grant removed %s from a full set", c)
		}
	}
}

func TestSweepExpired(t *testing.T) {
	now := time.Now()
	grants := []TemporaryPermission{
		{UserID: "a", Capability: CapEditMap, ExpiresAt: now.Add(time.Minute)},
		{UserID: "b", Capability: CapChat, ExpiresAt: now.Add(-time.Minute)},
		{UserID: "c", Capability: CapViewNotes, ExpiresAt: now},
	}
	alive := SweepExpired(grants, now)
	if len(alive) != 1 {
		t.Fatalf("expected 1 surviving grant, got %d", len(alive))
	}
	if alive[0].UserID != "a" {
		t.Fatalf("wrong grant survived: %+v", alive[0])
	}
}

func TestExpiredIsStrict(t *testing.T) {
	now := time.Now()
	g := TemporaryPermission{ExpiresAt: now}
	if !g.Expired(now) {
		t.Fatal("a grant expiring exactly now must be expired")
	}
	if g.Expired(now.Add(-time.Nanosecond)) {
		t.Fatal("a grant must be alive before its expiry")
	}
}
