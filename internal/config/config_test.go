package config

import (
	"testing"

	"github.com/vertexwalk/engine/internal/walkerr"
	"github.com/vertexwalk/engine/internal/walkmgr"
)

func validConfig() Config {
	c := Default()
	c.File = "graph.edges"
	return c
}

func TestDefaultConfigValidates(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() on default config = %v, want nil", err)
	}
}

func TestValidateRejectsMissingFile(t *testing.T) {
	c := validConfig()
	c.File = ""
	err := c.Validate()
	if !walkerr.IsKind(err, walkerr.KindConfigInvalid) {
		t.Fatalf("Validate() = %v, want ConfigInvalid", err)
	}
}

func TestValidateRejectsNonPowerOfTwoGroupSize(t *testing.T) {
	c := validConfig()
	c.NVertsPerGrp = 100
	err := c.Validate()
	if !walkerr.IsKind(err, walkerr.KindConfigInvalid) {
		t.Fatalf("Validate() = %v, want ConfigInvalid", err)
	}
}

func TestValidateRejectsOutOfRangeProb(t *testing.T) {
	c := validConfig()
	c.Prob = 1.5
	if err := c.Validate(); !walkerr.IsKind(err, walkerr.KindConfigInvalid) {
		t.Fatalf("Validate() = %v, want ConfigInvalid", err)
	}
}

func TestValidateRejectsUnknownPolicy(t *testing.T) {
	c := validConfig()
	c.Policy = walkmgr.Policy("bogus")
	if err := c.Validate(); !walkerr.IsKind(err, walkerr.KindConfigInvalid) {
		t.Fatalf("Validate() = %v, want ConfigInvalid", err)
	}
}

func TestGroupLog2MatchesNVertsPerGrp(t *testing.T) {
	c := validConfig()
	c.NVertsPerGrp = 1 << 7
	if got := c.GroupLog2(); got != 7 {
		t.Fatalf("GroupLog2() = %d, want 7", got)
	}
}
