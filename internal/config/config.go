// Package config defines the engine's configuration surface (spec §6
// "Configuration") and its eager validation.
//
// Grounded on the teacher's config structs (internal/tenant/tenantmanager_v3.go,
// internal/cache/cache_engine_v3.go: a flat options struct validated once at
// construction) and on the ja7ad-consumption CLI's cobra/pflag wiring
// (cmd/consumption/main.go), adapted from process-power sampling flags to
// graph-walk engine flags.
package config

import (
	"math/bits"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vertexwalk/engine/internal/walkerr"
	"github.com/vertexwalk/engine/internal/walkmgr"
)

// Config holds every option spec §6 recognises, plus the dynamic-store and
// ambient-stack knobs SPEC_FULL.md adds.
type Config struct {
	// File / graph identity.
	File      string // path to the CSR block directory (as written by cmd/ingest --output)
	BlockSize int64  // target maximum bytes per CSR block ("shardsize"/"blocksize")

	// Scheduling.
	ExecThreads int           // T
	Prob        float64       // P(min-hop) vs P(max-walks) under the prob-mix policy
	Policy      walkmgr.Policy

	// Seeding.
	FirstSource int // first seed vertex
	NumSources  int // number of seed vertices
	WalksPerSource int // R
	MaxWalkLength  int // L

	// Walk bucket / dynamic store sizing (spec §5 memory budget).
	WalkBufferSize int
	BufCap         int
	LogCap         int
	LogSize        int64
	NVertsPerGrp   int // G, must be a power of two

	// Ambient stack.
	LogLevel       string
	LogPretty      bool
	JaegerEndpoint string
	TracingEnabled bool
	MetricsAddr    string
}

// Default returns a Config with the same defaults the original source used,
// translated to this engine's field names.
func Default() Config {
	return Config{
		BlockSize:      64 << 20,
		ExecThreads:    4,
		Prob:           0.5,
		Policy:         walkmgr.PolicyProbMix,
		FirstSource:    0,
		NumSources:     1,
		WalksPerSource: 1,
		MaxWalkLength:  10,
		WalkBufferSize: 4096,
		BufCap:         4096,
		LogCap:         1024,
		LogSize:        1 << 20,
		NVertsPerGrp:   1 << 12,
		LogLevel:       "info",
		LogPretty:      true,
		MetricsAddr:    ":9090",
	}
}

// Validate checks every field eagerly, per spec §7's ConfigInvalid kind.
func (c Config) Validate() error {
	if c.File == "" {
		return walkerr.ConfigInvalid("config.Validate", errField("file"))
	}
	if c.BlockSize <= 0 {
		return walkerr.ConfigInvalid("config.Validate", errField("blocksize must be > 0"))
	}
	if c.ExecThreads < 1 {
		return walkerr.ConfigInvalid("config.Validate", errField("execthreads must be >= 1"))
	}
	if c.Prob < 0 || c.Prob > 1 {
		return walkerr.ConfigInvalid("config.Validate", errField("prob must be in [0,1]"))
	}
	if c.NumSources < 1 {
		return walkerr.ConfigInvalid("config.Validate", errField("numsources must be >= 1"))
	}
	if c.WalksPerSource < 1 {
		return walkerr.ConfigInvalid("config.Validate", errField("walkspersource must be >= 1"))
	}
	if c.MaxWalkLength < 0 || c.MaxWalkLength >= (1<<14) {
		return walkerr.ConfigInvalid("config.Validate", errField("maxwalklength must be in [0, 2^14)"))
	}
	if c.WalkBufferSize < 1 {
		return walkerr.ConfigInvalid("config.Validate", errField("walk buffer size must be >= 1"))
	}
	if c.BufCap < 1 {
		return walkerr.ConfigInvalid("config.Validate", errField("bufcap must be >= 1"))
	}
	if c.LogCap < 1 {
		return walkerr.ConfigInvalid("config.Validate", errField("logcap must be >= 1"))
	}
	if c.LogSize <= 0 {
		return walkerr.ConfigInvalid("config.Validate", errField("logsize must be > 0"))
	}
	if c.NVertsPerGrp < 2 || bits.OnesCount(uint(c.NVertsPerGrp)) != 1 {
		return walkerr.ConfigInvalid("config.Validate", errField("nverts_per_grp must be a power of two"))
	}
	switch c.Policy {
	case walkmgr.PolicyMinHop, walkmgr.PolicyMaxWalks, walkmgr.PolicyMaxWeight, walkmgr.PolicyProbMix:
	default:
		return walkerr.ConfigInvalid("config.Validate", errField("unknown block-choice policy"))
	}
	return nil
}

// GroupLog2 returns k such that NVertsPerGrp == 2^k. Validate must have
// already confirmed NVertsPerGrp is a power of two.
func (c Config) GroupLog2() uint { return uint(bits.TrailingZeros(uint(c.NVertsPerGrp))) }

type configFieldError string

func (e configFieldError) Error() string { return string(e) }

func errField(msg string) error { return configFieldError(msg) }

// BindFlags registers every Config field onto cmd's flag set, seeded with
// Default()'s values, matching the teacher's cobra/pflag wiring style.
func BindFlags(cmd *cobra.Command, c *Config) {
	f := cmd.Flags()
	f.StringVar(&c.File, "file", c.File, "path to the CSR block directory (as written by cmd/ingest --output)")
	f.Int64Var(&c.BlockSize, "blocksize", c.BlockSize, "target maximum bytes per CSR block")
	f.IntVar(&c.ExecThreads, "execthreads", c.ExecThreads, "number of parallel execution threads")
	f.Float64Var(&c.Prob, "prob", c.Prob, "probability of the min-hop policy vs max-walks under prob-mix")
	f.Var(newPolicyFlag(&c.Policy), "policy", "block-choice policy: min_hop, max_walks, max_weight, prob_mix")
	f.IntVar(&c.FirstSource, "firstsource", c.FirstSource, "first seed vertex id")
	f.IntVar(&c.NumSources, "numsources", c.NumSources, "number of seed vertices")
	f.IntVar(&c.WalksPerSource, "walkspersource", c.WalksPerSource, "walks started per source (R)")
	f.IntVar(&c.MaxWalkLength, "maxwalklength", c.MaxWalkLength, "per-walk hop bound (L)")
	f.IntVar(&c.WalkBufferSize, "walk-buffer-size", c.WalkBufferSize, "per-thread, per-block in-memory bucket capacity")
	f.IntVar(&c.BufCap, "bufcap", c.BufCap, "dynamic store global edge buffer capacity")
	f.IntVar(&c.LogCap, "logcap", c.LogCap, "dynamic store per-group in-memory log capacity")
	f.Int64Var(&c.LogSize, "logsize", c.LogSize, "on-disk log bytes per block that triggers compaction")
	f.IntVar(&c.NVertsPerGrp, "nverts-per-grp", c.NVertsPerGrp, "log group size G, must be a power of two")
	f.StringVar(&c.LogLevel, "log-level", c.LogLevel, "zerolog level (debug, info, warn, error)")
	f.BoolVar(&c.LogPretty, "log-pretty", c.LogPretty, "use the console writer instead of JSON logs")
	f.StringVar(&c.JaegerEndpoint, "jaeger-endpoint", c.JaegerEndpoint, "Jaeger collector endpoint")
	f.BoolVar(&c.TracingEnabled, "tracing", c.TracingEnabled, "enable OpenTelemetry tracing")
	f.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "address to serve Prometheus /metrics on")
}

// policyFlag adapts walkmgr.Policy to pflag.Value.
type policyFlag struct{ p *walkmgr.Policy }

func newPolicyFlag(p *walkmgr.Policy) *policyFlag { return &policyFlag{p: p} }
func (f *policyFlag) String() string              { return string(*f.p) }
func (f *policyFlag) Set(s string) error           { *f.p = walkmgr.Policy(s); return nil }
func (f *policyFlag) Type() string                 { return "policy" }

var _ pflag.Value = (*policyFlag)(nil)
