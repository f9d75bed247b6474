// Package translator rewrites PostgreSQL-dialect SQL text into SQL accepted
// by an InterSystems IRIS backend. It never parses SQL into an AST; instead
// it runs a small ordered pipeline of scan-based rewrite stages, each aware
// of string literals and comments so that it never touches text inside them.
package translator

import (
	"log/slog"
	"time"
)

// SLADefault is the per-statement duration above which a translation is
// logged at WARN, absent an explicit Config.SLA.
const SLADefault = 5 * time.Millisecond

// Config controls translator behavior. The zero value is usable and applies
// SLADefault.
type Config struct {
	// SLA is the per-statement warning threshold. Zero means SLADefault.
	SLA time.Duration
}

func (c Config) sla() time.Duration {
	if c.SLA <= 0 {
		return SLADefault
	}
	return c.SLA
}

// Stage rewrites a SQL string and returns the rewritten text.
type Stage func(sql string) string

// Translator runs the ordered rewrite pipeline over inbound statements. The
// order is fixed: transaction-verb rewrite, identifier case folding,
// date-literal rewrite, vector-operator rewrite. Reordering changes behavior
// — vector rewrite depends on folding having already uppercased identifiers.
type Translator struct {
	cfg    Config
	logger *slog.Logger
}

// New builds a Translator. A nil logger disables SLA warnings.
func New(cfg Config, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discard{}, nil))
	}
	return &Translator{cfg: cfg, logger: logger}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// stages in fixed execution order.
func (t *Translator) stages() []struct {
	name string
	fn   Stage
} {
	return []struct {
		name string
		fn   Stage
	}{
		{"transaction_verb", RewriteTransactionVerbs},
		{"identifier_fold", FoldIdentifiers},
		{"date_literal", RewriteDateLiterals},
		{"vector_operator", RewriteVectorOperators},
	}
}

// Translate runs the full pipeline over sql and returns the rewritten
// statement. It is idempotent: Translate(Translate(x)) == Translate(x).
func (t *Translator) Translate(sql string) string {
	start := time.Now()
	out := sql

	idents := countIdentifiers(sql)

	for _, stage := range t.stages() {
		stageStart := time.Now()
		out = stage.fn(out)
		elapsed := time.Since(stageStart)

		t.logger.Debug("translator stage applied",
			slog.String("stage", stage.name),
			slog.Duration("elapsed", elapsed))
	}

	if !hasVectorBrackets(out) && containsToVector(out) {
		t.logger.Warn("translator produced TO_VECTOR call without brackets",
			slog.String("sql", out))
	}

	total := time.Since(start)
	if total > t.cfg.sla() {
		t.logger.Warn("translator exceeded SLA",
			slog.Duration("elapsed", total),
			slog.Int("sql_length", len(sql)),
			slog.Int("identifier_count", idents))
	}

	return out
}
