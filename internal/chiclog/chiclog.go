// Package chiclog wraps a single package-level logrus.Logger the way
// moby-moby and open-policy-agent-opa's packages do (both go.mod-grounded
// logrus users): one logger, leveled, with field helpers for the common
// call sites — never a per-package logger instance. It also reads the
// CHIC_DEBUG_WASM_* and CHIC_*_ASYNC_* environment variables spec.md §6
// names, gating per-theme debug traces without any behavioural effect when
// unset.
package chiclog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Scope names one CHIC_DEBUG_WASM_<SCOPE> theme.
type Scope string

const (
	ScopeAsync     Scope = "ASYNC"
	ScopeString    Scope = "STRING"
	ScopeMem       Scope = "MEM"
	ScopeAlloc     Scope = "ALLOC"
	ScopeHashSet   Scope = "HASHSET"
	ScopeHashMap   Scope = "HASHMAP"
	ScopeBorrow    Scope = "BORROW"
	ScopeArc       Scope = "ARC"
	ScopePanic     Scope = "PANIC"
	ScopeThrow     Scope = "THROW"
	ScopeTypeCalls Scope = "TYPECALLS"
)

var (
	scopeOnce   sync.Once
	scopeEnable map[Scope]bool

	warnAsyncPromotion  bool
	debugAsyncReady     bool
	debugAsyncPromotion bool
)

func loadScopes() {
	scopeEnable = map[Scope]bool{}
	for _, s := range []Scope{ScopeAsync, ScopeString, ScopeMem, ScopeAlloc, ScopeHashSet,
		ScopeHashMap, ScopeBorrow, ScopeArc, ScopePanic, ScopeThrow, ScopeTypeCalls} {
		if os.Getenv("CHIC_DEBUG_WASM_"+string(s)) != "" {
			scopeEnable[s] = true
		}
	}
	warnAsyncPromotion = os.Getenv("CHIC_WARN_ASYNC_PROMOTION") != ""
	debugAsyncReady = os.Getenv("CHIC_DEBUG_ASYNC_READY") != ""
	debugAsyncPromotion = os.Getenv("CHIC_DEBUG_ASYNC_PROMOTION") != ""
}

// Enabled reports whether CHIC_DEBUG_WASM_<scope> was set in the process
// environment. Checked once, lazily, and cached — these are read-only
// diagnostics knobs, not live-reloaded configuration.
func Enabled(s Scope) bool {
	scopeOnce.Do(loadScopes)
	return scopeEnable[s]
}

// WarnAsyncPromotion reports CHIC_WARN_ASYNC_PROMOTION.
func WarnAsyncPromotion() bool {
	scopeOnce.Do(loadScopes)
	return warnAsyncPromotion
}

// DebugAsyncReady reports CHIC_DEBUG_ASYNC_READY.
func DebugAsyncReady() bool {
	scopeOnce.Do(loadScopes)
	return debugAsyncReady
}

// DebugAsyncPromotion reports CHIC_DEBUG_ASYNC_PROMOTION.
func DebugAsyncPromotion() bool {
	scopeOnce.Do(loadScopes)
	return debugAsyncPromotion
}

// WithFunction tags a log entry with the MIR/wasm function it concerns.
func WithFunction(name string) *logrus.Entry { return log.WithField("function", name) }

// WithImport tags a log entry with the chic_rt/env import it concerns.
func WithImport(name string) *logrus.Entry { return log.WithField("import", name) }

// WithBorrow tags a log entry with the borrow id it concerns.
func WithBorrow(id uint32) *logrus.Entry { return log.WithField("borrow_id", id) }

// Scoped logs at debug level only when the named scope's CHIC_DEBUG_WASM_*
// variable is set, so call sites stay cheap (one map lookup) when it isn't.
func Scoped(s Scope, entry *logrus.Entry, msg string) {
	if Enabled(s) {
		entry.WithField("scope", string(s)).Debug(msg)
	}
}

// Base returns the shared logger, for call sites that want plain
// Info/Warn/Error without a themed scope (e.g. top-level compile errors).
func Base() *logrus.Logger { return log }
