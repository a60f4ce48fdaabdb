package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/optisync"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery  uint64
	SupersedeEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr  atomic.Uint64
	supersedeCtr atomic.Uint64
}

var _ optisync.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("optisync.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("optisync.provider_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) GenSnapshotError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("optisync.gen_snapshot_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) GenBumpError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("optisync.gen_bump_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) InvalidateOutage(key string, bumpErr, writeErr error) {
	if h.l == nil {
		return
	}
	h.l.Error("optisync.invalidate_outage",
		"key", h.redact(key),
		"bump_err", bumpErr,
		"write_err", writeErr)
}

func (h *Hooks) RefetchError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("optisync.refetch_error",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) MutationSuperseded(key string) {
	if h.l == nil || !sample(h.opts.SupersedeEvery, &h.supersedeCtr) {
		return
	}
	h.l.Debug("optisync.mutation_superseded",
		"key", h.redact(key))
}

func (h *Hooks) MutationCommitted(key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("optisync.mutation_committed",
		"key", h.redact(key))
}

// RolledBack is logged at info: the user saw a change being undone.
func (h *Hooks) MutationRolledBack(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Info("optisync.mutation_rolled_back",
		"key", h.redact(key),
		"err", err)
}
