package config

import (
	"errors"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be between 0 and 100")
)

// Flags switching the optional wiring around the engine. Scoring parameters
// live in engine.yaml, not here.
const (
	FeatureLeaderboardCache = "leaderboard.cache"   // serve and store boards through redis
	FeatureEventsFanout     = "events.redis_fanout" // mirror domain events onto redis pub/sub
	FeatureAuditLog         = "events.audit_log"    // one log line per domain event
	FeatureNotifyRankChange = "notify.rank_change"  // rank movement notifications
)

// defaultRollout is the percentage of learners each flag starts enabled for.
var defaultRollout = map[string]int{
	FeatureLeaderboardCache: 100,
	FeatureEventsFanout:     100,
	FeatureAuditLog:         100,
	FeatureNotifyRankChange: 0,
}

// FeatureFlags holds a rollout percentage per flag plus per-learner overrides.
type FeatureFlags struct {
	mu        sync.RWMutex
	rollout   map[string]int
	overrides map[string]bool // "<user>\x00<flag>"
}

// LoadFeatureFlags starts from the defaults and applies FEATURE_<NAME>
// variables, where the value is a bool or a rollout percentage:
//
//	FEATURE_NOTIFY_RANK_CHANGE=25
//	FEATURE_EVENTS_REDIS_FANOUT=false
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{rollout: make(map[string]int, len(defaultRollout)), overrides: map[string]bool{}}
	for name, pct := range defaultRollout {
		if v, ok := parseRollout(os.Getenv(envKey(name))); ok {
			pct = v
		}
		ff.rollout[name] = pct
	}
	return ff
}

func parseRollout(raw string) (int, bool) {
	if raw == "" {
		return 0, false
	}
	if on, err := strconv.ParseBool(raw); err == nil {
		if on {
			return 100, true
		}
		return 0, true
	}
	p, err := strconv.Atoi(raw)
	if err != nil || p < 0 || p > 100 {
		return 0, false
	}
	return p, true
}

// envKey maps "events.redis_fanout" to "FEATURE_EVENTS_REDIS_FANOUT".
func envKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// Enabled reports whether a flag is on for anyone at all.
func (ff *FeatureFlags) Enabled(name string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	return ff.rollout[name] > 0
}

// EnabledFor decides a flag for one learner. Overrides win; otherwise the
// learner falls into a stable bucket derived from flag and user ID.
func (ff *FeatureFlags) EnabledFor(name, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if on, ok := ff.overrides[userID+"\x00"+name]; ok {
		return on
	}
	pct := ff.rollout[name]
	if pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name + ":" + userID))
	return int(h.Sum32()%100) < pct
}

// SetUserOverride forces a flag on or off for one learner.
func (ff *FeatureFlags) SetUserOverride(userID, name string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.overrides[userID+"\x00"+name] = enabled
}

// SetRolloutPercent changes the share of learners a known flag is on for.
func (ff *FeatureFlags) SetRolloutPercent(name string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if _, ok := ff.rollout[name]; !ok {
		return ErrFeatureNotFound
	}
	ff.rollout[name] = percent
	return nil
}

// DisableFeature turns a flag off for everyone without an override.
func (ff *FeatureFlags) DisableFeature(name string) error {
	return ff.SetRolloutPercent(name, 0)
}
