package app

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Environment switches read outside envconfig. They must be known before
// LoadConfig runs so a test binary never reaches the required secrets.
const (
	testModeEnv = "MOTD_TEST_MODE"
	offlineEnv  = "MOTD_OFFLINE"
)

// Effect names a process side effect that can be switched off with MOTD_OFFLINE.
type Effect string

const (
	// EffectDiscordGateway opens the bot websocket to Discord.
	EffectDiscordGateway Effect = "discord"
	// EffectScheduler registers the worker's periodic tasks.
	EffectScheduler Effect = "scheduler"
)

var knownEffects = map[Effect]struct{}{
	EffectDiscordGateway: {},
	EffectScheduler:      {},
}

// Runtime is the set of side effects the current process may perform.
type Runtime struct {
	testMode bool
	offline  map[Effect]struct{}
}

// TestMode reports whether startup should be skipped entirely.
func (r Runtime) TestMode() bool { return r.testMode }

// Allows reports whether e may run. Test mode disables every effect.
func (r Runtime) Allows(e Effect) bool {
	if r.testMode {
		return false
	}
	_, off := r.offline[e]
	return !off
}

// Offline lists the effects switched off by MOTD_OFFLINE, sorted.
func (r Runtime) Offline() []string {
	out := make([]string, 0, len(r.offline))
	for e := range r.offline {
		out = append(out, string(e))
	}
	sort.Strings(out)
	return out
}

// ParseRuntime builds a Runtime from raw MOTD_TEST_MODE and MOTD_OFFLINE values.
// MOTD_OFFLINE is a comma separated list of effect names; "all" disables every effect.
func ParseRuntime(testMode, offline string) (Runtime, error) {
	rt := Runtime{offline: map[Effect]struct{}{}}
	if v := strings.TrimSpace(testMode); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return Runtime{}, fmt.Errorf("%s: %w", testModeEnv, err)
		}
		rt.testMode = on
	}
	for _, part := range strings.Split(offline, ",") {
		name := Effect(strings.ToLower(strings.TrimSpace(part)))
		switch {
		case name == "":
		case name == "all":
			for e := range knownEffects {
				rt.offline[e] = struct{}{}
			}
		default:
			if _, ok := knownEffects[name]; !ok {
				return Runtime{}, fmt.Errorf("%s: unknown effect %q", offlineEnv, name)
			}
			rt.offline[name] = struct{}{}
		}
	}
	return rt, nil
}

// LoadRuntime reads the runtime switches from the environment.
func LoadRuntime() (Runtime, error) {
	return ParseRuntime(os.Getenv(testModeEnv), os.Getenv(offlineEnv))
}

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	rt, err := LoadRuntime()
	testModeFlag.Store(err == nil && rt.TestMode())
}

// InTestMode reports whether MOTD_TEST_MODE is set. The value is cached;
// call RefreshTestMode after changing the environment.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode re-reads MOTD_TEST_MODE.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	detectTestMode()
}
