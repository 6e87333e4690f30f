package scheduler

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// CheckLiveness reports ErrStalled when no job was created within the
// liveness window. Host load is logged on every check.
func (v *Validator) CheckLiveness() error {
	fields := map[string]interface{}{}
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		fields["cpu_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields["mem_used_percent"] = vm.UsedPercent
		fields["mem_available_bytes"] = vm.Available
	}

	idle := v.nowFunc().Sub(v.LastCreated())
	fields["since_last_job"] = idle.Round(time.Second).String()
	v.Logger.Info("Liveness check", fields)

	if idle > v.config.LivenessWindow {
		v.Logger.Error("No jobs created within liveness window, requesting restart", map[string]interface{}{
			"window": v.config.LivenessWindow.String(),
		})
		return fmt.Errorf("%w: idle for %s", ErrStalled, idle.Round(time.Second))
	}
	return nil
}
