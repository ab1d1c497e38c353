package report

import (
	"context"
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Environment describes the process a report was taken in. Values that
// cannot be read are left zero.
type Environment struct {
	PID         int32
	ProcessName string
	CPUCores    int
	TotalMemory uint64
}

// EnvironmentProbe reads process metadata once and memory figures on demand.
type EnvironmentProbe struct {
	log  *zap.Logger
	once sync.Once
	env  Environment
}

func NewEnvironmentProbe(log *zap.Logger) *EnvironmentProbe {
	if log == nil {
		log = zap.NewNop()
	}
	return &EnvironmentProbe{log: log.Named("env")}
}

// Static returns the values that do not change over the process lifetime.
func (p *EnvironmentProbe) Static(ctx context.Context) Environment {
	p.once.Do(func() {
		p.env = p.read(ctx)
	})
	return p.env
}

func (p *EnvironmentProbe) read(ctx context.Context) Environment {
	env := Environment{PID: int32(os.Getpid())}

	if proc, err := process.NewProcessWithContext(ctx, env.PID); err == nil {
		if name, err := proc.NameWithContext(ctx); err == nil {
			env.ProcessName = name
		} else {
			p.log.Debug("process name unavailable", zap.Error(err))
		}
	}
	if env.ProcessName == "" {
		env.ProcessName = "<unknown>"
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		env.CPUCores = n
	} else {
		p.log.Debug("cpu count unavailable", zap.Error(err))
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		env.TotalMemory = vm.Total / 1024
	} else {
		p.log.Debug("memory info unavailable", zap.Error(err))
	}
	return env
}

// FreeMemory returns available memory in kilobytes, or zero.
func (p *EnvironmentProbe) FreeMemory(ctx context.Context) uint64 {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		p.log.Debug("memory info unavailable", zap.Error(err))
		return 0
	}
	return vm.Available / 1024
}

// Fill copies the environment into info.
func (p *EnvironmentProbe) Fill(ctx context.Context, info *BlockInfo) {
	env := p.Static(ctx)
	info.PID = env.PID
	info.ProcessName = env.ProcessName
	info.CPUCores = env.CPUCores
	info.TotalMemory = env.TotalMemory
	info.FreeMemory = p.FreeMemory(ctx)
}
