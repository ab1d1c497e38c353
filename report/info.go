// Package report assembles block reports from monitor events and sampler
// data, and persists them.
package report

import (
	"fmt"
	"strings"
	"time"
)

const (
	separator  = "\n"
	timeLayout = "01-02 15:04:05.000"
)

// BlockInfo is one finished block report.
type BlockInfo struct {
	Qualifier   string
	UID         string
	Network     string
	PID         int32
	ProcessName string
	CPUCores    int
	// Memory figures are in kilobytes.
	FreeMemory  uint64
	TotalMemory uint64

	Start          time.Time
	End            time.Time
	ThreadTimeCost time.Duration

	CPUBusy     bool
	CPURateInfo string

	// Stacks holds formatted stack samples, oldest first.
	Stacks []string
}

// TimeCost is the wall-clock duration of the blocked unit of work.
func (b *BlockInfo) TimeCost() time.Duration {
	return b.End.Sub(b.Start)
}

// String renders the report in its on-disk text form.
func (b *BlockInfo) String() string {
	var s strings.Builder
	kv := func(k string, v any) {
		fmt.Fprintf(&s, "%s = %v%s", k, v, separator)
	}

	s.WriteString("[basic]" + separator)
	kv("qua", b.Qualifier)
	kv("uid", b.UID)
	kv("network", b.Network)
	kv("pid", b.PID)
	kv("process", b.ProcessName)
	kv("cpu-core", b.CPUCores)
	kv("freeMemory", b.FreeMemory)
	kv("totalMemory", b.TotalMemory)
	s.WriteString(separator)

	s.WriteString("[time]" + separator)
	kv("time", b.TimeCost().Milliseconds())
	kv("thread-time", b.ThreadTimeCost.Milliseconds())
	kv("time-start", b.Start.Format(timeLayout))
	kv("time-end", b.End.Format(timeLayout))
	s.WriteString(separator)

	s.WriteString("[cpu]" + separator)
	kv("cpu-busy", b.CPUBusy)
	kv("cpu-rate", separator+b.CPURateInfo)
	s.WriteString(separator)

	s.WriteString("[stack]" + separator)
	for _, st := range b.Stacks {
		s.WriteString(st)
		s.WriteString(separator)
	}
	return s.String()
}

// Interceptor is notified of every finished report, on the reporting
// context.
type Interceptor interface {
	OnBlock(info *BlockInfo)
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(info *BlockInfo)

func (f InterceptorFunc) OnBlock(info *BlockInfo) {
	f(info)
}
