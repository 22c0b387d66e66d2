// Package hardware reports how many workers the machine can run in parallel.
package hardware

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// Sizer reports the number of hardware threads. Zero means unknown.
type Sizer interface {
	Cores() int
}

// SizerFunc adapts a function to Sizer.
type SizerFunc func() int

func (f SizerFunc) Cores() int { return f() }

// Runtime reports runtime.GOMAXPROCS(0), which honours cgroup CPU limits
// and the GOMAXPROCS environment variable.
var Runtime Sizer = SizerFunc(func() int { return runtime.GOMAXPROCS(0) })

// CPUID reports logical cores from the CPUID instruction. It returns zero
// on platforms where CPUID is unavailable.
var CPUID Sizer = SizerFunc(func() int { return cpuid.CPU.LogicalCores })

// Fixed always reports n.
func Fixed(n int) Sizer {
	return SizerFunc(func() int { return n })
}

// Fallback returns the first sizer that reports a non-zero count.
func Fallback(sizers ...Sizer) Sizer {
	return SizerFunc(func() int {
		for _, s := range sizers {
			if n := s.Cores(); n > 0 {
				return n
			}
		}
		return 0
	})
}

// Default prefers the scheduler's view and falls back to CPUID.
var Default = Fallback(Runtime, CPUID)

// Cores reports Default.Cores().
func Cores() int {
	return Default.Cores()
}

// Info describes the detected CPU for the cores command.
type Info struct {
	Brand         string `json:"brand"`
	Vendor        string `json:"vendor"`
	PhysicalCores int    `json:"physical_cores"`
	LogicalCores  int    `json:"logical_cores"`
	GOMAXPROCS    int    `json:"gomaxprocs"`
	NumCPU        int    `json:"num_cpu"`
}

// Detect gathers Info for the current machine.
func Detect() Info {
	return Info{
		Brand:         cpuid.CPU.BrandName,
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		NumCPU:        runtime.NumCPU(),
	}
}
