// Package cpuspec sizes trainer worker pools from the host CPU topology.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	PerformanceCores int
}

// GetCPUSpec returns CPU specifications including the number of performance cores
func GetCPUSpec() CPUSpec {
	brandName := cpuid.CPU.BrandName

	return CPUSpec{
		BrandName:        brandName,
		PerformanceCores: determinePerformanceCores(brandName),
	}
}

// GetOptimalThreadCount returns the recommended number of worker threads for training.
func (c CPUSpec) GetOptimalThreadCount() int {
	// Get actual available CPU count (important for VMs)
	availableCPUs := runtime.NumCPU()

	// On hybrid architectures prefer the performance cores only
	if c.PerformanceCores > 0 {
		if c.PerformanceCores > availableCPUs {
			return availableCPUs
		}
		return c.PerformanceCores
	}

	if logical := cpuid.CPU.LogicalCores; logical > 0 {
		if logical > availableCPUs {
			return availableCPUs
		}
		return logical
	}

	return availableCPUs
}

var (
	intelCoreRegex = regexp.MustCompile(`intel.*core.*i[3579]-(\d{5})`)
	appleRegex     = regexp.MustCompile(`(?i)apple\s+(m[1234]\s*(pro|max|ultra)?)\s*`)
)

// determinePerformanceCores maps known hybrid CPU models to their P-core counts.
// Returns 0 when the model is not recognized.
func determinePerformanceCores(brandName string) int {
	brandName = strings.ToLower(brandName)

	if matches := intelCoreRegex.FindStringSubmatch(brandName); len(matches) > 1 {
		// 12th-14th gen desktop parts: the hundreds digit tracks the tier
		model := matches[1]
		switch model[2] {
		case '9', '7':
			return 8
		case '6', '5', '4':
			return 6
		case '1':
			return 4
		}
		return 0
	}

	if matches := appleRegex.FindStringSubmatch(brandName); len(matches) > 1 {
		chip := strings.ToLower(strings.TrimSpace(matches[1]))
		switch {
		case strings.HasSuffix(chip, "ultra"):
			return 16
		case strings.HasSuffix(chip, "max"):
			return 12
		case strings.HasSuffix(chip, "pro"):
			return 8
		default:
			return 4
		}
	}

	return 0
}
