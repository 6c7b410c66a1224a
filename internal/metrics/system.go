package metrics

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

const systemSampleInterval = 30 * time.Second

// RunSystemCollector samples disk usage of the storage root and system
// memory until the context is cancelled.
func (m *Metrics) RunSystemCollector(ctx context.Context, root string, logger *logrus.Logger) {
	if logger == nil {
		logger = logrus.New()
	}
	ticker := time.NewTicker(systemSampleInterval)
	defer ticker.Stop()

	m.sampleSystem(root, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleSystem(root, logger)
		}
	}
}

func (m *Metrics) sampleSystem(root string, logger *logrus.Logger) {
	if usage, err := disk.Usage(root); err != nil {
		logger.WithError(err).WithField("path", root).Debug("Failed to sample disk usage")
	} else {
		m.diskTotal.Set(float64(usage.Total))
		m.diskUsed.Set(float64(usage.Used))
		m.diskFree.Set(float64(usage.Free))
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		logger.WithError(err).Debug("Failed to sample memory usage")
	} else {
		m.memUsed.Set(float64(vm.Used))
	}
}
