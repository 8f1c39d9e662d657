// Package system reports process/runtime resource usage for the
// automation server's status surface, grounded on the teacher's
// pkg/system/system.go and generalized from video-storage disk usage to
// the server's configuration/plugin root.
package system

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cvautomation/pkg/log"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status stores system status.
type Status struct {
	CPUUsage           int    `json:"cpuUsage"`
	RAMUsage           int    `json:"ramUsage"`
	DiskUsage          int    `json:"diskUsage"`
	DiskUsageFormatted string `json:"diskUsageFormatted"`
}

type (
	cpuFunc  func(context.Context, time.Duration, bool) ([]float64, error)
	ramFunc  func() (*mem.VirtualMemoryStat, error)
	diskFunc func(string) (*disk.UsageStat, error)
)

// System polls gopsutil on an interval and serves the most recent
// snapshot under a mutex, the way the teacher's StatusLoop does.
type System struct {
	cpu  cpuFunc
	ram  ramFunc
	disk diskFunc

	watchPath string

	status   Status
	duration time.Duration

	log *log.Logger
	mu  sync.Mutex
	o   sync.Once
}

// New returns a System that reports disk usage for watchPath, normally the
// server's config directory.
func New(watchPath string, logger *log.Logger) *System {
	return &System{
		cpu:  cpu.PercentWithContext,
		ram:  mem.VirtualMemory,
		disk: disk.Usage,

		watchPath: watchPath,

		duration: 10 * time.Second,

		log: logger,
	}
}

func formatBytes(used uint64) string {
	const (
		kilobyte = 1000.0
		megabyte = kilobyte * 1000
		gigabyte = megabyte * 1000
		terabyte = gigabyte * 1000
	)
	f := float64(used)
	switch {
	case f < 1000*megabyte:
		return fmt.Sprintf("%.0fMB", f/megabyte)
	case f < 10*gigabyte:
		return fmt.Sprintf("%.2fGB", f/gigabyte)
	case f < 100*gigabyte:
		return fmt.Sprintf("%.1fGB", f/gigabyte)
	case f < 1000*gigabyte:
		return fmt.Sprintf("%.0fGB", f/gigabyte)
	case f < 10*terabyte:
		return fmt.Sprintf("%.2fTB", f/terabyte)
	default:
		return fmt.Sprintf("%.1fTB", f/terabyte)
	}
}

func (s *System) update(ctx context.Context) error {
	cpuUsage, err := s.cpu(ctx, s.duration, false)
	if err != nil {
		return fmt.Errorf("could not get cpu usage: %w", err)
	}
	ramUsage, err := s.ram()
	if err != nil {
		return fmt.Errorf("could not get ram usage: %w", err)
	}
	diskUsage, err := s.disk(s.watchPath)
	if err != nil {
		return fmt.Errorf("could not get disk usage: %w", err)
	}

	s.mu.Lock()
	s.status = Status{
		CPUUsage:           int(cpuUsage[0]),
		RAMUsage:           int(ramUsage.UsedPercent),
		DiskUsage:          int(diskUsage.UsedPercent),
		DiskUsageFormatted: formatBytes(diskUsage.Used),
	}
	s.mu.Unlock()

	return nil
}

// StatusLoop updates system status until context is canceled. Only the
// first call does any work; later calls block until the loop exits.
func (s *System) StatusLoop(ctx context.Context) {
	s.o.Do(func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := s.update(ctx); err != nil {
				s.log.Error().Src("system").Msgf("could not update system status: %v", err)
			}
		}
	})
}

// Status returns the most recently polled cpu, ram and disk usage.
func (s *System) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ErrNoTimeZone means the time zone could not be determined.
var ErrNoTimeZone = errors.New("could not determine time zone")

// TimeZone returns the name of the system's time zone location.
func TimeZone() (string, error) {
	zone := time.Now().Location().String()
	if zone != "Local" {
		return zone, nil
	}

	data, _ := ioutil.ReadFile("/etc/timezone")
	zone = string(data)
	if zone != "" {
		return strings.TrimSpace(zone), nil
	}

	localtime, _ := ioutil.ReadFile("/etc/localtime")
	_ = filepath.Walk("/usr/share/zoneinfo", func(filePath string, file os.FileInfo, err error) error {
		if err != nil || file.IsDir() {
			return err
		}
		data, _ := ioutil.ReadFile(filePath)
		if string(data) == string(localtime) {
			dir, city := path.Split(filePath)
			region := path.Base(dir)
			zone = city

			switch region {
			case "zoneinfo":
			case "posix":
			default:
				zone = region + "/" + city
			}
		}
		return nil
	})
	if zone != "" {
		return strings.TrimSpace(zone), nil
	}

	return "", ErrNoTimeZone
}
