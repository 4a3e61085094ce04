package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/grillmaster/grillmaster/internal/database"
)

// RunnerStatus is the runner surface the health endpoint reports on.
type RunnerStatus interface {
	QueueDepth() int
	Active() bool
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *database.DB
	runner    RunnerStatus
	dataDir   string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *database.DB) *HealthHandler {
	h.db = db
	return h
}

// WithRunner sets the pipeline runner reported by the health endpoint.
func (h *HealthHandler) WithRunner(runner RunnerStatus) *HealthHandler {
	h.runner = runner
	return h
}

// WithDataDir sets the directory whose disk usage is reported.
func (h *HealthHandler) WithDataDir(dir string) *HealthHandler {
	h.dataDir = dir
	return h
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse is the health check response body.
type HealthResponse struct {
	Status        string         `json:"status"`
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	Uptime        string         `json:"uptime"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Runtime       RuntimeInfo    `json:"runtime"`
	CPU           CPUInfo        `json:"cpu"`
	Memory        MemoryInfo     `json:"memory"`
	Disk          DiskInfo       `json:"disk"`
	Database      DatabaseHealth `json:"database"`
	Runner        RunnerInfo     `json:"runner"`
}

// RuntimeInfo describes the Go runtime.
type RuntimeInfo struct {
	GoVersion    string  `json:"go_version"`
	NumGoroutine int     `json:"num_goroutine"`
	HeapAllocMB  float64 `json:"heap_alloc_mb"`
	NumGC        uint32  `json:"num_gc"`
}

// CPUInfo describes CPU load.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo describes system and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
	ChildProcessCount int     `json:"child_process_count"`
}

// DiskInfo describes disk usage of the data directory.
type DiskInfo struct {
	Path        string  `json:"path,omitempty"`
	TotalGB     float64 `json:"total_gb"`
	UsedGB      float64 `json:"used_gb"`
	FreeGB      float64 `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// DatabaseHealth describes the database connection state.
type DatabaseHealth struct {
	Status string `json:"status"`
	Driver string `json:"driver,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RunnerInfo describes the pipeline runner state.
type RunnerInfo struct {
	QueueDepth int  `json:"queue_depth"`
	Active     bool `json:"active"`
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Runtime:       h.getRuntimeInfo(),
		CPU:           h.getCPUInfo(),
		Memory:        h.getMemoryInfo(),
		Disk:          h.getDiskInfo(),
		Database:      h.getDatabaseHealth(ctx),
	}

	if h.runner != nil {
		resp.Runner = RunnerInfo{
			QueueDepth: h.runner.QueueDepth(),
			Active:     h.runner.Active(),
		}
	}
	if resp.Database.Status == "error" {
		resp.Status = "degraded"
	}

	return &HealthOutput{Body: resp}, nil
}

func (h *HealthHandler) getRuntimeInfo() RuntimeInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return RuntimeInfo{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		HeapAllocMB:  float64(ms.HeapAlloc) / 1024 / 1024,
		NumGC:        ms.NumGC,
	}
}

func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}

	return info
}

func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		info.ProcessMemoryMB = float64(memInfo.RSS) / 1024 / 1024
	}
	// yt-dlp and ffmpeg run as children of this process.
	if children, err := proc.Children(); err == nil {
		info.ChildProcessCount = len(children)
	}

	return info
}

func (h *HealthHandler) getDiskInfo() DiskInfo {
	if h.dataDir == "" {
		return DiskInfo{}
	}

	usage, err := disk.Usage(h.dataDir)
	if err != nil || usage == nil {
		return DiskInfo{Path: h.dataDir}
	}

	const gb = 1024 * 1024 * 1024
	return DiskInfo{
		Path:        h.dataDir,
		TotalGB:     float64(usage.Total) / gb,
		UsedGB:      float64(usage.Used) / gb,
		FreeGB:      float64(usage.Free) / gb,
		UsedPercent: usage.UsedPercent,
	}
}

func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "not_configured"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.db.Ping(pingCtx); err != nil {
		return DatabaseHealth{Status: "error", Driver: h.db.Driver(), Error: err.Error()}
	}
	return DatabaseHealth{Status: "ok", Driver: h.db.Driver()}
}
