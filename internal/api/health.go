package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

type hostHealth struct {
	Hostname      string  `json:"hostname"`
	Uptime        uint64  `json:"uptime"`
	CPUCount      int     `json:"cpu_count"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryTotal   uint64  `json:"memory_total"`
	MemoryUsed    uint64  `json:"memory_used"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskTotal     uint64  `json:"disk_total"`
	DiskUsed      uint64  `json:"disk_used"`
	DiskPercent   float64 `json:"disk_percent"`
	LoadAverage   float64 `json:"load_average"`
}

type healthResponse struct {
	Status string     `json:"status"`
	Host   hostHealth `json:"host"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Host: collectHostHealth()}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode health response")
	}
}

func collectHostHealth() hostHealth {
	var info hostHealth

	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.Uptime = h.Uptime
	}

	if c, err := cpu.Counts(true); err == nil {
		info.CPUCount = c
	}

	if p, err := cpu.Percent(0, false); err == nil && len(p) > 0 {
		info.CPUPercent = p[0]
	}

	if v, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = v.Total
		info.MemoryUsed = v.Used
		info.MemoryPercent = v.UsedPercent
	}

	if d, err := disk.Usage("/"); err == nil {
		info.DiskTotal = d.Total
		info.DiskUsed = d.Used
		info.DiskPercent = d.UsedPercent
	}

	if l, err := load.Avg(); err == nil {
		info.LoadAverage = l.Load1
	}

	return info
}
