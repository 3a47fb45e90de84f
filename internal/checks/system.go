package checks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// CheckStatus is the outcome of one requirement check.
type CheckStatus string

const (
	// CheckPassed means the host satisfies the requirement
	CheckPassed CheckStatus = "passed"
	// CheckFailed means the host does not satisfy the requirement
	CheckFailed CheckStatus = "failed"
	// CheckSkipped means the requirement could not be evaluated
	CheckSkipped CheckStatus = "skipped"
)

// RequirementCheck is one evaluated requirement.
type RequirementCheck struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Required string      `json:"required,omitempty"`
	Actual   string      `json:"actual,omitempty"`
	Message  string      `json:"message"`
}

// DiskInfo describes one block device.
type DiskInfo struct {
	Name   string  `json:"name"`
	SizeGB float64 `json:"size_gb"`
}

// SystemInfo is the host inventory the checks run against.
type SystemInfo struct {
	OS        string     `json:"os,omitempty"`
	OSVersion string     `json:"os_version,omitempty"`
	RAMGB     float64    `json:"ram_gb,omitempty"`
	Disks     []DiskInfo `json:"disks"`
}

// RequirementsResult is the full outcome for one playbook.
type RequirementsResult struct {
	Playbook   string             `json:"playbook"`
	AllPassed  bool               `json:"all_passed"`
	Checks     []RequirementCheck `json:"checks"`
	SystemInfo SystemInfo         `json:"system_info"`
}

// requirements is the YAML manifest format under <playbookDir>/requirements.
type requirements struct {
	OS        []string `yaml:"os"`
	MinRAMGB  float64  `yaml:"min_ram_gb"`
	MinDiskGB float64  `yaml:"min_disk_gb"`
}

// SystemChecker evaluates playbook requirement manifests against the host.
// The proc/sys paths are overridable in tests.
type SystemChecker struct {
	PlaybookDir string
	OSRelease   string
	Meminfo     string
	SysBlock    string
}

// NewSystemChecker returns a checker reading the usual Linux inventory
// locations.
func NewSystemChecker(playbookDir string) *SystemChecker {
	return &SystemChecker{
		PlaybookDir: playbookDir,
		OSRelease:   "/etc/os-release",
		Meminfo:     "/proc/meminfo",
		SysBlock:    "/sys/block",
	}
}

// SystemInfo gathers the host inventory.
func (c *SystemChecker) SystemInfo() SystemInfo {
	name, version := c.osInfo()
	return SystemInfo{
		OS:        name,
		OSVersion: version,
		RAMGB:     c.ramGB(),
		Disks:     c.disks(),
	}
}

// Check evaluates the requirement manifest for the named playbook. A missing
// manifest yields a single skipped check and counts as passed.
func (c *SystemChecker) Check(playbook string) (RequirementsResult, error) {
	if filepath.Base(playbook) != playbook || playbook == "" || playbook == "." {
		return RequirementsResult{}, fmt.Errorf("invalid playbook name %q", playbook)
	}

	info := c.SystemInfo()
	result := RequirementsResult{Playbook: playbook, SystemInfo: info}

	raw, err := os.ReadFile(filepath.Join(c.PlaybookDir, "requirements", playbook)) // #nosec G304 -- validated base name
	if err != nil {
		if os.IsNotExist(err) {
			result.AllPassed = true
			result.Checks = []RequirementCheck{{
				Name:    "requirements",
				Status:  CheckSkipped,
				Message: "no requirements defined for this playbook",
			}}
			return result, nil
		}
		return RequirementsResult{}, fmt.Errorf("read requirements: %w", err)
	}

	var reqs requirements
	if err := yaml.Unmarshal(raw, &reqs); err != nil {
		return RequirementsResult{}, fmt.Errorf("parse requirements: %w", err)
	}

	result.Checks = append(result.Checks, c.checkOS(reqs, info)...)
	result.Checks = append(result.Checks, c.checkRAM(reqs, info)...)
	result.Checks = append(result.Checks, c.checkDisk(reqs, info)...)

	result.AllPassed = true
	for _, check := range result.Checks {
		if check.Status == CheckFailed {
			result.AllPassed = false
			break
		}
	}
	return result, nil
}

func (c *SystemChecker) checkOS(reqs requirements, info SystemInfo) []RequirementCheck {
	if len(reqs.OS) == 0 {
		return nil
	}
	check := RequirementCheck{
		Name:     "os",
		Required: strings.Join(reqs.OS, ", "),
		Actual:   info.OS,
	}
	if info.OS == "" {
		check.Status = CheckSkipped
		check.Message = "operating system could not be determined"
		return []RequirementCheck{check}
	}
	for _, name := range reqs.OS {
		if strings.EqualFold(name, info.OS) {
			check.Status = CheckPassed
			check.Message = "supported operating system"
			return []RequirementCheck{check}
		}
	}
	check.Status = CheckFailed
	check.Message = fmt.Sprintf("%s is not a supported operating system", info.OS)
	return []RequirementCheck{check}
}

func (c *SystemChecker) checkRAM(reqs requirements, info SystemInfo) []RequirementCheck {
	if reqs.MinRAMGB == 0 {
		return nil
	}
	check := RequirementCheck{
		Name:     "ram",
		Required: fmt.Sprintf("%.1f GB", reqs.MinRAMGB),
		Actual:   fmt.Sprintf("%.1f GB", info.RAMGB),
	}
	switch {
	case info.RAMGB == 0:
		check.Status = CheckSkipped
		check.Message = "memory size could not be determined"
	case info.RAMGB >= reqs.MinRAMGB:
		check.Status = CheckPassed
		check.Message = "enough memory"
	default:
		check.Status = CheckFailed
		check.Message = fmt.Sprintf("at least %.1f GB of memory required", reqs.MinRAMGB)
	}
	return []RequirementCheck{check}
}

func (c *SystemChecker) checkDisk(reqs requirements, info SystemInfo) []RequirementCheck {
	if reqs.MinDiskGB == 0 {
		return nil
	}
	check := RequirementCheck{
		Name:     "disk",
		Required: fmt.Sprintf("%.1f GB", reqs.MinDiskGB),
	}
	var largest float64
	for _, disk := range info.Disks {
		if disk.SizeGB > largest {
			largest = disk.SizeGB
		}
	}
	check.Actual = fmt.Sprintf("%.1f GB", largest)
	switch {
	case len(info.Disks) == 0:
		check.Status = CheckSkipped
		check.Message = "no disks found"
	case largest >= reqs.MinDiskGB:
		check.Status = CheckPassed
		check.Message = "enough disk space"
	default:
		check.Status = CheckFailed
		check.Message = fmt.Sprintf("at least %.1f GB on one disk required", reqs.MinDiskGB)
	}
	return []RequirementCheck{check}
}

func (c *SystemChecker) osInfo() (name, version string) {
	raw, err := os.ReadFile(c.OSRelease)
	if err != nil {
		return "", ""
	}
	for _, line := range strings.Split(string(raw), "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "NAME":
			name = value
		case "VERSION_ID":
			version = value
		}
	}
	return name, version
}

func (c *SystemChecker) ramGB() float64 {
	raw, err := os.ReadFile(c.Meminfo)
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0
		}
		return roundGB(kb / 1024 / 1024)
	}
	return 0
}

func (c *SystemChecker) disks() []DiskInfo {
	entries, err := os.ReadDir(c.SysBlock)
	if err != nil {
		return nil
	}

	skipPrefixes := []string{"loop", "ram", "zram", "dm-", "sr", "fd"}
	var disks []DiskInfo
	for _, entry := range entries {
		name := entry.Name()
		skip := false
		for _, prefix := range skipPrefixes {
			if strings.HasPrefix(name, prefix) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(c.SysBlock, name, "size"))
		if err != nil {
			continue
		}
		sectors, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
		if err != nil {
			continue
		}
		sizeGB := roundGB(sectors * 512 / (1 << 30))
		if sizeGB > 0 {
			disks = append(disks, DiskInfo{Name: name, SizeGB: sizeGB})
		}
	}
	sort.Slice(disks, func(i, j int) bool { return disks[i].Name < disks[j].Name })
	return disks
}

func roundGB(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
