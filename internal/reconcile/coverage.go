package reconcile

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/swayscope/swayscope/internal/layout"
	"github.com/swayscope/swayscope/internal/rules"
)

// CoverageResult reports which project-scoped windows carry the launch
// environment contract. The CLI maps it to exit codes: 0 full coverage,
// 1 partial, 2 internal error.
type CoverageResult struct {
	Status  Status   `json:"status"`
	Total   int      `json:"total"`
	Covered int      `json:"covered"`
	Missing []string `json:"missing,omitempty"`
}

// EnvReader fetches a process environment; injectable for tests.
type EnvReader func(pid int32) (map[string]string, error)

// ProcEnv reads /proc/<pid>/environ via gopsutil.
func ProcEnv(pid int32) (map[string]string, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	environ, err := proc.Environ()
	if err != nil {
		return nil, fmt.Errorf("read environ of %d: %w", pid, err)
	}
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return env, nil
}

// Coverage checks every project-scoped window's process for the launch
// environment. Windows without a known PID are counted as missing.
func (v *Validator) Coverage(readEnv EnvReader) CoverageResult {
	if readEnv == nil {
		readEnv = ProcEnv
	}
	result := CoverageResult{Status: StatusPass}
	for _, rec := range v.state.Windows() {
		if rec.Project == rules.Global || rec.Project == "" {
			continue
		}
		result.Total++
		if rec.PID == 0 {
			result.Missing = append(result.Missing,
				fmt.Sprintf("window %d (%s): no process id", rec.ID, rec.Class))
			continue
		}
		env, err := readEnv(rec.PID)
		if err != nil {
			result.Missing = append(result.Missing,
				fmt.Sprintf("window %d (%s): %v", rec.ID, rec.Class, err))
			continue
		}
		if env[layout.EnvProject] != rec.Project {
			result.Missing = append(result.Missing,
				fmt.Sprintf("window %d (%s): %s=%q, assigned %q",
					rec.ID, rec.Class, layout.EnvProject, env[layout.EnvProject], rec.Project))
			continue
		}
		result.Covered++
	}
	if len(result.Missing) > 0 {
		result.Status = StatusDrift
	}
	return result
}
