package foreman

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DataRequirement describes one table a module reads or writes, with the
// relative time window of the rows it cares about. Informational to the
// orchestrator; modules fetch their own data.
type DataRequirement struct {
	TableKind    string   `json:"table_kind"`
	TableName    string   `json:"table_name"`
	TableColumns []string `json:"table_columns"`
	TimeBegin    int      `json:"time_begin"`
	TimeEnd      int      `json:"time_end"`
	TimeUnit     string   `json:"time_unit"`
}

// Module is the registered identity of a remote worker process.
//
// Alive is true exactly while SessionID is non-empty; both fields are
// written together only by the registry service. All timestamps are naive
// local wall clock.
type Module struct {
	ModuleID          int               `json:"module_id"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Priority          int               `json:"priority"`
	ModuleHash        string            `json:"module_hash"`
	Alive             bool              `json:"alive"`
	SessionID         string            `json:"session_id,omitempty"`
	LastLoginTime     *time.Time        `json:"last_login_time,omitempty"`
	LastAliveTime     *time.Time        `json:"last_alive_time,omitempty"`
	LastExecutionTime *time.Time        `json:"last_execution_time,omitempty"`
	InputData         []DataRequirement `json:"input_data"`
	OutputData        []DataRequirement `json:"output_data"`
}

// DefaultPriority is assigned to modules registered without a priority.
const DefaultPriority = 100

// ComputeModuleHash derives the stable identifier a worker presents when
// opening a session. The same (name, description, modelHash) triple always
// maps to the same hash.
func ComputeModuleHash(name, description, modelHash string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%s", name, description, modelHash))
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy. Repositories hand out clones so registry
// mutations never leak through shared pointers.
func (m *Module) Clone() *Module {
	if m == nil {
		return nil
	}
	out := *m
	out.LastLoginTime = cloneTime(m.LastLoginTime)
	out.LastAliveTime = cloneTime(m.LastAliveTime)
	out.LastExecutionTime = cloneTime(m.LastExecutionTime)
	out.InputData = cloneRequirements(m.InputData)
	out.OutputData = cloneRequirements(m.OutputData)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneRequirements(in []DataRequirement) []DataRequirement {
	if in == nil {
		return nil
	}
	out := make([]DataRequirement, len(in))
	for i, r := range in {
		out[i] = r
		out[i].TableColumns = append([]string(nil), r.TableColumns...)
	}
	return out
}
