package orchestrator

import "time"

const (
	execTimeout       = 30 * time.Second
	fastExecTimeout   = 10 * time.Second
	projectWorkdir    = "/workspace"
	minNodeModulesEntries = 50
	minPackageCount   = 10
)
