package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/cloudide-dev/workspace-orchestrator/internal/cfg"
)

// detectionRule maps an observed project file signature to a ProjectInfo.
// Grounded on spec.md §4.6's "small rule table" — kept as an explicit slice
// (checked in declaration order, first match wins) rather than a generic
// dispatcher, matching the teacher's preference for small ordered switch-like
// tables over configurable plugin registries.
type detectionRule struct {
	name    string
	matches func(files projectFiles) bool
	kind    ProjectKind
	command string
	port    int
}

// projectFiles is the subset of a project's object-store file listing the
// detector needs: presence checks plus the parsed package.json, if any.
type projectFiles struct {
	hasFile       map[string]bool
	packageJSON   *packageJSON
	dependencyCount int
}

type packageJSON struct {
	Name            string            `json:"name"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

type detectionTable struct {
	rules             []detectionRule
	turbopackHangRange *semver.Constraints
	heavyDepThreshold int
}

var heavyFrameworks = []string{"next", "@angular/core", "nuxt", "gatsby"}

func defaultDetectionTable(d cfg.DetectionRules) detectionTable {
	rangeExpr := d.TurbopackHangRangeMin + ", " + d.TurbopackHangRangeMax
	constraints, err := semver.NewConstraint(rangeExpr)
	if err != nil {
		// Falls back to a constraint that never matches; the Next.js
		// Turbopack gate is a narrow workaround, not a hard requirement.
		constraints, _ = semver.NewConstraint("< 0.0.0")
	}

	overlay, err := loadRulesOverlay(d.RulesFile)
	if err != nil {
		// The overlay is operator-provided data, not code; a bad file
		// degrades to "no overlay" rather than failing detection outright.
		overlay = nil
	}

	return detectionTable{
		heavyDepThreshold:  d.HeavyDepThreshold,
		turbopackHangRange: constraints,
		rules: append(overlay, []detectionRule{
			{
				name: "next",
				matches: func(f projectFiles) bool {
					return f.packageJSON != nil && hasDep(f.packageJSON, "next")
				},
				kind: KindNodeNext, command: "npm run dev -- -H 0.0.0.0 -p 3000", port: 3000,
			},
			{
				name: "nuxt",
				matches: func(f projectFiles) bool {
					return f.packageJSON != nil && hasDep(f.packageJSON, "nuxt")
				},
				kind: KindNodeNuxt, command: "npm run dev -- --host 0.0.0.0 --port 3000", port: 3000,
			},
			{
				name: "vite",
				matches: func(f projectFiles) bool {
					return f.hasFile["vite.config.js"] || f.hasFile["vite.config.ts"] ||
						(f.packageJSON != nil && hasDep(f.packageJSON, "vite"))
				},
				kind: KindNodeVite, command: "npm run dev -- --host 0.0.0.0 --port 3000", port: 3000,
			},
			{
				name: "flask",
				matches: func(f projectFiles) bool {
					return f.hasFile["app.py"] || f.hasFile["requirements.txt"]
				},
				kind: KindPythonFlask, command: "flask run --host=0.0.0.0 --port=3000", port: 3000,
			},
			{
				name: "static",
				matches: func(f projectFiles) bool {
					return f.hasFile["index.html"] && f.packageJSON == nil
				},
				kind: KindStatic, command: "npx serve -l 3000 -s .", port: 3000,
			},
		}...),
	}
}

func hasDep(pkg *packageJSON, name string) bool {
	if _, ok := pkg.Dependencies[name]; ok {
		return true
	}
	_, ok := pkg.DevDependencies[name]
	return ok
}

// Detect runs the rule table against a project's object-store file listing
// and package.json content (spec §4.6: "use the object store as the
// authoritative source of files; never infer from a reused sandbox's
// filesystem").
func (o *Orchestrator) Detect(fileList []string, packageJSONRaw []byte) ProjectInfo {
	pf := projectFiles{hasFile: make(map[string]bool, len(fileList))}
	for _, f := range fileList {
		pf.hasFile[f] = true
	}
	if len(packageJSONRaw) > 0 {
		var pkg packageJSON
		if err := json.Unmarshal(packageJSONRaw, &pkg); err == nil {
			pf.packageJSON = &pkg
			pf.dependencyCount = len(pkg.Dependencies) + len(pkg.DevDependencies)
		}
	}

	for _, rule := range o.rules.rules {
		if rule.matches(pf) {
			command := rule.command
			if rule.kind == KindNodeNext {
				command = o.applyTurbopackWorkaround(command, pf.packageJSON)
			}
			return ProjectInfo{Kind: rule.kind, StartCommand: command, Port: rule.port}
		}
	}
	return ProjectInfo{Kind: KindUnknown, StartCommand: "", Port: 3000}
}

// applyTurbopackWorkaround appends a non-Turbopack flag to a Next.js dev
// command when the declared "next" version falls in the known-hang window
// (spec §4.6: "a Next.js version check downgrades to non-Turbopack mode for
// versions with known hangs").
func (o *Orchestrator) applyTurbopackWorkaround(command string, pkg *packageJSON) string {
	if pkg == nil {
		return command
	}
	version, ok := pkg.Dependencies["next"]
	if !ok {
		version, ok = pkg.DevDependencies["next"]
	}
	if !ok || !o.isTurbopackHangVersion(version) {
		return command
	}
	return command + " --no-turbopack"
}

// isTurbopackHangVersion reports whether a declared Next.js version falls in
// the known-hang window (spec.md §9 open question, resolved in SPEC_FULL.md:
// >= 16.0.0, < 16.2.0, re-checkable via the DetectionRules constants).
func (o *Orchestrator) isTurbopackHangVersion(rawVersion string) bool {
	v, err := semver.NewVersion(strings.TrimPrefix(strings.TrimPrefix(rawVersion, "^"), "~"))
	if err != nil {
		return false
	}
	return o.rules.turbopackHangRange.Check(v)
}

// memoryForProject implements spec §4.6's memory-sizing rule: heavy
// frameworks or a large React/Vue dependency graph get 4 GB, else 2 GB. Only
// used on the fallback-creation path; pool workers have a fixed size.
func (o *Orchestrator) memoryForProject(pkg *packageJSON) int {
	if pkg == nil {
		return o.cfg.DevServerMemoryDefaultMB
	}
	for _, heavy := range heavyFrameworks {
		if hasDep(pkg, heavy) {
			return o.cfg.DevServerMemoryHeavyMB
		}
	}
	if (hasDep(pkg, "react") || hasDep(pkg, "vue")) && len(pkg.Dependencies)+len(pkg.DevDependencies) > o.rules.heavyDepThreshold {
		return o.cfg.DevServerMemoryHeavyMB
	}
	return o.cfg.DevServerMemoryDefaultMB
}
