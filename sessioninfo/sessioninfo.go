// Package sessioninfo captures the toolchain and dependency versions behind a
// run, the same role sessionInfo() plays at the bottom of an analysis
// notebook. Every command logs it at startup and stores it with its results
// so a figure in the manuscript can be matched to the code that drew it.
package sessioninfo

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
)

// Dependencies whose versions materially affect numbers in the paper.
var analysisCritical = map[string]struct{}{
	"gonum.org/v1/gonum":                       {},
	"github.com/danaugrs/go-tsne":              {},
	"github.com/tokenme/probab":                {},
	"github.com/glycerine/golang-fisher-exact": {},
	"github.com/montanaflynn/stats":            {},
}

type Info struct {
	Package    string
	GoVersion  string
	Commit     string
	CommitTime string
	Modified   bool
	Deps       []Dep
}

type Dep struct {
	Path    string
	Version string
}

func (c Info) String() string {
	mod := ""
	if c.Modified {
		mod = " (modified work tree)"
	}

	deps := make([]string, 0, len(c.Deps))
	for _, d := range c.Deps {
		deps = append(deps, fmt.Sprintf("%s@%s", d.Path, d.Version))
	}

	return fmt.Sprintf("%s built with %s at commit %s (%s)%s; %s",
		c.Package, c.GoVersion, c.Commit, c.CommitTime, mod, strings.Join(deps, ", "))
}

// Get reads the build metadata stamped into the running binary.
func Get() Info {
	out := Info{}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}

	out.GoVersion = bi.GoVersion
	out.Package = bi.Path
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.time":
			out.CommitTime = s.Value
		case "vcs.modified":
			out.Modified = s.Value == "true"
		}
	}

	for _, dep := range bi.Deps {
		if _, critical := analysisCritical[dep.Path]; !critical {
			continue
		}
		v := dep.Version
		if dep.Replace != nil {
			v = dep.Replace.Version
		}
		out.Deps = append(out.Deps, Dep{Path: dep.Path, Version: v})
	}
	sort.Slice(out.Deps, func(i, j int) bool { return out.Deps[i].Path < out.Deps[j].Path })

	return out
}
