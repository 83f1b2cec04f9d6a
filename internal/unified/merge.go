// Package unified merges hook-captured sessions with sessions read from
// external tool stores into a single project tree.
package unified

import (
	"github.com/thebtf/devark/pkg/models"
)

// Merge combines hook projects with external projects. Hook projects and
// sessions win on identity collisions; external sessions are appended only
// when neither their id nor their source identity is already present.
// Inputs are not modified.
func Merge(hook, external []*models.Project, cache *GoalCache, uiOnly bool) []*models.Project {
	byID := make(map[string]*models.Project, len(hook)+len(external))
	var order []*models.Project

	add := func(p *models.Project) {
		cp := *p
		cp.ID = projectKey(p)
		cp.Sessions = append([]*models.Session(nil), p.Sessions...)
		byID[cp.ID] = &cp
		order = append(order, &cp)
	}

	for _, p := range hook {
		if existing, ok := byID[projectKey(p)]; ok {
			existing.Sessions = append(existing.Sessions, p.Sessions...)
			continue
		}
		add(p)
	}

	for _, ext := range external {
		target, ok := byID[projectKey(ext)]
		if !ok {
			add(ext)
			continue
		}
		seen := make(map[string]bool, len(target.Sessions)*2)
		for _, s := range target.Sessions {
			seen[s.ID] = true
			seen[identity(s)] = true
		}
		for _, s := range ext.Sessions {
			if seen[s.ID] || seen[identity(s)] {
				continue
			}
			target.Sessions = append(target.Sessions, s)
			seen[s.ID] = true
			seen[identity(s)] = true
		}
	}

	out := make([]*models.Project, 0, len(order))
	for _, p := range order {
		sessions := make([]*models.Session, 0, len(p.Sessions))
		for _, s := range p.Sessions {
			cp := *s
			if cache != nil {
				cache.Apply(&cp)
			}
			if uiOnly && cp.PromptCount == 0 {
				continue
			}
			cp.ProjectID = p.ID
			sessions = append(sessions, &cp)
		}
		if uiOnly && len(sessions) == 0 {
			continue
		}
		p.Sessions = sessions
		p.SortSessions()
		p.Recompute()
		out = append(out, p)
	}
	models.SortProjects(out)
	return out
}

// projectKey derives the merge key from the workspace path so ids computed
// by different sources agree.
func projectKey(p *models.Project) string {
	if p.Path == "" {
		return p.ID
	}
	return models.ProjectID(p.Path)
}

func identity(s *models.Session) string {
	return string(s.Platform) + "|" + s.SourceIdentity()
}
