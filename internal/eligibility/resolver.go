// Package eligibility decides which users may be assigned as the manager a
// work item's assignee reports to.
package eligibility

import (
	"sort"

	"daily-work-tracker/internal/models"
)

// EligibleManagers returns the users that may manage subject, most senior
// first. currentManagerID may be empty.
//
// A user never manages themselves. The subject's current manager is always
// listed so an inherited assignment stays visible even when later policy
// would disallow it. Otherwise a candidate must be strictly more senior than
// the subject, and must share the subject's department unless the subject is
// the most senior member of their own department.
func EligibleManagers(subject models.User, directory []models.User, currentManagerID string) []models.User {
	head := isDepartmentHead(subject, directory)

	out := make([]models.User, 0, len(directory))
	for _, cand := range directory {
		if cand.ID == subject.ID {
			continue
		}
		if currentManagerID != "" && cand.ID == currentManagerID {
			out = append(out, cand)
			continue
		}
		if cand.HierarchyLevel >= subject.HierarchyLevel {
			continue
		}
		if cand.DepartmentID == subject.DepartmentID {
			out = append(out, cand)
			continue
		}
		if head {
			out = append(out, cand)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].HierarchyLevel < out[j].HierarchyLevel
	})
	return out
}

// IsEligible reports whether managerID is a legal assignment for subject.
func IsEligible(subject models.User, directory []models.User, currentManagerID, managerID string) bool {
	for _, u := range EligibleManagers(subject, directory, currentManagerID) {
		if u.ID == managerID {
			return true
		}
	}
	return false
}

// isDepartmentHead reports whether no one else in subject's department is
// strictly more senior.
func isDepartmentHead(subject models.User, directory []models.User) bool {
	for _, u := range directory {
		if u.ID == subject.ID || u.DepartmentID != subject.DepartmentID {
			continue
		}
		if u.HierarchyLevel < subject.HierarchyLevel {
			return false
		}
	}
	return true
}
