package model

import "strings"

// Kind of an authenticated subject.
type Kind string

const (
	KindOperator Kind = "operator"
	KindWorker   Kind = "worker"
)

func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "operator", "user", "admin":
		return KindOperator, true
	case "worker", "employee", "field_worker":
		return KindWorker, true
	}
	return "", false
}

// ===== broadcast groups =====

const (
	GroupAllOperators = "all-operators"
	siteGroupPrefix   = "operators:site:"
	workerGroupPrefix = "worker:"
)

func SiteGroup(siteID string) string { return siteGroupPrefix + siteID }

func WorkerGroup(workerID string) string { return workerGroupPrefix + workerID }

func IsSiteGroup(group string) bool { return strings.HasPrefix(group, siteGroupPrefix) }
