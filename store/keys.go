package store

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies an entity family.
type Kind string

const (
	KindProblem     Kind = "problem"
	KindTestCase    Kind = "test_case"
	KindSearchEntry Kind = "search_entry"
	KindJob         Kind = "job"
	KindUsageBucket Kind = "usage_bucket"
)

// Key component literals. Partition keys are "<TYPE>#<id>..."; the reserved
// sort key "META" marks a parent's metadata item so it sorts ahead of any
// child record in the same partition.
const (
	typeProblem = "PROB"
	typeHistory = "HIST"
	typeJob     = "JOB"
	typeUsage   = "USAGE"

	skMeta        = "META"
	childTestCase = "TC"
	childEntry    = "ENTRY"

	keySep = "#"
)

// TestCaseSKPrefix is the sort-key prefix isolating test-case children
// within a problem partition.
const TestCaseSKPrefix = childTestCase + keySep

// EntrySKPrefix is the sort-key prefix isolating timeline entries within a
// history partition.
const EntrySKPrefix = childEntry + keySep

// PaddedTime formats t as a zero-padded, fixed-width UnixNano string so that
// lexicographic order equals chronological order in sort keys.
func PaddedTime(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}

// EncodeKey builds the composite primary key for an entity kind from its
// natural identifiers. The expected identifiers per kind are:
//
//	KindProblem      platform, problemID
//	KindTestCase     platform, problemID, paddedTime, caseNumber
//	KindSearchEntry  userID, paddedTime, entryID
//	KindJob          jobID
//	KindUsageBucket  subject, action, period
//
// Identifiers must be non-empty and must not contain "#". Timestamp
// components must be PaddedTime output. Violations return ErrMalformedKey.
func EncodeKey(kind Kind, ids ...string) (pk, sk string, err error) {
	for _, id := range ids {
		if id == "" || strings.Contains(id, keySep) {
			return "", "", fmt.Errorf("%w: bad id %q for %s", ErrMalformedKey, id, kind)
		}
	}

	switch kind {
	case KindProblem:
		if len(ids) != 2 {
			return "", "", badIDCount(kind, 2, len(ids))
		}
		return join(typeProblem, ids[0], ids[1]), skMeta, nil

	case KindTestCase:
		if len(ids) != 4 {
			return "", "", badIDCount(kind, 4, len(ids))
		}
		if !isPaddedTime(ids[2]) {
			return "", "", fmt.Errorf("%w: %s timestamp %q is not fixed-width", ErrMalformedKey, kind, ids[2])
		}
		return join(typeProblem, ids[0], ids[1]), join(childTestCase, ids[2], ids[3]), nil

	case KindSearchEntry:
		if len(ids) != 3 {
			return "", "", badIDCount(kind, 3, len(ids))
		}
		if !isPaddedTime(ids[1]) {
			return "", "", fmt.Errorf("%w: %s timestamp %q is not fixed-width", ErrMalformedKey, kind, ids[1])
		}
		return join(typeHistory, ids[0]), join(childEntry, ids[1], ids[2]), nil

	case KindJob:
		if len(ids) != 1 {
			return "", "", badIDCount(kind, 1, len(ids))
		}
		return join(typeJob, ids[0]), skMeta, nil

	case KindUsageBucket:
		if len(ids) != 3 {
			return "", "", badIDCount(kind, 3, len(ids))
		}
		return join(typeUsage, ids[0], ids[1], ids[2]), skMeta, nil
	}

	return "", "", fmt.Errorf("%w: unknown kind %q", ErrMalformedKey, kind)
}

// DecodeKey recovers the entity kind and natural identifiers from a composite
// primary key. It returns ErrMalformedKey if the key matches no known
// entity-family pattern.
func DecodeKey(pk, sk string) (Kind, []string, error) {
	pkParts := strings.Split(pk, keySep)
	skParts := strings.Split(sk, keySep)

	switch pkParts[0] {
	case typeProblem:
		if len(pkParts) != 3 || hasEmpty(pkParts) {
			break
		}
		if sk == skMeta {
			return KindProblem, []string{pkParts[1], pkParts[2]}, nil
		}
		if len(skParts) == 3 && skParts[0] == childTestCase && isPaddedTime(skParts[1]) && skParts[2] != "" {
			return KindTestCase, []string{pkParts[1], pkParts[2], skParts[1], skParts[2]}, nil
		}

	case typeHistory:
		if len(pkParts) != 2 || hasEmpty(pkParts) {
			break
		}
		if len(skParts) == 3 && skParts[0] == childEntry && isPaddedTime(skParts[1]) && skParts[2] != "" {
			return KindSearchEntry, []string{pkParts[1], skParts[1], skParts[2]}, nil
		}

	case typeJob:
		if len(pkParts) == 2 && !hasEmpty(pkParts) && sk == skMeta {
			return KindJob, []string{pkParts[1]}, nil
		}

	case typeUsage:
		if len(pkParts) == 4 && !hasEmpty(pkParts) && sk == skMeta {
			return KindUsageBucket, []string{pkParts[1], pkParts[2], pkParts[3]}, nil
		}
	}

	return "", nil, fmt.Errorf("%w: pk=%q sk=%q", ErrMalformedKey, pk, sk)
}

func join(parts ...string) string {
	return strings.Join(parts, keySep)
}

func hasEmpty(parts []string) bool {
	for _, p := range parts {
		if p == "" {
			return true
		}
	}
	return false
}

func isPaddedTime(s string) bool {
	if len(s) != 20 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func badIDCount(kind Kind, want, got int) error {
	return fmt.Errorf("%w: %s wants %d ids, got %d", ErrMalformedKey, kind, want, got)
}
