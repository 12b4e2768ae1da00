package commsutil

import (
	"fmt"
	"strings"

	"github.com/morezero/callcore/pkg/semver"
)

// Default COMMS subjects.
const (
	DefaultRPCPrefix       = "rpc"
	SubjectCompletedEvents = "rpc.completed"
)

// Headers carried on RPC request messages.
const (
	HeaderMethod      = "Rpc-Method"
	HeaderService     = "Rpc-Service"
	HeaderContentType = "Content-Type"
)

// BuildServiceSubject builds the request subject for a service reference.
// The version suffix of the reference is not part of the subject; dots in
// the id become underscores so the id stays a single subject token.
func BuildServiceSubject(prefix, serviceRef string) string {
	if prefix == "" {
		prefix = DefaultRPCPrefix
	}
	return fmt.Sprintf("%s.%s", prefix, subjectToken(semver.BaseID(serviceRef)))
}

// BuildCompletedSubject builds a granular invocation completion subject.
func BuildCompletedSubject(serviceRef, method string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectCompletedEvents, subjectToken(semver.BaseID(serviceRef)), subjectToken(method))
}

func subjectToken(s string) string {
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		return "_"
	}
	return s
}
